package database

import (
	"context"
	"fmt"
	"log"

	"cinema_booking/ledger"
	"cinema_booking/model"

	"gorm.io/gorm"
)

// Demo data for a fresh database: one customer and the seat state of showtime 1 in room 1.
const (
	demoShowtimeId = 1
	demoRoomId     = 1
	demoPrice      = 85000
	vipPrice       = 110000
)

var demoCustomers = []model.Customer{
	{Email: "demo@cinema.local", UserName: "demo", Phone: "0900000000", IsActive: true},
}

// DemoLayout is a 5 x 8 room whose last two rows are VIP.
func DemoLayout() []model.SeatLayout {
	rows := []string{"A", "B", "C", "D", "E"}
	layout := make([]model.SeatLayout, 0, len(rows)*8)
	var id uint
	for i, row := range rows {
		price := int64(demoPrice)
		if i >= len(rows)-2 {
			price = vipPrice
		}
		for col := 1; col <= 8; col++ {
			id++
			layout = append(layout, model.SeatLayout{SeatId: id, Row: row, Column: col, Price: price})
		}
	}
	return layout
}

func SeedDemo(ctx context.Context, db *gorm.DB, led *ledger.Ledger) error {
	for _, customer := range demoCustomers {
		// Tạo mới nếu không tồn tại
		if err := db.WithContext(ctx).Where(model.Customer{Email: customer.Email}).FirstOrCreate(&customer).Error; err != nil {
			log.Println("failed to seed data for customer:", customer.Email, "error:", err)
		}
	}

	var count int64
	if err := db.WithContext(ctx).Model(&model.ShowtimeSeat{}).Where("showtime_id = ?", demoShowtimeId).Count(&count).Error; err != nil {
		return fmt.Errorf("count demo seats: %w", err)
	}
	if count > 0 {
		return nil
	}
	if err := led.CreateShowtimeSeats(ctx, demoShowtimeId, demoRoomId, DemoLayout()); err != nil {
		return fmt.Errorf("seed demo seats: %w", err)
	}
	log.Printf("Seeded %d seats for showtime %d", len(DemoLayout()), demoShowtimeId)
	return nil
}
