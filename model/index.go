package model

import (
	"fmt"
	"time"
)

type TokenClaim struct {
	CustomerId uint   `json:"customerId"`
	Username   string `json:"username"`
}

type DTO struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type ShowtimeRoomQuery struct {
	ScheduleId   uint `query:"scheduleId" validate:"required,gt=0"`
	CinemaRoomId uint `query:"cinemaRoomId" validate:"required,gt=0"`
}

// HolderForCustomer is the lock holder id used for authenticated customers.
func HolderForCustomer(customerId uint) string {
	return fmt.Sprintf("USER_%d", customerId)
}
