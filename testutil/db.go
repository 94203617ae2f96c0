// Package testutil opens throwaway databases for package tests.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cinema_booking/model"
	"cinema_booking/realtime"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

// NewDB returns a migrated in-memory SQLite database private to the test. The pool holds a single
// connection, so code running inside a transaction must only use the transaction handle.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:testdb%d?mode=memory&cache=shared", dbSeq.Add(1))

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(model.Tables()...))
	return db
}

// SeedSeats creates an AVAILABLE seat row for every label ("A1", "B12", ...) and returns their seat
// ids in label order. Seat ids start at 1 within the showtime.
func SeedSeats(t testing.TB, db *gorm.DB, showtimeId, roomId uint, price int64, labels ...string) []uint {
	t.Helper()
	ids := make([]uint, 0, len(labels))
	for i, label := range labels {
		var col int
		_, err := fmt.Sscanf(label[1:], "%d", &col)
		require.NoError(t, err)
		seat := model.ShowtimeSeat{
			ShowtimeId: showtimeId,
			RoomId:     roomId,
			SeatId:     uint(i + 1),
			SeatRow:    label[:1],
			SeatColumn: col,
			Price:      price,
			Status:     model.SeatAvailable,
		}
		require.NoError(t, db.Create(&seat).Error)
		ids = append(ids, seat.SeatId)
	}
	return ids
}

// SeedCustomer inserts a customer with the given cached balance.
func SeedCustomer(t testing.TB, db *gorm.DB, email string, points int) model.Customer {
	t.Helper()
	c := model.Customer{Email: email, UserName: strings.Split(email, "@")[0], LoyaltyPoints: points, IsActive: true}
	require.NoError(t, db.Create(&c).Error)
	return c
}

// Recorder is a realtime.Publisher that keeps everything it is given.
type Recorder struct {
	mu      sync.Mutex
	changes []realtime.SeatChange
}

func (r *Recorder) Publish(_ context.Context, changes []realtime.SeatChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, changes...)
	return nil
}

func (r *Recorder) Changes() []realtime.SeatChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]realtime.SeatChange(nil), r.changes...)
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = nil
}
