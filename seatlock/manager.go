// Package seatlock grants and releases time-bounded holds on seats.
package seatlock

import (
	"context"
	"fmt"
	"log"
	"time"

	"cinema_booking/apperror"
	"cinema_booking/ledger"
	"cinema_booking/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Manager struct {
	db     *gorm.DB
	ledger *ledger.Ledger
	ttl    time.Duration
}

func NewManager(db *gorm.DB, led *ledger.Ledger, ttl time.Duration) *Manager {
	return &Manager{db: db, ledger: led, ttl: ttl}
}

func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Lock holds the seat for holderId and records the hold in seat_locks. The ledger decides the
// winner; the seat_locks row only serves listing.
func (m *Manager) Lock(ctx context.Context, showtimeId, roomId, seatId uint, holderId string) (time.Time, error) {
	var expiresAt time.Time
	err := m.ledger.Transaction(ctx, func(tx *gorm.DB, seats *ledger.Ledger) error {
		exp, err := m.Hold(ctx, tx, seats, showtimeId, roomId, []uint{seatId}, holderId, m.ttl)
		expiresAt = exp
		return err
	})
	if err != nil {
		return time.Time{}, err
	}
	return expiresAt, nil
}

// Hold locks every seat for holderId for ttl inside the caller's transaction. seats must be the
// ledger bound to tx. On error the caller rolls back, so either all seats are held or none.
func (m *Manager) Hold(ctx context.Context, tx *gorm.DB, seats *ledger.Ledger, showtimeId, roomId uint, seatIds []uint, holderId string, ttl time.Duration) (time.Time, error) {
	if holderId == "" {
		return time.Time{}, apperror.Validation("a customer or guest session is required to hold a seat")
	}
	if len(seatIds) == 0 {
		return time.Time{}, apperror.Validation("no seats to hold")
	}

	var expiresAt time.Time
	for _, seatId := range seatIds {
		seat, err := seats.Seat(ctx, showtimeId, seatId)
		if err != nil {
			return time.Time{}, err
		}
		if seat.RoomId != roomId {
			return time.Time{}, apperror.NotFound(apperror.CodeSeatNotFound, fmt.Sprintf("seat %d is not in room %d", seatId, roomId))
		}

		res, exp, err := seats.TryMarkLocked(ctx, showtimeId, seatId, holderId, ttl)
		if err != nil {
			return time.Time{}, err
		}
		switch res {
		case ledger.LockAlreadySold:
			return time.Time{}, apperror.SeatConflict(apperror.CodeSeatAlreadySold, "seat has already been booked")
		case ledger.LockAlreadyLockedByOther:
			return time.Time{}, apperror.SeatConflict(apperror.CodeSeatLockedByOther, "seat is being held by another customer")
		}

		row := model.SeatLock{
			ShowtimeId: showtimeId,
			RoomId:     roomId,
			SeatId:     seatId,
			HolderId:   holderId,
			CreatedAt:  seats.Now(),
			ExpiresAt:  exp,
		}
		err = tx.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "showtime_id"}, {Name: "room_id"}, {Name: "seat_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"holder_id", "created_at", "expires_at"}),
		}).Create(&row).Error
		if err != nil {
			return time.Time{}, apperror.FromDB(err, apperror.CodeSeatNotFound, "record seat lock")
		}
		expiresAt = exp
	}
	return expiresAt, nil
}

// Unlock releases holderId's hold on the seat. It is a no-op when the holder has no hold.
func (m *Manager) Unlock(ctx context.Context, showtimeId, roomId, seatId uint, holderId string) error {
	return m.ledger.Transaction(ctx, func(tx *gorm.DB, seats *ledger.Ledger) error {
		if _, err := seats.ReleaseLocked(ctx, showtimeId, []uint{seatId}, holderId); err != nil {
			return err
		}
		return m.ReleaseHolder(ctx, tx, showtimeId, roomId, []uint{seatId}, holderId)
	})
}

// ReleaseHolder deletes holderId's seat_locks rows for the seats. The seats themselves are left to
// the caller.
func (m *Manager) ReleaseHolder(ctx context.Context, tx *gorm.DB, showtimeId, roomId uint, seatIds []uint, holderId string) error {
	if len(seatIds) == 0 {
		return nil
	}
	err := tx.WithContext(ctx).
		Where("showtime_id = ? AND room_id = ? AND seat_id IN ? AND holder_id = ?", showtimeId, roomId, seatIds, holderId).
		Delete(&model.SeatLock{}).Error
	return apperror.FromDB(err, apperror.CodeSeatNotFound, "delete seat locks")
}

// ListLocked returns the unexpired holds of a showtime. The ledger is the source of truth: a hold
// without a seat_locks row is still listed and a stale row is not.
func (m *Manager) ListLocked(ctx context.Context, showtimeId, roomId uint) ([]model.SeatLock, error) {
	active, err := m.ledger.ActiveLocks(ctx, showtimeId, roomId)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return []model.SeatLock{}, nil
	}

	var rows []model.SeatLock
	if err := m.db.WithContext(ctx).
		Where("showtime_id = ? AND room_id = ?", showtimeId, roomId).
		Find(&rows).Error; err != nil {
		return nil, apperror.FromDB(err, apperror.CodeSeatNotFound, "list seat locks")
	}
	bySeat := make(map[uint]model.SeatLock, len(rows))
	for _, r := range rows {
		bySeat[r.SeatId] = r
	}

	locks := make([]model.SeatLock, 0, len(active))
	for _, s := range active {
		lock, ok := bySeat[s.SeatId]
		if !ok || lock.HolderId != s.HeldBy {
			lock = model.SeatLock{ShowtimeId: showtimeId, RoomId: roomId, SeatId: s.SeatId, HolderId: s.HeldBy}
		}
		lock.ExpiresAt = *s.LockExpiresAt
		locks = append(locks, lock)
	}
	return locks, nil
}

// CleanupExpired releases every seat whose hold has expired and deletes seat_locks rows that no
// longer describe a live hold. A failure on one seat is logged and the sweep moves on.
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	expired, err := m.ledger.ExpiredLocks(ctx)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, seat := range expired {
		ok, err := m.ledger.ReleaseExpired(ctx, seat)
		if err != nil {
			log.Printf("[seat-reaper] release seat %d of showtime %d: %v", seat.SeatId, seat.ShowtimeId, err)
			continue
		}
		if !ok {
			continue
		}
		released++
		if err := m.ReleaseHolder(ctx, m.db, seat.ShowtimeId, seat.RoomId, []uint{seat.SeatId}, seat.HeldBy); err != nil {
			log.Printf("[seat-reaper] delete lock row for seat %d of showtime %d: %v", seat.SeatId, seat.ShowtimeId, err)
		}
	}

	if err := m.deleteStaleRows(ctx); err != nil {
		log.Printf("[seat-reaper] delete stale lock rows: %v", err)
	}
	return released, nil
}

func (m *Manager) deleteStaleRows(ctx context.Context) error {
	live := m.db.Model(&model.ShowtimeSeat{}).
		Select("1").
		Where("showtime_seats.showtime_id = seat_locks.showtime_id").
		Where("showtime_seats.seat_id = seat_locks.seat_id").
		Where("showtime_seats.status = ? AND showtime_seats.held_by = seat_locks.holder_id", model.SeatLocked).
		Where("showtime_seats.lock_expires_at > ?", m.ledger.Now())

	return m.db.WithContext(ctx).
		Where("NOT EXISTS (?)", live).
		Delete(&model.SeatLock{}).Error
}
