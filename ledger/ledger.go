// Package ledger owns the per-showtime seat state. Every status change goes through a conditional
// update on the seat row, so concurrent callers racing for a seat get exactly one winner.
package ledger

import (
	"context"
	"fmt"
	"time"

	"cinema_booking/apperror"
	"cinema_booking/model"
	"cinema_booking/realtime"

	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
)

type LockResult int

const (
	LockOk LockResult = iota
	LockAlreadySold
	LockAlreadyLockedByOther
)

func (r LockResult) String() string {
	switch r {
	case LockOk:
		return "OK"
	case LockAlreadySold:
		return "ALREADY_SOLD"
	case LockAlreadyLockedByOther:
		return "ALREADY_LOCKED_BY_OTHER"
	}
	return fmt.Sprintf("LockResult(%d)", int(r))
}

// lockable matches a seat that may be taken by holder: free, held by holder, or held by someone
// whose lock has run out.
const lockable = "(status = ? OR (status = ? AND (lock_expires_at <= ? OR held_by = ?)))"

type Ledger struct {
	db    *gorm.DB
	pub   realtime.Publisher
	clock clockwork.Clock

	// pending is non-nil on a transaction scoped ledger; changes wait there until commit.
	pending *[]realtime.SeatChange
}

func New(db *gorm.DB, pub realtime.Publisher, clock clockwork.Clock) *Ledger {
	if pub == nil {
		pub = realtime.NopPublisher{}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Ledger{db: db, pub: pub, clock: clock}
}

func (l *Ledger) Now() time.Time {
	return l.clock.Now().UTC()
}

func (l *Ledger) Clock() clockwork.Clock {
	return l.clock
}

// Transaction runs fn inside one database transaction. fn receives the transaction handle and a
// ledger bound to it; seat changes made through that ledger are published only once the
// transaction commits. Calling Transaction on an already scoped ledger joins the outer transaction.
func (l *Ledger) Transaction(ctx context.Context, fn func(tx *gorm.DB, seats *Ledger) error) error {
	if l.pending != nil {
		return fn(l.db, l)
	}
	var buffered []realtime.SeatChange
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		buffered = nil
		scoped := &Ledger{db: tx, pub: l.pub, clock: l.clock, pending: &buffered}
		return fn(tx, scoped)
	})
	if err != nil {
		return err
	}
	realtime.Safe(ctx, l.pub, buffered)
	return nil
}

func (l *Ledger) emit(ctx context.Context, changes ...realtime.SeatChange) {
	if len(changes) == 0 {
		return
	}
	if l.pending != nil {
		*l.pending = append(*l.pending, changes...)
		return
	}
	realtime.Safe(ctx, l.pub, changes)
}

func (l *Ledger) seats(ctx context.Context) *gorm.DB {
	return l.db.WithContext(ctx).Model(&model.ShowtimeSeat{})
}

// CreateShowtimeSeats initialises the seat state of a showtime from the catalog layout.
func (l *Ledger) CreateShowtimeSeats(ctx context.Context, showtimeId, roomId uint, layout []model.SeatLayout) error {
	if len(layout) == 0 {
		return apperror.Validation("room has no seats")
	}
	seen := make(map[uint]bool, len(layout))
	rows := make([]model.ShowtimeSeat, 0, len(layout))
	for _, s := range layout {
		if seen[s.SeatId] {
			return apperror.Validation(fmt.Sprintf("seat %d appears twice in the layout", s.SeatId))
		}
		seen[s.SeatId] = true
		rows = append(rows, model.ShowtimeSeat{
			ShowtimeId: showtimeId,
			RoomId:     roomId,
			SeatId:     s.SeatId,
			SeatRow:    s.Row,
			SeatColumn: s.Column,
			Price:      s.Price,
			Status:     model.SeatAvailable,
		})
	}
	if err := l.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return apperror.FromDB(err, apperror.CodeShowtimeNotFound, "create showtime seats")
	}
	return nil
}

// GetSeatState returns every seat of the showtime ordered by row then column.
func (l *Ledger) GetSeatState(ctx context.Context, showtimeId uint) ([]model.ShowtimeSeat, error) {
	var seats []model.ShowtimeSeat
	err := l.db.WithContext(ctx).
		Where("showtime_id = ?", showtimeId).
		Order("seat_row ASC, seat_column ASC").
		Find(&seats).Error
	if err != nil {
		return nil, apperror.FromDB(err, apperror.CodeShowtimeNotFound, "load seat state")
	}
	if len(seats) == 0 {
		return nil, apperror.NotFound(apperror.CodeShowtimeNotFound, fmt.Sprintf("showtime %d has no seat state", showtimeId))
	}
	return seats, nil
}

func (l *Ledger) Seat(ctx context.Context, showtimeId, seatId uint) (*model.ShowtimeSeat, error) {
	var seat model.ShowtimeSeat
	err := l.db.WithContext(ctx).
		Where("showtime_id = ? AND seat_id = ?", showtimeId, seatId).
		First(&seat).Error
	if err != nil {
		return nil, apperror.FromDB(err, apperror.CodeSeatNotFound, fmt.Sprintf("seat %d not found in showtime %d", seatId, showtimeId))
	}
	return &seat, nil
}

// Seats returns the named seats in the order given. Any unknown seat id is SeatNotFound.
func (l *Ledger) Seats(ctx context.Context, showtimeId uint, seatIds []uint) ([]model.ShowtimeSeat, error) {
	ids := unique(seatIds)
	byId, err := l.load(ctx, showtimeId, ids)
	if err != nil {
		return nil, err
	}
	seats := make([]model.ShowtimeSeat, 0, len(ids))
	for _, id := range ids {
		seats = append(seats, byId[id])
	}
	return seats, nil
}

// TryMarkLocked holds a seat for holderId until now+ttl in a single conditional update. A holder
// that already owns the lock gets a fresh expiry.
func (l *Ledger) TryMarkLocked(ctx context.Context, showtimeId, seatId uint, holderId string, ttl time.Duration) (LockResult, time.Time, error) {
	now := l.Now()
	expiresAt := now.Add(ttl)

	res := l.seats(ctx).
		Where("showtime_id = ? AND seat_id = ?", showtimeId, seatId).
		Where(lockable, model.SeatAvailable, model.SeatLocked, now, holderId).
		Updates(map[string]any{
			"status":          model.SeatLocked,
			"lock_expires_at": expiresAt,
			"held_by":         holderId,
			"booking_id":      nil,
		})
	if res.Error != nil {
		return 0, time.Time{}, apperror.FromDB(res.Error, apperror.CodeSeatNotFound, "lock seat")
	}
	if res.RowsAffected == 1 {
		l.emit(ctx, realtime.SeatChange{
			ShowtimeId:    showtimeId,
			SeatId:        seatId,
			Status:        model.SeatLocked,
			HeldBy:        holderId,
			LockExpiresAt: &expiresAt,
		})
		return LockOk, expiresAt, nil
	}

	// Lost the race or the seat was never free. Read it back to tell the caller why.
	seat, err := l.Seat(ctx, showtimeId, seatId)
	if err != nil {
		return 0, time.Time{}, err
	}
	if seat.Status == model.SeatSold {
		return LockAlreadySold, time.Time{}, nil
	}
	return LockAlreadyLockedByOther, time.Time{}, nil
}

// CheckHoldable verifies that every seat exists and is either free or held by holderId. It reads
// without locking; MarkSold repeats the check atomically.
func (l *Ledger) CheckHoldable(ctx context.Context, showtimeId uint, seatIds []uint, holderId string) error {
	seats, err := l.load(ctx, showtimeId, seatIds)
	if err != nil {
		return err
	}
	now := l.Now()
	for _, id := range seatIds {
		if err := conflictFor(seats[id], holderId, 0, now); err != nil {
			return err
		}
	}
	return nil
}

// MarkSold sells the seats to bookingId. Seats already sold to the same booking are left alone.
// Either every seat ends up SOLD or none does: on a transaction scoped ledger the caller's
// transaction must be rolled back on error, otherwise MarkSold runs in its own.
func (l *Ledger) MarkSold(ctx context.Context, showtimeId uint, seatIds []uint, bookingId uint, holderId string) error {
	if len(seatIds) == 0 {
		return apperror.Validation("no seats to sell")
	}
	return l.Transaction(ctx, func(_ *gorm.DB, scoped *Ledger) error {
		return scoped.markSold(ctx, showtimeId, unique(seatIds), bookingId, holderId)
	})
}

func (l *Ledger) markSold(ctx context.Context, showtimeId uint, seatIds []uint, bookingId uint, holderId string) error {
	seats, err := l.load(ctx, showtimeId, seatIds)
	if err != nil {
		return err
	}
	now := l.Now()

	var todo []uint
	for _, id := range seatIds {
		seat := seats[id]
		if seat.Status == model.SeatSold && seat.BookingId != nil && *seat.BookingId == bookingId {
			continue
		}
		if err := conflictFor(seat, holderId, bookingId, now); err != nil {
			return err
		}
		todo = append(todo, id)
	}
	if len(todo) == 0 {
		return nil
	}

	res := l.seats(ctx).
		Where("showtime_id = ? AND seat_id IN ?", showtimeId, todo).
		Where(lockable, model.SeatAvailable, model.SeatLocked, now, holderId).
		Updates(map[string]any{
			"status":          model.SeatSold,
			"lock_expires_at": nil,
			"held_by":         holderId,
			"booking_id":      bookingId,
		})
	if res.Error != nil {
		return apperror.FromDB(res.Error, apperror.CodeSeatNotFound, "mark seats sold")
	}
	if int(res.RowsAffected) != len(todo) {
		// Someone took a seat between the read and the update.
		return apperror.SeatConflict(apperror.CodeSeatLockedByOther,
			fmt.Sprintf("only %d of %d seats could be sold", res.RowsAffected, len(todo)))
	}

	changes := make([]realtime.SeatChange, 0, len(todo))
	for _, id := range todo {
		changes = append(changes, realtime.SeatChange{ShowtimeId: showtimeId, SeatId: id, Status: model.SeatSold, HeldBy: holderId})
	}
	l.emit(ctx, changes...)
	return nil
}

// MarkAvailable releases the seats whatever their state. Releasing a free seat is a no-op.
func (l *Ledger) MarkAvailable(ctx context.Context, showtimeId uint, seatIds []uint) ([]uint, error) {
	if len(seatIds) == 0 {
		return nil, nil
	}
	var ids []uint
	err := l.seats(ctx).
		Where("showtime_id = ? AND seat_id IN ? AND status <> ?", showtimeId, unique(seatIds), model.SeatAvailable).
		Pluck("seat_id", &ids).Error
	if err != nil {
		return nil, apperror.FromDB(err, apperror.CodeSeatNotFound, "find seats to release")
	}
	return l.release(ctx, showtimeId, ids, "status <> ?", model.SeatAvailable)
}

// ReleaseLocked frees the seats still LOCKED by holderId. Seats sold or re-locked by someone else
// are not touched.
func (l *Ledger) ReleaseLocked(ctx context.Context, showtimeId uint, seatIds []uint, holderId string) ([]uint, error) {
	if len(seatIds) == 0 {
		return nil, nil
	}
	var ids []uint
	err := l.seats(ctx).
		Where("showtime_id = ? AND seat_id IN ? AND status = ? AND held_by = ?", showtimeId, unique(seatIds), model.SeatLocked, holderId).
		Pluck("seat_id", &ids).Error
	if err != nil {
		return nil, apperror.FromDB(err, apperror.CodeSeatNotFound, "find locked seats")
	}
	return l.release(ctx, showtimeId, ids, "status = ? AND held_by = ?", model.SeatLocked, holderId)
}

// ReleaseSold frees the seats owned by bookingId.
func (l *Ledger) ReleaseSold(ctx context.Context, showtimeId, bookingId uint) ([]uint, error) {
	var ids []uint
	err := l.seats(ctx).
		Where("showtime_id = ? AND status = ? AND booking_id = ?", showtimeId, model.SeatSold, bookingId).
		Pluck("seat_id", &ids).Error
	if err != nil {
		return nil, apperror.FromDB(err, apperror.CodeSeatNotFound, "find sold seats")
	}
	return l.release(ctx, showtimeId, ids, "status = ? AND booking_id = ?", model.SeatSold, bookingId)
}

// ExpiredLocks lists seats whose hold has run out but that have not been released yet.
func (l *Ledger) ExpiredLocks(ctx context.Context) ([]model.ShowtimeSeat, error) {
	var seats []model.ShowtimeSeat
	err := l.db.WithContext(ctx).
		Where("status = ? AND lock_expires_at <= ?", model.SeatLocked, l.Now()).
		Order("lock_expires_at ASC").
		Find(&seats).Error
	if err != nil {
		return nil, apperror.FromDB(err, apperror.CodeSeatNotFound, "find expired locks")
	}
	return seats, nil
}

// ReleaseExpired frees one seat only if it is still LOCKED with an expired hold. It reports false
// when the seat moved on in the meantime, for example because it was sold.
func (l *Ledger) ReleaseExpired(ctx context.Context, seat model.ShowtimeSeat) (bool, error) {
	released, err := l.release(ctx, seat.ShowtimeId, []uint{seat.SeatId},
		"status = ? AND lock_expires_at <= ?", model.SeatLocked, l.Now())
	if err != nil {
		return false, err
	}
	return len(released) == 1, nil
}

// ActiveLocks returns the seats of a showtime held by an unexpired lock.
func (l *Ledger) ActiveLocks(ctx context.Context, showtimeId, roomId uint) ([]model.ShowtimeSeat, error) {
	var seats []model.ShowtimeSeat
	err := l.db.WithContext(ctx).
		Where("showtime_id = ? AND room_id = ? AND status = ? AND lock_expires_at > ?", showtimeId, roomId, model.SeatLocked, l.Now()).
		Order("seat_row ASC, seat_column ASC").
		Find(&seats).Error
	if err != nil {
		return nil, apperror.FromDB(err, apperror.CodeSeatNotFound, "list active locks")
	}
	return seats, nil
}

func (l *Ledger) release(ctx context.Context, showtimeId uint, seatIds []uint, cond string, args ...any) ([]uint, error) {
	if len(seatIds) == 0 {
		return nil, nil
	}
	var released []uint
	for _, id := range seatIds {
		res := l.seats(ctx).
			Where("showtime_id = ? AND seat_id = ?", showtimeId, id).
			Where(cond, args...).
			Updates(map[string]any{
				"status":          model.SeatAvailable,
				"lock_expires_at": nil,
				"held_by":         "",
				"booking_id":      nil,
			})
		if res.Error != nil {
			return released, apperror.FromDB(res.Error, apperror.CodeSeatNotFound, "release seat")
		}
		if res.RowsAffected == 1 {
			released = append(released, id)
		}
	}
	changes := make([]realtime.SeatChange, 0, len(released))
	for _, id := range released {
		changes = append(changes, realtime.SeatChange{ShowtimeId: showtimeId, SeatId: id, Status: model.SeatAvailable})
	}
	l.emit(ctx, changes...)
	return released, nil
}

func (l *Ledger) load(ctx context.Context, showtimeId uint, seatIds []uint) (map[uint]model.ShowtimeSeat, error) {
	var rows []model.ShowtimeSeat
	err := l.db.WithContext(ctx).
		Where("showtime_id = ? AND seat_id IN ?", showtimeId, seatIds).
		Find(&rows).Error
	if err != nil {
		return nil, apperror.FromDB(err, apperror.CodeSeatNotFound, "load seats")
	}
	byId := make(map[uint]model.ShowtimeSeat, len(rows))
	for _, r := range rows {
		byId[r.SeatId] = r
	}
	for _, id := range seatIds {
		if _, ok := byId[id]; !ok {
			return nil, apperror.NotFound(apperror.CodeSeatNotFound, fmt.Sprintf("seat %d not found in showtime %d", id, showtimeId))
		}
	}
	return byId, nil
}

// conflictFor reports why holderId cannot take seat. bookingId is the booking the seat is being
// sold to, or 0 when only a hold is being checked.
func conflictFor(seat model.ShowtimeSeat, holderId string, bookingId uint, now time.Time) error {
	switch seat.Status {
	case model.SeatSold:
		if bookingId != 0 && seat.BookingId != nil && *seat.BookingId == bookingId {
			return nil
		}
		return apperror.SeatConflict(apperror.CodeSeatAlreadySold,
			fmt.Sprintf("seat %s%d is already sold", seat.SeatRow, seat.SeatColumn))
	case model.SeatLocked:
		if seat.HeldBy == holderId || seat.LockExpiresAt == nil || !seat.LockExpiresAt.After(now) {
			return nil
		}
		return apperror.SeatConflict(apperror.CodeSeatLockedByOther,
			fmt.Sprintf("seat %s%d is held by another customer", seat.SeatRow, seat.SeatColumn))
	}
	return nil
}

func unique(ids []uint) []uint {
	seen := make(map[uint]bool, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
