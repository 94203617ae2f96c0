// Package booking drives a booking from creation to a terminal state and keeps the seat ledger,
// seat locks and loyalty ledger consistent with it.
package booking

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"cinema_booking/apperror"
	"cinema_booking/events"
	"cinema_booking/ledger"
	"cinema_booking/loyalty"
	"cinema_booking/model"
	"cinema_booking/payment"
	"cinema_booking/seatlock"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Deps struct {
	DB       *gorm.DB
	Ledger   *ledger.Ledger
	Locks    *seatlock.Manager
	Gateways *payment.Registry
	Loyalty  *loyalty.Ledger
	Events   events.Publisher

	PointsPerBooking int
	// PaymentHold is how long a gateway booking keeps its seats locked. Defaults to the lock TTL.
	PaymentHold time.Duration
}

type Service struct {
	db       *gorm.DB
	ledger   *ledger.Ledger
	locks    *seatlock.Manager
	gateways *payment.Registry
	loyalty  *loyalty.Ledger
	events   events.Publisher

	points int
	hold   time.Duration
}

func NewService(d Deps) *Service {
	if d.Events == nil {
		d.Events = events.NopPublisher{}
	}
	if d.PaymentHold <= 0 && d.Locks != nil {
		d.PaymentHold = d.Locks.TTL()
	}
	return &Service{
		db:       d.DB,
		ledger:   d.Ledger,
		locks:    d.Locks,
		gateways: d.Gateways,
		loyalty:  d.Loyalty,
		events:   d.Events,
		points:   d.PointsPerBooking,
		hold:     d.PaymentHold,
	}
}

type CreateBookingRequest struct {
	ShowtimeId    uint
	RoomId        uint
	SeatIds       []uint
	Concessions   []model.ConcessionInput
	PaymentMethod model.PaymentMethod
	Amount        int64
	CustomerId    *uint
	HolderId      string
	ClientIP      string
}

type CreateBookingResult struct {
	Booking    *model.Booking `json:"booking"`
	PaymentURL string         `json:"paymentUrl,omitempty"`
}

func (s *Service) validate(req CreateBookingRequest) error {
	if req.ShowtimeId == 0 || req.RoomId == 0 {
		return apperror.Validation("scheduleId and cinemaRoomId are required")
	}
	if len(req.SeatIds) == 0 {
		return apperror.Validation("at least one seat is required")
	}
	seen := make(map[uint]bool, len(req.SeatIds))
	for _, id := range req.SeatIds {
		if id == 0 {
			return apperror.Validation("seat id must be positive")
		}
		if seen[id] {
			return apperror.Validation(fmt.Sprintf("seat %d is listed twice", id))
		}
		seen[id] = true
	}
	for _, c := range req.Concessions {
		if c.Quantity < 0 {
			return apperror.Validation(fmt.Sprintf("concession %d has a negative quantity", c.ItemId))
		}
		if c.UnitPrice < 0 {
			return apperror.Validation(fmt.Sprintf("concession %d has a negative price", c.ItemId))
		}
	}
	if strings.TrimSpace(req.HolderId) == "" {
		return apperror.Validation("a customer or guest session is required")
	}
	switch req.PaymentMethod {
	case model.PaymentCash:
		if req.Amount < 0 {
			return apperror.Validation("amount must not be negative")
		}
	case model.PaymentVNPay, model.PaymentMoMo:
		if req.Amount <= 0 {
			return apperror.Validation("amount must be positive for gateway payments")
		}
	default:
		return apperror.Validation(fmt.Sprintf("unknown payment method %q", req.PaymentMethod))
	}
	return nil
}

// CreateBooking records a booking. Cash bookings are confirmed on the spot; gateway bookings stay
// PENDING with their seats held until the gateway reports back.
func (s *Service) CreateBooking(ctx context.Context, req CreateBookingRequest) (*CreateBookingResult, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	if req.PaymentMethod == model.PaymentCash {
		return s.createCash(ctx, req)
	}
	return s.createPending(ctx, req)
}

func (s *Service) newBooking(ctx context.Context, req CreateBookingRequest) (*model.Booking, error) {
	seats, err := s.ledger.Seats(ctx, req.ShowtimeId, req.SeatIds)
	if err != nil {
		return nil, err
	}
	b := &model.Booking{
		PublicCode:    newPublicCode(),
		ShowtimeId:    req.ShowtimeId,
		RoomId:        req.RoomId,
		CustomerId:    req.CustomerId,
		HolderId:      req.HolderId,
		Amount:        req.Amount,
		PaymentMethod: req.PaymentMethod,
	}
	b.CreatedAt = s.ledger.Now()
	for _, seat := range seats {
		if seat.RoomId != req.RoomId {
			return nil, apperror.NotFound(apperror.CodeSeatNotFound, fmt.Sprintf("seat %d is not in room %d", seat.SeatId, req.RoomId))
		}
		b.Seats = append(b.Seats, model.BookingSeat{SeatId: seat.SeatId, Row: seat.SeatRow, Column: seat.SeatColumn})
	}
	for _, c := range req.Concessions {
		if c.Quantity == 0 {
			continue
		}
		b.Concessions = append(b.Concessions, model.BookingConcession{ItemId: c.ItemId, Name: c.Name, Quantity: c.Quantity, UnitPrice: c.UnitPrice})
	}
	return b, nil
}

func (s *Service) createCash(ctx context.Context, req CreateBookingRequest) (*CreateBookingResult, error) {
	b, err := s.newBooking(ctx, req)
	if err != nil {
		return nil, err
	}
	now := s.ledger.Now()
	b.Status = model.BookingConfirmed
	b.PaymentStatus = model.PaymentCompleted
	b.PaidAt = &now

	var awarded int
	err = s.ledger.Transaction(ctx, func(tx *gorm.DB, seats *ledger.Ledger) error {
		if err := tx.WithContext(ctx).Create(b).Error; err != nil {
			return apperror.FromDB(err, apperror.CodeBookingNotFound, "create booking")
		}
		if err := seats.MarkSold(ctx, b.ShowtimeId, b.SeatIds(), b.ID, b.HolderId); err != nil {
			return err
		}
		if err := s.locks.ReleaseHolder(ctx, tx, b.ShowtimeId, b.RoomId, b.SeatIds(), b.HolderId); err != nil {
			return err
		}
		var err error
		awarded, err = s.creditLoyalty(ctx, tx, b)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[booking] %d confirmed (cash, %d seats)", b.ID, len(b.Seats))
	events.Emit(ctx, s.events, events.BookingConfirmedQueue, confirmedEvent(b, awarded))
	return &CreateBookingResult{Booking: b}, nil
}

func (s *Service) createPending(ctx context.Context, req CreateBookingRequest) (*CreateBookingResult, error) {
	gw, err := s.gateways.Get(req.PaymentMethod)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.CheckHoldable(ctx, req.ShowtimeId, req.SeatIds, req.HolderId); err != nil {
		return nil, err
	}
	b, err := s.newBooking(ctx, req)
	if err != nil {
		return nil, err
	}
	b.Status = model.BookingPending
	b.PaymentStatus = model.PaymentPending

	// The seats stay LOCKED for the holder while the customer is at the gateway.
	err = s.ledger.Transaction(ctx, func(tx *gorm.DB, seats *ledger.Ledger) error {
		if err := tx.WithContext(ctx).Create(b).Error; err != nil {
			return apperror.FromDB(err, apperror.CodeBookingNotFound, "create booking")
		}
		if _, err := s.locks.Hold(ctx, tx, seats, b.ShowtimeId, b.RoomId, b.SeatIds(), b.HolderId, s.hold); err != nil {
			return err
		}
		ref := gw.NewReference(b.ID, seats.Now())
		if err := tx.WithContext(ctx).Model(b).Update("payment_reference", ref).Error; err != nil {
			return apperror.FromDB(err, apperror.CodeBookingNotFound, "store payment reference")
		}
		b.PaymentReference = &ref
		return nil
	})
	if err != nil {
		return nil, err
	}

	payURL, err := gw.BuildPaymentRequest(ctx, model.PaymentRequest{
		BookingId: b.ID,
		Reference: *b.PaymentReference,
		Amount:    b.Amount,
		OrderInfo: fmt.Sprintf("Thanh toan ve %s", b.PublicCode),
		IPAddr:    req.ClientIP,
	})
	if err != nil {
		log.Printf("[booking] %d: building %s payment failed: %v", b.ID, gw.Method(), err)
		if _, ferr := s.fail(ctx, b, model.ReasonGatewayUnavailable, ""); ferr != nil {
			log.Printf("[booking] %d: could not fail booking after gateway error: %v", b.ID, ferr)
		}
		return nil, err
	}

	log.Printf("[booking] %d pending on %s (ref %s)", b.ID, gw.Method(), *b.PaymentReference)
	return &CreateBookingResult{Booking: b, PaymentURL: payURL}, nil
}

// creditLoyalty awards the per-booking points to a registered customer. A customer id unknown
// to this service is logged and skipped rather than failing the booking.
func (s *Service) creditLoyalty(ctx context.Context, tx *gorm.DB, b *model.Booking) (int, error) {
	if b.CustomerId == nil || s.points <= 0 || s.loyalty == nil {
		return 0, nil
	}
	bal, err := s.loyalty.CreditForBooking(ctx, tx, *b.CustomerId, s.points, model.LoyaltyReasonBookingConfirmed, b.ID)
	if apperror.Is(err, apperror.KindNotFound) {
		log.Printf("[booking] %d: customer %d not found, no loyalty points", b.ID, *b.CustomerId)
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return bal.New - bal.Previous, nil
}

func (s *Service) GetBooking(ctx context.Context, id uint) (*model.Booking, error) {
	var b model.Booking
	err := s.db.WithContext(ctx).Preload("Seats").Preload("Concessions").First(&b, id).Error
	if err != nil {
		return nil, apperror.FromDB(err, apperror.CodeBookingNotFound, fmt.Sprintf("booking %d", id))
	}
	return &b, nil
}

// BookedSeats lists the seat snapshots of the confirmed bookings of a showtime.
func (s *Service) BookedSeats(ctx context.Context, showtimeId, roomId uint) ([]model.BookingSeat, error) {
	var seats []model.BookingSeat
	err := s.db.WithContext(ctx).
		Model(&model.BookingSeat{}).
		Joins("JOIN bookings ON bookings.id = booking_seats.booking_id").
		Where("bookings.showtime_id = ? AND bookings.room_id = ? AND bookings.status = ? AND bookings.deleted_at IS NULL",
			showtimeId, roomId, model.BookingConfirmed).
		Order("booking_seats.seat_row ASC, booking_seats.seat_column ASC").
		Find(&seats).Error
	if err != nil {
		return nil, apperror.FromDB(err, apperror.CodeBookingNotFound, "list booked seats")
	}
	return seats, nil
}

// DeleteBooking cancels a booking, releases every seat it still holds and removes it.
func (s *Service) DeleteBooking(ctx context.Context, id uint) error {
	var b model.Booking
	err := s.ledger.Transaction(ctx, func(tx *gorm.DB, seats *ledger.Ledger) error {
		// The row lock makes a settlement running at the same time wait for the cancel, and then
		// find the booking no longer PENDING.
		err := tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
			Preload("Seats").First(&b, id).Error
		if err != nil {
			return apperror.FromDB(err, apperror.CodeBookingNotFound, fmt.Sprintf("booking %d", id))
		}
		if b.Status != model.BookingPending && b.Status != model.BookingConfirmed {
			return apperror.New(apperror.KindValidation, apperror.CodeBookingNotCancellable,
				fmt.Sprintf("booking %d is %s and cannot be cancelled", id, b.Status))
		}
		if _, err := seats.ReleaseSold(ctx, b.ShowtimeId, b.ID); err != nil {
			return err
		}
		if _, err := seats.ReleaseLocked(ctx, b.ShowtimeId, b.SeatIds(), b.HolderId); err != nil {
			return err
		}
		if err := s.locks.ReleaseHolder(ctx, tx, b.ShowtimeId, b.RoomId, b.SeatIds(), b.HolderId); err != nil {
			return err
		}

		now := seats.Now()
		paymentStatus := b.PaymentStatus
		if paymentStatus == model.PaymentCompleted {
			paymentStatus = model.PaymentRefunded
		}
		res := tx.WithContext(ctx).Model(&model.Booking{}).
			Where("id = ? AND status = ?", b.ID, b.Status).
			Updates(map[string]any{
				"status":         model.BookingCancelled,
				"payment_status": paymentStatus,
				"cancelled_at":   now,
			})
		if res.Error != nil {
			return apperror.FromDB(res.Error, apperror.CodeBookingNotFound, "cancel booking")
		}
		if res.RowsAffected == 0 {
			return apperror.New(apperror.KindValidation, apperror.CodeBookingNotCancellable,
				fmt.Sprintf("booking %d changed while it was being cancelled", id))
		}
		if err := tx.WithContext(ctx).Delete(&b).Error; err != nil {
			return apperror.FromDB(err, apperror.CodeBookingNotFound, "delete booking")
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.Printf("[booking] %d cancelled and removed", id)
	return nil
}

// ExpirePending fails gateway bookings that have been PENDING for longer than olderThan.
func (s *Service) ExpirePending(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, nil
	}
	cutoff := s.ledger.Now().Add(-olderThan)

	var stale []model.Booking
	err := s.db.WithContext(ctx).Preload("Seats").
		Where("status = ? AND created_at <= ?", model.BookingPending, cutoff).
		Find(&stale).Error
	if err != nil {
		return 0, apperror.FromDB(err, apperror.CodeBookingNotFound, "find stale bookings")
	}

	expired := 0
	for i := range stale {
		res, err := s.fail(ctx, &stale[i], model.ReasonPaymentTimeout, "")
		if err != nil {
			log.Printf("[booking] expire %d: %v", stale[i].ID, err)
			continue
		}
		if !res.Duplicate {
			expired++
		}
	}
	return expired, nil
}

func newPublicCode() string {
	return "BK" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}

func confirmedEvent(b *model.Booking, points int) events.BookingConfirmed {
	ev := events.BookingConfirmed{
		BookingId:     b.ID,
		PublicCode:    b.PublicCode,
		ShowtimeId:    b.ShowtimeId,
		RoomId:        b.RoomId,
		CustomerId:    b.CustomerId,
		SeatIds:       b.SeatIds(),
		Amount:        b.Amount,
		PaymentMethod: b.PaymentMethod,
		PointsAwarded: points,
	}
	if b.PaidAt != nil {
		ev.ConfirmedAt = *b.PaidAt
	}
	return ev
}
