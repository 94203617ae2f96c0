package booking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"

	"cinema_booking/apperror"
	"cinema_booking/events"
	"cinema_booking/ledger"
	"cinema_booking/model"
	"cinema_booking/payment"

	"gorm.io/gorm"
)

type Transition int

const (
	TransitionNone Transition = iota
	TransitionConfirm
	TransitionFail
)

type Decision struct {
	Transition Transition
	Reason     string
}

// Decide picks the transition a verified outcome causes. A booking that already left PENDING is
// never moved again, and a wrong amount fails the booking whatever the gateway says.
func Decide(b *model.Booking, o payment.Outcome) Decision {
	if b.Status != model.BookingPending {
		return Decision{Transition: TransitionNone}
	}
	if o.Amount != b.Amount {
		return Decision{Transition: TransitionFail, Reason: model.ReasonAmountMismatch}
	}
	if !o.Success {
		return Decision{Transition: TransitionFail, Reason: model.ReasonGatewayDeclined}
	}
	return Decision{Transition: TransitionConfirm}
}

type SettleResult struct {
	Booking *model.Booking
	Status  model.BookingStatus
	Reason  string
	// Duplicate is set when the booking had already been settled by an earlier callback.
	Duplicate bool
	Points    int
}

var errAlreadySettled = errors.New("booking already left PENDING")

// HandleCallback verifies a gateway callback and settles the booking it refers to. Nothing is
// looked up before the signature checks out.
func (s *Service) HandleCallback(ctx context.Context, method model.PaymentMethod, params url.Values) (*SettleResult, error) {
	gw, err := s.gateways.Get(method)
	if err != nil {
		return nil, err
	}
	if !gw.VerifyCallback(params) {
		return nil, apperror.SignatureInvalid(fmt.Sprintf("%s callback signature does not match", method))
	}
	outcome, err := gw.ResolveOutcome(params)
	if err != nil {
		return nil, err
	}
	return s.SettlePayment(ctx, outcome)
}

// SettlePayment applies a verified gateway outcome to its booking. Replays are answered with the
// booking's current state and change nothing.
func (s *Service) SettlePayment(ctx context.Context, o payment.Outcome) (*SettleResult, error) {
	b, err := s.findByReference(ctx, o)
	if err != nil {
		return nil, err
	}

	d := Decide(b, o)
	switch d.Transition {
	case TransitionConfirm:
		res, err := s.confirm(ctx, b, o)
		if apperror.Is(err, apperror.KindSeatConflict) {
			log.Printf("[booking] %d: seats gone at settlement: %v", b.ID, err)
			return s.fail(ctx, b, model.ReasonSeatUnavailable, o.RawCode)
		}
		return res, err
	case TransitionFail:
		if d.Reason == model.ReasonAmountMismatch {
			log.Printf("[booking] %d: %v", b.ID, apperror.AmountMismatch(b.Amount, o.Amount))
		}
		return s.fail(ctx, b, d.Reason, o.RawCode)
	}
	return s.settled(b), nil
}

func (s *Service) findByReference(ctx context.Context, o payment.Outcome) (*model.Booking, error) {
	if o.Reference == "" {
		return nil, apperror.Validation("payment reference is missing")
	}
	var b model.Booking
	err := s.db.WithContext(ctx).Preload("Seats").
		Where("payment_reference = ?", o.Reference).
		First(&b).Error
	if err != nil {
		return nil, apperror.FromDB(err, apperror.CodeBookingNotFound, fmt.Sprintf("no booking for reference %s", o.Reference))
	}
	if (o.BookingId != 0 && o.BookingId != b.ID) || (o.Method != "" && o.Method != b.PaymentMethod) {
		return nil, apperror.NotFound(apperror.CodeBookingNotFound, fmt.Sprintf("reference %s does not belong to booking %d", o.Reference, o.BookingId))
	}
	return &b, nil
}

func (s *Service) confirm(ctx context.Context, b *model.Booking, o payment.Outcome) (*SettleResult, error) {
	now := s.ledger.Now()
	var awarded int
	err := s.ledger.Transaction(ctx, func(tx *gorm.DB, seats *ledger.Ledger) error {
		res := tx.WithContext(ctx).Model(&model.Booking{}).
			Where("id = ? AND status = ?", b.ID, model.BookingPending).
			Updates(map[string]any{
				"status":         model.BookingConfirmed,
				"payment_status": model.PaymentCompleted,
				"transaction_id": o.TransactionId,
				"paid_at":        now,
			})
		if res.Error != nil {
			return apperror.FromDB(res.Error, apperror.CodeBookingNotFound, "confirm booking")
		}
		if res.RowsAffected == 0 {
			return errAlreadySettled
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
	if errors.Is(err, errAlreadySettled) {
		return s.reload(ctx, b.ID)
	}
	if err != nil {
		return nil, err
	}

	b.Status = model.BookingConfirmed
	b.PaymentStatus = model.PaymentCompleted
	b.TransactionId = o.TransactionId
	b.PaidAt = &now
	log.Printf("[booking] %d confirmed by %s (txn %s)", b.ID, b.PaymentMethod, o.TransactionId)
	events.Emit(ctx, s.events, events.BookingConfirmedQueue, confirmedEvent(b, awarded))
	return &SettleResult{Booking: b, Status: b.Status, Points: awarded}, nil
}

// fail moves a PENDING booking to PAYMENT_FAILED and frees the seats its holder still has locked.
// Seats that were sold or re-locked by someone else stay as they are.
func (s *Service) fail(ctx context.Context, b *model.Booking, reason, gatewayCode string) (*SettleResult, error) {
	err := s.ledger.Transaction(ctx, func(tx *gorm.DB, seats *ledger.Ledger) error {
		res := tx.WithContext(ctx).Model(&model.Booking{}).
			Where("id = ? AND status = ?", b.ID, model.BookingPending).
			Updates(map[string]any{
				"status":         model.BookingPaymentFailed,
				"payment_status": model.PaymentFailed,
				"failure_reason": reason,
			})
		if res.Error != nil {
			return apperror.FromDB(res.Error, apperror.CodeBookingNotFound, "fail booking")
		}
		if res.RowsAffected == 0 {
			return errAlreadySettled
		}
		if _, err := seats.ReleaseLocked(ctx, b.ShowtimeId, b.SeatIds(), b.HolderId); err != nil {
			return err
		}
		return s.locks.ReleaseHolder(ctx, tx, b.ShowtimeId, b.RoomId, b.SeatIds(), b.HolderId)
	})
	if errors.Is(err, errAlreadySettled) {
		return s.reload(ctx, b.ID)
	}
	if err != nil {
		return nil, err
	}

	b.Status = model.BookingPaymentFailed
	b.PaymentStatus = model.PaymentFailed
	b.FailureReason = reason
	log.Printf("[booking] %d failed: %s", b.ID, reason)
	events.Emit(ctx, s.events, events.BookingFailedQueue, events.BookingFailed{
		BookingId:     b.ID,
		ShowtimeId:    b.ShowtimeId,
		CustomerId:    b.CustomerId,
		PaymentMethod: b.PaymentMethod,
		Reason:        reason,
		GatewayCode:   gatewayCode,
		FailedAt:      s.ledger.Now(),
	})
	return &SettleResult{Booking: b, Status: b.Status, Reason: reason}, nil
}

func (s *Service) reload(ctx context.Context, id uint) (*SettleResult, error) {
	b, err := s.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.settled(b), nil
}

func (s *Service) settled(b *model.Booking) *SettleResult {
	return &SettleResult{Booking: b, Status: b.Status, Reason: b.FailureReason, Duplicate: true}
}
