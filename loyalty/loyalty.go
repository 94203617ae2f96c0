// Package loyalty keeps the append-only points ledger and the balance cached on each customer.
package loyalty

import (
	"context"
	"fmt"

	"cinema_booking/apperror"
	"cinema_booking/model"

	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
)

type Ledger struct {
	db    *gorm.DB
	clock clockwork.Clock
}

func New(db *gorm.DB, clock clockwork.Clock) *Ledger {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Ledger{db: db, clock: clock}
}

// CreditForBooking appends a ledger entry and bumps the cached balance in the same transaction.
// (customerId, bookingId, reason) is an idempotency key: a replay returns the current balance
// without crediting again. Pass the caller's transaction as tx, or nil to run in a new one.
func (l *Ledger) CreditForBooking(ctx context.Context, tx *gorm.DB, customerId uint, points int, reason string, bookingId uint) (model.LoyaltyBalance, error) {
	if points <= 0 {
		return model.LoyaltyBalance{}, apperror.Validation("points must be positive")
	}
	if tx == nil {
		var bal model.LoyaltyBalance
		err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			bal, err = l.credit(ctx, tx, customerId, points, reason, bookingId)
			return err
		})
		return bal, err
	}
	return l.credit(ctx, tx, customerId, points, reason, bookingId)
}

func (l *Ledger) credit(ctx context.Context, tx *gorm.DB, customerId uint, points int, reason string, bookingId uint) (model.LoyaltyBalance, error) {
	db := tx.WithContext(ctx)

	var customer model.Customer
	if err := db.Select("id", "loyalty_points").First(&customer, customerId).Error; err != nil {
		return model.LoyaltyBalance{}, apperror.FromDB(err, apperror.CodeCustomerNotFound, fmt.Sprintf("customer %d", customerId))
	}

	var existing int64
	if err := db.Model(&model.LoyaltyLedgerEntry{}).
		Where("customer_id = ? AND related_booking_id = ? AND reason = ?", customerId, bookingId, reason).
		Count(&existing).Error; err != nil {
		return model.LoyaltyBalance{}, apperror.FromDB(err, apperror.CodeCustomerNotFound, "check loyalty entry")
	}
	if existing > 0 {
		return model.LoyaltyBalance{Previous: customer.LoyaltyPoints, New: customer.LoyaltyPoints}, nil
	}

	entry := model.LoyaltyLedgerEntry{
		CustomerId:       customerId,
		PointsDelta:      points,
		Reason:           reason,
		RelatedBookingId: bookingId,
		Timestamp:        l.clock.Now().UTC(),
	}
	if err := db.Create(&entry).Error; err != nil {
		return model.LoyaltyBalance{}, apperror.FromDB(err, apperror.CodeCustomerNotFound, "append loyalty entry")
	}
	if err := db.Model(&model.Customer{}).
		Where("id = ?", customerId).
		UpdateColumn("loyalty_points", gorm.Expr("loyalty_points + ?", points)).Error; err != nil {
		return model.LoyaltyBalance{}, apperror.FromDB(err, apperror.CodeCustomerNotFound, "update loyalty balance")
	}

	var balance int
	if err := db.Model(&model.Customer{}).Where("id = ?", customerId).Pluck("loyalty_points", &balance).Error; err != nil {
		return model.LoyaltyBalance{}, apperror.FromDB(err, apperror.CodeCustomerNotFound, "read loyalty balance")
	}
	return model.LoyaltyBalance{Previous: balance - points, New: balance}, nil
}

func (l *Ledger) Balance(ctx context.Context, customerId uint) (int, error) {
	var customer model.Customer
	if err := l.db.WithContext(ctx).Select("id", "loyalty_points").First(&customer, customerId).Error; err != nil {
		return 0, apperror.FromDB(err, apperror.CodeCustomerNotFound, fmt.Sprintf("customer %d", customerId))
	}
	return customer.LoyaltyPoints, nil
}

// History returns the customer's entries, newest first.
func (l *Ledger) History(ctx context.Context, customerId uint) ([]model.LoyaltyLedgerEntry, error) {
	var entries []model.LoyaltyLedgerEntry
	err := l.db.WithContext(ctx).
		Where("customer_id = ?", customerId).
		Order("id DESC").
		Find(&entries).Error
	if err != nil {
		return nil, apperror.FromDB(err, apperror.CodeCustomerNotFound, "load loyalty history")
	}
	return entries, nil
}

// Reconcile reports whether the cached balance equals the sum of the ledger entries.
func (l *Ledger) Reconcile(ctx context.Context, customerId uint) (bool, error) {
	cached, err := l.Balance(ctx, customerId)
	if err != nil {
		return false, err
	}
	var sum int64
	err = l.db.WithContext(ctx).Model(&model.LoyaltyLedgerEntry{}).
		Where("customer_id = ?", customerId).
		Select("COALESCE(SUM(points_delta), 0)").
		Scan(&sum).Error
	if err != nil {
		return false, apperror.FromDB(err, apperror.CodeCustomerNotFound, "sum loyalty entries")
	}
	return int64(cached) == sum, nil
}
