package model

import "time"

// Customer is owned by the account service; this service only reads it and maintains the cached
// loyalty balance.
type Customer struct {
	DTO
	Email         string `gorm:"unique;not null" json:"email"`
	Phone         string `json:"phone"`
	UserName      string `json:"username"`
	LoyaltyPoints int    `gorm:"not null;default:0" json:"loyaltyPoints"`
	IsActive      bool   `gorm:"default:true" json:"isActive"`
}

// LoyaltyLedgerEntry is append-only. A customer's LoyaltyPoints equals the sum of PointsDelta.
type LoyaltyLedgerEntry struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	CustomerId       uint      `gorm:"not null;uniqueIndex:idx_loyalty_idempotency" json:"customerId"`
	PointsDelta      int       `gorm:"not null" json:"pointsDelta"`
	Reason           string    `gorm:"size:32;not null;uniqueIndex:idx_loyalty_idempotency" json:"reason"`
	RelatedBookingId uint      `gorm:"not null;uniqueIndex:idx_loyalty_idempotency" json:"relatedBookingId"`
	Timestamp        time.Time `gorm:"not null" json:"timestamp"`
}

const LoyaltyReasonBookingConfirmed = "BOOKING_CONFIRMED"

type LoyaltyBalance struct {
	Previous int `json:"previousBalance"`
	New      int `json:"newBalance"`
}
