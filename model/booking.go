package model

import (
	"time"

	"gorm.io/gorm"
)

type BookingStatus string

const (
	BookingPending       BookingStatus = "PENDING"
	BookingConfirmed     BookingStatus = "CONFIRMED"
	BookingCancelled     BookingStatus = "CANCELLED"
	BookingPaymentFailed BookingStatus = "PAYMENT_FAILED"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentRefunded  PaymentStatus = "REFUNDED"
)

type PaymentMethod string

const (
	PaymentCash  PaymentMethod = "CASH"
	PaymentVNPay PaymentMethod = "VNPAY"
	PaymentMoMo  PaymentMethod = "MOMO"
)

func (m PaymentMethod) IsGateway() bool {
	return m == PaymentVNPay || m == PaymentMoMo
}

func (s BookingStatus) IsTerminal() bool {
	return s == BookingConfirmed || s == BookingCancelled || s == BookingPaymentFailed
}

// Failure reasons stored on the booking and forwarded to the customer redirect.
const (
	ReasonGatewayDeclined = "GATEWAY_DECLINED"
	ReasonAmountMismatch  = "AMOUNT_MISMATCH"
	ReasonSeatUnavailable = "SEAT_UNAVAILABLE"
	ReasonPaymentTimeout  = "PAYMENT_TIMEOUT"

	ReasonGatewayUnavailable = "GATEWAY_UNAVAILABLE"
)

type Booking struct {
	DTO
	PublicCode       string              `gorm:"size:20;uniqueIndex" json:"publicCode"`
	ShowtimeId       uint                `gorm:"not null;index" json:"showtimeId"`
	RoomId           uint                `gorm:"not null" json:"roomId"`
	CustomerId       *uint               `gorm:"index" json:"customerId,omitempty"`
	HolderId         string              `gorm:"size:64;not null" json:"holderId"`
	Amount           int64               `gorm:"not null" json:"amount"`
	Status           BookingStatus       `gorm:"size:20;not null;index" json:"status"`
	PaymentMethod    PaymentMethod       `gorm:"size:16;not null" json:"paymentMethod"`
	PaymentStatus    PaymentStatus       `gorm:"size:16;not null" json:"paymentStatus"`
	PaymentReference *string             `gorm:"size:64;uniqueIndex" json:"paymentReference,omitempty"`
	TransactionId    string              `gorm:"size:64" json:"transactionId,omitempty"`
	FailureReason    string              `gorm:"size:64" json:"failureReason,omitempty"`
	PaidAt           *time.Time          `json:"paidAt,omitempty"`
	CancelledAt      *time.Time          `json:"cancelledAt,omitempty"`
	DeletedAt        gorm.DeletedAt      `gorm:"index" json:"-"`
	Seats            []BookingSeat       `gorm:"foreignKey:BookingId;constraint:OnDelete:CASCADE" json:"seats"`
	Concessions      []BookingConcession `gorm:"foreignKey:BookingId;constraint:OnDelete:CASCADE" json:"concessions"`
}

// BookingSeat is a snapshot of a seat at booking time, not a live reference to the ledger.
type BookingSeat struct {
	ID        uint   `gorm:"primaryKey" json:"-"`
	BookingId uint   `gorm:"not null;index" json:"bookingId"`
	SeatId    uint   `gorm:"not null" json:"seatId"`
	Row       string `gorm:"column:seat_row;size:4" json:"row"`
	Column    int    `gorm:"column:seat_column" json:"column"`
}

type BookingConcession struct {
	ID        uint   `gorm:"primaryKey" json:"-"`
	BookingId uint   `gorm:"not null;index" json:"-"`
	ItemId    uint   `json:"itemId"`
	Name      string `gorm:"size:100" json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
}

func (b *Booking) SeatIds() []uint {
	ids := make([]uint, 0, len(b.Seats))
	for _, s := range b.Seats {
		ids = append(ids, s.SeatId)
	}
	return ids
}

// Row and Column are informational; the snapshot is taken from the seat ledger.
type BookingSeatInput struct {
	SeatId uint   `json:"seatId" validate:"required,gt=0"`
	Row    string `json:"row"`
	Column int    `json:"column"`
}

type ConcessionInput struct {
	ItemId    uint   `json:"itemId" validate:"required,gt=0"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity" validate:"gte=0"`
	UnitPrice int64  `json:"unitPrice" validate:"gte=0"`
}

type CreateBookingInput struct {
	ScheduleId     uint               `json:"scheduleId" validate:"required,gt=0"`
	CinemaRoomId   uint               `json:"cinemaRoomId" validate:"required,gt=0"`
	Seats          []BookingSeatInput `json:"seats" validate:"required,min=1,dive"`
	Concessions    []ConcessionInput  `json:"concessions" validate:"omitempty,dive"`
	PaymentMethod  PaymentMethod      `json:"paymentMethod" validate:"required,oneof=CASH VNPAY MOMO"`
	Amount         int64              `json:"amount"`
	GuestSessionId string             `json:"guestSessionId" validate:"omitempty,max=64"`
}

type BookingResponse struct {
	ID               uint                `json:"id"`
	PublicCode       string              `json:"publicCode"`
	ShowtimeId       uint                `json:"showtimeId"`
	RoomId           uint                `json:"roomId"`
	CustomerId       *uint               `json:"customerId,omitempty"`
	Amount           int64               `json:"amount"`
	Status           BookingStatus       `json:"status"`
	PaymentMethod    PaymentMethod       `json:"paymentMethod"`
	PaymentStatus    PaymentStatus       `json:"paymentStatus"`
	PaymentReference *string             `json:"paymentReference,omitempty"`
	FailureReason    string              `json:"failureReason,omitempty"`
	PaidAt           *time.Time          `json:"paidAt,omitempty"`
	CreatedAt        time.Time           `json:"createdAt"`
	Seats            []BookingSeat       `json:"seats"`
	Concessions      []BookingConcession `json:"concessions"`
}
