package model

import "time"

type SeatStatus string

const (
	SeatAvailable SeatStatus = "AVAILABLE"
	SeatLocked    SeatStatus = "LOCKED"
	SeatSold      SeatStatus = "SOLD"
)

// ShowtimeSeat is one seat of a showtime's seat state. Status, LockExpiresAt, HeldBy and BookingId
// are only written by the ledger package.
type ShowtimeSeat struct {
	DTO
	ShowtimeId    uint       `gorm:"not null;uniqueIndex:idx_showtime_seat" json:"showtimeId"`
	RoomId        uint       `gorm:"not null;index" json:"roomId"`
	SeatId        uint       `gorm:"not null;uniqueIndex:idx_showtime_seat" json:"seatId"`
	SeatRow       string     `gorm:"size:4;not null" json:"row"`
	SeatColumn    int        `gorm:"not null" json:"column"`
	Price         int64      `gorm:"not null" json:"price"`
	Status        SeatStatus `gorm:"size:16;not null;default:'AVAILABLE';index" json:"status"`
	LockExpiresAt *time.Time `json:"lockExpiresAt,omitempty"`
	HeldBy        string     `gorm:"size:64" json:"heldBy,omitempty"`
	BookingId     *uint      `gorm:"index" json:"bookingId,omitempty"`
}

// SeatLayout is the catalog's description of a seat, consumed once when a showtime's seat state is created.
type SeatLayout struct {
	SeatId uint   `json:"seatId" validate:"required,gt=0"`
	Row    string `json:"row" validate:"required"`
	Column int    `json:"column" validate:"required,min=1"`
	Price  int64  `json:"price" validate:"gte=0"`
}

type SeatUI struct {
	Id            uint       `json:"id"`
	Label         string     `json:"label"`
	Status        SeatStatus `json:"status"`
	Price         int64      `json:"price"`
	HeldBy        string     `json:"heldBy,omitempty"`
	LockExpiresAt *time.Time `json:"lockExpiresAt,omitempty"`
}

type CreateShowtimeSeatsInput struct {
	CinemaRoomId uint         `json:"cinemaRoomId" validate:"required,gt=0"`
	Seats        []SeatLayout `json:"seats" validate:"required,min=1,dive"`
}
