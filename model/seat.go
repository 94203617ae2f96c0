package model

import "time"

// SeatLock mirrors an active hold for listing. The ledger row is authoritative; a SeatLock row may
// outlive its hold until the reaper deletes it.
type SeatLock struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	ShowtimeId uint      `gorm:"not null;uniqueIndex:idx_seat_lock_key" json:"scheduleId"`
	RoomId     uint      `gorm:"not null;uniqueIndex:idx_seat_lock_key" json:"cinemaRoomId"`
	SeatId     uint      `gorm:"not null;uniqueIndex:idx_seat_lock_key" json:"seatId"`
	HolderId   string    `gorm:"size:64;not null;index" json:"holderId"`
	CreatedAt  time.Time `json:"createdAt"`
	ExpiresAt  time.Time `gorm:"not null;index" json:"expiresAt"`
}

type SeatLockInput struct {
	ScheduleId     uint   `json:"scheduleId" validate:"required,gt=0"`
	CinemaRoomId   uint   `json:"cinemaRoomId" validate:"required,gt=0"`
	SeatId         uint   `json:"seatId" validate:"required,gt=0"`
	GuestSessionId string `json:"guestSessionId" validate:"omitempty,max=64"`
}
