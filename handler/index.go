package handler

import (
	"cinema_booking/booking"
	"cinema_booking/ledger"
	"cinema_booking/loyalty"
	"cinema_booking/realtime"
	"cinema_booking/seatlock"
)

// Handler holds the services the HTTP routes call into.
type Handler struct {
	Bookings  *booking.Service
	Locks     *seatlock.Manager
	Ledger    *ledger.Ledger
	Loyalty   *loyalty.Ledger
	Hub       *realtime.Hub
	ClientURL string
}

func New(bookings *booking.Service, locks *seatlock.Manager, led *ledger.Ledger, loy *loyalty.Ledger, hub *realtime.Hub, clientURL string) *Handler {
	return &Handler{
		Bookings:  bookings,
		Locks:     locks,
		Ledger:    led,
		Loyalty:   loy,
		Hub:       hub,
		ClientURL: clientURL,
	}
}
