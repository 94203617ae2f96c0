package model

// Tables lists every model owned by this service, in migration order.
func Tables() []any {
	return []any{
		&Customer{},
		&ShowtimeSeat{},
		&SeatLock{},
		&Booking{},
		&BookingSeat{},
		&BookingConcession{},
		&LoyaltyLedgerEntry{},
	}
}
