package handler

import (
	"fmt"
	"time"

	"cinema_booking/apperror"
	"cinema_booking/helper"
	"cinema_booking/model"
	"cinema_booking/utils"

	"github.com/gofiber/fiber/v2"
)

func (h *Handler) LockSeat(c *fiber.Ctx) error {
	input := c.Locals("input").(model.SeatLockInput)

	heldBy := helper.Holder(c, input.GuestSessionId)
	if heldBy == "" {
		heldBy = helper.NewGuestSessionId()
	}

	expiresAt, err := h.Locks.Lock(c.UserContext(), input.ScheduleId, input.CinemaRoomId, input.SeatId, heldBy)
	if err != nil {
		// A sold seat is a bad request for the seat map, not a race the client can retry.
		if apperror.CodeOf(err) == apperror.CodeSeatAlreadySold {
			return utils.ErrorResponseHaveCode(c, fiber.StatusBadRequest, "Seat is already booked", err, apperror.CodeSeatAlreadySold)
		}
		return utils.HandleError(c, err)
	}

	return utils.SuccessResponse(c, fiber.StatusOK, fiber.Map{
		"seatId":    input.SeatId,
		"expiresAt": expiresAt,
		"heldBy":    heldBy,
	})
}

func (h *Handler) UnlockSeat(c *fiber.Ctx) error {
	input := c.Locals("input").(model.SeatLockInput)

	heldBy := helper.Holder(c, input.GuestSessionId)
	if heldBy == "" {
		return utils.HandleError(c, apperror.Validation("guestSessionId is required for guests"))
	}
	if err := h.Locks.Unlock(c.UserContext(), input.ScheduleId, input.CinemaRoomId, input.SeatId, heldBy); err != nil {
		return utils.HandleError(c, err)
	}
	return utils.SuccessResponse(c, fiber.StatusOK, "Released")
}

func (h *Handler) GetLockedSeats(c *fiber.Ctx) error {
	q := c.Locals("input").(model.ShowtimeRoomQuery)
	locks, err := h.Locks.ListLocked(c.UserContext(), q.ScheduleId, q.CinemaRoomId)
	if err != nil {
		return utils.HandleError(c, err)
	}
	return utils.SuccessResponse(c, fiber.StatusOK, locks)
}

func (h *Handler) CleanupExpiredLocks(c *fiber.Ctx) error {
	n, err := h.Locks.CleanupExpired(c.UserContext())
	if err != nil {
		return utils.HandleError(c, err)
	}
	return utils.SuccessResponse(c, fiber.StatusOK, fiber.Map{"released": n})
}

// GetShowtimeSeats returns the seat map of a showtime grouped by row.
func (h *Handler) GetShowtimeSeats(c *fiber.Ctx) error {
	seats, err := h.Ledger.GetSeatState(c.UserContext(), c.Locals("inputId").(uint))
	if err != nil {
		return utils.HandleError(c, err)
	}
	return utils.SuccessResponse(c, fiber.StatusOK, seatMap(seats, h.Ledger.Now()))
}

// CreateShowtimeSeats is called by the catalog once a showtime is scheduled.
func (h *Handler) CreateShowtimeSeats(c *fiber.Ctx) error {
	input := c.Locals("input").(model.CreateShowtimeSeatsInput)
	showtimeId := c.Locals("inputId").(uint)

	if err := h.Ledger.CreateShowtimeSeats(c.UserContext(), showtimeId, input.CinemaRoomId, input.Seats); err != nil {
		return utils.HandleError(c, err)
	}
	return utils.SuccessResponse(c, fiber.StatusCreated, fiber.Map{"showtimeId": showtimeId, "seats": len(input.Seats)})
}

// seatMap shows a lock that ran out but was not reaped yet as available.
func seatMap(seats []model.ShowtimeSeat, now time.Time) map[string][]model.SeatUI {
	result := make(map[string][]model.SeatUI)
	for _, s := range seats {
		ui := model.SeatUI{
			Id:     s.SeatId,
			Label:  fmt.Sprintf("%s%d", s.SeatRow, s.SeatColumn),
			Status: s.Status,
			Price:  s.Price,
		}
		if s.Status == model.SeatLocked {
			if s.LockExpiresAt != nil && !s.LockExpiresAt.After(now) {
				ui.Status = model.SeatAvailable
			} else {
				ui.HeldBy = s.HeldBy
				ui.LockExpiresAt = s.LockExpiresAt
			}
		}
		result[s.SeatRow] = append(result[s.SeatRow], ui)
	}
	return result
}
