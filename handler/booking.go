package handler

import (
	"cinema_booking/apperror"
	"cinema_booking/booking"
	"cinema_booking/helper"
	"cinema_booking/model"
	"cinema_booking/utils"

	"github.com/gofiber/fiber/v2"
)

func (h *Handler) CreateBooking(c *fiber.Ctx) error {
	input := c.Locals("input").(model.CreateBookingInput)

	seatIds := make([]uint, 0, len(input.Seats))
	for _, s := range input.Seats {
		seatIds = append(seatIds, s.SeatId)
	}

	res, err := h.Bookings.CreateBooking(c.UserContext(), booking.CreateBookingRequest{
		ShowtimeId:    input.ScheduleId,
		RoomId:        input.CinemaRoomId,
		SeatIds:       seatIds,
		Concessions:   input.Concessions,
		PaymentMethod: input.PaymentMethod,
		Amount:        input.Amount,
		CustomerId:    helper.CustomerId(c),
		HolderId:      helper.Holder(c, input.GuestSessionId),
		ClientIP:      c.IP(),
	})
	if err != nil {
		return utils.HandleError(c, err)
	}

	data := fiber.Map{"booking": helper.ToBookingResponse(res.Booking)}
	if res.PaymentURL != "" {
		data["paymentUrl"] = res.PaymentURL
	}
	return utils.SuccessResponse(c, fiber.StatusCreated, data)
}

func (h *Handler) GetBooking(c *fiber.Ctx) error {
	b, err := h.Bookings.GetBooking(c.UserContext(), c.Locals("inputId").(uint))
	if err != nil {
		return utils.HandleError(c, err)
	}
	return utils.SuccessResponse(c, fiber.StatusOK, helper.ToBookingResponse(b))
}

// GetBookingQR serves the check-in QR code of a confirmed booking as a PNG.
func (h *Handler) GetBookingQR(c *fiber.Ctx) error {
	b, err := h.Bookings.GetBooking(c.UserContext(), c.Locals("inputId").(uint))
	if err != nil {
		return utils.HandleError(c, err)
	}
	if b.Status != model.BookingConfirmed {
		return utils.HandleError(c, apperror.Validation("booking is not confirmed"))
	}

	png, err := utils.GenerateQRCode(utils.TicketQRContent(b.PublicCode, b.ShowtimeId), 256)
	if err != nil {
		return utils.HandleError(c, apperror.Wrap(apperror.KindInternal, apperror.CodeInternal, "generate qr code", err))
	}
	c.Set(fiber.HeaderContentType, "image/png")
	return c.Send(png)
}

func (h *Handler) GetBookedSeats(c *fiber.Ctx) error {
	q := c.Locals("input").(model.ShowtimeRoomQuery)
	seats, err := h.Bookings.BookedSeats(c.UserContext(), q.ScheduleId, q.CinemaRoomId)
	if err != nil {
		return utils.HandleError(c, err)
	}
	return utils.SuccessResponse(c, fiber.StatusOK, seats)
}

func (h *Handler) DeleteBooking(c *fiber.Ctx) error {
	if err := h.Bookings.DeleteBooking(c.UserContext(), c.Locals("inputId").(uint)); err != nil {
		return utils.HandleError(c, err)
	}
	return utils.SuccessResponse(c, fiber.StatusOK, "Deleted")
}
