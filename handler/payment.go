package handler

import (
	"fmt"
	"log"
	"net/url"
	"strconv"

	"cinema_booking/apperror"
	"cinema_booking/booking"
	"cinema_booking/model"
	"cinema_booking/payment"
	"cinema_booking/utils"

	"github.com/gofiber/fiber/v2"
)

// VNPay IPN response codes.
const (
	vnpOK              = "00"
	vnpOrderNotFound   = "01"
	vnpInvalidAmount   = "04"
	vnpInvalidChecksum = "97"
	vnpUnknownError    = "99"
)

func callbackParams(c *fiber.Ctx) url.Values {
	params, err := url.ParseQuery(string(c.Request().URI().QueryString()))
	if err != nil {
		log.Printf("[payment] malformed callback query: %v", err)
		return url.Values{}
	}
	return params
}

// VNPayReturn handles the customer's browser coming back from VNPay and redirects to the client.
func (h *Handler) VNPayReturn(c *fiber.Ctx) error {
	res, err := h.Bookings.HandleCallback(c.UserContext(), model.PaymentVNPay, callbackParams(c))
	return c.Redirect(h.resultURL(res, err), fiber.StatusFound)
}

// VNPayIPN is VNPay's server to server notification. It always answers 200 with a VNPay code.
func (h *Handler) VNPayIPN(c *fiber.Ctx) error {
	params := callbackParams(c)
	if len(params) == 0 && len(c.Body()) > 0 {
		params, _ = url.ParseQuery(string(c.Body()))
	}

	res, err := h.Bookings.HandleCallback(c.UserContext(), model.PaymentVNPay, params)
	code, message := vnpIPNCode(res, err)
	if err != nil {
		log.Printf("[payment] vnpay ipn %s: %v", code, err)
	}
	return c.JSON(model.VNPayIPNResponse{RspCode: code, Message: message})
}

func vnpIPNCode(res *booking.SettleResult, err error) (string, string) {
	switch {
	case err == nil && res.Reason == model.ReasonAmountMismatch && !res.Duplicate:
		return vnpInvalidAmount, "Invalid amount"
	case err == nil:
		return vnpOK, "Confirm Success"
	case apperror.Is(err, apperror.KindSignatureInvalid):
		return vnpInvalidChecksum, "Invalid Checksum"
	case apperror.Is(err, apperror.KindNotFound):
		return vnpOrderNotFound, "Order not found"
	case apperror.Is(err, apperror.KindValidation):
		return vnpOrderNotFound, "Order not found"
	}
	return vnpUnknownError, "Unknown error"
}

func (h *Handler) MoMoReturn(c *fiber.Ctx) error {
	res, err := h.Bookings.HandleCallback(c.UserContext(), model.PaymentMoMo, callbackParams(c))
	return c.Redirect(h.resultURL(res, err), fiber.StatusFound)
}

// MoMoIPN accepts MoMo's JSON notification. MoMo only needs a 204 once the result is recorded.
func (h *Handler) MoMoIPN(c *fiber.Ctx) error {
	var payload model.MoMoIPNPayload
	if err := c.BodyParser(&payload); err != nil {
		return utils.ErrorResponseHaveCode(c, fiber.StatusBadRequest, "Invalid input", err, apperror.CodeValidationFailed)
	}

	if _, err := h.Bookings.HandleCallback(c.UserContext(), model.PaymentMoMo, payment.MoMoParams(payload)); err != nil {
		log.Printf("[payment] momo ipn: %v", err)
		return utils.HandleError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// resultURL points the customer at the client's payment result page.
func (h *Handler) resultURL(res *booking.SettleResult, err error) string {
	q := url.Values{}
	switch {
	case err != nil:
		q.Set("status", "ERROR")
		q.Set("reason", apperror.CodeOf(err))
	default:
		q.Set("bookingId", strconv.FormatUint(uint64(res.Booking.ID), 10))
		q.Set("code", res.Booking.PublicCode)
		q.Set("status", string(res.Status))
		if res.Reason != "" {
			q.Set("reason", res.Reason)
		}
	}
	return fmt.Sprintf("%s/payment-result?%s", h.ClientURL, q.Encode())
}
