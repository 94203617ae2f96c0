package utils

import (
	"errors"
	"log"

	"cinema_booking/apperror"

	"github.com/gofiber/fiber/v2"
)

func ErrorResponse(c *fiber.Ctx, status int, message string, err error) error {
	var errMsg interface{}
	if err != nil {
		errMsg = err.Error()
	} else {
		errMsg = nil
	}
	return c.Status(status).JSON(fiber.Map{
		"message": message,
		"error":   errMsg,
	})
}

// ErrorResponseHaveCode adds the machine readable error code clients switch on.
func ErrorResponseHaveCode(c *fiber.Ctx, status int, message string, err error, code string) error {
	var errMsg string
	if err != nil {
		errMsg = err.Error()
	}
	return c.Status(status).JSON(fiber.Map{
		"message": message,
		"error":   errMsg,
		"code":    code,
	})
}

func SuccessResponse(c *fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(fiber.Map{
		"status": "success",
		"data":   data,
	})
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(err error) int {
	switch apperror.KindOf(err) {
	case apperror.KindValidation, apperror.KindSignatureInvalid:
		return fiber.StatusBadRequest
	case apperror.KindSeatConflict:
		return fiber.StatusConflict
	case apperror.KindAmountMismatch:
		return fiber.StatusPaymentRequired
	case apperror.KindNotFound:
		return fiber.StatusNotFound
	case apperror.KindTransient:
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}

// HandleError writes err using StatusFor. Internal errors are logged and their detail is not sent.
func HandleError(c *fiber.Ctx, err error) error {
	status := StatusFor(err)
	code := apperror.CodeOf(err)
	if status == fiber.StatusInternalServerError {
		log.Printf("%s %s: %v", c.Method(), c.Path(), err)
		return ErrorResponseHaveCode(c, status, "Internal server error", nil, code)
	}
	message := err.Error()
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	return ErrorResponseHaveCode(c, status, message, err, code)
}
