package validate

import (
	"errors"
	"strconv"

	"cinema_booking/apperror"
	"cinema_booking/model"
	"cinema_booking/utils"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

var validate = validator.New()

func GetById(key string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		valueKey, err := strconv.ParseUint(c.Params(key), 10, 64)
		if err != nil || valueKey == 0 {
			return utils.ErrorResponseHaveCode(c, fiber.StatusBadRequest, key+" must be a positive number", errors.New("params invalid"), apperror.CodeValidationFailed)
		}

		c.Locals("inputId", uint(valueKey))
		return c.Next()
	}
}

// body parses and validates the request body into T and leaves it in Locals("input").
func body[T any]() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var input T
		if err := c.BodyParser(&input); err != nil {
			return utils.ErrorResponseHaveCode(c, fiber.StatusBadRequest, "Invalid input", err, apperror.CodeValidationFailed)
		}
		if err := validate.Struct(&input); err != nil {
			return utils.ErrorResponseHaveCode(c, fiber.StatusBadRequest, err.Error(), err, apperror.CodeValidationFailed)
		}
		c.Locals("input", input)
		return c.Next()
	}
}

func query[T any]() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var input T
		if err := c.QueryParser(&input); err != nil {
			return utils.ErrorResponseHaveCode(c, fiber.StatusBadRequest, "Invalid query", err, apperror.CodeValidationFailed)
		}
		if err := validate.Struct(&input); err != nil {
			return utils.ErrorResponseHaveCode(c, fiber.StatusBadRequest, err.Error(), err, apperror.CodeValidationFailed)
		}
		c.Locals("input", input)
		return c.Next()
	}
}

func LockSeat() fiber.Handler { return body[model.SeatLockInput]() }

func CreateBooking() fiber.Handler { return body[model.CreateBookingInput]() }

func CreateShowtimeSeats() fiber.Handler { return body[model.CreateShowtimeSeatsInput]() }

func ShowtimeRoom() fiber.Handler { return query[model.ShowtimeRoomQuery]() }
