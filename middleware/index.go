package middleware

import (
	"errors"
	"strings"

	"cinema_booking/helper"
	"cinema_booking/utils"

	"github.com/gofiber/fiber/v2"
)

func bearer(c *fiber.Ctx) string {
	token := c.Cookies("access_token")
	if token == "" {
		auth := c.Get("Authorization")
		if strings.HasPrefix(auth, "Bearer ") {
			token = strings.TrimPrefix(auth, "Bearer ")
		}
	}
	return token
}

// Protected rejects requests without a valid token. Used for staff operations.
func Protected(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearer(c)
		if token == "" {
			return utils.ErrorResponse(c, fiber.StatusUnauthorized, "Missing token", errors.New("no token"))
		}

		jwtToken, err := helper.ParseToken(token, []byte(secret))
		if err != nil || !jwtToken.Valid {
			return utils.ErrorResponse(c, fiber.StatusUnauthorized, "Invalid token", err)
		}

		c.Locals("user", jwtToken)
		return c.Next()
	}
}

// OptionalJWT keeps a valid token in Locals and lets everything else through as a guest.
func OptionalJWT(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := bearer(c)
		if tokenString == "" {
			c.Locals("user", nil)
			return c.Next()
		}

		token, err := helper.ParseToken(tokenString, []byte(secret))
		if err != nil || !token.Valid {
			c.Locals("user", nil)
			return c.Next()
		}

		c.Locals("user", token)
		return c.Next()
	}
}

func OptionalAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		claim := helper.GetInfoCustomerFromToken(c)
		c.Locals("customerId", claim.CustomerId)
		return c.Next()
	}
}
