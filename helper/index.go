package helper

import (
	"fmt"
	"log"
	"strings"

	"cinema_booking/model"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jinzhu/copier"
)

func ParseToken(tokenString string, secret []byte) (*jwt.Token, error) {
	return jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
}

// GetInfoCustomerFromToken reads the claims OptionalJWT stored. Guests get a zero claim.
func GetInfoCustomerFromToken(c *fiber.Ctx) model.TokenClaim {
	var guest model.TokenClaim

	userToken, ok := c.Locals("user").(*jwt.Token)
	if !ok || userToken == nil {
		return guest
	}
	claims, ok := userToken.Claims.(jwt.MapClaims)
	if !ok {
		log.Println("Invalid claims type → guest")
		return guest
	}
	customerId, _ := claims["customerId"].(float64)
	if customerId <= 0 {
		return guest
	}
	username, _ := claims["username"].(string)
	return model.TokenClaim{CustomerId: uint(customerId), Username: username}
}

// CustomerId returns the authenticated customer, or nil for guests.
func CustomerId(c *fiber.Ctx) *uint {
	id, _ := c.Locals("customerId").(uint)
	if id == 0 {
		return nil
	}
	return &id
}

// Holder resolves the seat lock holder: USER_<id> for a signed in customer, otherwise the guest
// session id sent by the client.
func Holder(c *fiber.Ctx, guestSessionId string) string {
	if id := CustomerId(c); id != nil {
		return model.HolderForCustomer(*id)
	}
	return strings.TrimSpace(guestSessionId)
}

// NewGuestSessionId is handed to clients that start booking without signing in.
func NewGuestSessionId() string {
	return "GUEST_" + uuid.NewString()
}

func ToBookingResponse(b *model.Booking) model.BookingResponse {
	var res model.BookingResponse
	if err := copier.Copy(&res, b); err != nil {
		log.Printf("copy booking %d: %v", b.ID, err)
	}
	if res.Seats == nil {
		res.Seats = []model.BookingSeat{}
	}
	if res.Concessions == nil {
		res.Concessions = []model.BookingConcession{}
	}
	return res
}
