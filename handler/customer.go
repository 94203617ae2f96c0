package handler

import (
	"log"

	"cinema_booking/helper"
	"cinema_booking/utils"

	"github.com/gofiber/fiber/v2"
)

// GetLoyalty returns a customer's balance and history, and whether the balance still matches the
// history. Customers can only read their own.
func (h *Handler) GetLoyalty(c *fiber.Ctx) error {
	customerId := c.Locals("inputId").(uint)
	if claim := helper.GetInfoCustomerFromToken(c); claim.CustomerId != customerId {
		return utils.ErrorResponse(c, fiber.StatusForbidden, "Forbidden", nil)
	}

	balance, err := h.Loyalty.Balance(c.UserContext(), customerId)
	if err != nil {
		return utils.HandleError(c, err)
	}
	history, err := h.Loyalty.History(c.UserContext(), customerId)
	if err != nil {
		return utils.HandleError(c, err)
	}
	reconciled, err := h.Loyalty.Reconcile(c.UserContext(), customerId)
	if err != nil {
		return utils.HandleError(c, err)
	}
	if !reconciled {
		log.Printf("[loyalty] customer %d: balance %d does not match its history", customerId, balance)
	}
	return utils.SuccessResponse(c, fiber.StatusOK, fiber.Map{
		"customerId":    customerId,
		"loyaltyPoints": balance,
		"history":       history,
		"reconciled":    reconciled,
	})
}
