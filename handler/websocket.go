package handler

import (
	"context"
	"encoding/json"
	"log"
	"strconv"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// UpgradeSeatSocket lets only websocket upgrades through to SeatWebsocket.
func UpgradeSeatSocket(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// SeatWebsocket sends the current seat map, then every seat change of the showtime until the
// client goes away.
func (h *Handler) SeatWebsocket(c *websocket.Conn) {
	id64, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id64 == 0 {
		log.Printf("Invalid showtimeId: %s", c.Params("id"))
		c.Close()
		return
	}
	showtimeId := uint(id64)

	defer func() {
		h.Hub.Unregister(showtimeId, c)
		c.Close()
	}()
	// The snapshot goes through the hub so it cannot interleave with a broadcast.
	err = h.Hub.Register(showtimeId, c, func() ([]byte, error) {
		seats, err := h.Ledger.GetSeatState(context.Background(), showtimeId)
		if err != nil {
			log.Printf("[realtime] no seat map for showtime %d: %v", showtimeId, err)
			return nil, nil
		}
		return json.Marshal(seatMap(seats, h.Ledger.Now()))
	})
	if err != nil {
		return
	}

	// Clients do not send anything; reading only detects the close.
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			break
		}
	}
}
