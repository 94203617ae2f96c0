package router

import (
	"cinema_booking/handler"
	"cinema_booking/middleware"
	"cinema_booking/validate"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
)

func SetupRoutes(app *fiber.App, h *handler.Handler, jwtSecret string) {
	api := app.Group("/api", logger.New())
	v1 := api.Group("/v1")

	optional := []fiber.Handler{middleware.OptionalJWT(jwtSecret), middleware.OptionalAuth()}
	protected := middleware.Protected(jwtSecret)

	bookings := v1.Group("/bookings", optional...)
	bookings.Post("/", validate.CreateBooking(), h.CreateBooking)
	bookings.Get("/booked-seats", validate.ShowtimeRoom(), h.GetBookedSeats)
	bookings.Get("/:id", validate.GetById("id"), h.GetBooking)
	bookings.Get("/:id/qr", validate.GetById("id"), h.GetBookingQR)
	bookings.Delete("/:id", protected, validate.GetById("id"), h.DeleteBooking)

	seatLocks := v1.Group("/seat-locks", optional...)
	seatLocks.Post("/lock", validate.LockSeat(), h.LockSeat)
	seatLocks.Post("/unlock", validate.LockSeat(), h.UnlockSeat)
	seatLocks.Get("/locked", validate.ShowtimeRoom(), h.GetLockedSeats)
	seatLocks.Post("/cleanup-expired", protected, h.CleanupExpiredLocks)

	showtimes := v1.Group("/showtimes")
	showtimes.Get("/:id/seats", validate.GetById("id"), h.GetShowtimeSeats)
	showtimes.Post("/:id/seats", protected, validate.GetById("id"), validate.CreateShowtimeSeats(), h.CreateShowtimeSeats)
	showtimes.Get("/:id/ws", handler.UpgradeSeatSocket, websocket.New(h.SeatWebsocket))

	loyalty := v1.Group("/loyalty")
	loyalty.Get("/:id", protected, validate.GetById("id"), h.GetLoyalty)

	// Gateway callbacks, signed by the gateway rather than authenticated.
	app.Get("/vnpay/return", h.VNPayReturn)
	app.Get("/vnpay/ipn", h.VNPayIPN)
	app.Post("/vnpay/ipn", h.VNPayIPN)
	app.Get("/momo/return", h.MoMoReturn)
	app.Post("/momo/ipn", h.MoMoIPN)
}
