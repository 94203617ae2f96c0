package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cinema_booking/booking"
	"cinema_booking/config"
	"cinema_booking/database"
	"cinema_booking/events"
	"cinema_booking/handler"
	"cinema_booking/ledger"
	"cinema_booking/loyalty"
	"cinema_booking/payment"
	"cinema_booking/realtime"
	"cinema_booking/router"
	"cinema_booking/seatlock"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

func main() {
	settings := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.ConnectDB(settings)
	if err != nil {
		log.Fatal(err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatal(err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     settings.RedisAddr,
		Password: settings.RedisPassword,
		DB:       settings.RedisDB,
	})
	defer rdb.Close()

	hub := realtime.NewHub()
	seatEvents, viaRedis := realtime.NewPublisher(ctx, rdb, hub)
	if viaRedis {
		go hub.Relay(ctx, rdb)
	}

	var bus events.Publisher = events.NopPublisher{}
	if settings.RabbitMQURL != "" {
		bus = events.NewAMQPPublisher(settings.RabbitMQURL)
	}

	clock := clockwork.NewRealClock()
	led := ledger.New(db, seatEvents, clock)
	if err := database.SeedDemo(ctx, db, led); err != nil {
		log.Printf("seed failed: %v", err)
	}

	locks := seatlock.NewManager(db, led, settings.SeatLockTTL)
	gateways := payment.NewRegistry(
		payment.NewVNPay(settings.VNPay, clock),
		payment.NewMoMo(settings.MoMo),
	)
	loy := loyalty.New(db, clock)
	bookings := booking.NewService(booking.Deps{
		DB:               db,
		Ledger:           led,
		Locks:            locks,
		Gateways:         gateways,
		Loyalty:          loy,
		Events:           bus,
		PointsPerBooking: settings.LoyaltyPointsPerOrder,
		PaymentHold:      settings.PendingTimeout,
	})

	reaper, err := seatlock.NewReaper(locks, settings.ReaperInterval, clock)
	if err != nil {
		log.Fatal(err)
	}
	reaper.Start()
	sweeper, err := booking.NewPendingSweeper(bookings, settings.PendingSweepSpec, settings.PendingTimeout)
	if err != nil {
		log.Fatal(err)
	}
	sweeper.Start()

	app := fiber.New(fiber.Config{
		BodyLimit: 4 * 1024 * 1024,
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     settings.CorsOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,PATCH,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Authorization, Accept",
		AllowCredentials: true,
		ExposeHeaders:    "Set-Cookie",
		MaxAge:           600,
	}))

	h := handler.New(bookings, locks, led, loy, hub, settings.ClientURL)
	router.SetupRoutes(app, h, settings.JWTSecret)

	go func() {
		if err := app.Listen(":" + settings.Port); err != nil {
			log.Printf("server stopped: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Println("shutting down")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Printf("shutdown: %v", err)
	}
	if err := reaper.Stop(); err != nil {
		log.Printf("reaper shutdown: %v", err)
	}
	sweeper.Stop()
}
