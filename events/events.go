// Package events publishes booking domain events to RabbitMQ for downstream consumers
// (ticket mail, analytics). Publishing is best effort and never blocks settlement.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"cinema_booking/model"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	BookingConfirmedQueue = "booking.confirmed"
	BookingFailedQueue    = "booking.failed"
)

type BookingConfirmed struct {
	BookingId     uint                `json:"bookingId"`
	PublicCode    string              `json:"publicCode"`
	ShowtimeId    uint                `json:"showtimeId"`
	RoomId        uint                `json:"roomId"`
	CustomerId    *uint               `json:"customerId,omitempty"`
	SeatIds       []uint              `json:"seatIds"`
	Amount        int64               `json:"amount"`
	PaymentMethod model.PaymentMethod `json:"paymentMethod"`
	PointsAwarded int                 `json:"pointsAwarded"`
	ConfirmedAt   time.Time           `json:"confirmedAt"`
}

type BookingFailed struct {
	BookingId     uint                `json:"bookingId"`
	ShowtimeId    uint                `json:"showtimeId"`
	CustomerId    *uint               `json:"customerId,omitempty"`
	PaymentMethod model.PaymentMethod `json:"paymentMethod"`
	Reason        string              `json:"reason"`
	GatewayCode   string              `json:"gatewayCode,omitempty"`
	FailedAt      time.Time           `json:"failedAt"`
}

type Publisher interface {
	Publish(ctx context.Context, queue string, event any) error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, any) error { return nil }

// AMQPPublisher opens a connection per publish. Booking events are rare enough that a pooled
// channel is not worth its reconnect handling.
type AMQPPublisher struct {
	url string
	// dialTimeout bounds the TCP connect and the AMQP handshake.
	dialTimeout time.Duration
}

func NewAMQPPublisher(url string) *AMQPPublisher {
	return &AMQPPublisher{url: url, dialTimeout: 2 * time.Second}
}

func (p *AMQPPublisher) Publish(ctx context.Context, queue string, event any) error {
	msg, err := newPublishing(event, time.Now().UTC())
	if err != nil {
		return err
	}

	conn, err := amqp.DialConfig(p.url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(p.dialTimeout),
	})
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq declare %s: %w", queue, err)
	}
	if err := ch.PublishWithContext(ctx, "", queue, false, false, msg); err != nil {
		return fmt.Errorf("rabbitmq publish %s: %w", queue, err)
	}
	return nil
}

func newPublishing(event any, now time.Time) (amqp.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal event: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    now,
		Body:         body,
	}, nil
}

// Emit publishes and only logs a failure.
func Emit(ctx context.Context, pub Publisher, queue string, event any) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, queue, event); err != nil {
		log.Printf("[events] %s not published: %v", queue, err)
	}
}
