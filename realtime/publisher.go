// Package realtime fans seat state changes out to live seat maps.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"cinema_booking/model"

	"github.com/redis/go-redis/v9"
)

// SeatChange is one seat transition, published after the transaction that caused it has committed.
type SeatChange struct {
	ShowtimeId    uint             `json:"showtimeId"`
	SeatId        uint             `json:"seatId"`
	Status        model.SeatStatus `json:"status"`
	HeldBy        string           `json:"heldBy,omitempty"`
	LockExpiresAt *time.Time       `json:"lockExpiresAt,omitempty"`
}

// SeatEvent is the message body sent on a showtime channel.
type SeatEvent struct {
	ShowtimeId uint         `json:"showtimeId"`
	Seats      []SeatChange `json:"seats"`
}

type Publisher interface {
	Publish(ctx context.Context, changes []SeatChange) error
}

func Channel(showtimeId uint) string {
	return fmt.Sprintf("showtime:%d", showtimeId)
}

// Group splits changes into one event per showtime, keeping first-seen order.
func Group(changes []SeatChange) []SeatEvent {
	var events []SeatEvent
	index := make(map[uint]int)
	for _, ch := range changes {
		i, ok := index[ch.ShowtimeId]
		if !ok {
			i = len(events)
			index[ch.ShowtimeId] = i
			events = append(events, SeatEvent{ShowtimeId: ch.ShowtimeId})
		}
		events[i].Seats = append(events[i].Seats, ch)
	}
	return events
}

type RedisPublisher struct {
	rdb redis.UniversalClient
}

func NewRedisPublisher(rdb redis.UniversalClient) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

func (p *RedisPublisher) Publish(ctx context.Context, changes []SeatChange) error {
	for _, ev := range Group(changes) {
		payload, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if err := p.rdb.Publish(ctx, Channel(ev.ShowtimeId), string(payload)).Err(); err != nil {
			return fmt.Errorf("publish %s: %w", Channel(ev.ShowtimeId), err)
		}
	}
	return nil
}

// NewPublisher returns a Redis publisher when rdb answers a ping, and otherwise one that delivers
// to hub directly. The bool reports whether Redis is in use, in which case the caller should run
// hub.Relay.
func NewPublisher(ctx context.Context, rdb redis.UniversalClient, hub *Hub) (Publisher, bool) {
	if rdb != nil {
		err := rdb.Ping(ctx).Err()
		if err == nil {
			return NewRedisPublisher(rdb), true
		}
		log.Printf("[realtime] redis unavailable, seat changes stay on this instance: %v", err)
	}
	return NewHubPublisher(hub), false
}

// HubPublisher delivers straight into the local hub. Used when Redis cannot be reached, which
// limits live seat maps to clients of this instance.
type HubPublisher struct {
	hub *Hub
}

func NewHubPublisher(hub *Hub) *HubPublisher {
	return &HubPublisher{hub: hub}
}

func (p *HubPublisher) Publish(_ context.Context, changes []SeatChange) error {
	for _, ev := range Group(changes) {
		payload, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		p.hub.Broadcast(ev.ShowtimeId, payload)
	}
	return nil
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, []SeatChange) error { return nil }

// Safe logs publish failures instead of returning them; seat broadcasts are best effort.
func Safe(ctx context.Context, pub Publisher, changes []SeatChange) {
	if pub == nil || len(changes) == 0 {
		return
	}
	if err := pub.Publish(ctx, changes); err != nil {
		log.Printf("[realtime] publish failed: %v", err)
	}
}
