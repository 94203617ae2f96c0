package realtime

import (
	"context"
	"log"
	"strconv"
	"strings"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/redis/go-redis/v9"
)

// Conn is the part of a websocket connection the hub writes to.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Hub keeps the websocket subscribers of each showtime on this instance.
type Hub struct {
	mu      sync.Mutex
	clients map[uint]map[Conn]*client
}

// client serializes the writes to one connection; websocket connections allow a single writer.
type client struct {
	conn Conn
	mu   sync.Mutex
}

func (cl *client) write(payload []byte) error {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.conn.WriteMessage(websocket.TextMessage, payload)
}

func NewHub() *Hub {
	return &Hub{clients: make(map[uint]map[Conn]*client)}
}

// Register subscribes c to the showtime and writes what snapshot returns as its first message.
// Broadcasts that arrive meanwhile are written after the snapshot. A nil snapshot, or a nil
// payload, writes nothing.
func (h *Hub) Register(showtimeId uint, c Conn, snapshot func() ([]byte, error)) error {
	cl := &client{conn: c}
	cl.mu.Lock()
	defer cl.mu.Unlock()

	h.mu.Lock()
	if h.clients[showtimeId] == nil {
		h.clients[showtimeId] = make(map[Conn]*client)
	}
	h.clients[showtimeId][c] = cl
	h.mu.Unlock()

	if snapshot == nil {
		return nil
	}
	payload, err := snapshot()
	if err != nil || payload == nil {
		return err
	}
	return c.WriteMessage(websocket.TextMessage, payload)
}

func (h *Hub) Unregister(showtimeId uint, c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients[showtimeId], c)
	if len(h.clients[showtimeId]) == 0 {
		delete(h.clients, showtimeId)
	}
}

func (h *Hub) Count(showtimeId uint) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[showtimeId])
}

// Broadcast writes payload to every subscriber of the showtime. A subscriber whose write fails is
// closed and dropped. Writes happen outside the hub lock.
func (h *Hub) Broadcast(showtimeId uint, payload []byte) {
	h.mu.Lock()
	targets := make([]*client, 0, len(h.clients[showtimeId]))
	for _, cl := range h.clients[showtimeId] {
		targets = append(targets, cl)
	}
	h.mu.Unlock()

	for _, cl := range targets {
		if err := cl.write(payload); err != nil {
			cl.conn.Close()
			h.drop(showtimeId, cl)
		}
	}
}

// drop removes cl unless its connection has since been registered again.
func (h *Hub) drop(showtimeId uint, cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[showtimeId][cl.conn] != cl {
		return
	}
	delete(h.clients[showtimeId], cl.conn)
	if len(h.clients[showtimeId]) == 0 {
		delete(h.clients, showtimeId)
	}
}

// Relay subscribes to every showtime channel and forwards messages to local subscribers until ctx
// is done.
func (h *Hub) Relay(ctx context.Context, rdb redis.UniversalClient) {
	pubsub := rdb.PSubscribe(ctx, "showtime:*")
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			id, err := showtimeFromChannel(msg.Channel)
			if err != nil {
				log.Printf("[realtime] ignoring message on %s: %v", msg.Channel, err)
				continue
			}
			h.Broadcast(id, []byte(msg.Payload))
		}
	}
}

func showtimeFromChannel(channel string) (uint, error) {
	id, err := strconv.ParseUint(strings.TrimPrefix(channel, "showtime:"), 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}
