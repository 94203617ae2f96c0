package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cinema_booking/model"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	messages [][]byte
	fail     bool
	closed   bool
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	if f.fail {
		return errors.New("broken pipe")
	}
	f.messages = append(f.messages, data)
	return nil
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

func TestGroupKeepsShowtimeOrder(t *testing.T) {
	events := Group([]SeatChange{
		{ShowtimeId: 2, SeatId: 1, Status: model.SeatLocked},
		{ShowtimeId: 1, SeatId: 5, Status: model.SeatSold},
		{ShowtimeId: 2, SeatId: 3, Status: model.SeatLocked},
	})
	require.Len(t, events, 2)
	assert.Equal(t, uint(2), events[0].ShowtimeId)
	assert.Len(t, events[0].Seats, 2)
	assert.Equal(t, uint(1), events[1].ShowtimeId)
}

func TestRedisPublisherPublishesPerShowtime(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	exp := time.Date(2025, 3, 1, 10, 2, 0, 0, time.UTC)
	changes := []SeatChange{{ShowtimeId: 7, SeatId: 11, Status: model.SeatLocked, HeldBy: "USER_1", LockExpiresAt: &exp}}

	payload, err := json.Marshal(SeatEvent{ShowtimeId: 7, Seats: changes})
	require.NoError(t, err)
	mock.ExpectPublish("showtime:7", string(payload)).SetVal(1)

	require.NoError(t, NewRedisPublisher(rdb).Publish(context.Background(), changes))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisPublisherSurfacesErrors(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	changes := []SeatChange{{ShowtimeId: 3, SeatId: 1, Status: model.SeatAvailable}}
	payload, _ := json.Marshal(SeatEvent{ShowtimeId: 3, Seats: changes})
	mock.ExpectPublish("showtime:3", string(payload)).SetErr(errors.New("connection refused"))

	err := NewRedisPublisher(rdb).Publish(context.Background(), changes)
	assert.ErrorContains(t, err, "showtime:3")
}

func TestNewPublisherPrefersRedis(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	mock.ExpectPing().SetVal("PONG")

	pub, viaRedis := NewPublisher(context.Background(), rdb, NewHub())
	assert.True(t, viaRedis)
	assert.IsType(t, &RedisPublisher{}, pub)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewPublisherFallsBackToHub(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	mock.ExpectPing().SetErr(errors.New("dial tcp 127.0.0.1:6379: connection refused"))
	hub := NewHub()
	conn := &fakeConn{}
	require.NoError(t, hub.Register(4, conn, nil))

	pub, viaRedis := NewPublisher(context.Background(), rdb, hub)
	assert.False(t, viaRedis)
	require.IsType(t, &HubPublisher{}, pub)

	require.NoError(t, pub.Publish(context.Background(), []SeatChange{{ShowtimeId: 4, SeatId: 2, Status: model.SeatLocked}}))
	assert.Len(t, conn.messages, 1)
}

func TestHubBroadcastDropsBrokenConnections(t *testing.T) {
	hub := NewHub()
	good := &fakeConn{}
	bad := &fakeConn{fail: true}
	other := &fakeConn{}
	require.NoError(t, hub.Register(1, good, nil))
	require.NoError(t, hub.Register(1, bad, nil))
	require.NoError(t, hub.Register(2, other, nil))

	hub.Broadcast(1, []byte(`{"x":1}`))

	assert.Len(t, good.messages, 1)
	assert.True(t, bad.closed)
	assert.Equal(t, 1, hub.Count(1))
	assert.Empty(t, other.messages)

	hub.Unregister(1, good)
	assert.Equal(t, 0, hub.Count(1))
}

// serialConn records whether two writes ever ran at the same time.
type serialConn struct {
	busy    atomic.Bool
	overlap atomic.Bool
	mu      sync.Mutex
	got     []string
}

func (c *serialConn) WriteMessage(_ int, data []byte) error {
	if !c.busy.CompareAndSwap(false, true) {
		c.overlap.Store(true)
	}
	time.Sleep(100 * time.Microsecond)
	c.mu.Lock()
	c.got = append(c.got, string(data))
	c.mu.Unlock()
	c.busy.Store(false)
	return nil
}

func (c *serialConn) Close() error { return nil }

func (c *serialConn) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.got...)
}

func TestHubSnapshotComesBeforeBroadcasts(t *testing.T) {
	hub := NewHub()
	conn := &serialConn{}
	inSnapshot := make(chan struct{})
	registered := make(chan error, 1)
	go func() {
		registered <- hub.Register(5, conn, func() ([]byte, error) {
			close(inSnapshot)
			time.Sleep(20 * time.Millisecond)
			return []byte("snapshot"), nil
		})
	}()
	<-inSnapshot

	const senders, each = 4, 25
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < each; j++ {
				hub.Broadcast(5, []byte(strconv.Itoa(i*each+j)))
			}
		}(i)
	}
	wg.Wait()
	require.NoError(t, <-registered)

	got := conn.messages()
	require.Len(t, got, senders*each+1)
	assert.Equal(t, "snapshot", got[0])
	assert.False(t, conn.overlap.Load())
}

type blockingConn struct {
	writing chan struct{}
	release chan struct{}
}

func (c *blockingConn) WriteMessage(int, []byte) error {
	c.writing <- struct{}{}
	<-c.release
	return nil
}

func (c *blockingConn) Close() error { return nil }

func TestHubBroadcastDoesNotHoldHubLock(t *testing.T) {
	hub := NewHub()
	slow := &blockingConn{writing: make(chan struct{}), release: make(chan struct{})}
	require.NoError(t, hub.Register(1, slow, nil))

	done := make(chan struct{})
	go func() {
		hub.Broadcast(1, []byte("x"))
		close(done)
	}()
	<-slow.writing

	other := &fakeConn{}
	registered := make(chan struct{})
	go func() {
		_ = hub.Register(2, other, func() ([]byte, error) { return []byte("seats"), nil })
		hub.Broadcast(2, []byte("y"))
		close(registered)
	}()
	select {
	case <-registered:
	case <-time.After(2 * time.Second):
		t.Fatal("hub stayed locked while a client was being written")
	}
	assert.Equal(t, 1, hub.Count(1))
	assert.Len(t, other.messages, 2)

	close(slow.release)
	<-done
}

func TestHubRegisterSurfacesSnapshotWriteFailure(t *testing.T) {
	hub := NewHub()
	err := hub.Register(3, &fakeConn{fail: true}, func() ([]byte, error) { return []byte("seats"), nil })
	assert.Error(t, err)
}

func TestHubPublisherDeliversLocally(t *testing.T) {
	hub := NewHub()
	conn := &fakeConn{}
	require.NoError(t, hub.Register(9, conn, nil))

	err := NewHubPublisher(hub).Publish(context.Background(), []SeatChange{{ShowtimeId: 9, SeatId: 4, Status: model.SeatSold}})
	require.NoError(t, err)
	require.Len(t, conn.messages, 1)

	var ev SeatEvent
	require.NoError(t, json.Unmarshal(conn.messages[0], &ev))
	assert.Equal(t, model.SeatSold, ev.Seats[0].Status)
}

func TestShowtimeFromChannel(t *testing.T) {
	id, err := showtimeFromChannel("showtime:42")
	require.NoError(t, err)
	assert.Equal(t, uint(42), id)

	_, err = showtimeFromChannel("showtime:abc")
	assert.Error(t, err)
}
