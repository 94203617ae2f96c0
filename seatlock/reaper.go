package seatlock

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
)

// Reaper periodically releases expired holds. Runs never overlap; a run still in progress when the
// next one is due causes that one to be skipped.
type Reaper struct {
	manager   *Manager
	interval  time.Duration
	scheduler gocron.Scheduler
}

func NewReaper(manager *Manager, interval time.Duration, clock clockwork.Clock) (*Reaper, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	s, err := gocron.NewScheduler(
		gocron.WithClock(clock),
		gocron.WithLocation(time.UTC),
	)
	if err != nil {
		return nil, err
	}

	r := &Reaper{manager: manager, interval: interval, scheduler: s}
	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(r.run),
		gocron.WithName("seat-reaper"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Reaper) Start() {
	r.scheduler.Start()
	log.Printf("[seat-reaper] started (every %s)", r.interval)
}

func (r *Reaper) Stop() error {
	err := r.scheduler.Shutdown()
	log.Println("[seat-reaper] stopped")
	return err
}

// Sweep runs one pass immediately and reports how many seats it released.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	return r.manager.CleanupExpired(ctx)
}

func (r *Reaper) run() {
	n, err := r.Sweep(context.Background())
	if err != nil {
		log.Printf("[seat-reaper] sweep failed: %v", err)
		return
	}
	if n > 0 {
		log.Printf("[seat-reaper] released %d expired seats", n)
	}
}
