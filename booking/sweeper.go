package booking

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// PendingSweeper fails gateway bookings whose customer never came back from the payment page.
type PendingSweeper struct {
	svc     *Service
	timeout time.Duration
	cron    *cron.Cron
}

func NewPendingSweeper(svc *Service, spec string, timeout time.Duration) (*PendingSweeper, error) {
	p := &PendingSweeper{
		svc:     svc,
		timeout: timeout,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
		),
	}
	if _, err := p.cron.AddFunc(spec, p.run); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *PendingSweeper) Start() {
	p.cron.Start()
	log.Printf("[pending-sweeper] started (timeout %s)", p.timeout)
}

func (p *PendingSweeper) Stop() {
	<-p.cron.Stop().Done()
	log.Println("[pending-sweeper] stopped")
}

func (p *PendingSweeper) run() {
	n, err := p.svc.ExpirePending(context.Background(), p.timeout)
	if err != nil {
		log.Printf("[pending-sweeper] sweep failed: %v", err)
		return
	}
	if n > 0 {
		log.Printf("[pending-sweeper] expired %d pending bookings", n)
	}
}
