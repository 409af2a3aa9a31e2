package broker

import (
	"context"
	"sync"
	"time"

	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/logger"
)

// StalledReaper periodically reclaims leases abandoned by dead workers,
// mirroring the ticker/stop-channel lifecycle used elsewhere in this
// service's background loops.
type StalledReaper struct {
	broker   *Broker
	interval time.Duration
	log      logger.Logger

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewStalledReaper builds a reaper that sweeps b every interval.
func NewStalledReaper(b *Broker, interval time.Duration, log logger.Logger) *StalledReaper {
	return &StalledReaper{broker: b, interval: interval, log: log}
}

// Start launches the reaper's sweep loop. It is a no-op if already running.
func (r *StalledReaper) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.stopChan = make(chan struct{})

	r.wg.Add(1)
	go r.run(ctx)
}

// Stop halts the sweep loop and waits for it to exit.
func (r *StalledReaper) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopChan)
	r.mu.Unlock()

	r.wg.Wait()
}

func (r *StalledReaper) run(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopChan:
			return
		case <-ticker.C:
			if err := r.broker.ReapStalled(ctx); err != nil && r.log != nil {
				r.log.Warn("stalled job reap failed", logger.Error(err))
			}
		}
	}
}
