// Package sweep drives the periodic cleanup of terminal jobs older than
// their retention window off a cron schedule.
package sweep

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/logger"
)

// Store is the subset of the state store the sweep needs.
type Store interface {
	CleanBefore24hCompleteJobs(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Sweeper runs CleanBefore24hCompleteJobs on a cron schedule.
type Sweeper struct {
	cron      *cron.Cron
	store     Store
	log       logger.Logger
	olderThan time.Duration
}

// New builds a Sweeper. schedule is a standard 5-field cron expression
// (minute hour dom month dow); olderThan is the retention window passed to
// the store on every tick.
func New(schedule string, olderThan time.Duration, store Store, log logger.Logger) (*Sweeper, error) {
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))
	s := &Sweeper{cron: c, store: store, log: log, olderThan: olderThan}

	if _, err := c.AddFunc(schedule, s.tick); err != nil {
		return nil, err
	}
	return s, nil
}

// Start launches the cron scheduler. Non-blocking.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and waits for any in-flight tick to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Sweeper) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := s.store.CleanBefore24hCompleteJobs(ctx, s.olderThan)
	if err != nil {
		if s.log != nil {
			s.log.Error("cleanup sweep failed", logger.Error(err))
		}
		return
	}
	if s.log != nil && n > 0 {
		s.log.Info("cleanup sweep removed terminal jobs", logger.Int64("removed", n))
	}
}
