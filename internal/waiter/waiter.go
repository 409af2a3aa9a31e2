// Package waiter implements the blocking wait-for-job-completion surface
// consumed by external callers (e.g. a synchronous scrape request) that
// poll the State Store until a job reaches a terminal status.
package waiter

import (
	"context"
	"errors"
	"time"

	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/errs"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/model"
)

// JobStateReader is the subset of the State Store a Waiter polls. Store
// satisfies it directly.
type JobStateReader interface {
	GetJobState(ctx context.Context, jobID string) (string, error)
	GetJobResult(ctx context.Context, jobID string) (*model.Result, error)
	GetJobError(ctx context.Context, jobID string) (string, error)
}

// Config tunes the poll cadence and failure thresholds.
type Config struct {
	// PollInterval is the pause between state reads.
	PollInterval time.Duration
	// PerCallTimeout bounds each individual state read.
	PerCallTimeout time.Duration
	// MaxConsecutiveTimeouts is how many per-call timeouts in a row before
	// the wait fails with StoreUnstable instead of continuing to poll.
	MaxConsecutiveTimeouts int
}

// DefaultConfig returns the documented poll cadence: ~250ms between reads,
// a 3.5s inner deadline per read, and 10 consecutive timeouts tolerated.
func DefaultConfig() Config {
	return Config{
		PollInterval:           250 * time.Millisecond,
		PerCallTimeout:         3500 * time.Millisecond,
		MaxConsecutiveTimeouts: 10,
	}
}

// Waiter blocks callers on a job reaching a terminal status.
type Waiter struct {
	reader JobStateReader
	cfg    Config
}

// New builds a Waiter over reader using cfg.
func New(reader JobStateReader, cfg Config) *Waiter {
	return &Waiter{reader: reader, cfg: cfg}
}

// Outcome is the terminal state a wait resolved to.
type Outcome struct {
	Success bool
	Result  *model.Result
	Error   string
}

// Wait polls jobID until it reaches a terminal status, ctx is done, or the
// consecutive-timeout ceiling is crossed. A ctx deadline is the caller's
// overall wait ceiling; PerCallTimeout bounds each individual read beneath
// it so one slow read cannot silently consume the whole budget.
func (w *Waiter) Wait(ctx context.Context, jobID string) (Outcome, error) {
	consecutiveTimeouts := 0

	for {
		status, err := w.readState(ctx, jobID)
		switch {
		case err == nil:
			consecutiveTimeouts = 0
		case errors.Is(err, context.DeadlineExceeded):
			consecutiveTimeouts++
			if consecutiveTimeouts >= w.cfg.MaxConsecutiveTimeouts {
				return Outcome{}, errs.StoreUnstable("Wait", consecutiveTimeouts)
			}
		default:
			return Outcome{}, err
		}

		switch model.JobStatus(status) {
		case model.JobCompleted:
			result, err := w.reader.GetJobResult(ctx, jobID)
			if err != nil {
				return Outcome{}, err
			}
			return Outcome{Success: true, Result: result}, nil
		case model.JobFailed:
			errMsg, err := w.reader.GetJobError(ctx, jobID)
			if err != nil {
				return Outcome{}, err
			}
			return Outcome{Success: false, Error: errMsg}, nil
		}

		select {
		case <-ctx.Done():
			return Outcome{}, errs.Timeout("Wait")
		case <-time.After(w.cfg.PollInterval):
		}
	}
}

// readState reads the job's status under PerCallTimeout, distinct from
// ctx's overall deadline.
func (w *Waiter) readState(ctx context.Context, jobID string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, w.cfg.PerCallTimeout)
	defer cancel()

	status, err := w.reader.GetJobState(callCtx, jobID)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return "", context.DeadlineExceeded
		}
		return "", err
	}
	return status, nil
}
