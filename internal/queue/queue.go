// Package queue defines the uniform Queue Provider interface implemented by
// the Redis-backed broker and the Cloud Tasks dispatcher.
package queue

import (
	"context"

	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/model"
)

// AddOptions carries the caller-supplied tuning for addJob. JobID is
// canonical: it is returned unchanged regardless of which backend is used.
type AddOptions struct {
	JobID    string
	Priority int
	Attempts int
	Backoff  model.BackoffConfig
}

// Job is the handle a Provider returns for an in-flight unit of work.
type Job struct {
	ID       string
	Name     string
	Data     model.JobPayload
	Options  AddOptions
	Progress model.Progress
}

// CompletionHandler receives a job's terminal outcome. The broker calls its
// failure handler only for a job dropped past its stalled-delivery limit and
// never calls its completion handler; the dispatcher calls them only from
// Deliver. The worker's own terminal transitions invoke neither.
type CompletionHandler func(ctx context.Context, job *Job, result *model.Result, jobErr error)

// Provider is the uniform interface over the broker and dispatcher
// variants. Neither implementation writes a State Store Job record when
// AddJob inserts into the backend; the worker's terminal transition creates
// a placeholder record for a job that has none.
type Provider interface {
	// AddJob enqueues name/data under opts.JobID, returning that same id.
	AddJob(ctx context.Context, name string, data model.JobPayload, opts AddOptions) (string, error)

	// GetNextJob returns the next job to run along with a lease token
	// identifying this worker's ownership, or ok=false if the queue is
	// empty. Only meaningful for the broker variant; the dispatcher variant
	// never blocks here since it is fed via HTTP.
	GetNextJob(ctx context.Context) (job *Job, token string, ok bool, err error)

	// ExtendLock extends the lease identified by token by extension.
	ExtendLock(ctx context.Context, token string, extension int64) error

	// RemoveJob best-effort deletes jobID from the backend queue.
	RemoveJob(ctx context.Context, jobID string) error

	// GetActiveCount and GetWaitingCount report queue depth. The dispatcher
	// variant logs "not supported" and returns 0.
	GetActiveCount(ctx context.Context) (int, error)
	GetWaitingCount(ctx context.Context) (int, error)

	// OnJobComplete and OnJobFailed register the completion callbacks; see
	// CompletionHandler for when each implementation invokes them.
	OnJobComplete(h CompletionHandler)
	OnJobFailed(h CompletionHandler)
}
