// Package broker implements the Redis-backed Queue Provider variant: an
// ordered priority queue with lease tokens, exponential retry backoff, and
// stalled-job reclamation.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/errs"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/logger"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/model"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/queue"
)

const (
	zsetKey      = "queue:jobs"
	activeSetKey = "queue:active"

	// jobTTL is the broker's automatic removal window for a job record,
	// independent of the State Store's own retention.
	jobTTL = 25 * time.Hour

	// defaultLockDuration is how long a lease is valid without extension.
	defaultLockDuration = 2 * time.Minute

	// maxStalledCount caps how many times a reclaimed job may be
	// re-delivered before it is given up as permanently failed.
	maxStalledCount = 3
)

func jobKey(id string) string    { return "queue:job:" + id }
func leaseKey(id string) string  { return "queue:lease:" + id }
func stalledKey(id string) string { return "queue:stalled:" + id }

// storedJob is the broker's on-the-wire representation of a queued job.
type storedJob struct {
	Name    string           `json:"name"`
	Data    model.JobPayload `json:"data"`
	Options queue.AddOptions `json:"options"`
}

// Broker is a Redis sorted-set priority queue implementing queue.Provider.
type Broker struct {
	rdb          *redis.Client
	log          logger.Logger
	lockDuration time.Duration

	onComplete queue.CompletionHandler
	onFailed   queue.CompletionHandler
}

// New builds a Broker over rdb.
func New(rdb *redis.Client, log logger.Logger) *Broker {
	return &Broker{rdb: rdb, log: log, lockDuration: defaultLockDuration}
}

// score composes (priority, enqueue time) into a single sortable value:
// priority dominates, enqueue time (ms) breaks ties FIFO.
func score(priority int) float64 {
	return float64(priority)*1e13 + float64(time.Now().UnixMilli())
}

// AddJob writes the job payload and adds it to the priority zset. The
// caller is responsible for creating the State Store record; the broker
// only owns transient in-queue state.
func (b *Broker) AddJob(ctx context.Context, name string, data model.JobPayload, opts queue.AddOptions) (string, error) {
	if opts.JobID == "" {
		opts.JobID = uuid.NewString()
	}

	sj := storedJob{Name: name, Data: data, Options: opts}
	raw, err := json.Marshal(sj)
	if err != nil {
		return "", fmt.Errorf("marshal queued job: %w", err)
	}

	pipe := b.rdb.TxPipeline()
	pipe.Set(ctx, jobKey(opts.JobID), raw, jobTTL)
	pipe.ZAdd(ctx, zsetKey, redis.Z{Score: score(opts.Priority), Member: opts.JobID})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", errs.New("AddJob", errs.KindQueueUnavailable, err)
	}
	return opts.JobID, nil
}

// GetNextJob pops the lowest-scoring (highest priority) job and issues a
// fresh lease token.
func (b *Broker) GetNextJob(ctx context.Context) (*queue.Job, string, bool, error) {
	popped, err := b.rdb.ZPopMin(ctx, zsetKey, 1).Result()
	if err != nil {
		return nil, "", false, errs.New("GetNextJob", errs.KindQueueUnavailable, err)
	}
	if len(popped) == 0 {
		return nil, "", false, nil
	}

	jobID, ok := popped[0].Member.(string)
	if !ok {
		return nil, "", false, fmt.Errorf("unexpected zset member type %T", popped[0].Member)
	}

	raw, err := b.rdb.Get(ctx, jobKey(jobID)).Result()
	if err == redis.Nil {
		// Job record expired or was removed between pop and fetch.
		return nil, "", false, nil
	}
	if err != nil {
		return nil, "", false, errs.New("GetNextJob", errs.KindQueueUnavailable, err)
	}

	var sj storedJob
	if err := json.Unmarshal([]byte(raw), &sj); err != nil {
		return nil, "", false, fmt.Errorf("decode queued job: %w", err)
	}

	token := issueToken(jobID)
	_, leaseToken := splitToken(token)
	if err := b.rdb.Set(ctx, leaseKey(jobID), leaseToken, b.lockDuration).Err(); err != nil {
		return nil, "", false, errs.New("GetNextJob", errs.KindQueueUnavailable, err)
	}
	b.rdb.SAdd(ctx, activeSetKey, jobID)

	job := &queue.Job{ID: jobID, Name: sj.Name, Data: sj.Data, Options: sj.Options}
	return job, token, true, nil
}

// ExtendLock refreshes the lease identified by token if it is still the
// current holder. A mismatched or expired token is a silent no-op: the
// caller should treat extension failures as advisory.
func (b *Broker) ExtendLock(ctx context.Context, token string, extensionMillis int64) error {
	// token is "jobID:leaseToken" as issued by issueToken below.
	jobID, leaseToken := splitToken(token)
	if jobID == "" {
		return nil
	}

	cur, err := b.rdb.Get(ctx, leaseKey(jobID)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return errs.New("ExtendLock", errs.KindQueueUnavailable, err)
	}
	if cur != leaseToken {
		return nil
	}

	return b.rdb.Expire(ctx, leaseKey(jobID), time.Duration(extensionMillis)*time.Millisecond).Err()
}

// RemoveJob deletes the job's stored payload, lease, and zset entry.
func (b *Broker) RemoveJob(ctx context.Context, jobID string) error {
	pipe := b.rdb.TxPipeline()
	pipe.ZRem(ctx, zsetKey, jobID)
	pipe.Del(ctx, jobKey(jobID), leaseKey(jobID), stalledKey(jobID))
	pipe.SRem(ctx, activeSetKey, jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return errs.New("RemoveJob", errs.KindQueueUnavailable, err)
	}
	return nil
}

// GetActiveCount reports the number of leased (in-flight) jobs.
func (b *Broker) GetActiveCount(ctx context.Context) (int, error) {
	n, err := b.rdb.SCard(ctx, activeSetKey).Result()
	if err != nil {
		return 0, errs.New("GetActiveCount", errs.KindQueueUnavailable, err)
	}
	return int(n), nil
}

// GetWaitingCount reports the number of queued-but-unleased jobs.
func (b *Broker) GetWaitingCount(ctx context.Context) (int, error) {
	n, err := b.rdb.ZCard(ctx, zsetKey).Result()
	if err != nil {
		return 0, errs.New("GetWaitingCount", errs.KindQueueUnavailable, err)
	}
	return int(n), nil
}

// OnJobComplete registers the completion callback.
func (b *Broker) OnJobComplete(h queue.CompletionHandler) { b.onComplete = h }

// OnJobFailed registers the failure callback.
func (b *Broker) OnJobFailed(h queue.CompletionHandler) { b.onFailed = h }

// ReapStalled scans leased jobs whose lease has expired without extension
// and re-queues them for another worker, up to maxStalledCount times per
// job; beyond that the job is dropped and reported failed.
func (b *Broker) ReapStalled(ctx context.Context) error {
	ids, err := b.rdb.SMembers(ctx, activeSetKey).Result()
	if err != nil {
		return errs.New("ReapStalled", errs.KindQueueUnavailable, err)
	}

	for _, jobID := range ids {
		exists, err := b.rdb.Exists(ctx, leaseKey(jobID)).Result()
		if err != nil || exists > 0 {
			continue
		}

		count, _ := b.rdb.Incr(ctx, stalledKey(jobID)).Result()
		b.rdb.SRem(ctx, activeSetKey, jobID)

		if int(count) > maxStalledCount {
			b.rdb.Del(ctx, jobKey(jobID), stalledKey(jobID))
			if b.onFailed != nil {
				b.onFailed(ctx, &queue.Job{ID: jobID}, nil, fmt.Errorf("job %s exceeded max stalled count", jobID))
			}
			continue
		}

		raw, err := b.rdb.Get(ctx, jobKey(jobID)).Result()
		if err != nil {
			continue
		}
		var sj storedJob
		if err := json.Unmarshal([]byte(raw), &sj); err != nil {
			continue
		}
		b.rdb.ZAdd(ctx, zsetKey, redis.Z{Score: score(sj.Options.Priority), Member: jobID})
	}
	return nil
}

// issueToken composes the broker's lease token format from a jobID and a
// random suffix, so ExtendLock can recover which job a token leases without
// a second round trip.
func issueToken(jobID string) string {
	return jobID + ":" + uuid.NewString()
}

func splitToken(token string) (jobID, leaseToken string) {
	for i := len(token) - 1; i >= 0; i-- {
		if token[i] == ':' {
			return token[:i], token[i+1:]
		}
	}
	return "", ""
}
