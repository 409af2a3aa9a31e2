package broker_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/logger"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/model"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/queue"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/queue/broker"
)

func newTestBroker(t *testing.T) (*broker.Broker, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return broker.New(rdb, logger.NewNop()), mr
}

func TestBroker_AddJob_ReturnsCallerJobID(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()

	id, err := b.AddJob(ctx, "scrape", model.JobPayload{URL: "https://example.com"}, queue.AddOptions{JobID: "job-1", Priority: 5})
	require.NoError(t, err)
	assert.Equal(t, "job-1", id)
}

func TestBroker_AddJob_GeneratesIDWhenMissing(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()

	id, err := b.AddJob(ctx, "scrape", model.JobPayload{}, queue.AddOptions{Priority: 1})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestBroker_GetNextJob_PriorityOrdering(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()

	_, err := b.AddJob(ctx, "scrape", model.JobPayload{URL: "low"}, queue.AddOptions{JobID: "low-pri", Priority: 10})
	require.NoError(t, err)
	_, err = b.AddJob(ctx, "scrape", model.JobPayload{URL: "high"}, queue.AddOptions{JobID: "high-pri", Priority: 1})
	require.NoError(t, err)

	job, token, ok, err := b.GetNextJob(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "high-pri", job.ID)
	assert.NotEmpty(t, token)

	job2, _, ok2, err := b.GetNextJob(ctx)
	require.NoError(t, err)
	require.True(t, ok2)
	assert.Equal(t, "low-pri", job2.ID)
}

func TestBroker_GetNextJob_EmptyQueue(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()

	job, token, ok, err := b.GetNextJob(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, job)
	assert.Empty(t, token)
}

func TestBroker_ExtendLock_RefreshesCurrentHolder(t *testing.T) {
	b, mr := newTestBroker(t)
	ctx := context.Background()

	_, err := b.AddJob(ctx, "scrape", model.JobPayload{}, queue.AddOptions{JobID: "job-1", Priority: 1})
	require.NoError(t, err)
	_, token, ok, err := b.GetNextJob(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	err = b.ExtendLock(ctx, token, int64((2 * time.Minute).Milliseconds()))
	require.NoError(t, err)
	assert.True(t, mr.Exists("queue:lease:job-1"))
}

func TestBroker_ExtendLock_MismatchedTokenIsNoOp(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()

	_, err := b.AddJob(ctx, "scrape", model.JobPayload{}, queue.AddOptions{JobID: "job-1", Priority: 1})
	require.NoError(t, err)
	_, _, ok, err := b.GetNextJob(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	err = b.ExtendLock(ctx, "job-1:some-other-token", 60000)
	assert.NoError(t, err)
}

func TestBroker_RemoveJob_ClearsAllKeys(t *testing.T) {
	b, mr := newTestBroker(t)
	ctx := context.Background()

	_, err := b.AddJob(ctx, "scrape", model.JobPayload{}, queue.AddOptions{JobID: "job-1", Priority: 1})
	require.NoError(t, err)

	require.NoError(t, b.RemoveJob(ctx, "job-1"))
	assert.False(t, mr.Exists("queue:job:job-1"))
}

func TestBroker_ActiveAndWaitingCounts(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()

	_, err := b.AddJob(ctx, "scrape", model.JobPayload{}, queue.AddOptions{JobID: "job-1", Priority: 1})
	require.NoError(t, err)
	_, err = b.AddJob(ctx, "scrape", model.JobPayload{}, queue.AddOptions{JobID: "job-2", Priority: 2})
	require.NoError(t, err)

	n, err := b.GetWaitingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, _, ok, err := b.GetNextJob(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	active, err := b.GetActiveCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, active)

	waiting, err := b.GetWaitingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, waiting)
}

func TestBroker_ReapStalled_RequeuesExpiredLease(t *testing.T) {
	b, mr := newTestBroker(t)
	ctx := context.Background()

	_, err := b.AddJob(ctx, "scrape", model.JobPayload{}, queue.AddOptions{JobID: "job-1", Priority: 1})
	require.NoError(t, err)
	_, _, ok, err := b.GetNextJob(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.Del("queue:lease:job-1")

	require.NoError(t, b.ReapStalled(ctx))

	waiting, err := b.GetWaitingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, waiting)
}

func TestBroker_ReapStalled_DropsJobPastMaxStalledCount(t *testing.T) {
	b, mr := newTestBroker(t)
	ctx := context.Background()

	var failedJobID string
	var failedErr error
	b.OnJobFailed(func(_ context.Context, job *queue.Job, _ *model.Result, err error) {
		failedJobID = job.ID
		failedErr = err
	})

	_, err := b.AddJob(ctx, "scrape", model.JobPayload{}, queue.AddOptions{JobID: "job-1", Priority: 1})
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, _, ok, err := b.GetNextJob(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		mr.Del("queue:lease:job-1")
		require.NoError(t, b.ReapStalled(ctx))
	}

	assert.Equal(t, "job-1", failedJobID)
	assert.Error(t, failedErr)
}
