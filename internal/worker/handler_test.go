package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	infraconfig "github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/infra/config"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/logger"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/model"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/queue"
)

func newTestWorker(store *stubJobStore, provider *stubProvider, scraperResult model.Result) *Worker {
	cfg := infraconfig.WorkerConfig{}
	cfg.SetDefaults()
	cfg.JobLockExtendInterval = 10 * time.Millisecond
	cfg.JobLockExtensionTime = time.Minute

	return New(cfg, Deps{
		Provider: provider,
		Store:    store,
		Scraper:  stubScraper{result: scraperResult},
		Log:      logger.NewNop(),
	})
}

func TestRunJob_HappySuccessPath(t *testing.T) {
	store := &stubJobStore{}
	provider := &stubProvider{}
	w := newTestWorker(store, provider, model.Result{Success: true, Docs: []model.Document{{URL: "https://example.com"}}})

	job := &queue.Job{ID: "job-1", Data: model.JobPayload{URL: "https://example.com", TeamID: "team-1"}}
	result := w.runJob(context.Background(), "", job)

	assert.True(t, result.Success)
	assert.Equal(t, []string{"job-1"}, store.startedIDs)
	assert.Equal(t, []string{"job-1"}, store.completedIDs)
	assert.Empty(t, store.failedIDs)
	assert.Equal(t, []string{"team-1:job-1"}, store.teamAdds)
	assert.Equal(t, []string{"team-1:job-1"}, store.teamRemoves)
	assert.Equal(t, []string{"job-1"}, provider.removeCalls)
}

func TestRunJob_ScrapeFailureMarksJobFailed(t *testing.T) {
	store := &stubJobStore{}
	provider := &stubProvider{}
	w := newTestWorker(store, provider, model.Result{Success: false, Message: "fetch error"})

	job := &queue.Job{ID: "job-2", Data: model.JobPayload{URL: "https://example.com", TeamID: "team-1"}}
	result := w.runJob(context.Background(), "", job)

	assert.False(t, result.Success)
	assert.Equal(t, []string{"job-2"}, store.failedIDs)
	assert.Equal(t, []string{"fetch error"}, store.failedMsgs)
	assert.Empty(t, store.completedIDs)
}

func TestRunJob_BlockedHostShortCircuitsScraper(t *testing.T) {
	store := &stubJobStore{}
	provider := &stubProvider{}
	w := newTestWorker(store, provider, model.Result{Success: true})
	w.cfg.BlockedHosts = []string{"blocked.example.com"}

	job := &queue.Job{ID: "job-3", Data: model.JobPayload{URL: "https://blocked.example.com/x", TeamID: "team-1"}}
	result := w.runJob(context.Background(), "", job)

	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "blocked")
	assert.Equal(t, []string{"job-3"}, store.failedIDs)
}

func TestRunJob_MissingTeamIDDefaultsToSystem(t *testing.T) {
	store := &stubJobStore{}
	provider := &stubProvider{}
	w := newTestWorker(store, provider, model.Result{Success: true})

	job := &queue.Job{ID: "job-4", Data: model.JobPayload{URL: "https://example.com"}}
	w.runJob(context.Background(), "", job)

	assert.Equal(t, []string{"system:job-4"}, store.teamAdds)
}

func TestStartLeaseExtension_ExtendsOnTickerAndStopsCleanly(t *testing.T) {
	provider := &stubProvider{}
	w := newTestWorker(&stubJobStore{}, provider, model.Result{Success: true})
	w.cfg.JobLockExtendInterval = 5 * time.Millisecond

	stop := w.startLeaseExtension(context.Background(), "tok-1")
	time.Sleep(30 * time.Millisecond)
	stop()

	assert.GreaterOrEqual(t, provider.extendCalls, 1)
}

func TestStartLeaseExtension_NoOpWhenTokenEmpty(t *testing.T) {
	provider := &stubProvider{}
	w := newTestWorker(&stubJobStore{}, provider, model.Result{Success: true})

	stop := w.startLeaseExtension(context.Background(), "")
	stop()

	assert.Equal(t, 0, provider.extendCalls)
}

func TestFinishJob_MovesToCompletedAndRemovesFromQueue(t *testing.T) {
	store := &stubJobStore{}
	provider := &stubProvider{}
	w := newTestWorker(store, provider, model.Result{Success: true})

	job := &queue.Job{ID: "job-5"}
	w.finishJob(context.Background(), job, model.Result{Success: true})

	require.Contains(t, store.completedIDs, "job-5")
	assert.Equal(t, []string{"job-5"}, provider.removeCalls)
}

func TestFinishJob_FallsBackToProgressUpdateWhenCompletedWriteFails(t *testing.T) {
	store := &stubJobStore{completedErr: assertError{"write failed"}}
	provider := &stubProvider{}
	w := newTestWorker(store, provider, model.Result{Success: true})

	job := &queue.Job{ID: "job-6"}
	w.finishJob(context.Background(), job, model.Result{Success: true})

	assert.Empty(t, store.completedIDs)
	assert.Equal(t, []string{"job-6"}, store.progressIDs)
	assert.Empty(t, provider.removeCalls)
}

// assertError is a minimal error value for injecting store failures in tests.
type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }
