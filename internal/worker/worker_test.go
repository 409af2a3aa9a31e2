package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	infraconfig "github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/infra/config"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/logger"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/model"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/queue"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/scrape"
)

// stubProvider is a hand-rolled queue.Provider stub for worker tests.
type stubProvider struct {
	jobs        []*queue.Job
	extendCalls int
	removeCalls []string
	getNextErr  error
}

func (p *stubProvider) AddJob(ctx context.Context, name string, data model.JobPayload, opts queue.AddOptions) (string, error) {
	return opts.JobID, nil
}

func (p *stubProvider) GetNextJob(ctx context.Context) (*queue.Job, string, bool, error) {
	if p.getNextErr != nil {
		return nil, "", false, p.getNextErr
	}
	if len(p.jobs) == 0 {
		return nil, "", false, nil
	}
	job := p.jobs[0]
	p.jobs = p.jobs[1:]
	return job, "tok-" + job.ID, true, nil
}

func (p *stubProvider) ExtendLock(ctx context.Context, token string, extension int64) error {
	p.extendCalls++
	return nil
}

func (p *stubProvider) RemoveJob(ctx context.Context, jobID string) error {
	p.removeCalls = append(p.removeCalls, jobID)
	return nil
}

func (p *stubProvider) GetActiveCount(ctx context.Context) (int, error)  { return 0, nil }
func (p *stubProvider) GetWaitingCount(ctx context.Context) (int, error) { return len(p.jobs), nil }
func (p *stubProvider) OnJobComplete(h queue.CompletionHandler)          {}
func (p *stubProvider) OnJobFailed(h queue.CompletionHandler)            {}

// stubJobStore and stubScraper satisfy the worker's narrow collaborator
// interfaces.
type stubJobStore struct {
	startedIDs   []string
	completedIDs []string
	failedIDs    []string
	failedMsgs   []string
	teamAdds     []string
	teamRemoves  []string

	completedErr error
	progressIDs   []string
}

func (s *stubJobStore) MarkJobStarted(ctx context.Context, jobID string) error {
	s.startedIDs = append(s.startedIDs, jobID)
	return nil
}
func (s *stubJobStore) MarkJobCompleted(ctx context.Context, jobID string, result model.Result) error {
	if s.completedErr != nil {
		return s.completedErr
	}
	s.completedIDs = append(s.completedIDs, jobID)
	return nil
}
func (s *stubJobStore) MarkJobFailed(ctx context.Context, jobID, errMsg string) error {
	s.failedIDs = append(s.failedIDs, jobID)
	s.failedMsgs = append(s.failedMsgs, errMsg)
	return nil
}
func (s *stubJobStore) UpdateJobProgress(ctx context.Context, jobID string, progress model.Progress) error {
	s.progressIDs = append(s.progressIDs, jobID)
	return nil
}
func (s *stubJobStore) AddTeamJob(ctx context.Context, teamID, jobID string) error {
	s.teamAdds = append(s.teamAdds, teamID+":"+jobID)
	return nil
}
func (s *stubJobStore) RemoveTeamJob(ctx context.Context, teamID, jobID string) error {
	s.teamRemoves = append(s.teamRemoves, teamID+":"+jobID)
	return nil
}

type stubScraper struct {
	result model.Result
}

func (s stubScraper) RunWebScraper(ctx context.Context, req scrape.Request) model.Result {
	return s.result
}

func TestEmptyPollBackoff_CapsAtCeiling(t *testing.T) {
	assert.Equal(t, emptyPollBase, emptyPollBackoff(0))
	assert.Less(t, emptyPollBackoff(0), emptyPollBackoff(maxEmptyPolls))
	assert.Equal(t, emptyPollCap, emptyPollBackoff(1000))
}

func TestEmptyPollBackoff_Monotonic(t *testing.T) {
	prev := time.Duration(0)
	for i := 0; i < 40; i++ {
		d := emptyPollBackoff(i)
		assert.GreaterOrEqual(t, d, prev)
		prev = d
	}
}

func TestBlockedHost_MatchesConfiguredSubstring(t *testing.T) {
	w := &Worker{cfg: infraconfig.WorkerConfig{BlockedHosts: []string{"blocked.example.com"}}}

	assert.True(t, w.blockedHost("https://blocked.example.com/page"))
	assert.False(t, w.blockedHost("https://allowed.example.com/page"))
}

func TestBlockedHost_IgnoresEmptyEntries(t *testing.T) {
	w := &Worker{cfg: infraconfig.WorkerConfig{BlockedHosts: []string{""}}}
	assert.False(t, w.blockedHost("https://example.com"))
}

func TestWorker_StartStop_IsIdempotent(t *testing.T) {
	cfg := infraconfig.WorkerConfig{}
	cfg.SetDefaults()
	cfg.Concurrency = 2
	cfg.CantAcceptConnectionInterval = 10 * time.Millisecond

	w := New(cfg, Deps{
		Provider: &stubProvider{},
		Store:    &stubJobStore{},
		Scraper:  stubScraper{result: model.Result{Success: true}},
		Log:      logger.NewNop(),
	})

	w.Start(context.Background())
	assert.True(t, w.IsRunning())

	w.Start(context.Background())

	w.Stop()
	assert.False(t, w.IsRunning())

	w.Stop()
}
