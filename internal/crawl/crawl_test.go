package crawl

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/model"
)

type stubStore struct {
	crawls       map[string]*model.Crawl
	lockedURLs   map[string]bool
	addedJobs    map[string][]string
	doneCalls    []string
	jobResults   map[string]*model.Result
	finishCalls  int
	finishResult bool
}

func newStubStore() *stubStore {
	return &stubStore{
		crawls:     map[string]*model.Crawl{},
		lockedURLs: map[string]bool{},
		addedJobs:  map[string][]string{},
		jobResults: map[string]*model.Result{},
	}
}

func (s *stubStore) SaveCrawl(ctx context.Context, c *model.Crawl) error {
	s.crawls[c.ID] = c
	return nil
}

func (s *stubStore) GetCrawl(ctx context.Context, crawlID string) (*model.Crawl, error) {
	return s.crawls[crawlID], nil
}

func (s *stubStore) AddCrawlJob(ctx context.Context, crawlID, jobID string) error {
	s.addedJobs[crawlID] = append(s.addedJobs[crawlID], jobID)
	return nil
}

func (s *stubStore) AddCrawlJobDone(ctx context.Context, crawlID, jobID string, success bool) error {
	s.doneCalls = append(s.doneCalls, jobID)
	return nil
}

func (s *stubStore) GetDoneJobsOrdered(ctx context.Context, crawlID string, start, end int) ([]string, error) {
	return nil, nil
}

func (s *stubStore) GetJobResult(ctx context.Context, jobID string) (*model.Result, error) {
	return s.jobResults[jobID], nil
}

func (s *stubStore) IsCrawlFinished(ctx context.Context, crawlID string) (bool, error) {
	return s.finishResult, nil
}

func (s *stubStore) FinishCrawl(ctx context.Context, crawlID string) (bool, error) {
	s.finishCalls++
	return s.finishResult, nil
}

func (s *stubStore) LockURL(ctx context.Context, url, crawlID string) (bool, error) {
	key := crawlID + "|" + url
	if s.lockedURLs[key] {
		return false, nil
	}
	s.lockedURLs[key] = true
	return true, nil
}

type stubEnqueuer struct {
	calls []string
}

func (e *stubEnqueuer) AddJob(ctx context.Context, name string, data model.JobPayload, opts EnqueueOptions) (string, error) {
	e.calls = append(e.calls, data.URL)
	return opts.JobID, nil
}

func TestLockAndEnqueue_SecondCallIsNoOp(t *testing.T) {
	t.Parallel()

	store := newStubStore()
	enq := &stubEnqueuer{}
	c := New(store, nil)

	locked1, job1, err := c.LockAndEnqueue(context.Background(), "crawl-1", "https://a.example", enq, "team-1", 5)
	require.NoError(t, err)
	assert.True(t, locked1)
	assert.NotEmpty(t, job1)

	locked2, job2, err := c.LockAndEnqueue(context.Background(), "crawl-1", "https://a.example", enq, "team-1", 5)
	require.NoError(t, err)
	assert.False(t, locked2)
	assert.Empty(t, job2)

	assert.Len(t, enq.calls, 1)
	assert.Len(t, store.addedJobs["crawl-1"], 1)
}

func TestHandleChildComplete_FansOutExtractedLinks(t *testing.T) {
	t.Parallel()

	store := newStubStore()
	store.crawls["crawl-1"] = &model.Crawl{ID: "crawl-1"}
	enq := &stubEnqueuer{}
	c := New(store, nil)

	extract := func(rawHTML, sourceURL string) []string {
		return []string{"https://a.example/one", "https://a.example/two"}
	}

	finished, err := c.HandleChildComplete(context.Background(), "crawl-1", "job-1", true, "<html></html>", "https://a.example", false, extract, enq, "team-1", nil)
	require.NoError(t, err)
	assert.False(t, finished)

	assert.ElementsMatch(t, []string{"https://a.example/one", "https://a.example/two"}, enq.calls)
	assert.Equal(t, 1, store.finishCalls)
	assert.Contains(t, store.doneCalls, "job-1")
}

func TestHandleChildComplete_CancelledCrawlSkipsFanOut(t *testing.T) {
	t.Parallel()

	store := newStubStore()
	store.crawls["crawl-1"] = &model.Crawl{ID: "crawl-1", Cancelled: true}
	enq := &stubEnqueuer{}
	c := New(store, nil)

	extract := func(rawHTML, sourceURL string) []string {
		return []string{"https://a.example/one"}
	}

	_, err := c.HandleChildComplete(context.Background(), "crawl-1", "job-1", true, "<html></html>", "https://a.example", false, extract, enq, "team-1", nil)
	require.NoError(t, err)
	assert.Empty(t, enq.calls)
}

func TestHandleChildComplete_UnknownCrawlReturnsNotFound(t *testing.T) {
	t.Parallel()

	store := newStubStore()
	c := New(store, nil)

	_, err := c.HandleChildComplete(context.Background(), "missing", "job-1", true, "", "", false, nil, nil, "team-1", nil)
	assert.Error(t, err)
}
