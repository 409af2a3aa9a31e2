// Package crawl implements the Crawl Coordinator: crawl lifecycle,
// URL-deduplicated fan-out, and completion tracking.
package crawl

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/errs"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/logger"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/model"
)

// byteBudget bounds the cumulative serialized size of job results returned
// by the status read path.
const byteBudget = 10 * 1024 * 1024

// idChunkSize is how many completed job ids the status read path fetches
// results for per batch.
const idChunkSize = 100

// Store is the subset of the state store the coordinator needs.
type Store interface {
	SaveCrawl(ctx context.Context, c *model.Crawl) error
	GetCrawl(ctx context.Context, crawlID string) (*model.Crawl, error)
	AddCrawlJob(ctx context.Context, crawlID, jobID string) error
	AddCrawlJobDone(ctx context.Context, crawlID, jobID string, success bool) error
	GetDoneJobsOrdered(ctx context.Context, crawlID string, start, end int) ([]string, error)
	GetJobResult(ctx context.Context, jobID string) (*model.Result, error)
	IsCrawlFinished(ctx context.Context, crawlID string) (bool, error)
	FinishCrawl(ctx context.Context, crawlID string) (bool, error)
	LockURL(ctx context.Context, url, crawlID string) (bool, error)
}

// Enqueuer is the subset of the queue provider the coordinator needs to
// fan a newly locked URL back into the pipeline.
type Enqueuer interface {
	AddJob(ctx context.Context, name string, data model.JobPayload, opts EnqueueOptions) (string, error)
}

// EnqueueOptions mirrors queue.AddOptions without importing the queue
// package, so crawl has no dependency on a specific provider variant.
type EnqueueOptions struct {
	JobID    string
	Priority int
}

// Coordinator implements the Crawl Coordinator component.
type Coordinator struct {
	store Store
	log   logger.Logger
}

// New builds a Coordinator over store.
func New(store Store, log logger.Logger) *Coordinator {
	return &Coordinator{store: store, log: log}
}

// StartCrawl creates the crawl root record and returns its id. The caller
// (an external controller) is responsible for expanding the seed into a
// URL set and driving LockAndEnqueue per URL.
func (c *Coordinator) StartCrawl(ctx context.Context, originURL string, crawlerOptions, pageOptions map[string]any, teamID, plan string, robotsTxt string) (string, error) {
	id := uuid.NewString()
	cr := &model.Crawl{
		ID:             id,
		OriginURL:      originURL,
		CrawlerOptions: crawlerOptions,
		PageOptions:    pageOptions,
		TeamID:         teamID,
		Plan:           plan,
		RobotsTxt:      robotsTxt,
	}
	if err := c.store.SaveCrawl(ctx, cr); err != nil {
		return "", fmt.Errorf("save crawl: %w", err)
	}
	return id, nil
}

// LockAndEnqueue performs the lock -> enqueue -> addCrawlJob sequence for
// one candidate URL. It is a no-op (locked=false) if the URL's lock already
// exists, ensuring at-most-once fan-out per URL per crawl.
func (c *Coordinator) LockAndEnqueue(ctx context.Context, crawlID, url string, enqueuer Enqueuer, teamID string, priority int) (locked bool, jobID string, err error) {
	locked, err = c.store.LockURL(ctx, url, crawlID)
	if err != nil {
		return false, "", fmt.Errorf("lock url: %w", err)
	}
	if !locked {
		return false, "", nil
	}

	jobID = uuid.NewString()
	payload := model.JobPayload{
		URL:     url,
		Mode:    model.ModeCrawl,
		TeamID:  teamID,
		CrawlID: crawlID,
	}

	if _, err := enqueuer.AddJob(ctx, url, payload, EnqueueOptions{JobID: jobID, Priority: priority}); err != nil {
		return true, "", fmt.Errorf("enqueue job: %w", err)
	}
	if err := c.store.AddCrawlJob(ctx, crawlID, jobID); err != nil {
		return true, "", fmt.Errorf("add crawl job: %w", err)
	}
	return true, jobID, nil
}

// LinkExtractor extracts outbound links from raw HTML, an external
// collaborator out of this component's scope.
type LinkExtractor func(rawHTML, sourceURL string) []string

// HandleChildComplete is called by the worker loop after a child job
// belonging to crawlID finishes. If the crawl is not cancelled and the job
// was not seeded from a sitemap, it extracts links from rawHTML and fans
// each newly locked link back into the queue. AddCrawlJobDone is always
// called regardless of success, and FinishCrawl is checked at the end.
// justFinished reports whether this call was the one that transitioned the
// crawl to completed, so the caller can report it exactly once.
func (c *Coordinator) HandleChildComplete(ctx context.Context, crawlID, jobID string, success bool, rawHTML, sourceURL string, fromSitemap bool, extract LinkExtractor, enqueuer Enqueuer, teamID string, priorityFor func(url string) int) (justFinished bool, err error) {
	if err := c.store.AddCrawlJobDone(ctx, crawlID, jobID, success); err != nil {
		return false, fmt.Errorf("add crawl job done: %w", err)
	}

	cr, err := c.store.GetCrawl(ctx, crawlID)
	if err != nil {
		return false, fmt.Errorf("get crawl: %w", err)
	}
	if cr == nil {
		return false, errs.NotFound("HandleChildComplete", crawlID)
	}

	if success && !cr.Cancelled && !fromSitemap && extract != nil {
		for _, link := range extract(rawHTML, sourceURL) {
			priority := 10
			if priorityFor != nil {
				priority = priorityFor(link)
			}
			if _, _, err := c.LockAndEnqueue(ctx, crawlID, link, enqueuer, teamID, priority); err != nil {
				if c.log != nil {
					c.log.Warn("fan-out enqueue failed", logger.String("crawl_id", crawlID), logger.String("link", link), logger.Error(err))
				}
			}
		}
	}

	finished, err := c.store.FinishCrawl(ctx, crawlID)
	if err != nil {
		return false, fmt.Errorf("finish crawl: %w", err)
	}
	return finished, nil
}

// Status is the byte-budgeted view of a crawl's completed results.
type Status struct {
	Crawl   *model.Crawl
	Results []model.Result
}

// GetStatus reads completed job results, chunking ids by idChunkSize and
// stopping once the cumulative serialized size first crosses byteBudget;
// the element that crossed the budget is discarded.
func (c *Coordinator) GetStatus(ctx context.Context, crawlID string) (*Status, error) {
	cr, err := c.store.GetCrawl(ctx, crawlID)
	if err != nil {
		return nil, fmt.Errorf("get crawl: %w", err)
	}
	if cr == nil {
		return nil, errs.NotFound("GetStatus", crawlID)
	}

	results := make([]model.Result, 0, len(cr.CompletedJobs))
	cumulative := 0

	for start := 0; start < len(cr.CompletedJobs); start += idChunkSize {
		end := start + idChunkSize
		if end > len(cr.CompletedJobs) {
			end = len(cr.CompletedJobs)
		}
		ids, err := c.store.GetDoneJobsOrdered(ctx, crawlID, start, end)
		if err != nil {
			return nil, fmt.Errorf("get done jobs: %w", err)
		}

		for _, id := range ids {
			result, err := c.store.GetJobResult(ctx, id)
			if err != nil || result == nil {
				continue
			}
			raw, _ := json.Marshal(result)
			cumulative += len(raw)
			if cumulative > byteBudget {
				return &Status{Crawl: cr, Results: results}, nil
			}
			results = append(results, *result)
		}
	}

	return &Status{Crawl: cr, Results: results}, nil
}
