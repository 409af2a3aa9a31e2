package worker

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/logger"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/model"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/queue"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/scrape"
)

// processJobInternal runs one job to completion: lease extension, team-job
// bookkeeping, block-list check, scrape invocation, crawl fan-out, and the
// terminal status transition with its fallbacks.
func (w *Worker) processJobInternal(ctx context.Context, token string, job *queue.Job) {
	_ = w.runJob(ctx, token, job)
}

// HandleDeliveredJob runs job synchronously to completion and returns its
// result. It is the entry point for the dispatcher variant's /tasks/process
// HTTP handler: Cloud Tasks delivers jobs over HTTP rather than through
// GetNextJob, so there is no lease token to extend.
func (w *Worker) HandleDeliveredJob(ctx context.Context, job *queue.Job) model.Result {
	return w.runJob(ctx, "", job)
}

// runJob is the shared body behind processJobInternal and
// HandleDeliveredJob.
func (w *Worker) runJob(ctx context.Context, token string, job *queue.Job) model.Result {
	start := time.Now()

	var span trace.Span
	if w.tracer != nil {
		ctx, span = w.tracer.JobSpan(ctx, job.ID, string(job.Data.Mode), job.Data.URL)
		defer span.End()
	}

	stopExtend := w.startLeaseExtension(ctx, token)
	defer stopExtend()

	teamID := job.Data.TeamID
	if teamID == "" {
		teamID = "system"
	}
	if err := w.store.AddTeamJob(ctx, teamID, job.ID); err != nil && w.log != nil {
		w.log.Warn("add team job failed", logger.String("job_id", job.ID), logger.Error(err))
	}
	defer func() {
		if err := w.store.RemoveTeamJob(ctx, teamID, job.ID); err != nil && w.log != nil {
			w.log.Warn("remove team job failed", logger.String("job_id", job.ID), logger.Error(err))
		}
	}()

	if err := w.store.MarkJobStarted(ctx, job.ID); err != nil && w.log != nil {
		w.log.Warn("mark job started failed", logger.String("job_id", job.ID), logger.Error(err))
	}

	var result model.Result
	if w.blockedHost(job.Data.URL) {
		result = model.Result{Success: false, Message: "URL is blocked by configured host block list"}
	} else {
		_ = w.store.UpdateJobProgress(ctx, job.ID, model.Progress{Current: 1, Total: 100, Step: "SCRAPING"})

		result = w.scraper.RunWebScraper(ctx, scrape.Request{
			URL:            job.Data.URL,
			Mode:           job.Data.Mode,
			CrawlerOptions: nil,
			PageOptions:    job.Data.PageOptions,
			TeamID:         teamID,
			JobID:          job.ID,
			CrawlID:        job.Data.CrawlID,
			Priority:       job.Options.Priority,
			OnProgress: func(p model.Progress) {
				_ = w.store.UpdateJobProgress(ctx, job.ID, p)
			},
		})
	}

	if job.Data.CrawlID != "" && w.crawl != nil {
		w.handleCrawlFanOut(ctx, job, result)
	}

	w.finishJob(ctx, job, result)

	if w.metrics != nil {
		status := "completed"
		if !result.Success {
			status = "failed"
		}
		w.metrics.RecordJob(status, time.Since(start).Seconds())
	}

	if span != nil {
		if result.Success {
			span.SetStatus(codes.Ok, "")
		} else {
			span.SetStatus(codes.Error, result.Message)
		}
	}

	return result
}

// startLeaseExtension runs a ticker that extends the job's lease every
// JobLockExtendInterval. Extension errors are logged and swallowed; they
// never block job progress. The returned func stops the ticker.
func (w *Worker) startLeaseExtension(ctx context.Context, token string) func() {
	if token == "" {
		return func() {}
	}

	interval := w.cfg.JobLockExtendInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	extension := w.cfg.JobLockExtensionTime
	if extension <= 0 {
		extension = 2 * time.Minute
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				if err := w.provider.ExtendLock(ctx, token, extension.Milliseconds()); err != nil && w.log != nil {
					w.log.Warn("lease extension failed", logger.Error(err))
				}
			}
		}
	}()

	return func() {
		close(stop)
		wg.Wait()
	}
}

// handleCrawlFanOut reports the child job's outcome to the crawl
// coordinator and fans out links extracted from its first document, unless
// the crawl is cancelled or the job was seeded from a sitemap.
func (w *Worker) handleCrawlFanOut(ctx context.Context, job *queue.Job, result model.Result) {
	var rawHTML, sourceURL string
	if len(result.Docs) > 0 {
		rawHTML = result.Docs[0].RawHTML
		sourceURL = result.Docs[0].URL
	}

	fromSitemap, _ := job.Data.Extra["fromSitemap"].(bool)
	teamID := job.Data.TeamID

	justFinished, err := w.crawl.HandleChildComplete(ctx, job.Data.CrawlID, job.ID, result.Success, rawHTML, sourceURL, fromSitemap,
		w.extractor, w.enqueuer, teamID, func(url string) int {
			if w.priorityFor != nil {
				return w.priorityFor(teamID, "")
			}
			return 10
		})
	if err != nil {
		if w.log != nil {
			w.log.Warn("crawl fan-out failed", logger.String("crawl_id", job.Data.CrawlID), logger.Error(err))
		}
		return
	}

	if justFinished && w.metrics != nil {
		status, statusErr := w.crawl.GetStatus(ctx, job.Data.CrawlID)
		allSucceeded := statusErr == nil && status != nil && status.Crawl.FailedURLs == 0
		w.metrics.RecordCrawlCompleted(allSucceeded)
	}
}

// finishJob performs the terminal status transition with its two fallback
// levels, then best-effort removes the job from the queue on failure of
// the primary transition. The State Store transition is authoritative; the
// broker/dispatcher transition is best-effort.
func (w *Worker) finishJob(ctx context.Context, job *queue.Job, result model.Result) {
	if !result.Success {
		msg := result.Message
		if msg == "" {
			msg = "scrape pipeline reported failure"
		}
		if err := w.store.MarkJobFailed(ctx, job.ID, msg); err != nil && w.log != nil {
			w.log.Error("mark job failed errored", logger.String("job_id", job.ID), logger.Error(err))
		}
		_ = w.provider.RemoveJob(ctx, job.ID)
		return
	}

	if err := w.store.MarkJobCompleted(ctx, job.ID, result); err != nil {
		if w.log != nil {
			w.log.Warn("mark job completed failed, applying fallback", logger.String("job_id", job.ID), logger.Error(err))
		}
		if err := w.store.UpdateJobProgress(ctx, job.ID, model.Progress{Current: 100, Total: 100}); err != nil {
			_ = w.provider.RemoveJob(ctx, job.ID)
		}
		return
	}

	_ = w.provider.RemoveJob(ctx, job.ID)
}
