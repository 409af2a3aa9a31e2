package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/errs"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/model"
)

// SaveCrawl writes a new Crawl with status=created, zero counters, and
// expiresAt = now + model.CrawlTTL.
func (s *Store) SaveCrawl(ctx context.Context, c *model.Crawl) error {
	now := time.Now().UTC()
	c.CreatedAt = now
	c.ExpiresAt = now.Add(model.CrawlTTL)
	c.Status = model.CrawlCreated

	return s.WithRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO crawls (
				id, origin_url, crawler_options, page_options, team_id, plan, robots_txt,
				cancelled, status, total_urls, completed_urls, failed_urls, urls,
				completed_jobs, failed_jobs, created_at, expires_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,false,$8,0,0,0,'[]','[]','[]',$9,$10)
		`, c.ID, c.OriginURL, jsonOf(c.CrawlerOptions), jsonOf(c.PageOptions), c.TeamID, c.Plan,
			c.RobotsTxt, c.Status, c.CreatedAt, c.ExpiresAt)
		return err
	})
}

// GetCrawl returns the Crawl record, or nil if absent.
func (s *Store) GetCrawl(ctx context.Context, crawlID string) (*model.Crawl, error) {
	var c model.Crawl
	var crawlerOpts, pageOpts, urls, completedJobs, failedJobs []byte

	row := s.db.QueryRowxContext(ctx, `
		SELECT id, origin_url, crawler_options, page_options, team_id, plan, robots_txt,
		       cancelled, status, total_urls, completed_urls, failed_urls, urls,
		       completed_jobs, failed_jobs, start_time, end_time, created_at, expires_at
		FROM crawls WHERE id = $1
	`, crawlID)

	err := row.Scan(&c.ID, &c.OriginURL, &crawlerOpts, &pageOpts, &c.TeamID, &c.Plan, &c.RobotsTxt,
		&c.Cancelled, &c.Status, &c.TotalURLs, &c.CompletedURLs, &c.FailedURLs, &urls,
		&completedJobs, &failedJobs, &c.StartTime, &c.EndTime, &c.CreatedAt, &c.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.New("GetCrawl", errs.KindStoreUnavailable, err)
	}

	if err := (&jsonColumn{dest: &c.CrawlerOptions}).Scan(crawlerOpts); err != nil {
		return nil, err
	}
	if err := (&jsonColumn{dest: &c.PageOptions}).Scan(pageOpts); err != nil {
		return nil, err
	}
	if err := (&jsonColumn{dest: &c.URLs}).Scan(urls); err != nil {
		return nil, err
	}
	if err := (&jsonColumn{dest: &c.CompletedJobs}).Scan(completedJobs); err != nil {
		return nil, err
	}
	if err := (&jsonColumn{dest: &c.FailedJobs}).Scan(failedJobs); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCrawlExpiry returns the crawl's expiresAt.
func (s *Store) GetCrawlExpiry(ctx context.Context, crawlID string) (time.Time, error) {
	var expiresAt time.Time
	err := s.db.GetContext(ctx, &expiresAt, `SELECT expires_at FROM crawls WHERE id = $1`, crawlID)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, errs.NotFound("GetCrawlExpiry", crawlID)
	}
	if err != nil {
		return time.Time{}, errs.New("GetCrawlExpiry", errs.KindStoreUnavailable, err)
	}
	return expiresAt, nil
}

// AddCrawlJob appends jobID to the crawl's urls[] and writes an edge record,
// incrementing totalUrls, and transitions the crawl to scraping on its
// first enqueue.
func (s *Store) AddCrawlJob(ctx context.Context, crawlID, jobID string) error {
	return s.AddCrawlJobs(ctx, crawlID, []string{jobID})
}

// AddCrawlJobs is the batched variant of AddCrawlJob.
func (s *Store) AddCrawlJobs(ctx context.Context, crawlID string, jobIDs []string) error {
	if len(jobIDs) == 0 {
		return nil
	}

	return s.WithRetry(ctx, func() error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		for _, jobID := range jobIDs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO crawl_jobs (crawl_id, job_id, done) VALUES ($1, $2, false)
				ON CONFLICT (crawl_id, job_id) DO NOTHING
			`, crawlID, jobID); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE crawls
			SET urls = urls || $1::jsonb,
			    total_urls = total_urls + $2,
			    status = CASE WHEN status = $3 THEN $4 ELSE status END,
			    start_time = COALESCE(start_time, $5)
			WHERE id = $6
		`, jsonOf(jobIDs), len(jobIDs), model.CrawlCreated, model.CrawlScraping, time.Now().UTC(), crawlID); err != nil {
			return err
		}

		return tx.Commit()
	})
}

// AddCrawlJobDone records one child job's terminal outcome against its
// crawl inside a single transaction with the completed/failed counters, and
// marks the crawl completed once every child has reported in.
func (s *Store) AddCrawlJobDone(ctx context.Context, crawlID, jobID string, success bool) error {
	return s.WithRetry(ctx, func() error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		res, err := tx.ExecContext(ctx, `
			UPDATE crawl_jobs SET done = true WHERE crawl_id = $1 AND job_id = $2 AND done = false
		`, crawlID, jobID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// Already recorded (re-delivery) or never enqueued; a no-op keeps
			// completion idempotent under at-least-once delivery.
			return tx.Commit()
		}

		column := "completed_jobs"
		counter := "completed_urls"
		if !success {
			column = "failed_jobs"
			counter = "failed_urls"
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE crawls
			SET `+column+` = `+column+` || $1::jsonb,
			    `+counter+` = `+counter+` + 1
			WHERE id = $2
		`, jsonOf([]string{jobID}), crawlID); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE crawls
			SET status = $1, end_time = $2
			WHERE id = $3 AND total_urls > 0 AND completed_urls + failed_urls >= total_urls
			  AND status NOT IN ($4, $5)
		`, model.CrawlCompleted, time.Now().UTC(), crawlID, model.CrawlCompleted, model.CrawlCancelled); err != nil {
			return err
		}

		return tx.Commit()
	})
}

// GetDoneJobsOrderedLength returns the number of completed child jobs
// recorded for crawlID.
func (s *Store) GetDoneJobsOrderedLength(ctx context.Context, crawlID string) (int, error) {
	c, err := s.GetCrawl(ctx, crawlID)
	if err != nil {
		return 0, err
	}
	if c == nil {
		return 0, errs.NotFound("GetDoneJobsOrderedLength", crawlID)
	}
	return len(c.CompletedJobs), nil
}

// GetDoneJobsOrdered returns the [start,end) slice of completed job ids in
// insertion order. A negative end means "to the last element".
func (s *Store) GetDoneJobsOrdered(ctx context.Context, crawlID string, start, end int) ([]string, error) {
	c, err := s.GetCrawl(ctx, crawlID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errs.NotFound("GetDoneJobsOrdered", crawlID)
	}

	if end < 0 || end > len(c.CompletedJobs) {
		end = len(c.CompletedJobs)
	}
	if start < 0 {
		start = 0
	}
	if start >= end {
		return nil, nil
	}
	return c.CompletedJobs[start:end], nil
}

// IsCrawlFinished reports whether the crawl has reached its terminal
// condition (idempotent with FinishCrawl; does not mutate).
func (s *Store) IsCrawlFinished(ctx context.Context, crawlID string) (bool, error) {
	c, err := s.GetCrawl(ctx, crawlID)
	if err != nil {
		return false, err
	}
	if c == nil {
		return false, errs.NotFound("IsCrawlFinished", crawlID)
	}
	return c.Finished() || c.Status == model.CrawlCompleted, nil
}

// FinishCrawl sets status=completed and endTime=now if the crawl has met
// its completion condition and is not already terminal. Idempotent; the
// returned bool reports whether this call performed the transition, so a
// caller reporting completion metrics does so exactly once.
func (s *Store) FinishCrawl(ctx context.Context, crawlID string) (bool, error) {
	var transitioned bool
	err := s.WithRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE crawls
			SET status = $1, end_time = $2
			WHERE id = $3 AND total_urls > 0 AND completed_urls + failed_urls >= total_urls
			  AND status NOT IN ($1, $4)
		`, model.CrawlCompleted, time.Now().UTC(), crawlID, model.CrawlCancelled)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		transitioned = n > 0
		return nil
	})
	return transitioned, err
}

// CancelCrawl sets the advisory cancelled flag; already-enqueued children
// are allowed to complete.
func (s *Store) CancelCrawl(ctx context.Context, crawlID string) error {
	return s.WithRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE crawls SET cancelled = true WHERE id = $1`, crawlID)
		return err
	})
}
