package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/errs"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/model"
)

const systemTeamID = "system"

// CreateJob writes a new Job with status=waiting, progress=0. Fails with
// errs.KindConflict if a Job with jobID already exists.
func (s *Store) CreateJob(ctx context.Context, jobID, name string, payload model.JobPayload, opts model.JobOptions) error {
	if payload.TeamID == "" {
		payload.TeamID = systemTeamID
	}

	now := time.Now().UTC()
	progress := model.Progress{}

	err := s.WithRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO jobs (id, name, payload, options, status, progress, error, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, '', $7, $7)
		`, jobID, name, jsonOf(payload), jsonOf(opts), model.JobWaiting, jsonOf(progress), now)
		return err
	})
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return errs.Conflict("CreateJob", jobID)
		}
		return err
	}
	return nil
}

// MarkJobStarted transitions a Job waiting->active.
func (s *Store) MarkJobStarted(ctx context.Context, jobID string) error {
	status, err := s.GetJobState(ctx, jobID)
	if err != nil {
		return err
	}
	if status == "" {
		return errs.NotFound("MarkJobStarted", jobID)
	}
	if model.JobStatus(status).IsTerminal() {
		return errs.IllegalTransition("MarkJobStarted", status, string(model.JobActive))
	}

	err = s.WithRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE jobs SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4
		`, model.JobActive, time.Now().UTC(), jobID, model.JobWaiting)
		if err != nil {
			return err
		}
		return execExpectOneRow(res, "MarkJobStarted", jobID)
	})
	return err
}

// MarkJobCompleted transitions a Job to completed, truncating an oversized
// result so the stored document stays under model.ResultBudgetBytes. If the
// full (truncated) result still cannot be written, it falls back to a
// minimal result, then to a status-only update, so the terminal transition
// is never lost even when the result itself is unstorable.
func (s *Store) MarkJobCompleted(ctx context.Context, jobID string, result model.Result) error {
	if err := s.ensureJobExists(ctx, jobID); err != nil {
		return err
	}

	stored, _, _ := truncateResult(result)
	progress := model.Progress{Current: 100, Total: 100}
	now := time.Now().UTC()

	// A terminal status is immutable: the WHERE guard makes a second
	// moveToCompleted on an already-terminal job a silent no-op rather
	// than an error, per the worker-failover re-delivery contract.
	writeResult := func(r any) error {
		return s.WithRetry(ctx, func() error {
			_, err := s.db.ExecContext(ctx, `
				UPDATE jobs SET status = $1, progress = $2, result = $3, updated_at = $4
				WHERE id = $5 AND status NOT IN ($6, $7)
			`, model.JobCompleted, jsonOf(progress), jsonOf(r), now, jobID, model.JobCompleted, model.JobFailed)
			return err
		})
	}

	if err := writeResult(stored); err == nil {
		return nil
	}

	minimal := model.Result{Success: stored.Success, Message: "result unavailable: write failed"}
	if err := writeResult(minimal); err == nil {
		return nil
	}

	return s.WithRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE jobs SET status = $1, progress = $2, updated_at = $3
			WHERE id = $4 AND status NOT IN ($1, $5)
		`, model.JobCompleted, jsonOf(progress), now, jobID, model.JobFailed)
		return err
	})
}

// MarkJobFailed transitions a Job to failed with the given error message.
func (s *Store) MarkJobFailed(ctx context.Context, jobID, errMsg string) error {
	if err := s.ensureJobExists(ctx, jobID); err != nil {
		return err
	}

	return s.WithRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE jobs SET status = $1, error = $2, updated_at = $3
			WHERE id = $4 AND status NOT IN ($5, $6)
		`, model.JobFailed, errMsg, time.Now().UTC(), jobID, model.JobCompleted, model.JobFailed)
		return err
	})
}

// ensureJobExists creates a minimal placeholder Job if jobID is absent, so
// a terminal transition is never lost even when creation was skipped or
// lost upstream.
func (s *Store) ensureJobExists(ctx context.Context, jobID string) error {
	status, err := s.GetJobState(ctx, jobID)
	if err != nil {
		return err
	}
	if status != "" {
		return nil
	}

	return s.CreateJob(ctx, jobID, jobID, model.JobPayload{TeamID: systemTeamID}, model.JobOptions{JobID: jobID})
}

// truncateResult shrinks result's documents until the serialized Result
// fits under model.ResultBudgetBytes, marking truncation metadata per
// document and on the overall result.
func truncateResult(result model.Result) (model.Result, bool, int) {
	raw, err := json.Marshal(result)
	if err != nil || len(raw) <= model.ResultBudgetBytes {
		return result, false, len(raw)
	}
	originalSize := len(raw)

	truncated := result
	truncated.Truncated = true
	truncated.OriginalSize = originalSize
	docs := make([]model.Document, len(result.Docs))
	copy(docs, result.Docs)
	truncated.Docs = docs

	for len(docs) > 0 {
		raw, err = json.Marshal(truncated)
		if err == nil && len(raw) <= model.ResultBudgetBytes {
			break
		}
		shrunk := false
		for i := range docs {
			if len(docs[i].Content) == 0 {
				continue
			}
			excess := len(raw) - model.ResultBudgetBytes
			cut := len(docs[i].Content) / 2
			if cut > excess {
				cut = len(docs[i].Content) - excess - len(model.TruncationMarker)
			}
			if cut < 0 {
				cut = 0
			}
			if cut < len(docs[i].Content) {
				docs[i].OriginalContentLen = len(docs[i].Content)
				docs[i].Content = docs[i].Content[:cut] + model.TruncationMarker
				docs[i].ContentTruncated = true
				shrunk = true
			}
		}
		truncated.Docs = docs
		if !shrunk {
			break
		}
	}

	return truncated, true, originalSize
}

// UpdateJobProgress records progress without changing status.
func (s *Store) UpdateJobProgress(ctx context.Context, jobID string, progress model.Progress) error {
	return s.WithRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE jobs SET progress = $1, updated_at = $2 WHERE id = $3
		`, jsonOf(progress), time.Now().UTC(), jobID)
		return err
	})
}

// GetJobState returns the job's status, or "" if the job is absent.
func (s *Store) GetJobState(ctx context.Context, jobID string) (string, error) {
	var status string
	err := s.db.GetContext(ctx, &status, `SELECT status FROM jobs WHERE id = $1`, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", errs.New("GetJobState", errs.KindStoreUnavailable, err)
	}
	return status, nil
}

// GetJobResult returns the job's stored result, or nil if absent.
func (s *Store) GetJobResult(ctx context.Context, jobID string) (*model.Result, error) {
	var raw []byte
	err := s.db.GetContext(ctx, &raw, `SELECT result FROM jobs WHERE id = $1`, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.New("GetJobResult", errs.KindStoreUnavailable, err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var result model.Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode job result: %w", err)
	}
	return &result, nil
}

// GetJobError returns the job's stored error message.
func (s *Store) GetJobError(ctx context.Context, jobID string) (string, error) {
	var errMsg string
	err := s.db.GetContext(ctx, &errMsg, `SELECT error FROM jobs WHERE id = $1`, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", errs.New("GetJobError", errs.KindStoreUnavailable, err)
	}
	return errMsg, nil
}

// GetJobData returns the job's payload, or nil if absent.
func (s *Store) GetJobData(ctx context.Context, jobID string) (*model.JobPayload, error) {
	var raw []byte
	err := s.db.GetContext(ctx, &raw, `SELECT payload FROM jobs WHERE id = $1`, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.New("GetJobData", errs.KindStoreUnavailable, err)
	}
	var payload model.JobPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode job payload: %w", err)
	}
	return &payload, nil
}

// RemoveJob deletes the Job record. Missing ids are a no-op.
func (s *Store) RemoveJob(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, jobID)
	if err != nil {
		return errs.New("RemoveJob", errs.KindStoreUnavailable, err)
	}
	return nil
}

// CleanBefore24hCompleteJobs deletes completed/failed jobs older than the
// given cutoff, the sweep the worker's cron schedule drives periodically.
func (s *Store) CleanBefore24hCompleteJobs(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM jobs WHERE status IN ($1, $2) AND updated_at < $3
	`, model.JobCompleted, model.JobFailed, cutoff)
	if err != nil {
		return 0, errs.New("CleanBefore24hCompleteJobs", errs.KindStoreUnavailable, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// execExpectOneRow translates a zero-rows-affected UPDATE into NotFound,
// distinguishing "row absent" from "row present but condition unmet".
func execExpectOneRow(res sql.Result, op, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errs.New(op, errs.KindStoreUnavailable, err)
	}
	if n == 0 {
		return errs.NotFound(op, id)
	}
	return nil
}
