package store

import (
	"context"
	"time"

	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/errs"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/model"
)

// AddTeamJob creates a team-job record when jobID enters active, used only
// for priority computation.
func (s *Store) AddTeamJob(ctx context.Context, teamID, jobID string) error {
	now := time.Now().UTC()
	return s.WithRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO team_jobs (team_id, job_id, created_at, expires_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (team_id, job_id) DO UPDATE SET expires_at = EXCLUDED.expires_at
		`, teamID, jobID, now, now.Add(model.TeamJobTTL))
		return err
	})
}

// RemoveTeamJob deletes the team-job record when jobID leaves active.
func (s *Store) RemoveTeamJob(ctx context.Context, teamID, jobID string) error {
	return s.WithRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			DELETE FROM team_jobs WHERE team_id = $1 AND job_id = $2
		`, teamID, jobID)
		return err
	})
}

// GetTeamJobCount counts only records whose expiresAt is still in the
// future; expired entries are treated as absent without a separate sweep.
func (s *Store) GetTeamJobCount(ctx context.Context, teamID string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT count(*) FROM team_jobs WHERE team_id = $1 AND expires_at > $2
	`, teamID, time.Now().UTC())
	if err != nil {
		return 0, errs.New("GetTeamJobCount", errs.KindStoreUnavailable, err)
	}
	return count, nil
}
