package store

import (
	"context"
	"testing"
	"time"

	"database/sql"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/errs"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/logger"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/model"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sdb := sqlx.NewDb(db, "postgres")
	return NewWithDB(sdb, logger.NewNop()), mock
}

func TestCreateJob_SubstitutesSystemTeamID(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO jobs").
		WithArgs("job-1", "job-1", sqlmock.AnyArg(), sqlmock.AnyArg(), model.JobWaiting, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.CreateJob(ctx, "job-1", "job-1", model.JobPayload{URL: "https://example.com"}, model.JobOptions{JobID: "job-1"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateJob_ConflictOnDuplicateID(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO jobs").
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key"})

	err := s.CreateJob(ctx, "job-1", "job-1", model.JobPayload{}, model.JobOptions{JobID: "job-1"})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindConflict))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkJobStarted_TransitionsWaitingToActive(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT status FROM jobs").
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(string(model.JobWaiting)))
	mock.ExpectExec("UPDATE jobs SET status").
		WithArgs(model.JobActive, sqlmock.AnyArg(), "job-1", model.JobWaiting).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.MarkJobStarted(ctx, "job-1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkJobStarted_NotFoundWhenAbsent(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT status FROM jobs").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	err := s.MarkJobStarted(ctx, "missing")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindNotFound))
}

func TestMarkJobStarted_IllegalTransitionFromTerminal(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT status FROM jobs").
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(string(model.JobCompleted)))

	err := s.MarkJobStarted(ctx, "job-1")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindIllegalTransition))
}

func TestMarkJobCompleted_CreatesPlaceholderWhenJobAbsent(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT status FROM jobs").
		WithArgs("job-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO jobs").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE jobs SET status").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.MarkJobCompleted(ctx, "job-1", model.Result{Success: true})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkJobFailed_StoresErrorMessage(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT status FROM jobs").
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(string(model.JobActive)))
	mock.ExpectExec("UPDATE jobs SET status").
		WithArgs(model.JobFailed, "boom", sqlmock.AnyArg(), "job-1", model.JobCompleted, model.JobFailed).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.MarkJobFailed(ctx, "job-1", "boom")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTruncateResult_ShrinksOversizedContent(t *testing.T) {
	big := make([]byte, model.ResultBudgetBytes+2*1024)
	for i := range big {
		big[i] = 'a'
	}
	result := model.Result{Success: true, Docs: []model.Document{{URL: "https://example.com", Content: string(big)}}}

	truncated, didTruncate, originalSize := truncateResult(result)

	require.True(t, didTruncate)
	assert.True(t, truncated.Truncated)
	assert.GreaterOrEqual(t, originalSize, len(big))
	assert.True(t, truncated.Docs[0].ContentTruncated)
	assert.Greater(t, truncated.Docs[0].OriginalContentLen, 0)
}

func TestTruncateResult_LeavesSmallResultUntouched(t *testing.T) {
	result := model.Result{Success: true, Docs: []model.Document{{URL: "https://example.com", Content: "hello"}}}

	truncated, didTruncate, _ := truncateResult(result)

	assert.False(t, didTruncate)
	assert.Equal(t, result, truncated)
}

func TestGetJobState_ReturnsUnknownWhenAbsent(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT status FROM jobs").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	status, err := s.GetJobState(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, status)
}

func TestCleanBefore24hCompleteJobs_DeletesOldTerminalJobs(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("DELETE FROM jobs").
		WithArgs(model.JobCompleted, model.JobFailed, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.CleanBefore24hCompleteJobs(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
