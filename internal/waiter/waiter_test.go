package waiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/errs"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/model"
)

type fakeReader struct {
	statuses []string
	result   *model.Result
	errMsg   string
	err      error
	calls    int
}

func (f *fakeReader) GetJobState(_ context.Context, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	idx := f.calls
	if idx >= len(f.statuses) {
		idx = len(f.statuses) - 1
	}
	f.calls++
	return f.statuses[idx], nil
}

func (f *fakeReader) GetJobResult(_ context.Context, _ string) (*model.Result, error) {
	return f.result, nil
}

func (f *fakeReader) GetJobError(_ context.Context, _ string) (string, error) {
	return f.errMsg, nil
}

func testConfig() Config {
	return Config{PollInterval: time.Millisecond, PerCallTimeout: time.Second, MaxConsecutiveTimeouts: 3}
}

func TestWait_ReturnsSuccessOnCompleted(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{
		statuses: []string{"waiting", "active", string(model.JobCompleted)},
		result:   &model.Result{Success: true, Message: "done"},
	}
	w := New(reader, testConfig())

	out, err := w.Wait(context.Background(), "job-1")
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, "done", out.Result.Message)
}

func TestWait_ReturnsFailureOnFailed(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{
		statuses: []string{string(model.JobFailed)},
		errMsg:   "boom",
	}
	w := New(reader, testConfig())

	out, err := w.Wait(context.Background(), "job-1")
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, "boom", out.Error)
}

func TestWait_ContextDeadline_ReturnsTimeout(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{statuses: []string{"active"}}
	w := New(reader, testConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := w.Wait(ctx, "job-1")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindTimeout))
}

func TestWait_ConsecutiveStoreErrors_Propagate(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{err: errors.New("store down")}
	w := New(reader, testConfig())

	_, err := w.Wait(context.Background(), "job-1")
	require.Error(t, err)
	assert.Equal(t, "store down", err.Error())
}
