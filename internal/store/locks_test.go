package store

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockURL_ReturnsTrueWhenNewlyCreated(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO url_locks").
		WithArgs(sqlmock.AnyArg(), "https://example.com/page", "crawl-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := s.LockURL(ctx, "https://example.com/page", "crawl-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockURL_ReturnsFalseWhenAlreadyLocked(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO url_locks").
		WithArgs(sqlmock.AnyArg(), "https://example.com/page", "crawl-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := s.LockURL(ctx, "https://example.com/page", "crawl-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLockURLs_FalseIfAnySingleURLFailsToLock(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO url_locks").
		WithArgs(sqlmock.AnyArg(), "https://a.example/1", "crawl-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO url_locks").
		WithArgs(sqlmock.AnyArg(), "https://a.example/2", "crawl-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := s.LockURLs(ctx, "crawl-1", []string{"https://a.example/1", "https://a.example/2"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUrlHash_IsDeterministic(t *testing.T) {
	a := urlHash("https://example.com/page")
	b := urlHash("https://example.com/page")
	c := urlHash("https://example.com/other")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
