package store

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/model"
)

// urlHash derives the deterministic, non-cryptographic lock key for a URL.
// Collisions are tolerated: a collision's failure mode is an extra lock
// miss, scoped to the lock's 24h TTL.
func urlHash(url string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(url))
	return fmt.Sprintf("urlhash_%x", h.Sum64())
}

// LockURL attempts to create a lock for url under crawlID. Returns true if
// the caller created the lock (and thus owns fan-out for this URL), false
// if a live lock already existed. Atomic against concurrent callers via a
// single INSERT ... ON CONFLICT DO UPDATE that only takes over a lock whose
// expiresAt has passed.
func (s *Store) LockURL(ctx context.Context, url, crawlID string) (bool, error) {
	now := time.Now().UTC()
	hash := urlHash(url)

	var n int64
	err := s.WithRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO url_locks (url_hash, url, crawl_id, created_at, expires_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (url_hash) DO UPDATE
			  SET crawl_id = EXCLUDED.crawl_id, created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at
			  WHERE url_locks.expires_at < $4
		`, hash, url, crawlID, now, now.Add(model.URLLockTTL))
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// LockURLs is the batch variant of LockURL. Returns true only if every URL
// was newly locked by this call.
func (s *Store) LockURLs(ctx context.Context, crawlID string, urls []string) (bool, error) {
	all := true
	for _, u := range urls {
		ok, err := s.LockURL(ctx, u, crawlID)
		if err != nil {
			return false, err
		}
		if !ok {
			all = false
		}
	}
	return all, nil
}
