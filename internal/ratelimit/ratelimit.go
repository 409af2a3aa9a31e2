// Package ratelimit implements the multi-tier token-bucket rate limiter
// keyed by (mode, plan, tenant), backed by fixed-window counters in Redis.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/errs"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/logger"
)

// Mode is the operation class a bucket is scoped to.
type Mode string

const (
	ModeCrawl       Mode = "crawl"
	ModeScrape      Mode = "scrape"
	ModeSearch      Mode = "search"
	ModeMap         Mode = "map"
	ModePreview     Mode = "preview"
	ModeAccount     Mode = "account"
	ModeCrawlStatus Mode = "crawlStatus"
	ModeTestSuite   Mode = "testSuite"
)

// window is the fixed-window duration every bucket counts over.
const window = 60 * time.Second

// Table is a two-dimensional points-per-minute configuration indexed by
// mode then plan-key (the plan string with any "-" stripped). Each row must
// carry at least a "default" entry.
type Table map[Mode]map[string]int

// DefaultTable returns the representative table from the component's
// documented configuration; deployments are expected to override it.
func DefaultTable() Table {
	return Table{
		ModeCrawl: {
			"free": 2, "starter": 10, "standard": 5, "scale": 50, "growth": 50, "default": 3,
		},
		ModeScrape: {
			"free": 10, "starter": 100, "standard": 100, "scale": 500, "growth": 1000, "default": 20,
		},
		ModeSearch: {
			"free": 5, "starter": 50, "standard": 50, "scale": 500, "growth": 500, "default": 20,
		},
		ModeMap: {
			"free": 10, "starter": 100, "standard": 100, "scale": 500, "growth": 1000, "default": 20,
		},
		ModePreview: {
			"free": 5, "starter": 20, "standard": 20, "scale": 100, "growth": 100, "default": 10,
		},
		ModeAccount: {
			"free": 20, "starter": 50, "standard": 50, "scale": 200, "growth": 200, "default": 20,
		},
		ModeCrawlStatus: {
			"free": 30, "starter": 150, "standard": 150, "scale": 600, "growth": 600, "default": 30,
		},
		ModeTestSuite: {
			"default": 1 << 20,
		},
	}
}

// Overrides carries the hot-path exceptions consulted before table lookup.
type Overrides struct {
	TestSuiteToken      string
	TestSuiteSubstrings []string
	DevTeamID           string
	DevPointsPerMin     int
	ManualTeams         map[string]bool
	ManualPointsPerMin  int
}

// DefaultOverrides returns conservative defaults for the dev and manual
// buckets; deployments supply real values via configuration.
func DefaultOverrides() Overrides {
	return Overrides{
		TestSuiteSubstrings: []string{"test-suite", "internal-test"},
		DevPointsPerMin:     1200,
		ManualTeams:         map[string]bool{},
		ManualPointsPerMin:  2000,
	}
}

// Limiter issues and consumes rate-limit buckets against a shared Redis
// store. It is fail-open: any transient store error allows the request
// rather than turning an infrastructure outage into a user-visible denial.
type Limiter struct {
	rdb       *redis.Client
	table     Table
	overrides Overrides
	log       logger.Logger
}

// New builds a Limiter over rdb using table and overrides.
func New(rdb *redis.Client, table Table, overrides Overrides, log logger.Logger) *Limiter {
	return &Limiter{rdb: rdb, table: table, overrides: overrides, log: log}
}

// planKey strips "-" from plan, the documented row-key derivation.
func planKey(plan string) string {
	return strings.ReplaceAll(plan, "-", "")
}

// bucketFor resolves (mode, token, plan, teamId) to a (key, limit) pair in
// the documented override order: test-suite token, dev team, manual team
// set, then table lookup with a fallback to the row's "default" entry.
func (l *Limiter) bucketFor(mode Mode, token, plan, teamID string) (key string, limit int) {
	for _, sub := range l.overrides.TestSuiteSubstrings {
		if sub != "" && strings.Contains(token, sub) {
			return fmt.Sprintf("ratelimit:testsuite:%s", mode), 1 << 30
		}
	}
	if l.overrides.TestSuiteToken != "" && token == l.overrides.TestSuiteToken {
		return fmt.Sprintf("ratelimit:testsuite:%s", mode), 1 << 30
	}
	if l.overrides.DevTeamID != "" && teamID == l.overrides.DevTeamID {
		return fmt.Sprintf("ratelimit:dev:%s", mode), l.overrides.DevPointsPerMin
	}
	if l.overrides.ManualTeams[teamID] {
		return fmt.Sprintf("ratelimit:manual:%s:%s", mode, teamID), l.overrides.ManualPointsPerMin
	}

	row := l.table[mode]
	pk := planKey(plan)
	points, ok := row[pk]
	if !ok {
		points = row["default"]
	}
	return fmt.Sprintf("ratelimit:%s:%s:%s", mode, pk, teamID), points
}

// Consume attempts to take points from the bucket identified by
// (mode, token, plan, teamId). It reports allowed=true and a nil error on
// both success and any transient store failure (fail-open).
func (l *Limiter) Consume(ctx context.Context, mode Mode, token, plan, teamID string, points int) (allowed bool, remaining int, err error) {
	key, limit := l.bucketFor(mode, token, plan, teamID)

	pipe := l.rdb.TxPipeline()
	incr := pipe.IncrBy(ctx, key, int64(points))
	pipe.Expire(ctx, key, window)
	_, pipeErr := pipe.Exec(ctx)
	if pipeErr != nil {
		if l.log != nil {
			l.log.Warn("rate limiter store unavailable, failing open", logger.String("key", key), logger.Error(pipeErr))
		}
		return true, limit, nil
	}

	count := int(incr.Val())
	if count > limit {
		return false, 0, nil
	}
	return true, limit - count, nil
}

// Block marks teamID as blocked for mode for the given duration, used to
// penalize callers after abuse is detected elsewhere. IsBlocked reports the
// mark; Consume does not consult it.
func (l *Limiter) Block(ctx context.Context, mode Mode, teamID string, seconds int) error {
	key := fmt.Sprintf("ratelimit:block:%s:%s", mode, teamID)
	if err := l.rdb.Set(ctx, key, "1", time.Duration(seconds)*time.Second).Err(); err != nil {
		return errs.New("Block", errs.KindStoreUnavailable, err)
	}
	return nil
}

// Penalty adds extra points to the current window's bucket, bringing a team
// closer to its limit without waiting for its own next request.
func (l *Limiter) Penalty(ctx context.Context, mode Mode, token, plan, teamID string, points int) error {
	key, _ := l.bucketFor(mode, token, plan, teamID)
	pipe := l.rdb.TxPipeline()
	pipe.IncrBy(ctx, key, int64(points))
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		if l.log != nil {
			l.log.Warn("rate limiter store unavailable, dropping penalty", logger.String("key", key), logger.Error(err))
		}
		return nil
	}
	return nil
}

// Reward subtracts points from the current window's bucket, floored at
// zero, used to give back capacity after a cheap or cached response.
func (l *Limiter) Reward(ctx context.Context, mode Mode, token, plan, teamID string, points int) error {
	key, _ := l.bucketFor(mode, token, plan, teamID)
	n, err := l.rdb.DecrBy(ctx, key, int64(points)).Result()
	if err != nil {
		if l.log != nil {
			l.log.Warn("rate limiter store unavailable, dropping reward", logger.String("key", key), logger.Error(err))
		}
		return nil
	}
	if n < 0 {
		l.rdb.Set(ctx, key, "0", window)
	}
	return nil
}

// IsBlocked reports whether teamID is currently blocked for mode.
func (l *Limiter) IsBlocked(ctx context.Context, mode Mode, teamID string) (bool, error) {
	key := fmt.Sprintf("ratelimit:block:%s:%s", mode, teamID)
	n, err := l.rdb.Exists(ctx, key).Result()
	if err != nil {
		// Fail-open: an unreachable store must not itself block traffic.
		return false, nil
	}
	return n > 0, nil
}
