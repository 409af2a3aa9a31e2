// Package model defines the durable record types held by the state store:
// jobs, crawls, URL locks, and team-job records.
package model

import "time"

// JobStatus is the status of a single scrape attempt. Transitions follow
// Waiting -> Active -> {Completed | Failed} and never move out of a
// terminal state.
type JobStatus string

const (
	JobWaiting   JobStatus = "waiting"
	JobActive    JobStatus = "active"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// IsTerminal reports whether s is Completed or Failed.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// JobMode selects how a job's URL payload is interpreted.
type JobMode string

const (
	ModeSingleURLs JobMode = "single_urls"
	ModeCrawl      JobMode = "crawl"
)

// WebhookConfig carries optional webhook delivery settings for a job.
type WebhookConfig struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

// JobPayload is the immutable input to a scrape attempt.
type JobPayload struct {
	URL         string                 `json:"url"`
	Mode        JobMode                `json:"mode"`
	TeamID      string                 `json:"teamId"`
	PageOptions map[string]any         `json:"pageOptions,omitempty"`
	CrawlID     string                 `json:"crawlId,omitempty"`
	Webhook     *WebhookConfig         `json:"webhook,omitempty"`
	Extra       map[string]any         `json:"extra,omitempty"`
}

// BackoffConfig configures the queue's retry delay schedule for a job.
type BackoffConfig struct {
	Type  string `json:"type,omitempty"` // "fixed" | "exponential"
	Delay int    `json:"delay,omitempty"`
}

// JobOptions carries queue-facing tuning that is not part of the payload.
type JobOptions struct {
	Priority int           `json:"priority"`
	Attempts int           `json:"attempts,omitempty"`
	Backoff  BackoffConfig `json:"backoff,omitempty"`
	JobID    string        `json:"jobId"`
}

// Progress is a free-form step descriptor; Current/Total follow a percentage
// reading of 0-100 when Step is empty.
type Progress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Step    string `json:"step,omitempty"`
	URL     string `json:"url,omitempty"`
}

// Document is one scraped page's normalized content. Content/RawHTML/Markdown
// are omitted from JSON when empty so stripped-down documents stay small.
type Document struct {
	URL                string         `json:"url"`
	Title              string         `json:"title,omitempty"`
	Content            string         `json:"content,omitempty"`
	RawHTML            string         `json:"rawHtml,omitempty"`
	Markdown           string         `json:"markdown,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	ContentTruncated   bool           `json:"contentTruncated,omitempty"`
	OriginalContentLen int            `json:"originalContentLength,omitempty"`
}

// Result is the tagged, fixed-shape outcome of a scrape pipeline run.
type Result struct {
	Success      bool       `json:"success"`
	Message      string     `json:"message,omitempty"`
	Docs         []Document `json:"docs,omitempty"`
	Truncated    bool       `json:"truncated,omitempty"`
	OriginalSize int        `json:"originalSize,omitempty"`
}

// Job is a single scrape attempt, the core unit of work the queue and
// worker loop operate on.
type Job struct {
	ID        string         `json:"id" db:"id"`
	Name      string         `json:"name" db:"name"`
	Payload   JobPayload     `json:"payload" db:"payload"`
	Options   JobOptions     `json:"options" db:"options"`
	Status    JobStatus      `json:"status" db:"status"`
	Progress  Progress       `json:"progress" db:"progress"`
	Result    *Result        `json:"result,omitempty" db:"result"`
	Error     string         `json:"error,omitempty" db:"error"`
	CreatedAt time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time      `json:"updatedAt" db:"updated_at"`
}

// CrawlStatus is the lifecycle state of a Crawl.
type CrawlStatus string

const (
	CrawlCreated   CrawlStatus = "created"
	CrawlPending   CrawlStatus = "pending"
	CrawlScraping  CrawlStatus = "scraping"
	CrawlCompleted CrawlStatus = "completed"
	CrawlFailed    CrawlStatus = "failed"
	CrawlCancelled CrawlStatus = "cancelled"
)

// Crawl is the root record of a multi-job crawl.
type Crawl struct {
	ID              string         `json:"id" db:"id"`
	OriginURL       string         `json:"originUrl" db:"origin_url"`
	CrawlerOptions  map[string]any `json:"crawlerOptions,omitempty" db:"crawler_options"`
	PageOptions     map[string]any `json:"pageOptions,omitempty" db:"page_options"`
	TeamID          string         `json:"teamId" db:"team_id"`
	Plan            string         `json:"plan" db:"plan"`
	RobotsTxt       string         `json:"robotsTxt,omitempty" db:"robots_txt"`
	Cancelled       bool           `json:"cancelled" db:"cancelled"`
	Status          CrawlStatus    `json:"status" db:"status"`
	TotalURLs       int            `json:"totalUrls" db:"total_urls"`
	CompletedURLs   int            `json:"completedUrls" db:"completed_urls"`
	FailedURLs      int            `json:"failedUrls" db:"failed_urls"`
	URLs            []string       `json:"urls,omitempty" db:"urls"`
	CompletedJobs   []string       `json:"completedJobs,omitempty" db:"completed_jobs"`
	FailedJobs      []string       `json:"failedJobs,omitempty" db:"failed_jobs"`
	StartTime       *time.Time     `json:"startTime,omitempty" db:"start_time"`
	EndTime         *time.Time     `json:"endTime,omitempty" db:"end_time"`
	CreatedAt       time.Time      `json:"createdAt" db:"created_at"`
	ExpiresAt       time.Time      `json:"expiresAt" db:"expires_at"`
}

// Finished reports whether the crawl has reached its terminal condition:
// totalUrls > 0 and completed+failed has caught up to it.
func (c *Crawl) Finished() bool {
	return c.TotalURLs > 0 && c.CompletedURLs+c.FailedURLs >= c.TotalURLs
}

// URLLock records at-most-once fan-out of a URL within a crawl.
type URLLock struct {
	URLHash   string    `json:"urlHash" db:"url_hash"`
	URL       string    `json:"url" db:"url"`
	CrawlID   string    `json:"crawlId" db:"crawl_id"`
	CreatedAt time.Time `json:"timestamp" db:"created_at"`
	ExpiresAt time.Time `json:"expiresAt" db:"expires_at"`
}

// TeamJobRecord tracks one currently-active job for a tenant, used only to
// derive job priority from concurrent load.
type TeamJobRecord struct {
	TeamID    string    `json:"teamId" db:"team_id"`
	JobID     string    `json:"jobId" db:"job_id"`
	CreatedAt time.Time `json:"timestamp" db:"created_at"`
	ExpiresAt time.Time `json:"expiresAt" db:"expires_at"`
}

// TeamJobTTL is the lifetime of a TeamJobRecord past which readers must
// treat it as absent even if not yet swept.
const TeamJobTTL = 10 * time.Minute

// URLLockTTL is the lifetime of a URLLock.
const URLLockTTL = 24 * time.Hour

// CrawlTTL is the lifetime of a Crawl record from creation.
const CrawlTTL = 24 * time.Hour

// ResultBudgetBytes is the per-document serialized-size budget enforced by
// the state store's markJobCompleted path (≈990 KiB, leaving headroom under
// a 1 MiB hard document-size ceiling).
const ResultBudgetBytes = 990 * 1024

// TruncationMarker is appended to a document's content when it is cut down
// to fit ResultBudgetBytes.
const TruncationMarker = "... [truncated]"
