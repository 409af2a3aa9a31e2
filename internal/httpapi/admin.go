package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/logger"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/ratelimit"
)

// adminHandler backs the CLI/admin surface's counts and triggers: the core
// exposes the data those external tools need, but does not implement the
// tools themselves.
type adminHandler struct {
	queue    QueueDepth
	sweep    Sweep
	limiter  RateLimiter
	metrics  Recorder
	log      logger.Logger
	validate *validator.Validate
}

// queuesController reports 503 if the queue has any active job and 200
// otherwise, for health-gating an external load balancer or alerting rule.
func (a *adminHandler) queuesController(c *gin.Context) {
	if a.queue == nil {
		c.JSON(http.StatusOK, gin.H{"active": 0, "waiting": 0})
		return
	}

	active, err := a.queue.GetActiveCount(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	waiting, err := a.queue.GetWaitingCount(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if a.metrics != nil {
		a.metrics.RecordQueueDepth(active, waiting)
	}

	status := http.StatusOK
	if active != 0 {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"active": active, "waiting": waiting})
}

// cleanRequest is the optional body for a manual cleanup trigger.
type cleanRequest struct {
	// OlderThanMinutes overrides the configured retention window for this
	// call only.
	OlderThanMinutes int `json:"olderThanMinutes" validate:"omitempty,min=1,max=43200"`
}

// cleanBefore24hCompleteJobs triggers the terminal-job cleanup sweep
// on demand, outside of its cron schedule.
func (a *adminHandler) cleanBefore24hCompleteJobs(c *gin.Context) {
	if a.sweep == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "cleanup sweep not configured"})
		return
	}

	var req cleanRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
			return
		}
		if err := a.validate.Struct(req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "details": err.Error()})
			return
		}
	}

	olderThan := 24 * time.Hour
	if req.OlderThanMinutes > 0 {
		olderThan = time.Duration(req.OlderThanMinutes) * time.Minute
	}

	n, err := a.sweep.CleanBefore24hCompleteJobs(c.Request.Context(), olderThan)
	if err != nil {
		if a.log != nil {
			a.log.Error("manual cleanup sweep failed", logger.Error(err))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"removed": n})
}

// consumeRequest is the body for a rate-limit check, called by the
// external API tier ahead of enqueue.
type consumeRequest struct {
	Mode   string `json:"mode" validate:"required"`
	Token  string `json:"token"`
	Plan   string `json:"plan"`
	TeamID string `json:"teamId"`
	Points int    `json:"points" validate:"omitempty,min=1"`
}

// consumeRateLimit checks and debits one (mode, plan, tenant) bucket.
func (a *adminHandler) consumeRateLimit(c *gin.Context) {
	if a.limiter == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "rate limiter not configured"})
		return
	}

	var req consumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	if err := a.validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "details": err.Error()})
		return
	}

	points := req.Points
	if points == 0 {
		points = 1
	}

	allowed, remaining, err := a.limiter.Consume(c.Request.Context(), ratelimit.Mode(req.Mode), req.Token, req.Plan, req.TeamID, points)
	if err != nil {
		if a.log != nil {
			a.log.Error("rate limit consume failed", logger.Error(err))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	status := http.StatusOK
	if !allowed {
		status = http.StatusTooManyRequests
		if a.metrics != nil {
			a.metrics.RecordRateLimitDenied(req.Mode)
		}
	}
	c.JSON(status, gin.H{"allowed": allowed, "remaining": remaining})
}
