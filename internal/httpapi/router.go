// Package httpapi wires the worker process's inbound HTTP surface: task
// delivery for the dispatcher queue provider, health, metrics, and the
// admin endpoints the external CLI/admin surface drives.
package httpapi

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/infra/health"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/infra/tracing"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/logger"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/model"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/queue"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/ratelimit"
)

// JobHandler is the subset of the Worker the router dispatches HTTP-delivered
// tasks to.
type JobHandler interface {
	HandleDeliveredJob(ctx context.Context, job *queue.Job) model.Result
}

// QueueDepth is the subset of the queue Provider the admin surface reads
// counts from.
type QueueDepth interface {
	GetActiveCount(ctx context.Context) (int, error)
	GetWaitingCount(ctx context.Context) (int, error)
}

// Sweep is the subset of the cleanup sweep the admin surface can trigger
// on demand, outside of its cron schedule.
type Sweep interface {
	CleanBefore24hCompleteJobs(ctx context.Context, olderThan time.Duration) (int64, error)
}

// RateLimiter is the subset of the rate limiter the admin surface exposes
// to the external API tier, which owns the per-request mode/plan/tenant
// decision and calls this endpoint ahead of enqueue.
type RateLimiter interface {
	Consume(ctx context.Context, mode ratelimit.Mode, token, plan, teamID string, points int) (allowed bool, remaining int, err error)
}

// Recorder is the subset of the metrics registry the admin surface reports
// queue depth and rate-limit denials through.
type Recorder interface {
	RecordQueueDepth(active, waiting int)
	RecordRateLimitDenied(mode string)
}

// Deps bundles the router's collaborators. Checker, Worker, Queue,
// Sweeper, Limiter, Metrics, and Tracer may be nil to disable the routes/
// instrumentation that need them.
type Deps struct {
	Checker *health.Checker
	Worker  JobHandler
	Queue   QueueDepth
	Sweeper Sweep
	Limiter RateLimiter
	Metrics Recorder
	Tracer  *tracing.Tracer
	Log     logger.Logger
}

// New builds the gin.Engine exposing /tasks/process, /health*, /metrics,
// and the /admin/* endpoints.
func New(deps Deps) *gin.Engine {
	router := gin.New()
	router.Use(ginLogger(deps.Log))
	router.Use(gin.Recovery())

	checker := deps.Checker
	if checker == nil {
		checker = health.NewChecker()
	}
	health.RegisterRoutes(router, checker)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if deps.Worker != nil {
		h := &taskHandler{worker: deps.Worker, tracer: deps.Tracer, log: deps.Log}
		router.POST("/tasks/process", h.handle)
	}

	admin := router.Group("/admin")
	a := &adminHandler{queue: deps.Queue, sweep: deps.Sweeper, limiter: deps.Limiter, metrics: deps.Metrics, log: deps.Log, validate: validator.New()}
	admin.GET("/queues", a.queuesController)
	admin.POST("/clean", a.cleanBefore24hCompleteJobs)
	admin.POST("/ratelimit/consume", a.consumeRateLimit)

	return router
}

func ginLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		if log == nil {
			return
		}
		log.Info("HTTP request",
			logger.String("method", method),
			logger.String("path", path),
			logger.Int("status_code", c.Writer.Status()),
			logger.Duration("duration", time.Since(start)),
		)
	}
}
