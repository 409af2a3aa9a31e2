// Package server wires the crawl orchestrator's collaborators together and
// runs the worker process: state store, queue provider, rate limiter,
// crawl coordinator, scrape orchestrator, worker loop, and the HTTP surface
// that fronts them.
package server

import (
	"context"
	"fmt"

	cloudtasks "cloud.google.com/go/cloudtasks/apiv2"

	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/config"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/crawl"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/httpapi"
	infraconfig "github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/infra/config"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/infra/health"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/infra/metrics"
	infraredis "github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/infra/redis"
	infraserver "github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/infra/server"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/infra/sweep"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/infra/tracing"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/logger"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/priority"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/queue"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/queue/broker"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/queue/dispatcher"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/ratelimit"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/scrape"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/store"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/worker"

	"github.com/redis/go-redis/v9"
)

// defaultConfigPath is the default location Run looks for the service's
// YAML configuration; override by setting the CONFIG_PATH environment
// variable, which infraconfig.GetConfigPath checks first.
const defaultConfigPath = "config.yaml"

// Run loads configuration, constructs every collaborator, starts the
// worker loop and the HTTP server, and blocks until the server returns
// (on a shutdown signal or a fatal error).
func Run(ctx context.Context) error {
	path := infraconfig.GetConfigPath(defaultConfigPath)
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.NewFromLoggingConfig(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	st, err := store.Open(cfg.Database, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.Migrate(); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	checker := health.NewChecker()
	checker.RegisterFunc("postgres", st.Ping)

	var rdb *redis.Client
	var provider queue.Provider

	switch cfg.Worker.QueueProvider {
	case "dispatcher":
		tasksClient, err := cloudtasks.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("build cloud tasks client: %w", err)
		}
		defer tasksClient.Close()
		provider = dispatcher.New(tasksClient, cfg.CloudTasks, log)

	default:
		rdb, err = infraredis.NewClient(infraredis.Config{
			Address:  cfg.Redis.URL,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()
		checker.RegisterFunc("redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
		provider = broker.New(rdb, log)
	}

	tracer := tracing.New()
	metricsRecorder := metrics.New(nil)

	var limiter *ratelimit.Limiter
	if rdb != nil {
		overrides := ratelimit.DefaultOverrides()
		overrides.TestSuiteToken = cfg.RateLimit.TestSuiteToken
		overrides.ManualTeams = make(map[string]bool, len(cfg.RateLimit.ManualTeams))
		for _, teamID := range cfg.RateLimit.ManualTeams {
			overrides.ManualTeams[teamID] = true
		}
		limiter = ratelimit.New(rdb, ratelimit.DefaultTable(), overrides, log)
	}

	coordinator := crawl.New(st, log)
	orchestrator := scrape.New(cfg.Browser, log)

	priorityFor := func(teamID, plan string) int {
		return priority.GetJobPriority(ctx, st, priority.Input{Plan: plan, TeamID: teamID})
	}

	w := worker.New(cfg.Worker, worker.Deps{
		Provider:    provider,
		Store:       st,
		Scraper:     orchestrator,
		Crawl:       coordinator,
		Log:         log,
		Extractor:   crawl.ExtractLinks,
		PriorityFor: priorityFor,
		Tracer:      tracer,
		Metrics:     metricsRecorder,
	})
	w.Start(ctx)
	defer func() {
		// Drain in-flight handlers, giving up after the same grace period
		// the HTTP server gets for its own shutdown.
		drainCtx, cancel := context.WithTimeout(context.Background(), infraserver.DefaultShutdownTimeout)
		defer cancel()
		done := make(chan struct{})
		go func() {
			w.Stop()
			close(done)
		}()
		select {
		case <-done:
		case <-drainCtx.Done():
			log.Warn("worker drain timed out; exiting with handlers still in flight")
		}
	}()

	sweeper, err := sweep.New(cfg.Sweep.Schedule, cfg.Sweep.OlderThan, st, log)
	if err != nil {
		return fmt.Errorf("build sweep: %w", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	deps := httpapi.Deps{
		Checker: checker,
		Worker:  w,
		Queue:   provider,
		Sweeper: st,
		Metrics: metricsRecorder,
		Tracer:  tracer,
		Log:     log,
	}
	if limiter != nil {
		deps.Limiter = limiter
	}
	router := httpapi.New(deps)

	srv := infraserver.New(infraserver.Config{Address: cfg.Server.Address()}, router)
	return infraserver.RunWithGracefulShutdown(ctx, srv, log)
}
