// Package worker implements the Worker Loop: drains the queue respecting
// local resource pressure, executes one scrape per job, extends the job
// lease while work is in flight, and reliably moves jobs to a terminal
// state.
package worker

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/crawl"
	infraconfig "github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/infra/config"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/logger"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/model"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/queue"
	"github.com/jonesrussell/north-cloud/crawl-orchestrator/internal/scrape"
)

// maxEmptyPolls is how many consecutive empty polls pass between doublings
// of the empty-poll backoff, which tops out at emptyPollCap.
const maxEmptyPolls = 6

const emptyPollBase = 250 * time.Millisecond
const emptyPollCap = 30 * time.Second

// JobStore is the subset of the state store the worker loop mutates
// directly (crawl bookkeeping goes through Coordinator instead).
type JobStore interface {
	MarkJobStarted(ctx context.Context, jobID string) error
	MarkJobCompleted(ctx context.Context, jobID string, result model.Result) error
	MarkJobFailed(ctx context.Context, jobID, errMsg string) error
	UpdateJobProgress(ctx context.Context, jobID string, progress model.Progress) error
	AddTeamJob(ctx context.Context, teamID, jobID string) error
	RemoveTeamJob(ctx context.Context, teamID, jobID string) error
}

// Scraper is the subset of the Scrape Orchestrator the worker invokes.
type Scraper interface {
	RunWebScraper(ctx context.Context, req scrape.Request) model.Result
}

// Enqueuer is the subset of the queue provider the crawl coordinator needs
// to fan newly discovered links back into the pipeline.
type Enqueuer interface {
	AddJob(ctx context.Context, name string, data model.JobPayload, opts crawl.EnqueueOptions) (string, error)
}

// MetricsRecorder is the subset of the metrics registry the worker reports
// job outcomes to. A nil recorder disables reporting.
type MetricsRecorder interface {
	RecordJob(status string, durationSeconds float64)
	RecordCrawlCompleted(allSucceeded bool)
}

// JobTracer starts a trace span around one job's execution. A nil tracer
// disables tracing.
type JobTracer interface {
	JobSpan(ctx context.Context, jobID, mode, url string) (context.Context, trace.Span)
}

// Worker drains a queue.Provider, executing jobs via a Scraper and
// reporting crawl fan-out through a crawl.Coordinator.
type Worker struct {
	cfg         infraconfig.WorkerConfig
	provider    queue.Provider
	enqueuer    Enqueuer
	store       JobStore
	scraper     Scraper
	crawl       *crawl.Coordinator
	log         logger.Logger
	resources   *ResourceSampler
	extractor   crawl.LinkExtractor
	priorityFor func(teamID, plan string) int
	metrics     MetricsRecorder
	tracer      JobTracer

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// Deps bundles the Worker's collaborators.
type Deps struct {
	Provider    queue.Provider
	Store       JobStore
	Scraper     Scraper
	Crawl       *crawl.Coordinator
	Log         logger.Logger
	Extractor   crawl.LinkExtractor
	PriorityFor func(teamID, plan string) int
	Metrics     MetricsRecorder
	Tracer      JobTracer
}

// providerEnqueuer adapts a queue.Provider to crawl.Enqueuer, translating
// the coordinator's narrow EnqueueOptions into the provider's AddOptions.
type providerEnqueuer struct {
	provider queue.Provider
}

func (p providerEnqueuer) AddJob(ctx context.Context, name string, data model.JobPayload, opts crawl.EnqueueOptions) (string, error) {
	return p.provider.AddJob(ctx, name, data, queue.AddOptions{JobID: opts.JobID, Priority: opts.Priority})
}

// New builds a Worker from cfg and deps.
func New(cfg infraconfig.WorkerConfig, deps Deps) *Worker {
	return &Worker{
		cfg:         cfg,
		provider:    deps.Provider,
		enqueuer:    providerEnqueuer{provider: deps.Provider},
		store:       deps.Store,
		scraper:     deps.Scraper,
		crawl:       deps.Crawl,
		log:         deps.Log,
		resources:   NewResourceSampler(),
		extractor:   deps.Extractor,
		priorityFor: deps.PriorityFor,
		metrics:     deps.Metrics,
		tracer:      deps.Tracer,
	}
}

// Start launches cfg.Concurrency independent outer-loop goroutines. It is a
// no-op if already running.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.stopChan = make(chan struct{})

	n := w.cfg.Concurrency
	if n < 1 {
		n = 1
	}
	for i := 0; i < n; i++ {
		w.wg.Add(1)
		go w.outerLoop(ctx)
	}
}

// Stop signals every outer loop to exit and waits for in-flight inner
// handlers to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopChan)
	w.mu.Unlock()

	w.wg.Wait()
}

// IsRunning reports whether the worker's outer loops are active.
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Worker) outerLoop(ctx context.Context) {
	defer w.wg.Done()

	emptyPolls := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		default:
		}

		cpuFrac, ramFrac, err := w.resources.Sample()
		if err == nil && (cpuFrac >= w.cfg.MaxCPUFraction || ramFrac >= w.cfg.MaxRAMFraction) {
			if w.log != nil {
				w.log.Debug("worker backpressure: resource ceiling exceeded",
					logger.Float64("cpu", cpuFrac), logger.Float64("ram", ramFrac))
			}
			if w.sleepOrStop(ctx, w.cfg.CantAcceptConnectionInterval) {
				return
			}
			continue
		}

		job, token, ok, err := w.provider.GetNextJob(ctx)
		if err != nil {
			if w.log != nil {
				w.log.Warn("get next job failed", logger.Error(err))
			}
			if w.sleepOrStop(ctx, w.cfg.CantAcceptConnectionInterval) {
				return
			}
			continue
		}

		if !ok {
			emptyPolls++
			backoff := emptyPollBackoff(emptyPolls)
			if w.sleepOrStop(ctx, backoff) {
				return
			}
			continue
		}

		emptyPolls = 0
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.processJobInternal(ctx, token, job)
		}()

		if w.sleepOrStop(ctx, w.cfg.GotJobInterval) {
			return
		}
	}
}

// emptyPollBackoff implements min(base * 2^(floor(count/maxEmptyPolls)), cap).
func emptyPollBackoff(count int) time.Duration {
	exp := math.Floor(float64(count) / float64(maxEmptyPolls))
	d := float64(emptyPollBase) * math.Pow(2, exp)
	if d > float64(emptyPollCap) {
		return emptyPollCap
	}
	return time.Duration(d)
}

func (w *Worker) sleepOrStop(ctx context.Context, d time.Duration) (stopped bool) {
	if d <= 0 {
		return false
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-w.stopChan:
		return true
	case <-timer.C:
		return false
	}
}

// blockedHost reports whether url's host matches any of cfg.BlockedHosts.
func (w *Worker) blockedHost(url string) bool {
	for _, host := range w.cfg.BlockedHosts {
		if host != "" && strings.Contains(url, host) {
			return true
		}
	}
	return false
}
