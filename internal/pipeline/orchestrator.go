package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dgallion1/ragingest/internal/metrics"
	"github.com/dgallion1/ragingest/internal/stats"
	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
)

// ErrPoolFull is returned by Submit when every run slot is busy.
var ErrPoolFull = errors.New("run pool is full")

// Orchestrator executes submitted runs on a bounded worker pool and keeps
// their state for polling.
type Orchestrator struct {
	runs      *RunStore
	pool      *ants.Pool
	src       Source
	sink      Sink
	defaults  Config
	log       *slog.Logger
	metrics   *metrics.Metrics
	sinkStats *stats.SinkStats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// OrchestratorConfig sizes the orchestrator.
type OrchestratorConfig struct {
	MaxConcurrentRuns int
	RunTTL            time.Duration
	Defaults          Config // per-run settings not overridden by a request; Defaults.SourceDir is also the root requests must stay under
}

// NewOrchestrator creates the run pool. Call Start before submitting.
func NewOrchestrator(cfg OrchestratorConfig, src Source, sink Sink, log *slog.Logger, m *metrics.Metrics, s *stats.SinkStats) (*Orchestrator, error) {
	size := max(cfg.MaxConcurrentRuns, 1)
	pool, err := ants.NewPool(size, ants.WithNonblocking(true))
	if err != nil {
		return nil, fmt.Errorf("create run pool: %w", err)
	}
	return &Orchestrator{
		runs:      NewRunStore(cfg.RunTTL),
		pool:      pool,
		src:       src,
		sink:      sink,
		defaults:  cfg.Defaults,
		log:       log,
		metrics:   m,
		sinkStats: s,
	}, nil
}

// Start launches the run store cleanup loop.
func (o *Orchestrator) Start(ctx context.Context) {
	o.ctx, o.cancel = context.WithCancel(ctx)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-o.ctx.Done():
				return
			case <-ticker.C:
				o.runs.Cleanup()
			}
		}
	}()
}

// Stop cancels active runs and waits for them to finish.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
	if err := o.pool.ReleaseTimeout(10 * time.Second); err != nil {
		o.log.Warn("run pool release timed out", "error", err)
	}
}

// RunRequest overrides per-run settings. Zero values keep the defaults. A
// relative SourceDir is resolved against the default source dir.
type RunRequest struct {
	SourceDir     string
	BatchSize     int
	QueueCapacity int
}

// Submit validates the request and schedules a run. It fails with
// ErrPoolFull when no slot is free.
func (o *Orchestrator) Submit(req RunRequest) (*RunState, error) {
	cfg := o.defaults
	if req.SourceDir != "" {
		dir, err := resolveSourceDir(o.defaults.SourceDir, req.SourceDir)
		if err != nil {
			return nil, err
		}
		cfg.SourceDir = dir
	}
	if req.BatchSize > 0 {
		cfg.BatchSize = req.BatchSize
	}
	if req.QueueCapacity > 0 {
		cfg.QueueCapacity = req.QueueCapacity
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if o.ctx == nil {
		return nil, errors.New("orchestrator not started")
	}

	run := NewRunState(uuid.NewString(), cfg.SourceDir)
	o.runs.Put(run)

	o.wg.Add(1)
	err := o.pool.Submit(func() {
		defer o.wg.Done()
		o.execute(run, cfg)
	})
	if err != nil {
		o.wg.Done()
		if errors.Is(err, ants.ErrPoolOverload) {
			err = ErrPoolFull
		}
		run.Finish(StatusFailed, Report{}, err)
		return run, err
	}
	return run, nil
}

// resolveSourceDir keeps dir lexically inside root. An empty root allows any
// directory.
func resolveSourceDir(root, dir string) (string, error) {
	if root == "" {
		return dir, nil
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(root, dir)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("%w: resolve root %q: %w", ErrInvalidConfig, root, err)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("%w: resolve source dir %q: %w", ErrInvalidConfig, dir, err)
	}
	rel, err := filepath.Rel(absRoot, absDir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: source dir %q is outside %q", ErrInvalidConfig, dir, absRoot)
	}
	return absDir, nil
}

func (o *Orchestrator) execute(run *RunState, cfg Config) {
	log := o.log.With("run_id", run.ID, "source_dir", cfg.SourceDir)
	p := New(cfg, o.src, o.sink,
		WithLogger(log),
		WithMetrics(o.metrics),
		WithSinkStats(o.sinkStats),
	)
	run.start(p)
	log.Info("run started")

	report, err := p.Run(o.ctx)
	status := runStatus(report, err)
	run.Finish(status, report, err)
	log.Info("run ended", "status", status)
}

func runStatus(report Report, err error) RunStatus {
	switch {
	case errors.Is(err, context.Canceled):
		return StatusCanceled
	case err != nil:
		return StatusFailed
	case report.Failed() && report.BatchesDelivered == 0 && report.BatchesProduced > 0:
		return StatusFailed
	case report.Failed():
		return StatusPartial
	}
	return StatusCompleted
}

// GetRun returns a run by ID, or nil.
func (o *Orchestrator) GetRun(id string) *RunState {
	return o.runs.Get(id)
}

// ActiveRuns returns the number of runs currently executing.
func (o *Orchestrator) ActiveRuns() int {
	return o.pool.Running()
}
