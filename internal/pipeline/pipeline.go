// Package pipeline streams parsed, merged fragments from a source directory
// into a sink. A single producer lists and parses files and cuts batches; a
// single consumer forwards them to the sink. The two are joined by a bounded
// channel that blocks the producer while it is full, and the producer always
// finishes the stream with an end-of-stream envelope.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dgallion1/ragingest/internal/chunker"
	"github.com/dgallion1/ragingest/internal/fragment"
	"github.com/dgallion1/ragingest/internal/merge"
	"github.com/dgallion1/ragingest/internal/metrics"
	"github.com/dgallion1/ragingest/internal/stats"
)

var (
	// ErrSourceParse marks a file the source could not turn into fragments.
	// The file is skipped and the run continues.
	ErrSourceParse = errors.New("source parse failure")
	// ErrSinkInsert marks a batch the sink rejected. The batch is counted as
	// failed and never redelivered.
	ErrSinkInsert = errors.New("sink insert failure")
	// ErrEnqueueTimeout is returned when the producer waited longer than
	// Config.EnqueueTimeout for room in the queue.
	ErrEnqueueTimeout = errors.New("enqueue timeout")
	// ErrInvalidConfig is returned for unusable pipeline settings.
	ErrInvalidConfig = errors.New("invalid pipeline config")
)

// Source turns one file into flat, parent-referencing fragments.
type Source interface {
	Fragments(ctx context.Context, path string) ([]fragment.Fragment, error)
}

// Sink receives merged batches. Implementations must be safe for concurrent
// use when shared between runs.
type Sink interface {
	Insert(ctx context.Context, batch fragment.Batch) error
}

// Config holds the settings of one run.
type Config struct {
	SourceDir      string
	Extensions     []string // empty accepts every regular file
	BatchSize      int
	QueueCapacity  int
	EnqueueTimeout time.Duration // 0 blocks until the consumer makes room
	Chunk          chunker.Config
}

func (c Config) validate() error {
	if c.SourceDir == "" {
		return fmt.Errorf("%w: source dir is required", ErrInvalidConfig)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("%w: batch size must be >= 1, got %d", ErrInvalidConfig, c.BatchSize)
	}
	if c.QueueCapacity < 1 {
		return fmt.Errorf("%w: queue capacity must be >= 1, got %d", ErrInvalidConfig, c.QueueCapacity)
	}
	if c.EnqueueTimeout < 0 {
		return fmt.Errorf("%w: enqueue timeout must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Envelope is one queue item: a batch, or the end-of-stream marker.
type Envelope struct {
	Batch fragment.Batch
	End   bool
}

// Report summarizes a run. Counters are updated while the run progresses.
// Once Run returns, BatchesProduced equals BatchesDelivered + BatchesFailed +
// BatchesDropped.
type Report struct {
	FilesListed        int           `json:"files_listed"`
	FilesParsed        int           `json:"files_parsed"`
	FilesFailed        int           `json:"files_failed"`
	FragmentsParsed    int           `json:"fragments_parsed"`
	FragmentsEmitted   int           `json:"fragments_emitted"`
	MissingParents     int           `json:"missing_parents"`
	BatchesProduced    int           `json:"batches_produced"`
	BatchesDelivered   int           `json:"batches_delivered"`
	BatchesFailed      int           `json:"batches_failed"`
	BatchesDropped     int           `json:"batches_dropped"`
	FragmentsDelivered int           `json:"fragments_delivered"`
	Errors             []string      `json:"errors"`
	Duration           time.Duration `json:"duration_ns"`
}

// Failed reports whether any file or batch failed.
func (r Report) Failed() bool {
	return r.FilesFailed > 0 || r.BatchesFailed > 0
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(p *Pipeline) {
		if log != nil {
			p.log = log
		}
	}
}

// WithMetrics records run counters into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithSinkStats records every sink insert into s.
func WithSinkStats(s *stats.SinkStats) Option {
	return func(p *Pipeline) { p.sinkStats = s }
}

// Pipeline is a single ingestion run.
type Pipeline struct {
	cfg       Config
	src       Source
	sink      Sink
	log       *slog.Logger
	metrics   *metrics.Metrics
	sinkStats *stats.SinkStats

	mu     sync.Mutex
	report Report
}

// New builds a pipeline for one run.
func New(cfg Config, src Source, sink Sink, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:  cfg,
		src:  src,
		sink: sink,
		log:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes one run with the given collaborators.
func Run(ctx context.Context, cfg Config, src Source, sink Sink, opts ...Option) (Report, error) {
	return New(cfg, src, sink, opts...).Run(ctx)
}

// Report returns a copy of the current counters.
func (p *Pipeline) Report() Report {
	p.mu.Lock()
	defer p.mu.Unlock()
	r := p.report
	r.Errors = slices.Clone(p.report.Errors)
	if r.Errors == nil {
		r.Errors = []string{}
	}
	return r
}

func (p *Pipeline) update(fn func(r *Report)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.report)
}

func (p *Pipeline) addError(err error) {
	p.update(func(r *Report) { r.Errors = append(r.Errors, err.Error()) })
}

// Run starts the producer and the consumer and waits for both. It returns an
// error only for invalid config, an unreadable source directory, cancellation
// or an enqueue timeout; per-file and per-batch failures are in the report.
func (p *Pipeline) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	defer func() {
		p.update(func(r *Report) { r.Duration = time.Since(start) })
	}()

	if p.src == nil || p.sink == nil {
		return p.Report(), fmt.Errorf("%w: source and sink are required", ErrInvalidConfig)
	}
	if err := p.cfg.validate(); err != nil {
		return p.Report(), err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := make(chan Envelope, p.cfg.QueueCapacity)
	var prodErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		if prodErr = p.Produce(ctx, queue); prodErr != nil {
			// Without an end marker the consumer would wait forever.
			cancel()
		}
	}()

	consErr := p.Consume(ctx, queue)
	<-done
	p.drain(queue)

	report := p.Report()
	report.Duration = time.Since(start)
	p.log.Info("run finished",
		"files", report.FilesListed,
		"files_failed", report.FilesFailed,
		"batches_delivered", report.BatchesDelivered,
		"batches_failed", report.BatchesFailed,
		"batches_dropped", report.BatchesDropped,
		"fragments_delivered", report.FragmentsDelivered,
		"duration_ms", report.Duration.Milliseconds(),
	)

	if prodErr != nil {
		return report, prodErr
	}
	return report, consErr
}

// Produce lists eligible files, parses and merges each one, and sends
// batches of exactly BatchSize fragments followed by one partial batch and
// the end marker.
func (p *Pipeline) Produce(ctx context.Context, out chan<- Envelope) error {
	files, err := listFiles(p.cfg.SourceDir, p.cfg.Extensions)
	if err != nil {
		return err
	}
	p.update(func(r *Report) { r.FilesListed = len(files) })
	if len(files) == 0 {
		p.log.Info("no eligible files", "dir", p.cfg.SourceDir)
	}

	var buf []fragment.Fragment
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return err
		}

		log := p.log.With("file", path)
		raw, err := p.src.Fragments(ctx, path)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error("failed to parse file",
				"error", err,
				"file_size", fileSize(path),
				"buffered", len(buf),
			)
			p.addError(fmt.Errorf("%w: %s: %w", ErrSourceParse, path, err))
			p.update(func(r *Report) { r.FilesFailed++ })
			p.metrics.FileFailed()
			continue
		}

		res := merge.Merge(raw)
		for _, d := range res.Diagnostics {
			log.Warn("missing parent reference", "fragment_id", d.FragmentID, "parent_id", d.ParentID)
		}
		merged := chunker.SplitFragments(res.Fragments, p.cfg.Chunk)

		p.update(func(r *Report) {
			r.FilesParsed++
			r.FragmentsParsed += len(raw)
			r.MissingParents += len(res.Diagnostics)
		})
		p.metrics.FileParsed(len(raw))
		p.metrics.MissingParents(len(res.Diagnostics))
		log.Info("processed file", "parsed", len(raw), "merged", len(merged), "missing_parents", len(res.Diagnostics))

		buf = append(buf, merged...)
		for len(buf) >= p.cfg.BatchSize {
			n := p.cfg.BatchSize
			batch := fragment.Batch(buf[:n:n])
			buf = buf[n:]
			if err := p.enqueue(ctx, out, Envelope{Batch: batch}); err != nil {
				return err
			}
		}
	}

	if len(buf) > 0 {
		if err := p.enqueue(ctx, out, Envelope{Batch: fragment.Batch(buf)}); err != nil {
			return err
		}
	}
	return p.enqueue(ctx, out, Envelope{End: true})
}

func (p *Pipeline) enqueue(ctx context.Context, out chan<- Envelope, env Envelope) error {
	var timeout <-chan time.Time
	if p.cfg.EnqueueTimeout > 0 {
		t := time.NewTimer(p.cfg.EnqueueTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case out <- env:
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout:
		return fmt.Errorf("%w: queue full for %s", ErrEnqueueTimeout, p.cfg.EnqueueTimeout)
	}

	if !env.End {
		p.update(func(r *Report) {
			r.BatchesProduced++
			r.FragmentsEmitted += len(env.Batch)
		})
		p.metrics.FragmentsEmitted(len(env.Batch))
	}
	return nil
}

// Consume forwards batches to the sink until the end marker arrives. A failed
// insert is logged and counted; the batch is not retried.
func (p *Pipeline) Consume(ctx context.Context, in <-chan Envelope) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var env Envelope
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env = <-in:
		}
		if env.End {
			return nil
		}

		start := time.Now()
		err := p.sink.Insert(ctx, env.Batch)
		took := time.Since(start)
		p.sinkStats.Record(took, len(env.Batch), err)

		if err != nil && ctx.Err() != nil {
			// Interrupted by cancellation, not rejected by the sink.
			p.update(func(r *Report) { r.BatchesDropped++ })
			p.log.Warn("sink insert interrupted", "batch_size", len(env.Batch), "error", err)
			return ctx.Err()
		}
		if err != nil {
			p.log.Error("sink insert failed", "batch_size", len(env.Batch), "error", err)
			p.addError(fmt.Errorf("%w: %w", ErrSinkInsert, err))
			p.update(func(r *Report) { r.BatchesFailed++ })
			p.metrics.BatchFailed(took)
			continue
		}
		p.update(func(r *Report) {
			r.BatchesDelivered++
			r.FragmentsDelivered += len(env.Batch)
		})
		p.metrics.BatchDelivered(len(env.Batch), took)
		p.log.Debug("batch delivered", "batch_size", len(env.Batch), "took_ms", took.Milliseconds())
	}
}

// drain counts batches left in the queue after the consumer stopped. It must
// only run once the producer has returned.
func (p *Pipeline) drain(queue <-chan Envelope) {
	for {
		select {
		case env := <-queue:
			if !env.End {
				p.update(func(r *Report) { r.BatchesDropped++ })
			}
		default:
			return
		}
	}
}

// listFiles returns the regular files directly inside dir whose extension is
// in exts, in lexical order.
func listFiles(dir string, exts []string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read source dir: %w", err)
	}

	allowed := make(map[string]bool, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		allowed[e] = true
	}

	var files []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if len(allowed) > 0 && !allowed[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	return files, nil
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return -1
	}
	return info.Size()
}
