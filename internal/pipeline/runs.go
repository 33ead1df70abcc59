package pipeline

import (
	"sync"
	"time"
)

// RunStatus is the lifecycle state of a submitted run.
type RunStatus string

const (
	StatusQueued    RunStatus = "queued"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusPartial   RunStatus = "partial"
	StatusFailed    RunStatus = "failed"
	StatusCanceled  RunStatus = "canceled"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusPartial, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// RunState tracks one submitted run.
type RunState struct {
	mu sync.Mutex

	ID        string
	SourceDir string
	Status    RunStatus
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time

	// Live counters come from the pipeline while it runs; the final report
	// is kept once it finishes.
	pipeline *Pipeline
	report   Report
}

// NewRunState returns a queued run.
func NewRunState(id, sourceDir string) *RunState {
	now := time.Now()
	return &RunState{
		ID:        id,
		SourceDir: sourceDir,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (r *RunState) start(p *Pipeline) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pipeline = p
	r.Status = StatusRunning
	r.UpdatedAt = time.Now()
}

// Finish records the final status and report.
func (r *RunState) Finish(status RunStatus, report Report, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pipeline = nil
	r.report = report
	r.Status = status
	if err != nil {
		r.Error = err.Error()
	}
	r.UpdatedAt = time.Now()
}

// RunSnapshot is a read-only, JSON-safe copy of run state.
type RunSnapshot struct {
	ID        string    `json:"run_id"`
	SourceDir string    `json:"source_dir"`
	Status    RunStatus `json:"status"`
	Error     string    `json:"error,omitempty"`
	Report    Report    `json:"report"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot returns a JSON-safe copy of the run state.
func (r *RunState) Snapshot() RunSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	report := r.report
	if r.pipeline != nil {
		report = r.pipeline.Report()
	}
	if report.Errors == nil {
		report.Errors = []string{}
	}
	return RunSnapshot{
		ID:        r.ID,
		SourceDir: r.SourceDir,
		Status:    r.Status,
		Error:     r.Error,
		Report:    report,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// RunStore is a thread-safe in-memory run registry with TTL eviction.
type RunStore struct {
	mu   sync.Mutex
	runs map[string]*RunState
	ttl  time.Duration
}

func NewRunStore(ttl time.Duration) *RunStore {
	return &RunStore{
		runs: make(map[string]*RunState),
		ttl:  ttl,
	}
}

func (s *RunStore) Put(run *RunState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
}

func (s *RunStore) Get(id string) *RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[id]
}

// Len returns the number of tracked runs.
func (s *RunStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}

// Cleanup removes finished runs not updated within the TTL. Active runs are
// never evicted.
func (s *RunStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, run := range s.runs {
		run.mu.Lock()
		expired := run.Status.Terminal() && now.Sub(run.UpdatedAt) > s.ttl
		run.mu.Unlock()
		if expired {
			delete(s.runs, id)
		}
	}
}
