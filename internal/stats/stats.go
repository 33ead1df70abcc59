// Package stats keeps a rolling window of sink insert outcomes for the
// /api/stats/sink endpoint.
package stats

import (
	"slices"
	"sync"
	"time"
)

type sample struct {
	at        time.Time
	took      time.Duration
	fragments int
	failed    bool
}

// Snapshot aggregates the samples currently inside the window.
type Snapshot struct {
	Window    string  `json:"window"`
	Inserts   int     `json:"inserts"`
	Failures  int     `json:"failures"`
	Fragments int     `json:"fragments"`
	MinMs     int64   `json:"min_ms"`
	MaxMs     int64   `json:"max_ms"`
	AvgMs     float64 `json:"avg_ms"`
	P50Ms     float64 `json:"p50_ms"`
	P95Ms     float64 `json:"p95_ms"`
	P99Ms     float64 `json:"p99_ms"`
}

// SinkStats records sink insert latencies within a rolling window.
type SinkStats struct {
	mu      sync.Mutex
	samples []sample
	window  time.Duration
	now     func() time.Time
}

// NewSinkStats returns a tracker keeping samples for window (one hour when
// window is not positive).
func NewSinkStats(window time.Duration) *SinkStats {
	if window <= 0 {
		window = time.Hour
	}
	return &SinkStats{
		samples: make([]sample, 0, 256),
		window:  window,
		now:     time.Now,
	}
}

// Record adds one insert outcome. Negative durations count as zero.
func (s *SinkStats) Record(took time.Duration, fragments int, err error) {
	if s == nil {
		return
	}
	took = max(took, 0)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.pruneLocked(now)
	s.samples = append(s.samples, sample{
		at:        now,
		took:      took,
		fragments: fragments,
		failed:    err != nil,
	})
}

// Snapshot computes the current aggregate.
func (s *SinkStats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(s.now())
	snap := Snapshot{Window: s.window.String()}
	if len(s.samples) == 0 {
		return snap
	}

	ms := make([]int64, 0, len(s.samples))
	var sum int64
	for _, sm := range s.samples {
		v := sm.took.Milliseconds()
		ms = append(ms, v)
		sum += v
		if sm.failed {
			snap.Failures++
		} else {
			snap.Fragments += sm.fragments
		}
	}
	slices.Sort(ms)

	snap.Inserts = len(ms)
	snap.MinMs = ms[0]
	snap.MaxMs = ms[len(ms)-1]
	snap.AvgMs = float64(sum) / float64(len(ms))
	snap.P50Ms = percentile(ms, 50)
	snap.P95Ms = percentile(ms, 95)
	snap.P99Ms = percentile(ms, 99)
	return snap
}

func (s *SinkStats) pruneLocked(now time.Time) {
	cutoff := now.Add(-s.window)
	s.samples = slices.DeleteFunc(s.samples, func(sm sample) bool {
		return sm.at.Before(cutoff)
	})
}

// percentile interpolates linearly between the closest ranks of sorted.
func percentile(sorted []int64, pct float64) float64 {
	switch {
	case len(sorted) == 0:
		return 0
	case pct <= 0:
		return float64(sorted[0])
	case pct >= 100:
		return float64(sorted[len(sorted)-1])
	}

	rank := float64(len(sorted)-1) * pct / 100
	lo := int(rank)
	if lo+1 >= len(sorted) {
		return float64(sorted[lo])
	}
	frac := rank - float64(lo)
	a, b := float64(sorted[lo]), float64(sorted[lo+1])
	return a + (b-a)*frac
}
