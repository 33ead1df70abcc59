package stats

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSinkStatsSnapshotPercentiles(t *testing.T) {
	s := NewSinkStats(time.Hour)
	for _, ms := range []int{100, 200, 300, 400, 500} {
		s.Record(time.Duration(ms)*time.Millisecond, 10, nil)
	}

	snap := s.Snapshot()
	require.Equal(t, 5, snap.Inserts)
	assert.Equal(t, int64(100), snap.MinMs)
	assert.Equal(t, int64(500), snap.MaxMs)
	assert.InDelta(t, 300, snap.AvgMs, 1e-9)
	assert.InDelta(t, 300, snap.P50Ms, 1e-9)
	assert.InDelta(t, 480, snap.P95Ms, 1e-9)
	assert.InDelta(t, 496, snap.P99Ms, 1e-9)
	assert.Equal(t, 50, snap.Fragments)
}

func TestSinkStatsCountsFailures(t *testing.T) {
	s := NewSinkStats(time.Hour)
	s.Record(time.Millisecond, 10, nil)
	s.Record(time.Millisecond, 10, errors.New("boom"))

	snap := s.Snapshot()
	assert.Equal(t, 2, snap.Inserts)
	assert.Equal(t, 1, snap.Failures)
	assert.Equal(t, 10, snap.Fragments, "failed inserts do not count fragments")
}

func TestSinkStatsPrunesExpiredSamples(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewSinkStats(time.Minute)
	s.now = func() time.Time { return clock }

	s.Record(100*time.Millisecond, 1, nil)
	clock = clock.Add(2 * time.Minute)
	assert.Zero(t, s.Snapshot().Inserts)

	s.Record(200*time.Millisecond, 1, nil)
	snap := s.Snapshot()
	assert.Equal(t, 1, snap.Inserts)
	assert.Equal(t, int64(200), snap.MinMs)
	assert.Equal(t, int64(200), snap.MaxMs)
}

func TestSinkStatsClampsNegativeDuration(t *testing.T) {
	s := NewSinkStats(time.Hour)
	s.Record(-5*time.Millisecond, 1, nil)
	snap := s.Snapshot()
	assert.Zero(t, snap.MinMs)
	assert.Zero(t, snap.MaxMs)
}

func TestSinkStatsEmpty(t *testing.T) {
	snap := NewSinkStats(0).Snapshot()
	assert.Zero(t, snap.Inserts)
	assert.Equal(t, "1h0m0s", snap.Window)
}

func TestSinkStatsNilRecord(t *testing.T) {
	var s *SinkStats
	assert.NotPanics(t, func() { s.Record(time.Second, 1, nil) })
}
