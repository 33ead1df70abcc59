package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunState_Lifecycle(t *testing.T) {
	run := NewRunState("run-1", "/data")
	assert.Equal(t, StatusQueued, run.Snapshot().Status)

	p := New(testConfig("/data", 1, 1), fileSource{}, &recordingSink{})
	p.update(func(r *Report) { r.FilesListed = 7 })
	run.start(p)

	snap := run.Snapshot()
	assert.Equal(t, StatusRunning, snap.Status)
	assert.Equal(t, 7, snap.Report.FilesListed, "live counters come from the pipeline")

	run.Finish(StatusFailed, Report{FilesListed: 9}, errors.New("boom"))
	snap = run.Snapshot()
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, "boom", snap.Error)
	assert.Equal(t, 9, snap.Report.FilesListed)
	assert.NotNil(t, snap.Report.Errors)
}

func TestRunStore_CleanupKeepsActiveRuns(t *testing.T) {
	store := NewRunStore(time.Millisecond)

	active := NewRunState("active", "/a")
	done := NewRunState("done", "/b")
	done.Finish(StatusCompleted, Report{}, nil)
	store.Put(active)
	store.Put(done)

	time.Sleep(5 * time.Millisecond)
	store.Cleanup()

	assert.NotNil(t, store.Get("active"))
	assert.Nil(t, store.Get("done"))
	assert.Equal(t, 1, store.Len())
}

func TestRunStatus(t *testing.T) {
	tests := []struct {
		name   string
		report Report
		err    error
		want   RunStatus
	}{
		{"clean", Report{BatchesProduced: 2, BatchesDelivered: 2}, nil, StatusCompleted},
		{"empty", Report{}, nil, StatusCompleted},
		{"some failures", Report{BatchesProduced: 2, BatchesDelivered: 1, BatchesFailed: 1}, nil, StatusPartial},
		{"file failure only", Report{FilesFailed: 1}, nil, StatusPartial},
		{"every batch failed", Report{BatchesProduced: 2, BatchesFailed: 2}, nil, StatusFailed},
		{"canceled", Report{}, context.Canceled, StatusCanceled},
		{"timeout", Report{}, ErrEnqueueTimeout, StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, runStatus(tt.report, tt.err))
		})
	}
}

func newTestOrchestrator(t *testing.T, sink Sink, slots int) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(OrchestratorConfig{
		MaxConcurrentRuns: slots,
		RunTTL:            time.Hour,
		Defaults:          Config{BatchSize: 10, QueueCapacity: 2},
	}, fileSource{}, sink, discardLogger(), nil, nil)
	require.NoError(t, err)
	o.Start(context.Background())
	t.Cleanup(o.Stop)
	return o
}

func TestOrchestrator_SubmitCompletes(t *testing.T) {
	dir := writeFiles(t, 12)
	sink := &recordingSink{}
	o := newTestOrchestrator(t, sink, 2)

	run, err := o.Submit(RunRequest{SourceDir: dir, BatchSize: 5})
	require.NoError(t, err)
	require.NotEmpty(t, run.ID)

	require.Eventually(t, func() bool {
		return o.GetRun(run.ID).Snapshot().Status.Terminal()
	}, 2*time.Second, 10*time.Millisecond)

	snap := o.GetRun(run.ID).Snapshot()
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, 12, snap.Report.FragmentsDelivered)
	assert.Equal(t, 3, snap.Report.BatchesDelivered)
}

func TestOrchestrator_PoolFull(t *testing.T) {
	dir := writeFiles(t, 2)
	sink := &gateSink{gate: make(chan struct{})}
	o := newTestOrchestrator(t, sink, 1)
	defer close(sink.gate)

	_, err := o.Submit(RunRequest{SourceDir: dir})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return o.ActiveRuns() == 1 }, time.Second, 5*time.Millisecond)

	run, err := o.Submit(RunRequest{SourceDir: dir})
	require.ErrorIs(t, err, ErrPoolFull)
	assert.Equal(t, StatusFailed, run.Snapshot().Status)
}

func TestOrchestrator_RejectsInvalidRequest(t *testing.T) {
	o := newTestOrchestrator(t, &recordingSink{}, 1)
	_, err := o.Submit(RunRequest{})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestOrchestrator_SourceDirConfinedToRoot(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "team")
	require.NoError(t, os.Mkdir(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "a.txt"), []byte("a"), 0o644))

	o, err := NewOrchestrator(OrchestratorConfig{
		MaxConcurrentRuns: 2,
		RunTTL:            time.Hour,
		Defaults:          Config{SourceDir: root, BatchSize: 10, QueueCapacity: 2},
	}, fileSource{}, &recordingSink{}, discardLogger(), nil, nil)
	require.NoError(t, err)
	o.Start(context.Background())
	t.Cleanup(o.Stop)

	run, err := o.Submit(RunRequest{SourceDir: "team"})
	require.NoError(t, err)
	assert.Equal(t, sub, run.Snapshot().SourceDir)
	require.Eventually(t, func() bool {
		return o.GetRun(run.ID).Snapshot().Status.Terminal()
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, o.GetRun(run.ID).Snapshot().Report.FragmentsDelivered)

	for _, dir := range []string{"..", "team/../../etc", t.TempDir()} {
		_, err := o.Submit(RunRequest{SourceDir: dir})
		assert.ErrorIs(t, err, ErrInvalidConfig, dir)
	}
}

func TestResolveSourceDir(t *testing.T) {
	got, err := resolveSourceDir("", "/anywhere")
	require.NoError(t, err)
	assert.Equal(t, "/anywhere", got)

	got, err = resolveSourceDir("/data", "/data/docs")
	require.NoError(t, err)
	assert.Equal(t, "/data/docs", got)

	got, err = resolveSourceDir("/data", "docs/../manuals")
	require.NoError(t, err)
	assert.Equal(t, "/data/manuals", got)

	_, err = resolveSourceDir("/data", "/data-other")
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = resolveSourceDir("/data", "../x")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
