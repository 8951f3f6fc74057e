// file: internal/processor/processor_test.go
// version: 1.0.0
// guid: d92e2362-a0a6-40ca-b697-49a0b60d415c

package processor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdfalk/video-autoprocessor/internal/catalog"
	"github.com/jdfalk/video-autoprocessor/internal/ffmpeg"
	"github.com/jdfalk/video-autoprocessor/internal/gate"
	"github.com/jdfalk/video-autoprocessor/internal/pipeline"
	"github.com/jdfalk/video-autoprocessor/internal/realtime"
	"github.com/jdfalk/video-autoprocessor/internal/watcher"
)

type fakeWatcher struct {
	events   chan watcher.FileEvent
	alive    atomic.Bool
	stopOnce sync.Once
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{events: make(chan watcher.FileEvent, 16)}
}

func (w *fakeWatcher) Start(ctx context.Context) error {
	w.alive.Store(true)
	go func() {
		<-ctx.Done()
		_ = w.Stop()
	}()
	return nil
}

func (w *fakeWatcher) Stop() error {
	w.stopOnce.Do(func() {
		w.alive.Store(false)
		close(w.events)
	})
	return nil
}

func (w *fakeWatcher) Events() <-chan watcher.FileEvent { return w.events }
func (w *fakeWatcher) Alive() bool                      { return w.alive.Load() }

func (w *fakeWatcher) emit(path string) {
	w.events <- watcher.FileEvent{Path: path, Kind: watcher.Created, ObservedAt: time.Now()}
}

type videoFiles struct{}

func (videoFiles) IsCandidate(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".mp4")
}

func (videoFiles) IsReady(ctx context.Context, path string) bool { return ctx.Err() == nil }

type checkerFunc func(path string) bool

func (f checkerFunc) NeedsProcessing(path string) bool { return f(path) }

type stemIDs struct{}

func (stemIDs) ID(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

// fakeRunner records runs. When block is set each run waits for a value
// on release or for ctx to end.
type fakeRunner struct {
	mu      sync.Mutex
	paths   []string
	running atomic.Int32
	peak    atomic.Int32
	block   bool
	release chan struct{}
	fail    error
	ctxErrs atomic.Int32
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{release: make(chan struct{}, 16)}
}

func (r *fakeRunner) Run(ctx context.Context, task *pipeline.Task) (*pipeline.Result, error) {
	defer task.Permit.Release()

	n := r.running.Add(1)
	defer r.running.Add(-1)
	for {
		peak := r.peak.Load()
		if n <= peak || r.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	r.mu.Lock()
	r.paths = append(r.paths, task.Path)
	r.mu.Unlock()

	if task.Progress != nil {
		task.Progress(ffmpeg.Progress{ElapsedSeconds: 5, Percent: 50})
	}
	if r.block {
		select {
		case <-r.release:
		case <-ctx.Done():
			r.ctxErrs.Add(1)
			return nil, &pipeline.StageError{Stage: pipeline.StageTranscode, Err: ctx.Err()}
		}
	}
	if r.fail != nil {
		return nil, &pipeline.StageError{Stage: pipeline.StageAnalyze, Err: r.fail}
	}
	return &pipeline.Result{VideoID: task.VideoID, RunID: task.RunID, Outcome: catalog.Added, Elapsed: 10 * time.Millisecond}, nil
}

func (r *fakeRunner) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

type fakeLock struct {
	acquireErr error
	acquired   atomic.Int32
	released   atomic.Int32
}

func (l *fakeLock) Acquire() error {
	if l.acquireErr != nil {
		return l.acquireErr
	}
	l.acquired.Add(1)
	return nil
}

func (l *fakeLock) Release() error {
	l.released.Add(1)
	return nil
}

type harness struct {
	proc     *Processor
	runner   *fakeRunner
	watchers []*fakeWatcher
	mu       sync.Mutex
	dir      string
}

func (h *harness) watcher(i int) *fakeWatcher {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.watchers[i]
}

func (h *harness) watcherCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.watchers)
}

func newHarness(t *testing.T, concurrency int, needs checkerFunc, mutate func(*Deps, *Options)) *harness {
	t.Helper()
	h := &harness{runner: newFakeRunner(), dir: t.TempDir()}
	if needs == nil {
		needs = func(string) bool { return true }
	}
	deps := Deps{
		Candidates: videoFiles{},
		Checker:    needs,
		Pipeline:   h.runner,
		IDs:        stemIDs{},
		NewWatcher: func() (watcher.Watcher, error) {
			w := newFakeWatcher()
			h.mu.Lock()
			h.watchers = append(h.watchers, w)
			h.mu.Unlock()
			return w, nil
		},
	}
	opts := Options{
		WatchDir:        h.dir,
		Debounce:        20 * time.Millisecond,
		Concurrency:     concurrency,
		ShutdownTimeout: time.Second,
	}
	opts.Health.Interval = time.Hour
	if mutate != nil {
		mutate(&deps, &opts)
	}
	proc, err := New(deps, opts, zerolog.Nop())
	require.NoError(t, err)
	h.proc = proc
	return h
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*realtime.Event
}

func (r *recordingPublisher) Publish(event *realtime.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingPublisher) byVideo(videoID string) []realtime.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []realtime.EventType
	for _, ev := range r.events {
		if ev.VideoID == videoID {
			out = append(out, ev.Type)
		}
	}
	return out
}

func TestNewRequiresDeps(t *testing.T) {
	_, err := New(Deps{}, Options{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestEventFlowsToPipeline(t *testing.T) {
	h := newHarness(t, 2, nil, nil)
	require.NoError(t, h.proc.Start(context.Background()))
	t.Cleanup(func() { _ = h.proc.Stop() })

	path := filepath.Join(h.dir, "lecture_01.mp4")
	w := h.watcher(0)
	w.emit(path)
	w.emit(path)
	w.emit(filepath.Join(h.dir, "notes.txt"))

	require.Eventually(t, func() bool { return h.proc.Stats().Succeeded == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{path}, h.runner.calls())
	assert.Equal(t, 0, h.proc.Outstanding())
}

func TestUpToDateFilesSkipped(t *testing.T) {
	h := newHarness(t, 2, func(string) bool { return false }, nil)
	require.NoError(t, h.proc.Start(context.Background()))
	t.Cleanup(func() { _ = h.proc.Stop() })

	h.watcher(0).emit(filepath.Join(h.dir, "done.mp4"))

	require.Eventually(t, func() bool { return h.proc.Stats().Skipped == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, h.runner.calls())
}

func TestGateBoundsConcurrentPipelines(t *testing.T) {
	h := newHarness(t, 2, nil, nil)
	h.runner.block = true
	require.NoError(t, h.proc.Start(context.Background()))
	t.Cleanup(func() { _ = h.proc.Stop() })

	w := h.watcher(0)
	for _, name := range []string{"a.mp4", "b.mp4", "c.mp4"} {
		w.emit(filepath.Join(h.dir, name))
	}

	require.Eventually(t, func() bool { return h.runner.running.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	// the third path waits for a permit
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, h.runner.calls(), 2)
	assert.Equal(t, 2, h.proc.Outstanding())

	h.runner.release <- struct{}{}
	require.Eventually(t, func() bool { return len(h.runner.calls()) == 3 }, 2*time.Second, 5*time.Millisecond)

	h.runner.release <- struct{}{}
	h.runner.release <- struct{}{}
	require.Eventually(t, func() bool { return h.proc.Stats().Succeeded == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.LessOrEqual(t, h.runner.peak.Load(), int32(2))
}

func TestFailureIsContained(t *testing.T) {
	h := newHarness(t, 1, nil, nil)
	h.runner.fail = errors.New("ffprobe exited 1")
	require.NoError(t, h.proc.Start(context.Background()))
	t.Cleanup(func() { _ = h.proc.Stop() })

	w := h.watcher(0)
	w.emit(filepath.Join(h.dir, "broken.mp4"))
	require.Eventually(t, func() bool { return h.proc.Stats().Failed == 1 }, 2*time.Second, 5*time.Millisecond)

	h.runner.fail = nil
	w.emit(filepath.Join(h.dir, "fine.mp4"))
	require.Eventually(t, func() bool { return h.proc.Stats().Succeeded == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, h.proc.Outstanding())
}

func TestScanExistingSortedAndFiltered(t *testing.T) {
	h := newHarness(t, 1, func(path string) bool { return !strings.Contains(path, "done") }, nil)
	for _, name := range []string{"c.mp4", "a.mp4", "done.mp4", "b.MP4", "readme.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(h.dir, name), []byte("data"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(h.dir, "nested.mp4"), 0o755))

	admitted, err := h.proc.ScanExisting(context.Background(), true)

	require.NoError(t, err)
	assert.Equal(t, 3, admitted)
	assert.Equal(t, []string{
		filepath.Join(h.dir, "a.mp4"),
		filepath.Join(h.dir, "b.MP4"),
		filepath.Join(h.dir, "c.mp4"),
	}, h.runner.calls())
	assert.Equal(t, 1, h.proc.Stats().Skipped)
}

func TestScanExistingRecursive(t *testing.T) {
	h := newHarness(t, 2, nil, func(_ *Deps, o *Options) { o.Recursive = true })
	sub := filepath.Join(h.dir, "course")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "x.mp4"), []byte("data"), 0o644))

	admitted, err := h.proc.ScanExisting(context.Background(), true)

	require.NoError(t, err)
	assert.Equal(t, 1, admitted)
}

func TestScanSkipsActivePath(t *testing.T) {
	h := newHarness(t, 2, nil, nil)
	path := filepath.Join(h.dir, "busy.mp4")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))

	done, ok := h.proc.debouncer.Claim(path)
	require.True(t, ok)
	defer done()

	admitted, err := h.proc.ScanExisting(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 0, admitted)
}

func TestStartPreflightFailure(t *testing.T) {
	var built atomic.Int32
	h := newHarness(t, 2, nil, func(d *Deps, _ *Options) {
		d.Preflight = func(context.Context) error { return errors.New("ffmpeg missing") }
		factory := d.NewWatcher
		d.NewWatcher = func() (watcher.Watcher, error) {
			built.Add(1)
			return factory()
		}
	})

	err := h.proc.Start(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "preflight")
	assert.Equal(t, int32(0), built.Load())
	assert.False(t, h.proc.Status().Running)
}

func TestStartLockHeldElsewhere(t *testing.T) {
	lock := &fakeLock{acquireErr: errors.New("another instance is running")}
	h := newHarness(t, 2, nil, func(d *Deps, _ *Options) { d.Lock = lock })

	err := h.proc.Start(context.Background())

	require.Error(t, err)
	assert.Equal(t, 0, h.watcherCount())
}

func TestStartTwice(t *testing.T) {
	lock := &fakeLock{}
	h := newHarness(t, 2, nil, func(d *Deps, _ *Options) { d.Lock = lock })
	require.NoError(t, h.proc.Start(context.Background()))

	assert.ErrorIs(t, h.proc.Start(context.Background()), ErrAlreadyStarted)

	require.NoError(t, h.proc.Stop())
	assert.Equal(t, int32(1), lock.acquired.Load())
	assert.Equal(t, int32(1), lock.released.Load())
	assert.NoError(t, h.proc.Stop(), "second stop is a no-op")
}

func TestRestartWatcherReplacesDeadWatcher(t *testing.T) {
	h := newHarness(t, 2, nil, nil)
	require.NoError(t, h.proc.Start(context.Background()))
	t.Cleanup(func() { _ = h.proc.Stop() })

	require.NoError(t, h.watcher(0).Stop())
	assert.False(t, h.proc.WatcherAlive())

	report := h.proc.health.CheckOnce(context.Background())

	assert.True(t, report.WatcherRestarted)
	assert.True(t, h.proc.WatcherAlive())
	require.Equal(t, 2, h.watcherCount())

	path := filepath.Join(h.dir, "after-restart.mp4")
	h.watcher(1).emit(path)
	require.Eventually(t, func() bool { return len(h.runner.calls()) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestRestartWatcherRequiresRunning(t *testing.T) {
	h := newHarness(t, 2, nil, nil)
	assert.ErrorIs(t, h.proc.RestartWatcher(context.Background()), ErrNotRunning)
}

func TestStopDrainsInFlightWork(t *testing.T) {
	h := newHarness(t, 2, nil, nil)
	h.runner.block = true
	require.NoError(t, h.proc.Start(context.Background()))

	h.watcher(0).emit(filepath.Join(h.dir, "long.mp4"))
	require.Eventually(t, func() bool { return h.runner.running.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	go func() {
		time.Sleep(30 * time.Millisecond)
		h.runner.release <- struct{}{}
	}()
	require.NoError(t, h.proc.Stop())

	assert.Equal(t, 1, h.proc.Stats().Succeeded)
	assert.Equal(t, int32(0), h.runner.ctxErrs.Load())
	assert.False(t, h.proc.Status().Running)
}

func TestStopHardStopsAfterTimeout(t *testing.T) {
	h := newHarness(t, 2, nil, func(_ *Deps, o *Options) { o.ShutdownTimeout = 30 * time.Millisecond })
	h.runner.block = true
	require.NoError(t, h.proc.Start(context.Background()))

	h.watcher(0).emit(filepath.Join(h.dir, "stuck.mp4"))
	require.Eventually(t, func() bool { return h.runner.running.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	err := h.proc.Stop()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "stuck.mp4")
	assert.Equal(t, int32(1), h.runner.ctxErrs.Load())
	assert.Equal(t, 1, h.proc.Stats().Failed)
}

func TestPendingTimersCancelledOnStop(t *testing.T) {
	h := newHarness(t, 2, nil, func(_ *Deps, o *Options) { o.Debounce = time.Hour })
	require.NoError(t, h.proc.Start(context.Background()))

	h.watcher(0).emit(filepath.Join(h.dir, "slow.mp4"))
	require.Eventually(t, func() bool { return h.proc.Pending() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.proc.Stop())
	assert.Equal(t, 0, h.proc.Pending())
	assert.Empty(t, h.runner.calls())
}

func TestRunStopsWhenContextCancelled(t *testing.T) {
	h := newHarness(t, 2, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- h.proc.Run(ctx) }()
	require.Eventually(t, func() bool { return h.proc.Status().Running }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestProcessFile(t *testing.T) {
	h := newHarness(t, 1, func(string) bool { return false }, nil)

	var seen []float64
	res, err := h.proc.ProcessFile(context.Background(), filepath.Join(h.dir, "one.mp4"), func(p float64) { seen = append(seen, p) })

	require.NoError(t, err)
	assert.Equal(t, "one", res.VideoID)
	assert.Equal(t, []float64{50}, seen)
	assert.Equal(t, 1, h.proc.Stats().Succeeded)
	assert.Equal(t, 0, h.proc.debouncer.Active())
}

func TestProcessFileRejectsNonCandidate(t *testing.T) {
	h := newHarness(t, 1, nil, nil)
	_, err := h.proc.ProcessFile(context.Background(), filepath.Join(h.dir, "notes.txt"), nil)
	assert.ErrorIs(t, err, ErrNotCandidate)
}

func TestProcessFileRejectsBusyPath(t *testing.T) {
	h := newHarness(t, 1, nil, nil)
	path := filepath.Join(h.dir, "busy.mp4")
	done, ok := h.proc.debouncer.Claim(path)
	require.True(t, ok)
	defer done()

	_, err := h.proc.ProcessFile(context.Background(), path, nil)
	assert.ErrorIs(t, err, ErrBusy)
}

func TestStatusReportsActiveRuns(t *testing.T) {
	h := newHarness(t, 2, nil, nil)
	h.runner.block = true
	require.NoError(t, h.proc.Start(context.Background()))
	t.Cleanup(func() { _ = h.proc.Stop() })

	path := filepath.Join(h.dir, "status.mp4")
	h.watcher(0).emit(path)
	require.Eventually(t, func() bool { return len(h.proc.Status().Runs) == 1 }, 2*time.Second, 5*time.Millisecond)

	st := h.proc.Status()
	assert.True(t, st.Running)
	assert.True(t, st.WatcherAlive)
	assert.Equal(t, gate.DefaultLimit, st.Limit)
	assert.Equal(t, "status", st.Runs[0].VideoID)
	assert.NotEmpty(t, st.Runs[0].RunID)

	h.runner.release <- struct{}{}
}

func TestRunEventsPublished(t *testing.T) {
	pub := &recordingPublisher{}
	h := newHarness(t, 1, func(path string) bool { return !strings.Contains(path, "done") }, func(d *Deps, _ *Options) {
		d.Events = pub
	})
	for _, name := range []string{"a.mp4", "done.mp4"} {
		require.NoError(t, os.WriteFile(filepath.Join(h.dir, name), []byte("data"), 0o644))
	}

	_, err := h.proc.ScanExisting(context.Background(), true)
	require.NoError(t, err)

	assert.Equal(t, []realtime.EventType{
		realtime.EventRunStarted,
		realtime.EventRunProgress,
		realtime.EventRunSucceeded,
	}, pub.byVideo("a"))
	assert.Equal(t, []realtime.EventType{realtime.EventFileSkipped}, pub.byVideo("done"))
}

func TestRunFailureEventCarriesStage(t *testing.T) {
	pub := &recordingPublisher{}
	h := newHarness(t, 1, nil, func(d *Deps, _ *Options) { d.Events = pub })
	h.runner.fail = errors.New("no video stream")
	path := filepath.Join(h.dir, "broken.mp4")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))

	_, err := h.proc.ProcessFile(context.Background(), path, nil)
	require.Error(t, err)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	last := pub.events[len(pub.events)-1]
	assert.Equal(t, realtime.EventRunFailed, last.Type)
	assert.Equal(t, pipeline.StageAnalyze, last.Data["stage"])
	assert.NotEmpty(t, last.RunID)
}
