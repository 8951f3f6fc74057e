// file: internal/processor/processor.go
// version: 1.0.0
// guid: 7ff0fb27-498f-4822-ad50-aa042885d447

// Package processor is the engine that connects the watcher, debouncer,
// idempotency check, concurrency gate and pipeline.
package processor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/jdfalk/video-autoprocessor/internal/debounce"
	"github.com/jdfalk/video-autoprocessor/internal/ffmpeg"
	"github.com/jdfalk/video-autoprocessor/internal/gate"
	"github.com/jdfalk/video-autoprocessor/internal/health"
	"github.com/jdfalk/video-autoprocessor/internal/metrics"
	"github.com/jdfalk/video-autoprocessor/internal/pipeline"
	"github.com/jdfalk/video-autoprocessor/internal/realtime"
	"github.com/jdfalk/video-autoprocessor/internal/watcher"
)

var (
	// ErrNotRunning is returned by operations that need a started processor.
	ErrNotRunning = errors.New("processor is not running")
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("processor already started")
	// ErrNotCandidate is returned when a path is not a watched video file.
	ErrNotCandidate = errors.New("not a candidate video file")
	// ErrBusy is returned when a path is already pending or being processed.
	ErrBusy = errors.New("file is already being processed")
)

// Candidates filters and readiness-checks paths.
type Candidates interface {
	IsCandidate(path string) bool
	IsReady(ctx context.Context, path string) bool
}

// Checker decides whether a source still needs processing.
type Checker interface {
	NeedsProcessing(path string) bool
}

// Runner executes the pipeline for one task.
type Runner interface {
	Run(ctx context.Context, task *pipeline.Task) (*pipeline.Result, error)
}

// IDSource derives a video id from a path.
type IDSource interface {
	ID(path string) string
}

// Locker guards against a second daemon on the same state directory.
type Locker interface {
	Acquire() error
	Release() error
}

// WatcherFactory builds a fresh, unstarted watcher.
type WatcherFactory func() (watcher.Watcher, error)

// Deps are the collaborators of a Processor.
type Deps struct {
	Candidates Candidates
	Checker    Checker
	Pipeline   Runner
	IDs        IDSource
	NewWatcher WatcherFactory
	Preflight  func(ctx context.Context) error // optional
	Lock       Locker                          // optional
	Events     Publisher                       // optional
}

// Publisher receives run lifecycle events.
type Publisher interface {
	Publish(event *realtime.Event)
}

// Options configures a Processor.
type Options struct {
	WatchDir        string
	Recursive       bool
	Debounce        time.Duration
	Concurrency     int
	ShutdownTimeout time.Duration
	ScanOnStartup   bool
	Health          health.Options
}

// ActiveRun describes a pipeline in flight.
type ActiveRun struct {
	RunID     string    `json:"run_id"`
	VideoID   string    `json:"video_id"`
	Path      string    `json:"path"`
	StartedAt time.Time `json:"started_at"`
}

// Status is a point-in-time view of the engine.
type Status struct {
	Running       bool          `json:"running"`
	WatchDir      string        `json:"watch_dir"`
	WatcherAlive  bool          `json:"watcher_alive"`
	Pending       int           `json:"pending"`
	Active        int           `json:"active"`
	Outstanding   int           `json:"outstanding"`
	Limit         int           `json:"limit"`
	Stats         Stats         `json:"stats"`
	Runs          []ActiveRun   `json:"runs"`
	LastHealth    health.Report `json:"last_health"`
	HasHealthData bool          `json:"has_health_data"`
}

// Processor owns the event flow from the watcher to the pipeline.
type Processor struct {
	deps   Deps
	opts   Options
	logger zerolog.Logger

	debouncer *debounce.Debouncer
	gate      *gate.Gate
	health    *health.Supervisor
	stats     *statsTracker

	mu         sync.Mutex
	started    bool
	stopped    bool
	watchCtx   context.Context
	watchStop  context.CancelFunc
	workCtx    context.Context
	workCancel context.CancelFunc
	watcher    watcher.Watcher
	runs       map[string]ActiveRun

	pipelines sync.WaitGroup
}

// New creates a Processor.
func New(deps Deps, opts Options, logger zerolog.Logger) (*Processor, error) {
	if deps.Candidates == nil || deps.Checker == nil || deps.Pipeline == nil || deps.IDs == nil || deps.NewWatcher == nil {
		return nil, errors.New("processor requires candidates, checker, pipeline, ids and watcher factory")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = gate.DefaultLimit
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 30 * time.Second
	}
	if opts.Health.DiskPath == "" {
		opts.Health.DiskPath = opts.WatchDir
	}

	p := &Processor{
		deps:   deps,
		opts:   opts,
		logger: logger.With().Str("component", "processor").Logger(),
		gate:   gate.New(opts.Concurrency),
		stats:  newStatsTracker(time.Now),
		runs:   make(map[string]ActiveRun),
	}
	p.debouncer = debounce.New(opts.Debounce, deps.Candidates, p.handleReady, logger)
	p.health = health.New(opts.Health, p, p, logger)
	return p, nil
}

// Check runs the preflight checks without starting anything.
func (p *Processor) Check(ctx context.Context) error {
	if p.deps.Preflight == nil {
		return nil
	}
	if err := p.deps.Preflight(ctx); err != nil {
		return fmt.Errorf("preflight: %w", err)
	}
	return nil
}

// Start runs preflight checks, takes the instance lock, starts the watcher
// and the health supervisor, and optionally scans existing files. Startup
// failures are returned before the watcher begins. Cancelling ctx stops
// intake; call Stop to drain.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started || p.stopped {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	p.started = true
	p.mu.Unlock()

	fail := func(err error) error {
		p.mu.Lock()
		p.started = false
		p.mu.Unlock()
		return err
	}

	if err := p.Check(ctx); err != nil {
		return fail(err)
	}
	if p.deps.Lock != nil {
		if err := p.deps.Lock.Acquire(); err != nil {
			return fail(err)
		}
	}

	watchCtx, watchStop := context.WithCancel(ctx)
	// pipelines outlive intake so Stop can drain them
	workCtx, workCancel := context.WithCancel(context.WithoutCancel(ctx))
	p.mu.Lock()
	p.watchCtx, p.watchStop = watchCtx, watchStop
	p.workCtx, p.workCancel = workCtx, workCancel
	p.mu.Unlock()
	p.stats.reset()

	if err := p.startWatcher(watchCtx); err != nil {
		watchStop()
		workCancel()
		if p.deps.Lock != nil {
			_ = p.deps.Lock.Release()
		}
		return fail(fmt.Errorf("start watcher: %w", err))
	}
	metrics.SetWatcherAlive(true)

	go p.health.Run(watchCtx)
	if p.opts.ScanOnStartup {
		go func() {
			if _, err := p.ScanExisting(watchCtx, false); err != nil && watchCtx.Err() == nil {
				p.logger.Warn().Err(err).Msg("startup scan failed")
			}
		}()
	}

	p.logger.Info().
		Str("watch_dir", p.opts.WatchDir).
		Int("concurrency", p.gate.Limit()).
		Dur("debounce", p.opts.Debounce).
		Msg("video processor started")
	return nil
}

// Run starts the processor, blocks until ctx is done, then stops it.
func (p *Processor) Run(ctx context.Context) error {
	if err := p.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return p.Stop()
}

// Stop closes the watcher, cancels pending timers and drains in-flight
// pipelines, waiting up to the shutdown timeout per outstanding permit.
// Pipelines still running after that are cancelled and an error naming them
// is returned.
func (p *Processor) Stop() error {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	w := p.watcher
	watchStop, workCancel := p.watchStop, p.workCancel
	p.mu.Unlock()

	p.logger.Info().Int("outstanding", p.gate.Outstanding()).Msg("stopping video processor")

	watchStop()
	if w != nil {
		if err := w.Stop(); err != nil {
			p.logger.Warn().Err(err).Msg("failed to stop watcher")
		}
	}
	metrics.SetWatcherAlive(false)
	p.debouncer.Stop()

	drainErr := p.gate.Drain(p.opts.ShutdownTimeout)
	if drainErr != nil {
		p.logger.Warn().Err(drainErr).Msg("shutdown timeout reached, cancelling remaining work")
	}
	workCancel()
	p.pipelines.Wait()
	metrics.SetOutstanding(0)

	if p.deps.Lock != nil {
		if err := p.deps.Lock.Release(); err != nil {
			p.logger.Warn().Err(err).Msg("failed to release instance lock")
		}
	}
	p.logger.Info().Msg("video processor stopped")
	return drainErr
}

// WatcherAlive reports whether the current watcher is running.
func (p *Processor) WatcherAlive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.watcher != nil && p.watcher.Alive()
}

// RestartWatcher replaces the watcher with a fresh instance.
func (p *Processor) RestartWatcher(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return ErrNotRunning
	}
	old := p.watcher
	watchCtx := p.watchCtx
	p.mu.Unlock()

	if old != nil {
		_ = old.Stop()
	}
	return p.startWatcher(watchCtx)
}

// Outstanding returns the number of pipelines holding a permit.
func (p *Processor) Outstanding() int { return p.gate.Outstanding() }

// Pending returns the number of paths waiting for their debounce window.
func (p *Processor) Pending() int { return p.debouncer.Pending() }

// Stats returns the processing counters.
func (p *Processor) Stats() Stats { return p.stats.snapshot() }

// Status returns a snapshot of the engine.
func (p *Processor) Status() Status {
	p.mu.Lock()
	running := p.started && !p.stopped
	runs := make([]ActiveRun, 0, len(p.runs))
	for _, r := range p.runs {
		runs = append(runs, r)
	}
	p.mu.Unlock()
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.Before(runs[j].StartedAt) })

	last := p.health.Last()
	return Status{
		Running:       running,
		WatchDir:      p.opts.WatchDir,
		WatcherAlive:  p.WatcherAlive(),
		Pending:       p.debouncer.Pending(),
		Active:        p.debouncer.Active(),
		Outstanding:   p.gate.Outstanding(),
		Limit:         p.gate.Limit(),
		Stats:         p.stats.snapshot(),
		Runs:          runs,
		LastHealth:    last,
		HasHealthData: !last.CheckedAt.IsZero(),
	}
}

// ScanExisting routes every candidate already in the watch directory
// through the idempotency check and the gate, in sorted order. Paths that
// are pending or active are left alone. With wait set it returns after the
// admitted pipelines finish. It returns the number of files admitted.
func (p *Processor) ScanExisting(ctx context.Context, wait bool) (int, error) {
	paths, err := p.listCandidates()
	if err != nil {
		return 0, err
	}
	p.logger.Info().Int("candidates", len(paths)).Msg("scanning existing files")

	var scanWG sync.WaitGroup
	admitted := 0
	for _, path := range paths {
		if ctx.Err() != nil {
			break
		}
		done, ok := p.debouncer.Claim(path)
		if !ok {
			p.logger.Debug().Str("path", path).Msg("already pending or active, skipping")
			continue
		}
		if !p.deps.Candidates.IsReady(ctx, path) {
			p.logger.Debug().Str("path", path).Msg("file not ready, skipping")
			done()
			continue
		}
		if p.admit(ctx, path, done, &scanWG) {
			admitted++
		}
	}
	if wait {
		scanWG.Wait()
	}
	p.logger.Info().Int("admitted", admitted).Msg("scan complete")
	return admitted, ctx.Err()
}

// ProcessFile runs the pipeline for one file synchronously, regardless of
// existing artifacts. progress may be nil.
func (p *Processor) ProcessFile(ctx context.Context, path string, progress func(percent float64)) (*pipeline.Result, error) {
	if !p.deps.Candidates.IsCandidate(path) {
		return nil, fmt.Errorf("%s: %w", path, ErrNotCandidate)
	}
	done, ok := p.debouncer.Claim(path)
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrBusy)
	}
	defer done()

	permit, err := p.gate.Acquire(ctx, filepath.Base(path))
	if err != nil {
		return nil, err
	}
	task := p.newTask(path, permit, time.Now())
	if progress != nil {
		task.Progress = func(pr ffmpeg.Progress) { progress(pr.Percent) }
	}
	return p.execute(ctx, task)
}

func (p *Processor) listCandidates() ([]string, error) {
	var paths []string
	if p.opts.Recursive {
		err := filepath.WalkDir(p.opts.WatchDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.Type().IsRegular() && p.deps.Candidates.IsCandidate(path) {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", p.opts.WatchDir, err)
		}
	} else {
		entries, err := os.ReadDir(p.opts.WatchDir)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", p.opts.WatchDir, err)
		}
		for _, entry := range entries {
			path := filepath.Join(p.opts.WatchDir, entry.Name())
			if entry.Type().IsRegular() && p.deps.Candidates.IsCandidate(path) {
				paths = append(paths, path)
			}
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func (p *Processor) startWatcher(ctx context.Context) error {
	w, err := p.deps.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	p.watcher = w
	p.mu.Unlock()
	go p.forward(w)
	return nil
}

// forward feeds candidate events from w to the debouncer until w's event
// stream closes.
func (p *Processor) forward(w watcher.Watcher) {
	for ev := range w.Events() {
		if !p.deps.Candidates.IsCandidate(ev.Path) {
			continue
		}
		metrics.IncEventObserved(ev.Kind.String())
		p.debouncer.Observe(ev)
		metrics.SetPending(p.debouncer.Pending())
	}
	p.logger.Debug().Msg("watcher event stream closed")
}

// handleReady receives settled paths from the debouncer.
func (p *Processor) handleReady(path string, done func()) {
	p.mu.Lock()
	ctx := p.watchCtx
	p.mu.Unlock()
	if ctx == nil {
		done()
		return
	}
	p.admit(ctx, path, done, nil)
}

// admit runs the idempotency check, waits for a permit and launches the
// pipeline. done is called when the path's processing ends, whether or not
// it was admitted.
func (p *Processor) admit(ctx context.Context, path string, done func(), wg *sync.WaitGroup) bool {
	queued := time.Now()
	log := p.logger.With().Str("path", path).Logger()

	if !p.deps.Checker.NeedsProcessing(path) {
		log.Debug().Msg("artifacts up to date, skipping")
		metrics.IncFileSkipped("up_to_date")
		p.stats.skip()
		p.publish(&realtime.Event{
			Type:    realtime.EventFileSkipped,
			VideoID: p.deps.IDs.ID(path),
			Data:    map[string]any{"path": path, "reason": "up_to_date"},
		})
		done()
		return false
	}

	label := filepath.Base(path)
	permit, ok := p.gate.TryAcquire(label)
	if !ok {
		log.Warn().
			Int("outstanding", p.gate.Outstanding()).
			Int("limit", p.gate.Limit()).
			Msg("concurrency limit reached, waiting for a free slot")
		metrics.IncGateSaturated()
		var err error
		permit, err = p.gate.Acquire(ctx, label)
		if err != nil {
			log.Debug().Err(err).Msg("admission cancelled")
			done()
			return false
		}
	}
	metrics.SetOutstanding(p.gate.Outstanding())

	p.mu.Lock()
	workCtx := p.workCtx
	if p.stopped {
		p.mu.Unlock()
		permit.Release()
		done()
		return false
	}
	p.pipelines.Add(1)
	p.mu.Unlock()
	if workCtx == nil {
		// one-shot use without Start
		workCtx = ctx
	}

	task := p.newTask(path, permit, queued)
	if wg != nil {
		wg.Add(1)
	}
	go func() {
		defer p.pipelines.Done()
		if wg != nil {
			defer wg.Done()
		}
		defer done()
		_, _ = p.execute(workCtx, task)
	}()
	return true
}

func (p *Processor) newTask(path string, permit *gate.Permit, queued time.Time) *pipeline.Task {
	return &pipeline.Task{
		Path:    path,
		VideoID: p.deps.IDs.ID(path),
		RunID:   ulid.Make().String(),
		Permit:  permit,
		Queued:  queued,
	}
}

// execute runs task and records the outcome.
func (p *Processor) execute(ctx context.Context, task *pipeline.Task) (*pipeline.Result, error) {
	p.mu.Lock()
	p.runs[task.RunID] = ActiveRun{RunID: task.RunID, VideoID: task.VideoID, Path: task.Path, StartedAt: time.Now()}
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.runs, task.RunID)
		p.mu.Unlock()
		metrics.SetOutstanding(p.gate.Outstanding())
	}()

	log := p.logger.With().Str("video_id", task.VideoID).Str("path", task.Path).Str("run_id", task.RunID).Logger()
	log.Info().Dur("waited", time.Since(task.Queued)).Msg("processing started")
	p.publishRun(realtime.EventRunStarted, task, map[string]any{"path": task.Path})
	p.trackProgress(task)

	res, err := p.deps.Pipeline.Run(ctx, task)
	if err != nil {
		p.stats.failure()
		stage := pipeline.FailedStage(err)
		log.Error().Err(err).Str("stage", stage).Msg("processing failed")
		p.publishRun(realtime.EventRunFailed, task, map[string]any{"stage": stage, "error": err.Error()})
		return nil, err
	}
	p.stats.success(res.Elapsed)
	log.Info().Dur("elapsed", res.Elapsed).Str("catalog", res.Outcome.String()).Msg("processing complete")
	p.publishRun(realtime.EventRunSucceeded, task, map[string]any{
		"elapsed_seconds": res.Elapsed.Seconds(),
		"catalog":         res.Outcome.String(),
	})
	return res, nil
}

// trackProgress forwards whole-percent transcode progress to the event
// publisher, keeping any caller-supplied callback.
func (p *Processor) trackProgress(task *pipeline.Task) {
	if p.deps.Events == nil {
		return
	}
	inner := task.Progress
	last := -1
	task.Progress = func(pr ffmpeg.Progress) {
		if inner != nil {
			inner(pr)
		}
		pct := int(pr.Percent)
		if pct == last {
			return
		}
		last = pct
		p.publishRun(realtime.EventRunProgress, task, map[string]any{"percent": pct})
	}
}

func (p *Processor) publishRun(typ realtime.EventType, task *pipeline.Task, data map[string]any) {
	p.publish(&realtime.Event{Type: typ, VideoID: task.VideoID, RunID: task.RunID, Data: data})
}

func (p *Processor) publish(event *realtime.Event) {
	if p.deps.Events != nil {
		p.deps.Events.Publish(event)
	}
}
