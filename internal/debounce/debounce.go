// file: internal/debounce/debounce.go
// version: 1.1.0
// guid: 5f513bd6-b0c7-40ac-a276-6d8226ea1bb4

// Package debounce coalesces bursts of file events into one hand-off per
// path once the path has been quiet for a window.
package debounce

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jdfalk/video-autoprocessor/internal/watcher"
)

// DefaultWindow is the quiet period used when none is configured.
const DefaultWindow = 5 * time.Second

// ReadinessChecker reports whether a file is complete enough to process.
type ReadinessChecker interface {
	IsReady(ctx context.Context, path string) bool
}

// ReadyFunc receives a settled path. done must be called exactly once when
// the path's processing finishes; extra calls are ignored.
type ReadyFunc func(path string, done func())

type pendingEntry struct {
	timer *time.Timer
}

// Debouncer keeps a cancellable timer per pending path, the paths whose
// readiness check is running, and the set of paths currently handed off. A
// path is in at most one of the three; all are guarded by mu.
type Debouncer struct {
	window  time.Duration
	checker ReadinessChecker
	onReady ReadyFunc
	logger  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending map[string]*pendingEntry
	active  map[string]struct{}
	// checking maps a path under IsReady to whether an event arrived
	// during the check.
	checking map[string]bool
	stopped  bool
}

// New creates a Debouncer. A nil checker treats every path as ready.
func New(window time.Duration, checker ReadinessChecker, onReady ReadyFunc, logger zerolog.Logger) *Debouncer {
	if window <= 0 {
		window = DefaultWindow
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Debouncer{
		window:  window,
		checker: checker,
		onReady: onReady,
		logger:  logger.With().Str("component", "debounce").Logger(),
		ctx:     ctx,
		cancel:  cancel,
		pending:  make(map[string]*pendingEntry),
		active:   make(map[string]struct{}),
		checking: make(map[string]bool),
	}
}

// Observe records an event. Events for active paths are dropped. Events
// that land while the path's readiness check runs are remembered so a failed
// check re-arms the timer. Otherwise any pending timer for the path is
// replaced by a fresh one.
func (d *Debouncer) Observe(ev watcher.FileEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if _, busy := d.active[ev.Path]; busy {
		d.logger.Debug().Str("path", ev.Path).Str("kind", ev.Kind.String()).Msg("ignoring event for active path")
		return
	}
	if _, ok := d.checking[ev.Path]; ok {
		d.checking[ev.Path] = true
		d.logger.Debug().Str("path", ev.Path).Str("kind", ev.Kind.String()).Msg("event during readiness check")
		return
	}
	d.armLocked(ev.Path)
	d.logger.Debug().Str("path", ev.Path).Str("kind", ev.Kind.String()).Dur("window", d.window).Msg("debounce armed")
}

// armLocked replaces any pending timer for path. mu must be held.
func (d *Debouncer) armLocked(path string) {
	if prev, ok := d.pending[path]; ok {
		prev.timer.Stop()
	}
	entry := &pendingEntry{}
	entry.timer = time.AfterFunc(d.window, func() { d.fire(path, entry) })
	d.pending[path] = entry
}

func (d *Debouncer) fire(path string, entry *pendingEntry) {
	d.mu.Lock()
	if d.stopped || d.pending[path] != entry {
		// superseded by a newer event or cancelled by Stop
		d.mu.Unlock()
		return
	}
	delete(d.pending, path)
	d.checking[path] = false
	d.mu.Unlock()

	ready := d.checker == nil || d.checker.IsReady(d.ctx, path)

	d.mu.Lock()
	touched := d.checking[path]
	delete(d.checking, path)
	if d.stopped {
		d.mu.Unlock()
		return
	}
	if !ready {
		if touched {
			d.armLocked(path)
			d.logger.Debug().Str("path", path).Msg("file changed during readiness check, re-armed")
		} else {
			d.logger.Debug().Str("path", path).Msg("file not ready, dropping")
		}
		d.mu.Unlock()
		return
	}
	d.active[path] = struct{}{}
	d.mu.Unlock()

	done := d.doneFunc(path)
	if d.onReady == nil {
		done()
		return
	}
	d.onReady(path, done)
}

// Claim marks path active without waiting for a debounce window. It fails
// if the path is pending, being checked, already active, or the debouncer
// is stopped.
func (d *Debouncer) Claim(path string) (func(), bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return nil, false
	}
	if _, ok := d.pending[path]; ok {
		return nil, false
	}
	if _, ok := d.checking[path]; ok {
		return nil, false
	}
	if _, ok := d.active[path]; ok {
		return nil, false
	}
	d.active[path] = struct{}{}
	return d.doneFunc(path), true
}

func (d *Debouncer) doneFunc(path string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.active, path)
			d.mu.Unlock()
		})
	}
}

// Checking returns the number of paths whose readiness check is running.
func (d *Debouncer) Checking() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.checking)
}

// Pending returns the number of paths waiting for their window to elapse.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Active returns the number of paths handed off and not yet done.
func (d *Debouncer) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.active)
}

// IsActive reports whether path is currently handed off.
func (d *Debouncer) IsActive(path string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.active[path]
	return ok
}

// Stop cancels every pending timer and refuses further events. Paths
// already handed off stay active until their done func runs.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	cancelled := len(d.pending)
	for path, entry := range d.pending {
		entry.timer.Stop()
		delete(d.pending, path)
	}
	d.mu.Unlock()

	d.cancel()
	d.logger.Debug().Int("cancelled", cancelled).Msg("debouncer stopped")
}
