// file: internal/watcher/poll.go
// version: 1.0.0
// guid: 1d08a9ff-d8f9-40ad-a9a4-58023fb1ef1a

package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

type fileState struct {
	size    int64
	modTime time.Time
}

// Poll watches a directory by comparing periodic listings. It is the
// fallback for filesystems without native notifications.
type Poll struct {
	root      string
	recursive bool
	interval  time.Duration
	logger    zerolog.Logger

	events  chan FileEvent
	stop    chan struct{}
	stopped chan struct{}
	alive   atomic.Bool

	mu       sync.Mutex
	started  bool
	closed   bool
	snapshot map[string]fileState
}

// NewPoll creates a polling watcher.
func NewPoll(root string, recursive bool, interval time.Duration, logger zerolog.Logger) *Poll {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poll{
		root:      filepath.Clean(root),
		recursive: recursive,
		interval:  interval,
		logger:    logger.With().Str("component", "watcher").Str("backend", BackendPoll).Logger(),
		events:    make(chan FileEvent, eventBuffer),
		stop:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

// Start takes a baseline listing and begins polling. Files present at
// Start are not reported.
func (p *Poll) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}
	if p.closed {
		return fmt.Errorf("watcher for %s already stopped", p.root)
	}

	snapshot, err := p.list()
	if err != nil {
		return fmt.Errorf("watch root: %w", err)
	}
	p.snapshot = snapshot
	p.started = true
	p.alive.Store(true)
	go p.loop(ctx)
	p.logger.Info().Str("root", p.root).Dur("interval", p.interval).Msg("polling directory")
	return nil
}

// Stop ends polling and waits for the loop to exit.
func (p *Poll) Stop() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	started := p.started
	p.mu.Unlock()

	close(p.stop)
	if !started {
		close(p.events)
		return nil
	}
	<-p.stopped
	return nil
}

// Events returns the event stream.
func (p *Poll) Events() <-chan FileEvent { return p.events }

// Alive reports whether the poll loop is running.
func (p *Poll) Alive() bool { return p.alive.Load() }

func (p *Poll) loop(ctx context.Context) {
	defer close(p.stopped)
	defer close(p.events)
	defer p.alive.Store(false)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !p.poll() {
				return
			}
		}
	}
}

// poll diffs a fresh listing against the previous one. It returns false if
// the root can no longer be listed.
func (p *Poll) poll() bool {
	current, err := p.list()
	if err != nil {
		p.logger.Error().Err(err).Str("root", p.root).Msg("cannot list watch root")
		return false
	}

	now := time.Now()
	for path, state := range current {
		prev, seen := p.snapshot[path]
		var event FileEvent
		switch {
		case !seen:
			event = FileEvent{Path: path, Kind: Created, ObservedAt: now}
		case prev.size != state.size || !prev.modTime.Equal(state.modTime):
			event = FileEvent{Path: path, Kind: Modified, ObservedAt: now}
		default:
			continue
		}
		select {
		case p.events <- event:
		case <-p.stop:
			return false
		}
	}
	p.snapshot = current
	return true
}

func (p *Poll) list() (map[string]fileState, error) {
	info, err := os.Stat(p.root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", p.root)
	}

	out := make(map[string]fileState)
	err = filepath.WalkDir(p.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if path == p.root {
				return err
			}
			return nil
		}
		if d.IsDir() {
			if path != p.root && !p.recursive {
				return filepath.SkipDir
			}
			return nil
		}
		fi, err := d.Info()
		if err != nil || !fi.Mode().IsRegular() {
			return nil
		}
		out[path] = fileState{size: fi.Size(), modTime: fi.ModTime()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
