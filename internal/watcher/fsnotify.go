// file: internal/watcher/fsnotify.go
// version: 1.0.0
// guid: cda39ba8-9177-44d5-b41c-121d7e169b9a

package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// FSNotify watches a directory using native filesystem notifications.
type FSNotify struct {
	root      string
	recursive bool
	logger    zerolog.Logger

	fsWatcher *fsnotify.Watcher
	events    chan FileEvent
	stop      chan struct{}
	stopped   chan struct{}
	alive     atomic.Bool

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewFSNotify creates an fsnotify-backed watcher for root.
func NewFSNotify(root string, recursive bool, logger zerolog.Logger) *FSNotify {
	return &FSNotify{
		root:      filepath.Clean(root),
		recursive: recursive,
		logger:    logger.With().Str("component", "watcher").Str("backend", BackendFSNotify).Logger(),
		events:    make(chan FileEvent, eventBuffer),
		stop:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

// Start begins watching. Calling Start twice is a no-op.
func (w *FSNotify) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	if w.closed {
		return fmt.Errorf("watcher for %s already stopped", w.root)
	}

	info, err := os.Stat(w.root)
	if err != nil {
		return fmt.Errorf("watch root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch root %s is not a directory", w.root)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	w.fsWatcher = fsw

	if w.recursive {
		err = w.addRecursive(w.root)
	} else {
		err = fsw.Add(w.root)
	}
	if err != nil {
		fsw.Close()
		return fmt.Errorf("watch %s: %w", w.root, err)
	}

	w.started = true
	w.alive.Store(true)
	go w.eventLoop(ctx)
	w.logger.Info().Str("root", w.root).Bool("recursive", w.recursive).Msg("watching directory")
	return nil
}

// Stop shuts the watcher down and waits for the event loop to exit.
// It is safe to call more than once.
func (w *FSNotify) Stop() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	started := w.started
	w.mu.Unlock()

	close(w.stop)
	if !started {
		close(w.events)
		return nil
	}
	err := w.fsWatcher.Close()
	<-w.stopped
	return err
}

// Events returns the event stream.
func (w *FSNotify) Events() <-chan FileEvent { return w.events }

// Alive reports whether the event loop is running.
func (w *FSNotify) Alive() bool { return w.alive.Load() }

func (w *FSNotify) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil // skip inaccessible dirs
		}
		if d.IsDir() {
			if watchErr := w.fsWatcher.Add(path); watchErr != nil {
				if path == root {
					return watchErr
				}
				w.logger.Warn().Err(watchErr).Str("path", path).Msg("cannot watch directory")
			}
		}
		return nil
	})
}

func (w *FSNotify) eventLoop(ctx context.Context) {
	defer close(w.stopped)
	defer close(w.events)
	defer w.alive.Store(false)

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				w.logger.Warn().Msg("fsnotify event stream closed")
				return
			}
			if !w.handleEvent(event) {
				return
			}
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				w.logger.Warn().Msg("fsnotify error stream closed")
				return
			}
			w.logger.Error().Err(err).Msg("watcher error")
		}
	}
}

// handleEvent translates and forwards one fsnotify event. It returns false
// when the watched root itself went away.
func (w *FSNotify) handleEvent(event fsnotify.Event) bool {
	path := filepath.Clean(event.Name)
	if path == w.root && event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		w.logger.Error().Str("root", w.root).Msg("watch root removed")
		return false
	}

	var kind EventKind
	switch {
	case event.Op&fsnotify.Create != 0:
		kind = Created
		info, err := os.Stat(path)
		if err != nil {
			return true
		}
		if info.IsDir() {
			if w.recursive {
				_ = w.addRecursive(path)
			}
			return true
		}
		if time.Since(info.ModTime()) > time.Second {
			// renamed into place: content predates the event
			kind = MovedIn
		}
	case event.Op&fsnotify.Write != 0:
		kind = Modified
	default:
		return true
	}

	select {
	case w.events <- FileEvent{Path: path, Kind: kind, ObservedAt: time.Now()}:
	case <-w.stop:
		return false
	}
	return true
}
