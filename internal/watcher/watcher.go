// file: internal/watcher/watcher.go
// version: 3.0.0
// guid: a508851f-1332-4878-ad08-42c45518c79f

// Package watcher reports file arrivals and modifications under a directory.
package watcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// EventKind classifies a filesystem observation.
type EventKind int

const (
	// Created is a new file appearing in the watched tree.
	Created EventKind = iota
	// Modified is a write to an existing file.
	Modified
	// MovedIn is a file renamed into the watched tree.
	MovedIn
)

func (k EventKind) String() string {
	switch k {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case MovedIn:
		return "moved-in"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// FileEvent is one observation of a file path.
type FileEvent struct {
	Path       string
	Kind       EventKind
	ObservedAt time.Time
}

// Watcher is the narrow interface the processor consumes. A stopped
// watcher is not restarted; callers build a new one.
type Watcher interface {
	// Start begins observing. The events channel is closed when the
	// watcher stops for any reason.
	Start(ctx context.Context) error
	Stop() error
	Events() <-chan FileEvent
	// Alive reports whether the observation loop is still running.
	Alive() bool
}

// Backend names accepted by New.
const (
	BackendFSNotify = "fsnotify"
	BackendPoll     = "poll"
)

// DefaultPollInterval is used when a poll watcher is built without one.
const DefaultPollInterval = 2 * time.Second

// eventBuffer is the capacity of the events channel.
const eventBuffer = 256

// Options configures a watcher.
type Options struct {
	Root         string
	Recursive    bool
	Backend      string
	PollInterval time.Duration
}

// New builds the watcher selected by opts.Backend.
func New(opts Options, logger zerolog.Logger) (Watcher, error) {
	switch strings.ToLower(opts.Backend) {
	case "", BackendFSNotify:
		return NewFSNotify(opts.Root, opts.Recursive, logger), nil
	case BackendPoll:
		return NewPoll(opts.Root, opts.Recursive, opts.PollInterval, logger), nil
	default:
		return nil, fmt.Errorf("unknown watcher backend %q", opts.Backend)
	}
}
