// file: internal/health/health.go
// version: 1.0.0
// guid: 78b1383b-687a-4e08-87aa-90ec5d7eb0c4

// Package health periodically verifies the watcher is alive, restarting it
// when it has died, and reports host resource usage.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jdfalk/video-autoprocessor/internal/metrics"
	"github.com/jdfalk/video-autoprocessor/internal/sysinfo"
)

// DefaultInterval is used when no interval is configured.
const DefaultInterval = 60 * time.Second

// DefaultWarnPercent is the usage level above which resources are reported.
const DefaultWarnPercent = 90.0

// WatcherController is the part of the engine the supervisor manages.
type WatcherController interface {
	WatcherAlive() bool
	RestartWatcher(ctx context.Context) error
}

// Gauges is the engine's live queue state.
type Gauges interface {
	Outstanding() int
	Pending() int
}

// Options configures a Supervisor.
type Options struct {
	Interval    time.Duration
	WarnPercent float64
	DiskPath    string // filesystem checked for free space
}

// Report is the outcome of one check.
type Report struct {
	CheckedAt        time.Time            `json:"checked_at"`
	WatcherAlive     bool                 `json:"watcher_alive"`
	WatcherRestarted bool                 `json:"watcher_restarted"`
	RestartError     string               `json:"restart_error,omitempty"`
	Memory           *sysinfo.MemoryStats `json:"memory,omitempty"`
	Disk             *sysinfo.DiskStats   `json:"disk,omitempty"`
	Warnings         []string             `json:"warnings,omitempty"`
	Outstanding      int                  `json:"outstanding"`
	Pending          int                  `json:"pending"`
}

// Healthy reports whether the watcher ended the check alive.
func (r Report) Healthy() bool {
	return r.WatcherAlive && r.RestartError == ""
}

// Supervisor runs health checks on a ticker.
type Supervisor struct {
	opts    Options
	watcher WatcherController
	gauges  Gauges
	logger  zerolog.Logger

	memoryStats func() (*sysinfo.MemoryStats, error)
	diskStats   func(path string) (*sysinfo.DiskStats, error)

	mu   sync.RWMutex
	last Report
}

// New creates a Supervisor. gauges may be nil.
func New(opts Options, watcher WatcherController, gauges Gauges, logger zerolog.Logger) *Supervisor {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.WarnPercent <= 0 {
		opts.WarnPercent = DefaultWarnPercent
	}
	return &Supervisor{
		opts:        opts,
		watcher:     watcher,
		gauges:      gauges,
		logger:      logger.With().Str("component", "health").Logger(),
		memoryStats: sysinfo.GetMemoryStats,
		diskStats:   sysinfo.GetDiskStats,
	}
}

// Run checks on every tick until ctx is done.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	s.logger.Debug().Dur("interval", s.opts.Interval).Msg("health supervisor started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug().Msg("health supervisor stopped")
			return
		case <-ticker.C:
			s.CheckOnce(ctx)
		}
	}
}

// CheckOnce performs a single check and returns its report.
func (s *Supervisor) CheckOnce(ctx context.Context) Report {
	report := Report{CheckedAt: time.Now()}

	report.WatcherAlive = s.watcher.WatcherAlive()
	if !report.WatcherAlive && ctx.Err() == nil {
		s.logger.Warn().Msg("watcher is not running, restarting")
		metrics.IncWatcherRestart()
		report.WatcherRestarted = true
		if err := s.watcher.RestartWatcher(ctx); err != nil {
			report.RestartError = err.Error()
			s.logger.Error().Err(err).Msg("failed to restart watcher")
		} else {
			report.WatcherAlive = s.watcher.WatcherAlive()
			s.logger.Info().Msg("watcher restarted")
		}
	}
	metrics.SetWatcherAlive(report.WatcherAlive)

	if mem, err := s.memoryStats(); err != nil {
		s.logger.Debug().Err(err).Msg("memory stats unavailable")
	} else {
		report.Memory = mem
		metrics.SetMemoryAlloc(mem.ProcessBytes)
		metrics.SetGoroutines(mem.Goroutines)
		if mem.Known() {
			metrics.SetMemoryUsedPercent(mem.UsedPercent)
			if mem.UsedPercent > s.opts.WarnPercent {
				report.Warnings = append(report.Warnings, "memory usage high")
				s.logger.Warn().Float64("used_percent", mem.UsedPercent).Msg("memory usage high")
			}
		}
	}

	if s.opts.DiskPath != "" {
		if disk, err := s.diskStats(s.opts.DiskPath); err != nil {
			s.logger.Debug().Err(err).Str("path", s.opts.DiskPath).Msg("disk stats unavailable")
		} else {
			report.Disk = disk
			metrics.SetDiskUsedPercent(disk.UsedPercent)
			if disk.UsedPercent > s.opts.WarnPercent {
				report.Warnings = append(report.Warnings, "disk usage high")
				s.logger.Warn().Float64("used_percent", disk.UsedPercent).Str("path", disk.Path).Msg("disk usage high")
			}
		}
	}

	if s.gauges != nil {
		report.Outstanding = s.gauges.Outstanding()
		report.Pending = s.gauges.Pending()
		metrics.SetOutstanding(report.Outstanding)
		metrics.SetPending(report.Pending)
	}

	event := s.logger.Info()
	if len(report.Warnings) > 0 || !report.Healthy() {
		event = s.logger.Warn()
	}
	event.Bool("watcher_alive", report.WatcherAlive).
		Int("outstanding", report.Outstanding).
		Int("pending", report.Pending).
		Strs("warnings", report.Warnings).
		Msg("health check")

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()
	return report
}

// Last returns the most recent report. CheckedAt is zero before the first
// check.
func (s *Supervisor) Last() Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}
