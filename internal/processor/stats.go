// file: internal/processor/stats.go
// version: 1.0.0
// guid: b884230f-8e86-4b18-ab90-cbc74feddf84

package processor

import (
	"sync"
	"time"
)

// recentWindow is how many pipeline durations feed the running average.
const recentWindow = 100

// Stats is a snapshot of processing counters.
type Stats struct {
	Total           int        `json:"total"`
	Succeeded       int        `json:"succeeded"`
	Failed          int        `json:"failed"`
	Skipped         int        `json:"skipped"`
	SuccessRate     float64    `json:"success_rate"`
	AverageSeconds  float64    `json:"average_seconds"`
	LastProcessedAt *time.Time `json:"last_processed_at,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	Uptime          string     `json:"uptime"`
}

type statsTracker struct {
	mu        sync.Mutex
	now       func() time.Time
	startedAt time.Time
	succeeded int
	failed    int
	skipped   int
	last      time.Time
	recent    []time.Duration
	next      int
}

func newStatsTracker(now func() time.Time) *statsTracker {
	return &statsTracker{now: now, startedAt: now()}
}

func (s *statsTracker) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startedAt = s.now()
}

func (s *statsTracker) success(elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.succeeded++
	s.last = s.now()
	if len(s.recent) < recentWindow {
		s.recent = append(s.recent, elapsed)
		return
	}
	s.recent[s.next] = elapsed
	s.next = (s.next + 1) % recentWindow
}

func (s *statsTracker) failure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed++
	s.last = s.now()
}

func (s *statsTracker) skip() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skipped++
}

func (s *statsTracker) snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Stats{
		Succeeded: s.succeeded,
		Failed:    s.failed,
		Skipped:   s.skipped,
		Total:     s.succeeded + s.failed,
		StartedAt: s.startedAt,
		Uptime:    s.now().Sub(s.startedAt).Truncate(time.Second).String(),
	}
	if out.Total > 0 {
		out.SuccessRate = float64(s.succeeded) / float64(out.Total) * 100
	}
	if len(s.recent) > 0 {
		var sum time.Duration
		for _, d := range s.recent {
			sum += d
		}
		out.AverageSeconds = (sum / time.Duration(len(s.recent))).Seconds()
	}
	if !s.last.IsZero() {
		last := s.last
		out.LastProcessedAt = &last
	}
	return out
}
