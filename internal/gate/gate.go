// file: internal/gate/gate.go
// version: 1.0.0
// guid: 7032185d-1647-45c5-9b02-c749728fddaa

// Package gate bounds the number of pipelines running at once.
package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultLimit is the stock number of concurrent pipelines.
const DefaultLimit = 2

// ErrClosed is returned by Acquire after Drain has begun.
var ErrClosed = errors.New("gate: closed")

// Gate is a counting permit pool backed by a buffered channel.
type Gate struct {
	slots  chan struct{}
	limit  int
	nextID atomic.Uint64

	mu     sync.Mutex
	held   map[uint64]*Permit
	closed bool
	// closedCh unblocks waiters once Drain starts
	closedCh chan struct{}
}

// Permit is one admission. Release is idempotent.
type Permit struct {
	id      uint64
	label   string
	gate    *Gate
	once    sync.Once
	granted time.Time
}

// New creates a gate admitting at most limit holders. Limits below one are
// raised to one.
func New(limit int) *Gate {
	if limit < 1 {
		limit = 1
	}
	return &Gate{
		slots:    make(chan struct{}, limit),
		limit:    limit,
		held:     make(map[uint64]*Permit),
		closedCh: make(chan struct{}),
	}
}

// Limit returns the configured capacity.
func (g *Gate) Limit() int { return g.limit }

// Outstanding returns the number of permits currently held.
func (g *Gate) Outstanding() int { return len(g.slots) }

// TryAcquire takes a permit without blocking. label names the holder in
// Drain errors.
func (g *Gate) TryAcquire(label string) (*Permit, bool) {
	g.mu.Lock()
	closed := g.closed
	g.mu.Unlock()
	if closed {
		return nil, false
	}
	select {
	case g.slots <- struct{}{}:
		return g.register(label), true
	default:
		return nil, false
	}
}

// Acquire blocks until a permit is free, ctx is done, or the gate closes.
func (g *Gate) Acquire(ctx context.Context, label string) (*Permit, error) {
	g.mu.Lock()
	closed := g.closed
	g.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	select {
	case g.slots <- struct{}{}:
		return g.register(label), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-g.closedCh:
		return nil, ErrClosed
	}
}

func (g *Gate) register(label string) *Permit {
	p := &Permit{id: g.nextID.Add(1), label: label, gate: g, granted: time.Now()}
	g.mu.Lock()
	g.held[p.id] = p
	g.mu.Unlock()
	return p
}

// Label returns the holder name given at acquisition.
func (p *Permit) Label() string { return p.label }

// Held returns how long the permit has been held.
func (p *Permit) Held() time.Duration { return time.Since(p.granted) }

// Release returns the permit to the pool. Only the first call has effect.
func (p *Permit) Release() {
	if p == nil {
		return
	}
	p.once.Do(func() {
		p.gate.mu.Lock()
		delete(p.gate.held, p.id)
		p.gate.mu.Unlock()
		<-p.gate.slots
	})
}

// Drain closes the gate to new acquisitions and waits for held permits to
// be released, allowing up to perPermitTimeout for each permit outstanding
// when Drain starts. It returns an error naming the permits still held.
func (g *Gate) Drain(perPermitTimeout time.Duration) error {
	g.mu.Lock()
	if !g.closed {
		g.closed = true
		close(g.closedCh)
	}
	g.mu.Unlock()

	outstanding := g.Outstanding()
	if outstanding == 0 {
		return nil
	}

	deadline := time.Now().Add(time.Duration(outstanding) * perPermitTimeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for g.Outstanding() > 0 {
		if time.Now().After(deadline) {
			return fmt.Errorf("gate: %d permit(s) still held after drain: %v", g.Outstanding(), g.heldLabels())
		}
		<-ticker.C
	}
	return nil
}

func (g *Gate) heldLabels() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	labels := make([]string, 0, len(g.held))
	for _, p := range g.held {
		labels = append(labels, p.label)
	}
	return labels
}
