// file: internal/gate/gate_test.go
// version: 1.0.0
// guid: 6a13fdda-5514-476f-a80b-382cf84bf75d

package gate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryAcquireRespectsLimit(t *testing.T) {
	g := New(2)

	p1, ok := g.TryAcquire("a")
	require.True(t, ok)
	p2, ok := g.TryAcquire("b")
	require.True(t, ok)

	_, ok = g.TryAcquire("c")
	assert.False(t, ok)
	assert.Equal(t, 2, g.Outstanding())

	p1.Release()
	assert.Equal(t, 1, g.Outstanding())
	p2.Release()
	assert.Equal(t, 0, g.Outstanding())
}

func TestThirdAcquireBlocksUntilRelease(t *testing.T) {
	g := New(2)
	p1, _ := g.TryAcquire("a")
	_, _ = g.TryAcquire("b")

	acquired := make(chan *Permit, 1)
	go func() {
		p, err := g.Acquire(context.Background(), "c")
		if err == nil {
			acquired <- p
		}
	}()

	select {
	case <-acquired:
		t.Fatal("third acquire should block while two permits are held")
	case <-time.After(100 * time.Millisecond):
	}

	p1.Release()
	select {
	case p := <-acquired:
		assert.Equal(t, "c", p.Label())
	case <-time.After(time.Second):
		t.Fatal("third acquire did not proceed after release")
	}
	assert.Equal(t, 2, g.Outstanding())
}

func TestReleaseIsIdempotent(t *testing.T) {
	g := New(2)
	p, _ := g.TryAcquire("a")
	other, _ := g.TryAcquire("b")

	p.Release()
	p.Release()
	p.Release()
	assert.Equal(t, 1, g.Outstanding())

	other.Release()
	assert.Equal(t, 0, g.Outstanding())

	var nilPermit *Permit
	nilPermit.Release()
}

func TestConcurrentHoldersNeverExceedLimit(t *testing.T) {
	g := New(3)
	var current, peak atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := g.Acquire(context.Background(), "worker")
			if err != nil {
				return
			}
			defer p.Release()

			n := current.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			current.Add(-1)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Equal(t, 0, g.Outstanding())
}

func TestAcquireHonoursContext(t *testing.T) {
	g := New(1)
	_, _ = g.TryAcquire("a")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := g.Acquire(ctx, "b")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDrainWaitsForRelease(t *testing.T) {
	g := New(2)
	p, _ := g.TryAcquire("slow")

	go func() {
		time.Sleep(50 * time.Millisecond)
		p.Release()
	}()

	require.NoError(t, g.Drain(time.Second))
	assert.Equal(t, 0, g.Outstanding())

	_, ok := g.TryAcquire("late")
	assert.False(t, ok)
	_, err := g.Acquire(context.Background(), "late")
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestDrainTimesOut(t *testing.T) {
	g := New(2)
	p, _ := g.TryAcquire("stuck.mp4")
	defer p.Release()

	err := g.Drain(30 * time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stuck.mp4")
}

func TestDrainUnblocksWaiters(t *testing.T) {
	g := New(1)
	p, _ := g.TryAcquire("a")

	errs := make(chan error, 1)
	go func() {
		_, err := g.Acquire(context.Background(), "b")
		errs <- err
	}()
	time.Sleep(20 * time.Millisecond)

	go func() {
		time.Sleep(20 * time.Millisecond)
		p.Release()
	}()
	require.NoError(t, g.Drain(time.Second))

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("waiter still blocked after drain")
	}
}

func TestNewClampsLimit(t *testing.T) {
	assert.Equal(t, 1, New(0).Limit())
}
