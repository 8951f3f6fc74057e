// file: internal/processor/stats_test.go
// version: 1.0.0
// guid: efeaaa9c-9104-4a44-bcad-0438669b2c4b

package processor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsSnapshot(t *testing.T) {
	// Arrange
	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := newStatsTracker(func() time.Time { return clock })

	// Act
	s.success(2 * time.Second)
	s.success(4 * time.Second)
	s.failure()
	s.skip()
	clock = clock.Add(90 * time.Second)
	snap := s.snapshot()

	// Assert
	assert.Equal(t, 3, snap.Total)
	assert.Equal(t, 2, snap.Succeeded)
	assert.Equal(t, 1, snap.Failed)
	assert.Equal(t, 1, snap.Skipped)
	assert.InDelta(t, 66.67, snap.SuccessRate, 0.01)
	assert.InDelta(t, 3.0, snap.AverageSeconds, 0.001)
	assert.Equal(t, "1m30s", snap.Uptime)
	require.NotNil(t, snap.LastProcessedAt)
}

func TestStatsEmpty(t *testing.T) {
	s := newStatsTracker(time.Now)
	snap := s.snapshot()
	assert.Equal(t, 0.0, snap.SuccessRate)
	assert.Equal(t, 0.0, snap.AverageSeconds)
	assert.Nil(t, snap.LastProcessedAt)
}

func TestStatsAverageUsesRecentWindow(t *testing.T) {
	s := newStatsTracker(time.Now)
	for i := 0; i < recentWindow; i++ {
		s.success(time.Second)
	}
	for i := 0; i < recentWindow; i++ {
		s.success(3 * time.Second)
	}
	snap := s.snapshot()
	assert.InDelta(t, 3.0, snap.AverageSeconds, 0.001)
	assert.Equal(t, 2*recentWindow, snap.Succeeded)
}
