// file: internal/sysinfo/memory_test.go
// version: 2.0.0
// guid: 1adb715e-a96b-4870-a3e9-9bd2232e3c71

package sysinfo

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetMemoryStats(t *testing.T) {
	stats, err := GetMemoryStats()
	if err != nil {
		t.Fatalf("GetMemoryStats failed: %v", err)
	}
	if stats == nil {
		t.Fatal("GetMemoryStats returned nil stats")
	}

	if stats.UsedPercent < 0 || stats.UsedPercent > 100 {
		t.Errorf("Used percent should be between 0 and 100, got %.2f", stats.UsedPercent)
	}
	if stats.Known() && stats.UsedBytes+stats.AvailableBytes != stats.TotalBytes {
		t.Error("used + available should equal total")
	}
	assert.Greater(t, stats.ProcessBytes, uint64(0))
	assert.Greater(t, stats.Goroutines, 0)
}

func TestGetMemoryStatsOverride(t *testing.T) {
	original := memoryProvider
	t.Cleanup(func() { memoryProvider = original })

	memoryProvider = func() (uint64, uint64) { return 1000, 250 }
	stats, err := GetMemoryStats()
	require.NoError(t, err)
	assert.Equal(t, uint64(750), stats.UsedBytes)
	assert.InDelta(t, 75.0, stats.UsedPercent, 0.001)

	memoryProvider = func() (uint64, uint64) { return 0, 0 }
	stats, err = GetMemoryStats()
	require.NoError(t, err)
	assert.False(t, stats.Known())
	assert.Equal(t, 0.0, stats.UsedPercent)

	memoryProvider = func() (uint64, uint64) { return 100, 500 }
	stats, err = GetMemoryStats()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), stats.UsedBytes)
}

func TestGetDiskStats(t *testing.T) {
	stats, err := GetDiskStats(t.TempDir())
	require.NoError(t, err)
	assert.Greater(t, stats.TotalBytes, uint64(0))
	assert.LessOrEqual(t, stats.FreeBytes, stats.TotalBytes)
}

func TestGetDiskStatsOverride(t *testing.T) {
	original := diskProvider
	t.Cleanup(func() { diskProvider = original })

	diskProvider = func(string) (uint64, uint64, error) { return 200, 10, nil }
	stats, err := GetDiskStats("/data")
	require.NoError(t, err)
	assert.InDelta(t, 95.0, stats.UsedPercent, 0.001)
	assert.Equal(t, "/data", stats.Path)

	diskProvider = func(string) (uint64, uint64, error) { return 0, 0, errors.New("no such device") }
	_, err = GetDiskStats("/missing")
	assert.Error(t, err)
}
