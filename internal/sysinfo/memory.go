// file: internal/sysinfo/memory.go
// version: 2.0.0
// guid: 8426ae9e-2f93-49bb-a8df-6c9a8ea7fa0b

// Package sysinfo reports host memory and disk usage for health checks.
package sysinfo

import (
	"runtime"
)

// memoryProvider allows tests to override platform memory queries. It
// returns total and available bytes; zero total means unknown.
var memoryProvider = readMemoryPlatform

// MemoryStats represents comprehensive memory statistics
type MemoryStats struct {
	TotalBytes     uint64  `json:"total_bytes"`
	AvailableBytes uint64  `json:"available_bytes"`
	UsedBytes      uint64  `json:"used_bytes"`
	UsedPercent    float64 `json:"used_percent"`
	// ProcessBytes is memory obtained from the OS by this process.
	ProcessBytes uint64 `json:"process_bytes"`
	Goroutines   int    `json:"goroutines"`
}

// Known reports whether host totals were available.
func (m *MemoryStats) Known() bool { return m.TotalBytes > 0 }

// GetMemoryStats returns current system memory statistics
func GetMemoryStats() (*MemoryStats, error) {
	var rt runtime.MemStats
	runtime.ReadMemStats(&rt)

	stats := &MemoryStats{
		ProcessBytes: rt.Sys,
		Goroutines:   runtime.NumGoroutine(),
	}

	total, available := memoryProvider()
	if total == 0 {
		return stats, nil
	}
	if available > total {
		available = total
	}
	stats.TotalBytes = total
	stats.AvailableBytes = available
	stats.UsedBytes = total - available
	stats.UsedPercent = float64(stats.UsedBytes) / float64(total) * 100.0
	return stats, nil
}
