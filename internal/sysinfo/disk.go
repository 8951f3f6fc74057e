// file: internal/sysinfo/disk.go
// version: 1.0.0
// guid: c87934c1-c3c4-4d3a-8d9d-e21f7d54dade

package sysinfo

import "fmt"

// diskProvider allows tests to override the platform filesystem query.
var diskProvider = diskStatsPlatform

// DiskStats describes the filesystem holding a path.
type DiskStats struct {
	Path        string  `json:"path"`
	TotalBytes  uint64  `json:"total_bytes"`
	FreeBytes   uint64  `json:"free_bytes"`
	UsedBytes   uint64  `json:"used_bytes"`
	UsedPercent float64 `json:"used_percent"`
}

// GetDiskStats returns usage of the filesystem containing path.
func GetDiskStats(path string) (*DiskStats, error) {
	total, free, err := diskProvider(path)
	if err != nil {
		return nil, fmt.Errorf("disk stats for %s: %w", path, err)
	}
	if free > total {
		free = total
	}
	stats := &DiskStats{Path: path, TotalBytes: total, FreeBytes: free, UsedBytes: total - free}
	if total > 0 {
		stats.UsedPercent = float64(stats.UsedBytes) / float64(total) * 100.0
	}
	return stats, nil
}
