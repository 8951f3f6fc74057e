// file: internal/sysinfo/disk_unix.go
// version: 1.0.0
// guid: a5f873d7-c807-43fe-93de-2ff769fe39a5

//go:build !windows

package sysinfo

import "golang.org/x/sys/unix"

// diskStatsPlatform returns total and caller-available bytes for path.
func diskStatsPlatform(path string) (total, free uint64, err error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, 0, err
	}
	blockSize := uint64(stat.Bsize)
	return uint64(stat.Blocks) * blockSize, uint64(stat.Bavail) * blockSize, nil
}
