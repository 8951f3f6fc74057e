// file: internal/sysinfo/disk_windows.go
// version: 1.0.0
// guid: 0ed5bcd1-a10b-49da-88de-c8e304da5185

//go:build windows

package sysinfo

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// diskStatsPlatform returns total and caller-available bytes for path.
func diskStatsPlatform(path string) (total, free uint64, err error) {
	ptr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid path: %w", err)
	}
	var freeAvailable, totalBytes, totalFree uint64
	if err := windows.GetDiskFreeSpaceEx(ptr, &freeAvailable, &totalBytes, &totalFree); err != nil {
		return 0, 0, err
	}
	return totalBytes, freeAvailable, nil
}
