// file: internal/sysinfo/memory_windows.go
// version: 2.0.0
// guid: d4bd80f4-a53e-48ac-9621-3f61d7dca063

//go:build windows

package sysinfo

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

func readMemoryPlatform() (total, available uint64) {
	var status windows.MemoryStatusEx
	status.Length = uint32(unsafe.Sizeof(status))
	if err := windows.GlobalMemoryStatusEx(&status); err != nil {
		return 0, 0
	}
	return status.TotalPhys, status.AvailPhys
}
