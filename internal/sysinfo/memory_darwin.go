// file: internal/sysinfo/memory_darwin.go
// version: 2.0.0
// guid: a3fff63e-ea53-4291-85f9-878bb321ec61

//go:build darwin

package sysinfo

import (
	"os"

	"golang.org/x/sys/unix"
)

func readMemoryPlatform() (total, available uint64) {
	total, err := unix.SysctlUint64("hw.memsize")
	if err != nil {
		return 0, 0
	}
	free, err := unix.SysctlUint32("vm.page_free_count")
	if err != nil {
		// no page counters: assume 20% reserved by the system
		return total, total * 80 / 100
	}
	return total, uint64(free) * uint64(os.Getpagesize())
}
