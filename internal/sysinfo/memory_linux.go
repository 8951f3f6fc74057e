// file: internal/sysinfo/memory_linux.go
// version: 2.0.0
// guid: 9f8cbf73-8527-4fdb-bd06-be2b6cb078bd

//go:build linux

package sysinfo

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"
)

func readMemoryPlatform() (total, available uint64) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, 0
	}
	defer f.Close()
	return parseMeminfo(f)
}

// parseMeminfo extracts MemTotal and MemAvailable, reported in kB.
func parseMeminfo(r io.Reader) (total, available uint64) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total = kb * 1024
		case "MemAvailable:":
			available = kb * 1024
		}
	}
	return total, available
}
