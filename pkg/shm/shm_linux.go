//go:build linux
// +build linux

package shm

import "path/filepath"

// regionPath resolves a region name to its backing file. Linux exposes
// POSIX shared memory as files under /dev/shm, so regions live in RAM and
// never touch disk.
func regionPath(name string) string {
	return filepath.Join("/dev/shm", name)
}
