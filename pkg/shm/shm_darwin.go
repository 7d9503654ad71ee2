//go:build darwin
// +build darwin

package shm

import (
	"os"
	"path/filepath"
)

// regionPath resolves a region name to its backing file. Darwin has no
// /dev/shm, so regions are backed by files in the temporary directory and
// rely on the page cache to stay memory-resident.
func regionPath(name string) string {
	return filepath.Join(os.TempDir(), name)
}
