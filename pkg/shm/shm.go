// Package shm provides named, OS-backed shared memory regions used to move
// ownership of a fixed-size byte buffer between execution contexts without
// copying it through messages.
//
// Lifecycle: the producer creates a region sized exactly for one serialized
// batch, writes into it, and passes the region's name along with the work.
// The worker opens the region by name, reads it, and closes its handle in a
// deferred cleanup. Only the side that created the region unlinks it, and
// unlink happens exactly once regardless of outcome.
package shm

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/datapulse-io/batchexport/pkg/exporterrors"
	"github.com/datapulse-io/batchexport/pkg/metrics"
)

var regionSeq atomic.Uint64

// Region is a named shared memory region. The creator owns the name and is
// the only party allowed to unlink it; openers only close their mapping.
type Region struct {
	name  string
	file  *os.File
	data  []byte
	owner bool

	closeOnce  sync.Once
	closeErr   error
	unlinkOnce sync.Once
	unlinkErr  error
}

// Create allocates a new region of exactly size bytes under a generated
// name. The caller owns the region and must eventually call Unlink.
func Create(size int64) (*Region, error) {
	if size <= 0 {
		return nil, exporterrors.Newf(exporterrors.ErrorTypeTransfer,
			"invalid region size: %d", size)
	}

	name := fmt.Sprintf("batchexport-%d-%d", os.Getpid(), regionSeq.Add(1))

	file, err := os.OpenFile(regionPath(name), os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
	if err != nil {
		return nil, exporterrors.Wrap(err, exporterrors.ErrorTypeTransfer,
			"failed to create shared region").WithDetail("region", name)
	}

	if err := file.Truncate(size); err != nil {
		file.Close()
		os.Remove(regionPath(name))
		return nil, exporterrors.Wrap(err, exporterrors.ErrorTypeTransfer,
			"failed to size shared region").WithDetail("region", name)
	}

	data, err := unix.Mmap(int(file.Fd()), 0, int(size),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		os.Remove(regionPath(name))
		return nil, exporterrors.Wrap(err, exporterrors.ErrorTypeTransfer,
			"failed to map shared region").WithDetail("region", name)
	}

	metrics.RegionsActive.Inc()

	return &Region{name: name, file: file, data: data, owner: true}, nil
}

// Open maps an existing region by name. The opener must Close its handle
// when done and must never Unlink.
func Open(name string) (*Region, error) {
	file, err := os.OpenFile(regionPath(name), os.O_RDWR, 0o600)
	if err != nil {
		return nil, exporterrors.Wrap(err, exporterrors.ErrorTypeTransfer,
			"failed to open shared region").WithDetail("region", name)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, exporterrors.Wrap(err, exporterrors.ErrorTypeTransfer,
			"failed to stat shared region").WithDetail("region", name)
	}

	data, err := unix.Mmap(int(file.Fd()), 0, int(stat.Size()),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, exporterrors.Wrap(err, exporterrors.ErrorTypeTransfer,
			"failed to map shared region").WithDetail("region", name)
	}

	return &Region{name: name, file: file, data: data}, nil
}

// Name returns the region's name, the handle passed between contexts.
func (r *Region) Name() string {
	return r.name
}

// Bytes returns the mapped memory. The slice is only valid until Close.
func (r *Region) Bytes() []byte {
	return r.data
}

// Size returns the region size in bytes.
func (r *Region) Size() int64 {
	return int64(len(r.data))
}

// Owner reports whether this handle created the region.
func (r *Region) Owner() bool {
	return r.owner
}

// Close unmaps the region and closes the file handle. Safe to call more
// than once; the name remains valid for other handles until the owner
// unlinks it.
func (r *Region) Close() error {
	r.closeOnce.Do(func() {
		if r.data != nil {
			if err := unix.Munmap(r.data); err != nil {
				r.closeErr = exporterrors.Wrap(err, exporterrors.ErrorTypeTransfer,
					"failed to unmap shared region").WithDetail("region", r.name)
			}
			r.data = nil
		}
		if err := r.file.Close(); err != nil && r.closeErr == nil {
			r.closeErr = exporterrors.Wrap(err, exporterrors.ErrorTypeTransfer,
				"failed to close shared region").WithDetail("region", r.name)
		}
	})
	return r.closeErr
}

// Unlink removes the region's name. Only the creator may unlink, and repeat
// calls are no-ops returning the first result. Any still-open mappings stay
// valid until their handles close.
func (r *Region) Unlink() error {
	if !r.owner {
		return exporterrors.New(exporterrors.ErrorTypeInternal,
			"shared region can only be unlinked by its creator").
			WithDetail("region", r.name)
	}

	r.unlinkOnce.Do(func() {
		if err := os.Remove(regionPath(r.name)); err != nil {
			r.unlinkErr = exporterrors.Wrap(err, exporterrors.ErrorTypeTransfer,
				"failed to unlink shared region").WithDetail("region", r.name)
			return
		}
		metrics.RegionsActive.Dec()
	})
	return r.unlinkErr
}
