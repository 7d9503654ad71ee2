package shm

import (
	"bytes"

	"github.com/datapulse-io/batchexport/pkg/batch"
	"github.com/datapulse-io/batchexport/pkg/exporterrors"
)

// sliceWriter writes into a preallocated buffer, failing if the content
// outgrows it. The region is sized by an exact measurement pass, so an
// overflow means the serialized form was not deterministic.
type sliceWriter struct {
	buf []byte
	off int
}

func (w *sliceWriter) Write(p []byte) (int, error) {
	if w.off+len(p) > len(w.buf) {
		return 0, exporterrors.Newf(exporterrors.ErrorTypeTransfer,
			"serialized batch exceeds region size %d", len(w.buf))
	}
	copy(w.buf[w.off:], p)
	w.off += len(p)
	return len(p), nil
}

// WriteBatch serializes one batch into a newly created region sized exactly
// to hold it. The producer's mapping is closed before returning; the caller
// keeps the returned handle solely to unlink the name once the consuming
// side is done with it.
func WriteBatch(b *batch.Batch) (*Region, error) {
	size, err := batch.SerializedSize(b.Record())
	if err != nil {
		return nil, exporterrors.Wrap(err, exporterrors.ErrorTypeTransfer,
			"failed to measure serialized batch")
	}

	region, err := Create(size)
	if err != nil {
		return nil, err
	}

	if err := batch.WriteIPC(&sliceWriter{buf: region.Bytes()}, b.Record()); err != nil {
		region.Close()
		region.Unlink()
		return nil, exporterrors.Wrap(err, exporterrors.ErrorTypeTransfer,
			"failed to write batch into shared region").WithDetail("region", region.Name())
	}

	if err := region.Close(); err != nil {
		region.Unlink()
		return nil, err
	}

	return region, nil
}

// ReadBatch opens a region by name, deserializes the batch it holds, and
// re-marks the JSON columns that were flattened for transport. The reader's
// handle is closed before returning; the returned batch owns independent
// column storage and must be released by the caller.
func ReadBatch(name string, jsonColumns []string) (*batch.Batch, error) {
	region, err := Open(name)
	if err != nil {
		return nil, err
	}
	defer region.Close()

	rec, err := batch.ReadIPC(bytes.NewReader(region.Bytes()))
	if err != nil {
		return nil, exporterrors.Wrap(err, exporterrors.ErrorTypeTransfer,
			"failed to read batch from shared region").WithDetail("region", name)
	}

	b := batch.New(rec)
	if len(jsonColumns) > 0 {
		b = b.WithJSONColumns(jsonColumns...)
	}
	return b, nil
}
