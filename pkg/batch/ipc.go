package batch

import (
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
)

// countingWriter counts bytes without retaining them. It plays the role of a
// measurement sink for sizing a serialized record before allocating the
// shared region that will hold it.
type countingWriter struct {
	n int64
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n += int64(len(p))
	return len(p), nil
}

// SerializedSize returns the exact byte size of rec encoded as a
// single-batch Arrow IPC stream.
func SerializedSize(rec arrow.Record) (int64, error) {
	var cw countingWriter
	if err := WriteIPC(&cw, rec); err != nil {
		return 0, err
	}
	return cw.n, nil
}

// WriteIPC writes rec to w as a single-batch Arrow IPC stream, including
// the end-of-stream marker.
func WriteIPC(w io.Writer, rec arrow.Record) error {
	writer := ipc.NewWriter(w, ipc.WithSchema(rec.Schema()))

	if err := writer.Write(rec); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write record batch: %w", err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close IPC writer: %w", err)
	}

	return nil
}

// ReadIPC reads the single record batch from an Arrow IPC stream. The
// returned record is retained and must be released by the caller.
func ReadIPC(r io.Reader) (arrow.Record, error) {
	reader, err := ipc.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open IPC stream: %w", err)
	}
	defer reader.Release()

	if !reader.Next() {
		if err := reader.Err(); err != nil {
			return nil, fmt.Errorf("failed to read record batch: %w", err)
		}
		return nil, fmt.Errorf("IPC stream contains no record batch")
	}

	rec := reader.Record()
	rec.Retain()
	return rec, nil
}
