package batch

import (
	"bytes"
	"testing"
)

func TestIPCRoundTrip(t *testing.T) {
	b := buildBatch(t)
	defer b.Release()

	var buf bytes.Buffer
	if err := WriteIPC(&buf, b.Record()); err != nil {
		t.Fatalf("WriteIPC failed: %v", err)
	}

	rec, err := ReadIPC(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("ReadIPC failed: %v", err)
	}
	defer rec.Release()

	if rec.NumRows() != b.NumRows() {
		t.Errorf("expected %d rows, got %d", b.NumRows(), rec.NumRows())
	}
	if !rec.Schema().Equal(b.Schema()) {
		t.Errorf("schema mismatch: %v != %v", rec.Schema(), b.Schema())
	}
}

// SerializedSize must exactly match the written stream so the shared region
// can be allocated at the precise size.
func TestSerializedSizeExact(t *testing.T) {
	b := buildBatch(t)
	defer b.Release()

	size, err := SerializedSize(b.Record())
	if err != nil {
		t.Fatalf("SerializedSize failed: %v", err)
	}

	var buf bytes.Buffer
	if err := WriteIPC(&buf, b.Record()); err != nil {
		t.Fatalf("WriteIPC failed: %v", err)
	}

	if size != int64(buf.Len()) {
		t.Errorf("expected size %d, got %d", buf.Len(), size)
	}
}

func TestReadIPCEmptyRecord(t *testing.T) {
	var buf bytes.Buffer
	b := buildBatch(t)
	defer b.Release()

	empty := b.Record().NewSlice(0, 0)
	defer empty.Release()
	if err := WriteIPC(&buf, empty); err != nil {
		t.Fatalf("WriteIPC failed: %v", err)
	}
	rec, err := ReadIPC(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("ReadIPC failed: %v", err)
	}
	defer rec.Release()
	if rec.NumRows() != 0 {
		t.Errorf("expected 0 rows, got %d", rec.NumRows())
	}
}
