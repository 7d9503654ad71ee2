package segment

import (
	"context"
	"testing"

	ptestutil "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/datapulse-io/batchexport/pkg/batch"
	"github.com/datapulse-io/batchexport/pkg/codec"
	"github.com/datapulse-io/batchexport/pkg/metrics"
	"github.com/datapulse-io/batchexport/pkg/testutil"
)

// fixedTransformer emits one fixed-size fragment per row.
type fixedTransformer struct {
	fragment  []byte
	finalized int
}

func (f *fixedTransformer) WriteBatch(b *batch.Batch) ([][]byte, error) {
	fragments := make([][]byte, b.NumRows())
	for i := range fragments {
		fragments[i] = f.fragment
	}
	return fragments, nil
}

func (f *fixedTransformer) Finalize() ([][]byte, error) {
	f.finalized++
	return nil, nil
}

func (f *fixedTransformer) Parallelizable() bool { return true }

func countBoundaries(chunks []Chunk) int {
	n := 0
	for _, c := range chunks {
		if c.Boundary {
			n++
		}
	}
	return n
}

// Three batches of ten rows at five bytes per row, against a 50 byte limit:
// the counter first exceeds the limit at the eleventh fragment (55 bytes),
// closing a segment, again eleven fragments later, and the remaining eight
// fragments wait for end of stream. Exactly two boundaries.
func TestBoundaryFiresAfterExceedingWrite(t *testing.T) {
	tr := &fixedTransformer{fragment: []byte("12345")}
	c := NewController(tr, 50)

	var all []Chunk
	for i := 0; i < 3; i++ {
		b := testutil.EventBatch(t, 10)
		chunks, err := c.WriteBatch(b)
		b.Release()
		if err != nil {
			t.Fatalf("batch %d: WriteBatch failed: %v", i, err)
		}
		all = append(all, chunks...)
	}

	if got := countBoundaries(all); got != 2 {
		t.Errorf("expected 2 boundaries, got %d", got)
	}

	final, err := c.Finish()
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if countBoundaries(final) != 0 {
		t.Error("end of stream must not force a boundary")
	}
}

func TestBoundaryExactLimitDoesNotFire(t *testing.T) {
	tr := &fixedTransformer{fragment: []byte("12345")}
	c := NewController(tr, 50)

	// Exactly at the limit: segment stays open.
	b := testutil.EventBatch(t, 10)
	chunks, err := c.WriteBatch(b)
	b.Release()
	if err != nil {
		t.Fatalf("WriteBatch failed: %v", err)
	}
	if countBoundaries(chunks) != 0 {
		t.Error("expected no boundary at exactly the limit")
	}

	// One more row pushes past and closes the segment.
	b = testutil.EventBatch(t, 1)
	chunks, err = c.WriteBatch(b)
	b.Release()
	if err != nil {
		t.Fatalf("WriteBatch failed: %v", err)
	}
	if countBoundaries(chunks) != 1 {
		t.Errorf("expected 1 boundary, got %d", countBoundaries(chunks))
	}
	if tr.finalized != 1 {
		t.Errorf("expected 1 finalize, got %d", tr.finalized)
	}
}

func TestSegmentationDisabled(t *testing.T) {
	tr := &fixedTransformer{fragment: []byte("12345")}
	c := NewController(tr, 0)

	for i := 0; i < 5; i++ {
		b := testutil.EventBatch(t, 100)
		chunks, err := c.WriteBatch(b)
		b.Release()
		if err != nil {
			t.Fatalf("WriteBatch failed: %v", err)
		}
		if countBoundaries(chunks) != 0 {
			t.Fatal("expected no boundaries with segmentation disabled")
		}
	}
	if tr.finalized != 0 {
		t.Errorf("expected no finalizes, got %d", tr.finalized)
	}
}

// The boundary chunk follows the trailing fragments of the closing segment.
func TestBoundaryOrdering(t *testing.T) {
	tr := &trailingTransformer{fixedTransformer{fragment: []byte("12345")}}
	c := NewController(tr, 4)

	b := testutil.EventBatch(t, 1)
	chunks, err := c.WriteBatch(b)
	b.Release()
	if err != nil {
		t.Fatalf("WriteBatch failed: %v", err)
	}

	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if string(chunks[0].Data) != "12345" || chunks[0].Boundary {
		t.Errorf("unexpected first chunk: %+v", chunks[0])
	}
	if string(chunks[1].Data) != "tail" || chunks[1].Boundary {
		t.Errorf("unexpected trailing chunk: %+v", chunks[1])
	}
	if !chunks[2].Boundary || len(chunks[2].Data) != 0 {
		t.Errorf("unexpected boundary chunk: %+v", chunks[2])
	}
}

// trailingTransformer emits a tail fragment on finalize, like a streaming
// compressor would.
type trailingTransformer struct {
	fixedTransformer
}

func (tt *trailingTransformer) Finalize() ([][]byte, error) {
	tt.finalized++
	return [][]byte{[]byte("tail")}, nil
}

// Trailing fragments emitted while closing a segment count toward the byte
// counter the same way end-of-stream trailing fragments do.
func TestBoundaryCountsTrailingBytes(t *testing.T) {
	tr := &trailingTransformer{fixedTransformer{fragment: []byte("12345")}}
	c := NewController(tr, 4)

	before := ptestutil.ToFloat64(metrics.BytesEmitted)

	b := testutil.EventBatch(t, 1)
	chunks, err := c.WriteBatch(b)
	b.Release()
	if err != nil {
		t.Fatalf("WriteBatch failed: %v", err)
	}

	var want float64
	for _, chunk := range chunks {
		want += float64(len(chunk.Data))
	}
	if got := ptestutil.ToFloat64(metrics.BytesEmitted) - before; got != want {
		t.Errorf("counter advanced by %v, want %v", got, want)
	}
}

func TestStream(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	tr, err := codec.New(codec.JSONLines, codec.Options{
		Logger:      testutil.TestLogger(t),
		JSONColumns: []string{"properties"},
	})
	if err != nil {
		t.Fatalf("codec.New failed: %v", err)
	}

	c := NewController(tr, 0)

	batches := make(chan *batch.Batch, 3)
	for i := 0; i < 3; i++ {
		batches <- testutil.EventBatch(t, 2)
	}
	close(batches)

	chunks, errc := c.Stream(ctx, batches)

	var rows int
	for chunk := range chunks {
		if chunk.Boundary {
			t.Error("unexpected boundary chunk")
			continue
		}
		rows += bytesCount(chunk.Data, '\n')
	}
	if err := <-errc; err != nil {
		t.Fatalf("stream failed: %v", err)
	}
	if rows != 6 {
		t.Errorf("expected 6 rows, got %d", rows)
	}
}

func TestStreamCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	tr := &fixedTransformer{fragment: []byte("12345")}
	c := NewController(tr, 0)

	batches := make(chan *batch.Batch)
	chunks, errc := c.Stream(ctx, batches)

	cancel()

	for range chunks {
	}
	if err := <-errc; err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func bytesCount(data []byte, sep byte) int {
	n := 0
	for _, b := range data {
		if b == sep {
			n++
		}
	}
	return n
}
