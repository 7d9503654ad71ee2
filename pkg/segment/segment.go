// Package segment wraps the sequential chunk production of a codec
// transformer and inserts boundary chunks once a configured number of bytes
// has been emitted, so downstream sinks can rotate output files.
package segment

import (
	"context"

	"go.uber.org/zap"

	"github.com/datapulse-io/batchexport/pkg/batch"
	"github.com/datapulse-io/batchexport/pkg/codec"
	"github.com/datapulse-io/batchexport/pkg/logger"
	"github.com/datapulse-io/batchexport/pkg/metrics"
)

// Chunk is one unit of transformer output. A boundary chunk carries no
// payload and signals that a segment just closed; the closing bytes are
// emitted as preceding non-boundary chunks. A consumer collecting all
// non-boundary payloads between two boundaries (or stream end) reconstructs
// one complete, independently decodable segment.
type Chunk struct {
	Data     []byte
	Boundary bool
}

// Controller tracks cumulative emitted bytes since the last boundary and
// triggers transformer finalization once the threshold is exceeded.
// A Controller belongs to one stream and is not safe for concurrent use.
type Controller struct {
	transformer codec.Transformer
	maxBytes    int64
	currentSize int64
	logger      *zap.Logger
}

// NewController creates a segment controller around a transformer.
// maxSegmentBytes of 0 disables segmentation entirely.
func NewController(t codec.Transformer, maxSegmentBytes int64) *Controller {
	return &Controller{
		transformer: t,
		maxBytes:    maxSegmentBytes,
		logger:      logger.With(zap.String("component", "segment-controller")),
	}
}

// WriteBatch encodes one batch and returns its chunks, including boundary
// chunks wherever a fragment pushed the running segment past the size
// threshold.
func (c *Controller) WriteBatch(b *batch.Batch) ([]Chunk, error) {
	fragments, err := c.transformer.WriteBatch(b)
	if err != nil {
		return nil, err
	}
	return c.Append(fragments)
}

// Append records produced fragments against the running segment, wrapping
// them as non-boundary chunks. The size threshold is checked after each
// fragment, never before, so the fragment that triggered a boundary always
// lands in the segment it closed.
func (c *Controller) Append(fragments [][]byte) ([]Chunk, error) {
	chunks := make([]Chunk, 0, len(fragments))
	for _, frag := range fragments {
		chunks = append(chunks, Chunk{Data: frag})
		c.currentSize += int64(len(frag))
		metrics.BytesEmitted.Add(float64(len(frag)))

		boundary, err := c.checkBoundary()
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, boundary...)
	}
	return chunks, nil
}

// checkBoundary closes the running segment if the size threshold is
// exceeded: the transformer's trailing fragments are emitted as non-boundary
// chunks, followed by one boundary chunk, and the byte counter resets.
func (c *Controller) checkBoundary() ([]Chunk, error) {
	if c.maxBytes == 0 || c.currentSize <= c.maxBytes {
		return nil, nil
	}

	trailing, err := c.transformer.Finalize()
	if err != nil {
		return nil, err
	}

	chunks := make([]Chunk, 0, len(trailing)+1)
	for _, frag := range trailing {
		chunks = append(chunks, Chunk{Data: frag})
		metrics.BytesEmitted.Add(float64(len(frag)))
	}
	chunks = append(chunks, Chunk{Boundary: true})

	c.logger.Debug("segment boundary",
		zap.Int64("segment_bytes", c.currentSize),
		zap.Int64("max_bytes", c.maxBytes))
	metrics.SegmentsClosed.Inc()

	c.currentSize = 0
	return chunks, nil
}

// Finish performs the unconditional end-of-stream finalize. Trailing bytes
// are emitted as plain fragments; no boundary is forced at true end of
// stream.
func (c *Controller) Finish() ([]Chunk, error) {
	trailing, err := c.transformer.Finalize()
	if err != nil {
		return nil, err
	}

	chunks := make([]Chunk, 0, len(trailing))
	for _, frag := range trailing {
		chunks = append(chunks, Chunk{Data: frag})
		metrics.BytesEmitted.Add(float64(len(frag)))
	}
	return chunks, nil
}

// Stream drives the sequential transform path: batches in, chunks out.
// Each batch is released after encoding. The error channel carries at most
// one fatal error; both channels close when the stream ends.
func (c *Controller) Stream(ctx context.Context, batches <-chan *batch.Batch) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk)
	errc := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errc)

		emit := func(out []Chunk) bool {
			for _, chunk := range out {
				select {
				case chunks <- chunk:
				case <-ctx.Done():
					return false
				}
			}
			return true
		}

		for {
			select {
			case b, ok := <-batches:
				if !ok {
					out, err := c.Finish()
					if err != nil {
						errc <- err
						return
					}
					emit(out)
					return
				}

				out, err := c.WriteBatch(b)
				b.Release()
				if err != nil {
					errc <- err
					return
				}
				metrics.BatchesTransformed.Inc()

				if !emit(out) {
					return
				}

			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
	}()

	return chunks, errc
}
