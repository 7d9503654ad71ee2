// Package batchexport transforms streams of Apache Arrow record batches
// into compressed, size-bounded export segments.
//
// The transformer consumes record batches produced by an upstream reader,
// encodes them as line-delimited JSON or Parquet, applies the configured
// compression, and emits byte chunks annotated with segment boundaries. A
// downstream uploader writes each segment to its destination and rotates
// files at the boundaries.
//
// # Architecture
//
// The module is organized around a small set of packages:
//
//   - pkg/batch: the columnar batch model. Wraps an Arrow record and adds
//     column selection, row materialization, and JSON column re-expansion.
//
//   - pkg/codec: transformers. One per output format, constructed through a
//     single selector keyed on (format, compression, schema).
//
//   - pkg/compress: compression backends. Block algorithms emit standalone
//     members per call; Brotli carries streaming state across calls and
//     forces the sequential pipeline path.
//
//   - pkg/segment: segmentation. Tracks emitted bytes and closes a segment
//     once the configured size is exceeded, finalizing the transformer so
//     every segment is independently decodable.
//
//   - pkg/shm: shared memory transport. Batches hand off between pipeline
//     stages through named memory regions instead of channel copies.
//
//   - internal/pipeline: the producer/worker/consumer pipeline. Encodes
//     batches on a worker pool when the transformer permits it, preserving
//     input order through a bounded result queue.
//
// # Quick Start
//
// Transform a stream of batches into zstd-compressed JSON lines:
//
//	transformer, err := codec.New(codec.JSONLines, codec.Options{
//	    Compression: compress.Zstd,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	p := pipeline.New(transformer, pipeline.DefaultConfig(), logger.Get())
//	chunks, errc := p.Run(ctx, batches)
//
//	for chunk := range chunks {
//	    upload(chunk.Data)
//	    if chunk.Boundary {
//	        rotate()
//	    }
//	}
//	if err := <-errc; err != nil {
//	    log.Fatal(err)
//	}
package batchexport
