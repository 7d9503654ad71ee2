// Package compress provides the pluggable compression strategies applied to
// encoded export fragments.
//
// # Overview
//
// Two families of algorithms are supported:
//
//   - Block schemes (Gzip, Snappy, Zstd, LZ4): each Compress call produces a
//     complete, self-terminating compressed member. Concatenating the output
//     of successive calls yields a sequence of independent members, not one
//     continuous stream. Decoding tools must treat the output accordingly;
//     gzip, zstd, and lz4 decoders handle concatenated members natively.
//   - Streaming scheme (Brotli): a persistent encoder accumulates state
//     across calls and must be explicitly finished to flush trailing bytes.
//
// # Basic Usage
//
//	comp, err := compress.NewCompressor(&compress.Config{
//	    Algorithm: compress.Gzip,
//	    Level:     compress.Default,
//	})
//	out, err := comp.Compress(fragment)
//
// # Ownership
//
// A streaming compressor belongs to exactly one transformer instance and is
// not safe for concurrent use. Block compressors are stateless per call and
// re-entrant.
package compress

import (
	"bytes"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/datapulse-io/batchexport/pkg/exporterrors"
)

// Algorithm represents a compression algorithm.
type Algorithm string

const (
	// None represents no compression
	None Algorithm = "none"
	// Gzip represents gzip block compression
	Gzip Algorithm = "gzip"
	// Snappy represents snappy block compression
	Snappy Algorithm = "snappy"
	// Zstd represents zstandard block compression
	Zstd Algorithm = "zstd"
	// LZ4 represents lz4 block compression
	LZ4 Algorithm = "lz4"
	// Brotli represents brotli streaming compression
	Brotli Algorithm = "brotli"
)

// Level represents compression level, controlling the trade-off between
// compression speed and compression ratio.
type Level int

const (
	// Fastest prioritizes speed over compression ratio.
	Fastest Level = 1
	// Default balances speed and compression.
	Default Level = 5
	// Better improves compression at cost of speed.
	Better Level = 7
	// Best maximizes compression ratio.
	Best Level = 9
)

// ParseAlgorithm resolves an algorithm name case-insensitively. The empty
// string resolves to None.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(name)) {
	case "", None:
		return None, nil
	case Gzip:
		return Gzip, nil
	case Snappy:
		return Snappy, nil
	case Zstd:
		return Zstd, nil
	case LZ4:
		return LZ4, nil
	case Brotli:
		return Brotli, nil
	default:
		return "", exporterrors.Newf(exporterrors.ErrorTypeConfig,
			"unsupported compression algorithm: %s", name)
	}
}

// Compressor transforms encoded fragments into compressed bytes.
type Compressor interface {
	// Compress compresses one fragment and returns whatever compressed
	// output is available immediately. For block schemes this is a complete
	// member; for streaming schemes it is the encoder's flushed output so far.
	Compress(data []byte) ([]byte, error)

	// Finish flushes and terminates the compressed stream, returning any
	// trailing bytes. Only meaningful for streaming schemes; calling Finish
	// on a block or identity scheme is a compressor state error.
	Finish() ([]byte, error)

	// Streaming reports whether the compressor retains state across
	// Compress calls and therefore requires Finish.
	Streaming() bool

	// Algorithm returns the compression algorithm used.
	Algorithm() Algorithm
}

// Config represents compressor configuration.
type Config struct {
	Algorithm Algorithm // Compression algorithm to use
	Level     Level     // Compression level
}

// DefaultConfig returns the default compressor configuration: no
// compression, matching the transformer's default output.
func DefaultConfig() *Config {
	return &Config{
		Algorithm: None,
		Level:     Default,
	}
}

// NewCompressor creates a new compressor based on the provided
// configuration. If config is nil, default configuration is used. Unknown
// algorithms fail with a configuration error.
func NewCompressor(config *Config) (Compressor, error) {
	if config == nil {
		config = DefaultConfig()
	}

	switch config.Algorithm {
	case None, "":
		return &noneCompressor{}, nil
	case Gzip:
		return newGzipCompressor(config)
	case Snappy:
		return &snappyCompressor{}, nil
	case Zstd:
		return newZstdCompressor(config)
	case LZ4:
		return newLZ4Compressor(config)
	case Brotli:
		return newBrotliCompressor(config), nil
	default:
		return nil, exporterrors.Newf(exporterrors.ErrorTypeConfig,
			"unsupported compression algorithm: %s", config.Algorithm)
	}
}

// errFinishNotStreaming builds the error returned when Finish is called on
// a compressor that retains no stream state.
func errFinishNotStreaming(alg Algorithm) error {
	return exporterrors.Newf(exporterrors.ErrorTypeCompressorState,
		"compression is %q, not a streaming scheme", alg)
}

// None compressor (identity)
type noneCompressor struct{}

func (nc *noneCompressor) Compress(data []byte) ([]byte, error) {
	return data, nil
}

func (nc *noneCompressor) Finish() ([]byte, error) {
	return nil, errFinishNotStreaming(None)
}

func (nc *noneCompressor) Streaming() bool { return false }

func (nc *noneCompressor) Algorithm() Algorithm { return None }

// Gzip block compressor
type gzipCompressor struct {
	level      int
	writerPool sync.Pool
}

func newGzipCompressor(config *Config) (*gzipCompressor, error) {
	gc := &gzipCompressor{level: mapGzipLevel(config.Level)}

	gc.writerPool.New = func() interface{} {
		w, _ := gzip.NewWriterLevel(nil, gc.level)
		return w
	}

	return gc, nil
}

func (gc *gzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	w := gc.writerPool.Get().(*gzip.Writer)
	defer gc.writerPool.Put(w)

	w.Reset(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func (gc *gzipCompressor) Finish() ([]byte, error) {
	return nil, errFinishNotStreaming(Gzip)
}

func (gc *gzipCompressor) Streaming() bool { return false }

func (gc *gzipCompressor) Algorithm() Algorithm { return Gzip }

// Snappy block compressor
type snappyCompressor struct{}

func (sc *snappyCompressor) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (sc *snappyCompressor) Finish() ([]byte, error) {
	return nil, errFinishNotStreaming(Snappy)
}

func (sc *snappyCompressor) Streaming() bool { return false }

func (sc *snappyCompressor) Algorithm() Algorithm { return Snappy }

// Zstd block compressor
type zstdCompressor struct {
	encoderPool sync.Pool
}

func newZstdCompressor(config *Config) (*zstdCompressor, error) {
	level := mapZstdLevel(config.Level)

	zc := &zstdCompressor{}
	zc.encoderPool.New = func() interface{} {
		enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
		return enc
	}

	return zc, nil
}

func (zc *zstdCompressor) Compress(data []byte) ([]byte, error) {
	enc := zc.encoderPool.Get().(*zstd.Encoder)
	defer zc.encoderPool.Put(enc)

	return enc.EncodeAll(data, nil), nil
}

func (zc *zstdCompressor) Finish() ([]byte, error) {
	return nil, errFinishNotStreaming(Zstd)
}

func (zc *zstdCompressor) Streaming() bool { return false }

func (zc *zstdCompressor) Algorithm() Algorithm { return Zstd }

// LZ4 block compressor
type lz4Compressor struct {
	compressionLevel lz4.CompressionLevel
}

func newLZ4Compressor(config *Config) (*lz4Compressor, error) {
	return &lz4Compressor{compressionLevel: mapLZ4Level(config.Level)}, nil
}

func (lc *lz4Compressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	w := lz4.NewWriter(&buf)
	if err := w.Apply(lz4.CompressionLevelOption(lc.compressionLevel)); err != nil {
		return nil, err
	}

	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func (lc *lz4Compressor) Finish() ([]byte, error) {
	return nil, errFinishNotStreaming(LZ4)
}

func (lc *lz4Compressor) Streaming() bool { return false }

func (lc *lz4Compressor) Algorithm() Algorithm { return LZ4 }

// Brotli streaming compressor. The encoder is lazily created on first use
// and discarded by Finish so a later use recreates it.
type brotliCompressor struct {
	quality int
	buf     bytes.Buffer
	writer  *brotli.Writer
}

func newBrotliCompressor(config *Config) *brotliCompressor {
	return &brotliCompressor{quality: mapBrotliLevel(config.Level)}
}

func (bc *brotliCompressor) encoder() *brotli.Writer {
	if bc.writer == nil {
		bc.writer = brotli.NewWriterLevel(&bc.buf, bc.quality)
	}
	return bc.writer
}

func (bc *brotliCompressor) Compress(data []byte) ([]byte, error) {
	w := bc.encoder()

	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}

	return bc.drain(), nil
}

func (bc *brotliCompressor) Finish() ([]byte, error) {
	w := bc.encoder()

	if err := w.Close(); err != nil {
		return nil, err
	}
	bc.writer = nil

	return bc.drain(), nil
}

func (bc *brotliCompressor) Streaming() bool { return true }

func (bc *brotliCompressor) Algorithm() Algorithm { return Brotli }

// drain copies and resets the internal output buffer.
func (bc *brotliCompressor) drain() []byte {
	out := make([]byte, bc.buf.Len())
	copy(out, bc.buf.Bytes())
	bc.buf.Reset()
	return out
}

// Helper functions to map compression levels

func mapGzipLevel(level Level) int {
	switch level {
	case Fastest:
		return gzip.BestSpeed
	case Best:
		return gzip.BestCompression
	default:
		return gzip.DefaultCompression
	}
}

func mapZstdLevel(level Level) zstd.EncoderLevel {
	switch level {
	case Fastest:
		return zstd.SpeedFastest
	case Better:
		return zstd.SpeedBetterCompression
	case Best:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}

func mapLZ4Level(level Level) lz4.CompressionLevel {
	switch level {
	case Fastest:
		return lz4.Fast
	case Best:
		return lz4.Level9
	default:
		return lz4.Level5
	}
}

func mapBrotliLevel(level Level) int {
	switch level {
	case Fastest:
		return brotli.BestSpeed
	case Best:
		return brotli.BestCompression
	default:
		return brotli.DefaultCompression
	}
}
