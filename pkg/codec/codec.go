// Package codec provides format-specific encoders that turn columnar batches
// into byte fragments for export, combined with the configured compression
// strategy.
//
// A Transformer is resolved once at construction from the output format and
// compression settings. Unsupported values fail immediately with a
// configuration error; encoding problems inside a batch are recovered at the
// row level and never abort the stream.
package codec

import (
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"go.uber.org/zap"

	"github.com/datapulse-io/batchexport/pkg/batch"
	"github.com/datapulse-io/batchexport/pkg/compress"
	"github.com/datapulse-io/batchexport/pkg/exporterrors"
	"github.com/datapulse-io/batchexport/pkg/logger"
)

// Format represents an export output format
type Format string

const (
	// JSONLines is newline-delimited JSON, one row per line
	JSONLines Format = "jsonlines"
	// Parquet is the Apache Parquet columnar format
	Parquet Format = "parquet"
)

// ParseFormat resolves a format name case-insensitively.
func ParseFormat(name string) (Format, error) {
	switch Format(strings.ToLower(name)) {
	case JSONLines:
		return JSONLines, nil
	case Parquet:
		return Parquet, nil
	default:
		return "", exporterrors.Newf(exporterrors.ErrorTypeConfig,
			"unsupported format: %s", name)
	}
}

// Transformer converts batches into encoded, compressed byte fragments.
// Encoder and compressor state belongs to exactly one stream; Finalize is
// never called concurrently with WriteBatch, and WriteBatch may only be
// called from multiple goroutines when Parallelizable reports true.
type Transformer interface {
	// WriteBatch encodes one batch, with the synchronization column
	// optionally removed, and returns the resulting fragments in order.
	WriteBatch(b *batch.Batch) ([][]byte, error)

	// Finalize flushes any buffered encoder and compressor state and
	// returns the trailing fragments. After Finalize the transformer is
	// reset and may encode a new independent segment.
	Finalize() ([][]byte, error)

	// Parallelizable reports whether batches may be encoded by independent
	// workers, which requires WriteBatch to be safe for concurrent use.
	// Transformers carrying cross-batch state (a streaming compressor, an
	// open columnar file writer) are sequential only.
	Parallelizable() bool
}

// Options configures transformer construction.
type Options struct {
	// Compression selects the compression algorithm applied to the output.
	Compression compress.Algorithm
	// Level selects the compression level. Zero value means the
	// algorithm's default.
	Level compress.Level
	// Schema is the fixed output schema. Required for Parquet.
	Schema *arrow.Schema
	// IncludeSyncColumn retains the synchronization column in the output.
	IncludeSyncColumn bool
	// SyncColumn overrides the synchronization column name. Defaults to
	// batch.SyncColumn.
	SyncColumn string
	// JSONColumns names string columns holding serialized JSON that are
	// re-expanded into structured values for row-oriented formats.
	JSONColumns []string
	// Logger receives row sanitization diagnostics. Defaults to the
	// global logger.
	Logger *zap.Logger
}

// New resolves (format, compression, schema) into a concrete transformer.
func New(format Format, opts Options) (Transformer, error) {
	if opts.Logger == nil {
		opts.Logger = logger.Get()
	}
	if opts.SyncColumn == "" {
		opts.SyncColumn = batch.SyncColumn
	}
	if opts.Compression == "" {
		opts.Compression = compress.None
	}
	if opts.Level == 0 {
		opts.Level = compress.Default
	}

	switch format {
	case JSONLines:
		return newJSONLTransformer(opts)
	case Parquet:
		if opts.Schema == nil {
			return nil, exporterrors.New(exporterrors.ErrorTypeConfig,
				"schema is required for parquet")
		}
		return newParquetTransformer(opts)
	default:
		return nil, exporterrors.Newf(exporterrors.ErrorTypeConfig,
			"unsupported format: %s", format)
	}
}

// prepare applies the shared pre-encoding steps: marking JSON columns and
// dropping the synchronization column. The returned batch holds its own
// column references and must be released by the caller.
func prepare(b *batch.Batch, opts *Options) *batch.Batch {
	if len(opts.JSONColumns) > 0 {
		b = b.WithJSONColumns(opts.JSONColumns...)
	}
	if opts.IncludeSyncColumn {
		b.Retain()
		return b
	}
	return b.Drop(opts.SyncColumn)
}
