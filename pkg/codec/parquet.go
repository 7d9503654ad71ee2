package codec

import (
	"bytes"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	pqcompress "github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"go.uber.org/zap"

	"github.com/datapulse-io/batchexport/pkg/batch"
	"github.com/datapulse-io/batchexport/pkg/compress"
	"github.com/datapulse-io/batchexport/pkg/exporterrors"
)

// parquetTransformer writes batches through a Parquet file writer bound to a
// fixed schema, draining an in-memory buffer after each batch. Compression
// is applied inside the Parquet pages by the file writer itself, so the
// whole stream between finalizations forms one self-contained file.
type parquetTransformer struct {
	opts        Options
	schema      *arrow.Schema
	columnNames []string
	props       *parquet.WriterProperties
	arrowProps  pqarrow.ArrowWriterProperties

	writer *pqarrow.FileWriter
	buf    bytes.Buffer
	logger *zap.Logger
}

func newParquetTransformer(opts Options) (*parquetTransformer, error) {
	codec, err := mapParquetCompression(opts.Compression)
	if err != nil {
		return nil, err
	}

	writerOpts := []parquet.WriterProperty{parquet.WithCompression(codec)}
	if opts.Level != compress.Default && hasCompressionLevel(codec) {
		writerOpts = append(writerOpts, parquet.WithCompressionLevel(int(opts.Level)))
	}

	pool := memory.NewGoAllocator()

	// The writer schema reflects the prepared batch, so the dropped
	// synchronization column must not appear in it.
	fields := make([]arrow.Field, 0, opts.Schema.NumFields())
	for _, f := range opts.Schema.Fields() {
		if !opts.IncludeSyncColumn && f.Name == opts.SyncColumn {
			continue
		}
		fields = append(fields, f)
	}
	schema := arrow.NewSchema(fields, nil)

	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}

	return &parquetTransformer{
		opts:        opts,
		schema:      schema,
		columnNames: names,
		props:       parquet.NewWriterProperties(writerOpts...),
		arrowProps:  pqarrow.NewArrowWriterProperties(pqarrow.WithAllocator(pool)),
		logger:      opts.Logger.With(zap.String("codec", "parquet")),
	}, nil
}

// fileWriter lazily opens the Parquet writer so a finalized transformer can
// start a fresh file on its next batch.
func (t *parquetTransformer) fileWriter() (*pqarrow.FileWriter, error) {
	if t.writer == nil {
		fw, err := pqarrow.NewFileWriter(t.schema, &t.buf, t.props, t.arrowProps)
		if err != nil {
			return nil, fmt.Errorf("failed to create parquet writer: %w", err)
		}
		t.writer = fw
	}
	return t.writer, nil
}

func (t *parquetTransformer) WriteBatch(b *batch.Batch) ([][]byte, error) {
	prepared := prepare(b, &t.opts)
	defer prepared.Release()

	selected, err := prepared.Select(t.columnNames)
	if err != nil {
		return nil, exporterrors.Wrap(err, exporterrors.ErrorTypeData,
			"batch does not match parquet schema")
	}
	defer selected.Release()

	fw, err := t.fileWriter()
	if err != nil {
		return nil, err
	}

	// Write closes one row group per batch, so the encoded bytes land in
	// the buffer before the drain instead of accumulating in the writer.
	if err := fw.Write(selected.Record()); err != nil {
		return nil, fmt.Errorf("failed to write record batch: %w", err)
	}

	return t.drain(), nil
}

func (t *parquetTransformer) Finalize() ([][]byte, error) {
	if t.writer == nil {
		return nil, nil
	}

	// Closing flushes the trailer and footer metadata into the buffer.
	if err := t.writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close parquet writer: %w", err)
	}
	t.writer = nil

	return t.drain(), nil
}

func (t *parquetTransformer) Parallelizable() bool {
	// The open file writer accumulates row group and footer state across
	// batches.
	return false
}

// drain returns the buffer's current contents as a single fragment and
// resets it for the next call.
func (t *parquetTransformer) drain() [][]byte {
	if t.buf.Len() == 0 {
		return nil
	}

	data := make([]byte, t.buf.Len())
	copy(data, t.buf.Bytes())
	t.buf.Reset()

	return [][]byte{data}
}

// mapParquetCompression maps the configured algorithm onto a Parquet page
// codec. Every supported algorithm has a native Parquet counterpart, so the
// streaming-versus-block distinction does not apply to this format.
func mapParquetCompression(alg compress.Algorithm) (pqcompress.Compression, error) {
	switch alg {
	case compress.None, "":
		return pqcompress.Codecs.Uncompressed, nil
	case compress.Gzip:
		return pqcompress.Codecs.Gzip, nil
	case compress.Snappy:
		return pqcompress.Codecs.Snappy, nil
	case compress.Zstd:
		return pqcompress.Codecs.Zstd, nil
	case compress.LZ4:
		return pqcompress.Codecs.Lz4Raw, nil
	case compress.Brotli:
		return pqcompress.Codecs.Brotli, nil
	default:
		return pqcompress.Codecs.Uncompressed, exporterrors.Newf(
			exporterrors.ErrorTypeConfig, "unsupported compression algorithm: %s", alg)
	}
}

func hasCompressionLevel(codec pqcompress.Compression) bool {
	switch codec {
	case pqcompress.Codecs.Gzip, pqcompress.Codecs.Zstd, pqcompress.Codecs.Brotli:
		return true
	default:
		return false
	}
}
