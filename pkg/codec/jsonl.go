package codec

import (
	"encoding/json"
	"fmt"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/datapulse-io/batchexport/pkg/batch"
	"github.com/datapulse-io/batchexport/pkg/compress"
	"github.com/datapulse-io/batchexport/pkg/metrics"
)

// jsonlTransformer encodes each row independently as one newline-terminated
// JSON document. Rows are compressed fragment by fragment, so block schemes
// emit one member per row and the streaming scheme feeds rows through a
// persistent encoder.
type jsonlTransformer struct {
	opts   Options
	comp   compress.Compressor
	logger *zap.Logger
}

func newJSONLTransformer(opts Options) (*jsonlTransformer, error) {
	comp, err := compress.NewCompressor(&compress.Config{
		Algorithm: opts.Compression,
		Level:     opts.Level,
	})
	if err != nil {
		return nil, err
	}

	return &jsonlTransformer{
		opts:   opts,
		comp:   comp,
		logger: opts.Logger.With(zap.String("codec", "jsonlines")),
	}, nil
}

func (t *jsonlTransformer) WriteBatch(b *batch.Batch) ([][]byte, error) {
	prepared := prepare(b, &t.opts)
	defer prepared.Release()

	rows := prepared.Rows()
	fragments := make([][]byte, 0, len(rows))

	for _, row := range rows {
		if len(row) == 0 {
			continue
		}

		compressed, err := t.comp.Compress(t.encodeRow(row))
		if err != nil {
			return nil, err
		}
		if len(compressed) > 0 {
			fragments = append(fragments, compressed)
		}
	}

	return fragments, nil
}

func (t *jsonlTransformer) Finalize() ([][]byte, error) {
	if !t.comp.Streaming() {
		return nil, nil
	}

	trailing, err := t.comp.Finish()
	if err != nil {
		return nil, err
	}
	if len(trailing) == 0 {
		return nil, nil
	}
	return [][]byte{trailing}, nil
}

func (t *jsonlTransformer) Parallelizable() bool {
	// A streaming compressor accumulates state across batches and cannot be
	// shared between workers.
	return !t.comp.Streaming()
}

// encodeRow serializes one row, terminated by a newline. Encoding failures
// never abort the stream: invalid text is sanitized and retried, the known
// pathological web-vitals attribution shape is repaired, and anything the
// strict encoder still rejects falls through to the permissive stdlib
// encoder. No row is ever dropped.
func (t *jsonlTransformer) encodeRow(row map[string]interface{}) []byte {
	data, err := gojson.Marshal(row)
	if err == nil {
		return append(data, '\n')
	}

	if isNestingError(err) {
		if repairWebVitalsAttribution(row) {
			if repaired, rerr := gojson.Marshal(row); rerr == nil {
				t.logger.Warn("removed nested attribution subtree from web vitals row",
					zap.Error(err))
				metrics.EncodeFallbacks.WithLabelValues("repair").Inc()
				return append(repaired, '\n')
			}
		} else {
			t.logger.Error("web vitals row did not match expected structure",
				zap.Error(err))
		}

		if data, err = json.Marshal(row); err == nil {
			metrics.EncodeFallbacks.WithLabelValues("permissive").Inc()
			return append(data, '\n')
		}
	}

	// The strict encoder is particular about invalid text such as unpaired
	// surrogate code points observed in practice.
	t.logger.Error("failed strict row encoding, sanitizing",
		zap.Error(err), zap.Any("row", row))

	cleaned := sanitizeValue(row)
	if data, err = gojson.Marshal(cleaned); err == nil {
		metrics.EncodeFallbacks.WithLabelValues("sanitize").Inc()
		return append(data, '\n')
	}
	if data, err = json.Marshal(cleaned); err == nil {
		metrics.EncodeFallbacks.WithLabelValues("sanitize").Inc()
		return append(data, '\n')
	}

	t.logger.Error("failed to encode row after sanitization", zap.Error(err))
	metrics.EncodeFallbacks.WithLabelValues("unencodable").Inc()
	data, _ = gojson.Marshal(map[string]string{"_unencodable": fmt.Sprintf("%v", row)})
	return append(data, '\n')
}
