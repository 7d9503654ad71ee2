// Package config provides the configuration for an export run: output
// format, compression, segmentation, and pipeline parallelism.
//
// Example usage:
//
//	cfg := config.Default()
//	cfg.Format = "parquet"
//	cfg.Compression = "zstd"
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"github.com/datapulse-io/batchexport/pkg/codec"
	"github.com/datapulse-io/batchexport/pkg/compress"
	"github.com/datapulse-io/batchexport/pkg/exporterrors"
)

// ExportConfig holds one export run's transformer and pipeline settings.
type ExportConfig struct {
	// Format selects the output format: jsonlines or parquet
	Format string `mapstructure:"format" yaml:"format" json:"format"`

	// Compression selects the compression algorithm: none, gzip, snappy,
	// zstd, lz4, or brotli
	Compression string `mapstructure:"compression" yaml:"compression" json:"compression"`

	// CompressionLevel tunes the algorithm's speed/ratio trade-off (1-9,
	// 0 = algorithm default)
	CompressionLevel int `mapstructure:"compression_level" yaml:"compression_level" json:"compression_level"`

	// IncludeSyncColumn retains the synchronization column in the output
	IncludeSyncColumn bool `mapstructure:"include_sync_column" yaml:"include_sync_column" json:"include_sync_column"`

	// SyncColumn overrides the synchronization column name
	SyncColumn string `mapstructure:"sync_column" yaml:"sync_column" json:"sync_column"`

	// JSONColumns names string columns holding serialized JSON
	JSONColumns []string `mapstructure:"json_columns" yaml:"json_columns" json:"json_columns"`

	// MaxSegmentBytes closes a segment once exceeded (0 = unbounded)
	MaxSegmentBytes int64 `mapstructure:"max_segment_bytes" yaml:"max_segment_bytes" json:"max_segment_bytes"`

	// Workers is the transform worker pool size
	Workers int `mapstructure:"workers" yaml:"workers" json:"workers"`

	// LogLevel controls logging verbosity
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
}

// Default returns the default export configuration: uncompressed
// line-delimited JSON with a two-worker pool and no segmentation.
func Default() *ExportConfig {
	return &ExportConfig{
		Format:      "jsonlines",
		Compression: "none",
		Workers:     2,
		LogLevel:    "info",
	}
}

// Validate checks the configuration for values that can be rejected before
// transformer construction. Format and compression names are resolved again
// by the construction selector; validating here lets callers fail fast on a
// bad file.
func (c *ExportConfig) Validate() error {
	if _, err := codec.ParseFormat(c.Format); err != nil {
		return err
	}
	if _, err := compress.ParseAlgorithm(c.Compression); err != nil {
		return err
	}
	if c.CompressionLevel < 0 || c.CompressionLevel > 9 {
		return exporterrors.Newf(exporterrors.ErrorTypeConfig,
			"compression level out of range: %d", c.CompressionLevel)
	}
	if c.MaxSegmentBytes < 0 {
		return exporterrors.Newf(exporterrors.ErrorTypeConfig,
			"max segment bytes must not be negative: %d", c.MaxSegmentBytes)
	}
	if c.Workers < 0 {
		return exporterrors.Newf(exporterrors.ErrorTypeConfig,
			"workers must not be negative: %d", c.Workers)
	}
	return nil
}
