package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/datapulse-io/batchexport/internal/pipeline"
	"github.com/datapulse-io/batchexport/pkg/batch"
	"github.com/datapulse-io/batchexport/pkg/codec"
	"github.com/datapulse-io/batchexport/pkg/compress"
	"github.com/datapulse-io/batchexport/pkg/config"
	"github.com/datapulse-io/batchexport/pkg/logger"
	"github.com/datapulse-io/batchexport/pkg/segment"
)

var version = "0.1.0"

func main() {
	root := &cobra.Command{
		Use:   "batchexport",
		Short: "batchexport - Streaming batch export transformer",
		Long: `batchexport transforms streams of Arrow record batches into compressed,
size-bounded export segments in line-delimited JSON or Parquet format.`,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("batchexport v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	var configFile, inputFile, outputPrefix, metricsAddr string
	var format, compression, logLevel string
	var compressionLevel, workers int
	var maxSegmentBytes int64
	var includeSyncColumn bool
	var jsonColumns []string

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Transform an Arrow IPC stream into export segments",
		Long: `Read Arrow record batches from an IPC stream file and write them out as
numbered export segment files.

Example:
  batchexport run --input events.arrow --output export/events --format jsonlines --compression zstd`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return err
			}

			// Command line flags override file values only when set.
			if cmd.Flags().Changed("format") {
				cfg.Format = format
			}
			if cmd.Flags().Changed("compression") {
				cfg.Compression = compression
			}
			if cmd.Flags().Changed("compression-level") {
				cfg.CompressionLevel = compressionLevel
			}
			if cmd.Flags().Changed("max-segment-bytes") {
				cfg.MaxSegmentBytes = maxSegmentBytes
			}
			if cmd.Flags().Changed("workers") {
				cfg.Workers = workers
			}
			if cmd.Flags().Changed("include-sync-column") {
				cfg.IncludeSyncColumn = includeSyncColumn
			}
			if cmd.Flags().Changed("json-columns") {
				cfg.JSONColumns = jsonColumns
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}

			if err := cfg.Validate(); err != nil {
				return err
			}

			return runExport(cmd.Context(), cfg, inputFile, outputPrefix, metricsAddr)
		},
	}

	runCmd.Flags().StringVarP(&inputFile, "input", "i", "", "Path to Arrow IPC stream file (required)")
	runCmd.Flags().StringVarP(&outputPrefix, "output", "o", "export", "Output path prefix for segment files")
	_ = runCmd.MarkFlagRequired("input")

	runCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to YAML configuration file (optional)")
	runCmd.Flags().StringVar(&format, "format", "jsonlines", "Output format (jsonlines, parquet)")
	runCmd.Flags().StringVar(&compression, "compression", "none", "Compression algorithm (none, gzip, snappy, zstd, lz4, brotli)")
	runCmd.Flags().IntVar(&compressionLevel, "compression-level", 0, "Compression level (1-9, 0 uses the algorithm default)")
	runCmd.Flags().Int64Var(&maxSegmentBytes, "max-segment-bytes", 0, "Close a segment once its size exceeds this many bytes (0 disables)")
	runCmd.Flags().IntVar(&workers, "workers", 2, "Number of transform workers for parallelizable formats")
	runCmd.Flags().BoolVar(&includeSyncColumn, "include-sync-column", false, "Retain the _inserted_at column in the output")
	runCmd.Flags().StringSliceVar(&jsonColumns, "json-columns", nil, "String columns holding serialized JSON to re-expand")
	runCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Address to serve Prometheus metrics on (optional)")

	root.AddCommand(runCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(filePath string) (*config.ExportConfig, error) {
	if filePath == "" {
		return config.Default(), nil
	}
	return config.Load(filePath)
}

// runExport reads batches from the input file, runs them through the
// transform pipeline, and writes the resulting chunks to numbered segment
// files under the output prefix.
func runExport(ctx context.Context, cfg *config.ExportConfig, inputFile, outputPrefix, metricsAddr string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := logger.Init(logger.Config{Level: cfg.LogLevel}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	log := logger.Get().With(zap.String("component", "batchexport-cli"))

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn("metrics server stopped", zap.Error(err))
			}
		}()
		defer func() { _ = srv.Close() }()
	}

	in, err := os.Open(inputFile) //nolint:gosec // G304: path is supplied by the operator
	if err != nil {
		return fmt.Errorf("failed to open input file: %w", err)
	}
	defer func() { _ = in.Close() }()

	reader, err := ipc.NewReader(in)
	if err != nil {
		return fmt.Errorf("failed to read input stream: %w", err)
	}
	defer reader.Release()

	format, err := codec.ParseFormat(cfg.Format)
	if err != nil {
		return err
	}
	algorithm, err := compress.ParseAlgorithm(cfg.Compression)
	if err != nil {
		return err
	}

	transformer, err := codec.New(format, codec.Options{
		Compression:       algorithm,
		Level:             compress.Level(cfg.CompressionLevel),
		Schema:            reader.Schema(),
		IncludeSyncColumn: cfg.IncludeSyncColumn,
		SyncColumn:        cfg.SyncColumn,
		JSONColumns:       cfg.JSONColumns,
	})
	if err != nil {
		return err
	}

	p := pipeline.New(transformer, &pipeline.Config{
		Workers:         cfg.Workers,
		MaxSegmentBytes: cfg.MaxSegmentBytes,
		JSONColumns:     cfg.JSONColumns,
	}, log)

	batches := make(chan *batch.Batch)
	readErr := make(chan error, 1)
	go func() {
		defer close(batches)
		readErr <- readBatches(ctx, reader, batches)
	}()

	chunks, errc := p.Run(ctx, batches)

	writer := newSegmentWriter(outputPrefix, segmentExtension(format, algorithm))
	start := time.Now()

	for chunk := range chunks {
		if err := writer.Write(chunk); err != nil {
			return err
		}
	}
	if err := <-errc; err != nil {
		return err
	}
	if err := <-readErr; err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	log.Info("export complete",
		zap.Int("segments", writer.Segments()),
		zap.Int64("bytes", writer.BytesWritten()),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// readBatches feeds records from the IPC reader into the batch channel.
func readBatches(ctx context.Context, reader *ipc.Reader, batches chan<- *batch.Batch) error {
	for reader.Next() {
		rec := reader.Record()
		rec.Retain()
		select {
		case batches <- batch.New(rec):
		case <-ctx.Done():
			rec.Release()
			return ctx.Err()
		}
	}
	return reader.Err()
}

// segmentExtension maps (format, compression) to the output filename
// extension.
func segmentExtension(format codec.Format, algorithm compress.Algorithm) string {
	var ext string
	switch format {
	case codec.Parquet:
		// Parquet compresses pages internally.
		return ".parquet"
	default:
		ext = ".jsonl"
	}
	switch algorithm {
	case compress.Gzip:
		return ext + ".gz"
	case compress.Snappy:
		return ext + ".sz"
	case compress.Zstd:
		return ext + ".zst"
	case compress.LZ4:
		return ext + ".lz4"
	case compress.Brotli:
		return ext + ".br"
	default:
		return ext
	}
}

// segmentWriter writes chunks to numbered files, rotating on segment
// boundaries.
type segmentWriter struct {
	prefix   string
	ext      string
	index    int
	file     *os.File
	written  int64
	segments int
}

func newSegmentWriter(prefix, ext string) *segmentWriter {
	return &segmentWriter{prefix: prefix, ext: ext}
}

func (w *segmentWriter) Write(chunk segment.Chunk) error {
	if w.file == nil {
		path := fmt.Sprintf("%s-%05d%s", w.prefix, w.index, w.ext)
		f, err := os.Create(path) //nolint:gosec // G304: path derives from the operator-supplied prefix
		if err != nil {
			return fmt.Errorf("failed to create segment file: %w", err)
		}
		w.file = f
		w.segments++
	}
	if len(chunk.Data) > 0 {
		n, err := w.file.Write(chunk.Data)
		w.written += int64(n)
		if err != nil {
			return fmt.Errorf("failed to write segment file: %w", err)
		}
	}
	if chunk.Boundary {
		if err := w.file.Close(); err != nil {
			return fmt.Errorf("failed to close segment file: %w", err)
		}
		w.file = nil
		w.index++
	}
	return nil
}

func (w *segmentWriter) Close() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

func (w *segmentWriter) Segments() int { return w.segments }

func (w *segmentWriter) BytesWritten() int64 { return w.written }
