// Package pipeline implements the parallel batch transform pipeline: a
// producer that hands batches to a fixed-size worker pool through shared
// memory, and a consumer that drains results in submission order and feeds
// them through the segment controller.
package pipeline

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/datapulse-io/batchexport/pkg/batch"
	"github.com/datapulse-io/batchexport/pkg/codec"
	"github.com/datapulse-io/batchexport/pkg/metrics"
	"github.com/datapulse-io/batchexport/pkg/segment"
	"github.com/datapulse-io/batchexport/pkg/shm"
)

// Config contains pipeline configuration.
type Config struct {
	// Workers is the transform worker pool size. The pending-result queue
	// has the same capacity, bounding how many batches can be in flight
	// ahead of the consumer.
	Workers int
	// MaxSegmentBytes triggers a segment boundary once exceeded.
	// 0 disables segmentation.
	MaxSegmentBytes int64
	// JSONColumns names string columns re-expanded after shared memory
	// transport.
	JSONColumns []string
}

// DefaultConfig returns default pipeline configuration.
func DefaultConfig() *Config {
	return &Config{
		Workers: 2,
	}
}

// pendingResult is a submitted transform job awaiting completion. The
// region handle belongs to the producer side; the consumer unlinks it after
// draining the result.
type pendingResult struct {
	region    *shm.Region
	done      chan struct{}
	fragments [][]byte
	err       error
}

// Pipeline converts a stream of batches into a stream of chunks, encoding
// batches on a worker pool when the transformer allows it.
type Pipeline struct {
	transformer codec.Transformer
	controller  *segment.Controller
	config      *Config
	logger      *zap.Logger
}

// New creates a pipeline around a transformer.
func New(t codec.Transformer, config *Config, logger *zap.Logger) *Pipeline {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Workers <= 0 {
		config.Workers = DefaultConfig().Workers
	}

	return &Pipeline{
		transformer: t,
		controller:  segment.NewController(t, config.MaxSegmentBytes),
		config:      config,
		logger:      logger.With(zap.String("component", "pipeline")),
	}
}

// Run consumes batches and emits chunks. Output chunk order is strictly the
// input batch order. Both returned channels close when the stream ends; the
// error channel carries at most one fatal error. Cancelling ctx stops the
// pipeline, drains in-flight work, and unlinks every shared region before
// the worker pool is torn down.
func (p *Pipeline) Run(ctx context.Context, batches <-chan *batch.Batch) (<-chan segment.Chunk, <-chan error) {
	if !p.transformer.Parallelizable() || p.config.Workers == 1 {
		p.logger.Info("using sequential transform path",
			zap.Bool("parallelizable", p.transformer.Parallelizable()),
			zap.Int("workers", p.config.Workers))
		return p.controller.Stream(ctx, batches)
	}

	chunks := make(chan segment.Chunk)
	errc := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errc)

		if err := p.runParallel(ctx, batches, chunks); err != nil {
			errc <- err
		}
	}()

	return chunks, errc
}

func (p *Pipeline) runParallel(ctx context.Context, batches <-chan *batch.Batch, chunks chan<- segment.Chunk) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := p.config.Workers
	jobs := make(chan *pendingResult, workers)
	queue := make(chan *pendingResult, workers)

	p.logger.Info("starting parallel transform",
		zap.Int("workers", workers),
		zap.Int64("max_segment_bytes", p.config.MaxSegmentBytes))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(jobs)
		defer close(queue)
		return p.produce(gctx, batches, jobs, queue)
	})

	for i := 0; i < workers; i++ {
		g.Go(func() error {
			p.work(jobs)
			return nil
		})
	}

	consumeErr := p.consume(ctx, queue, chunks)
	if consumeErr != nil {
		// Unblock the producer and drain whatever it already submitted so
		// no region leaks.
		cancel()
		drain(queue)
	}

	gErr := g.Wait()
	if consumeErr != nil {
		// The abort above cancelled the producer, so the group error is
		// the secondary context.Canceled and the consume error is the
		// one that describes the failure.
		drain(queue)
		return consumeErr
	}
	if gErr != nil {
		drain(queue)
		return gErr
	}

	// End of stream: one unconditional finalize, no trailing boundary.
	out, err := p.controller.Finish()
	if err != nil {
		return err
	}
	return emit(ctx, chunks, out)
}

// produce serializes each batch into a shared region, submits the transform
// job to the pool, and pushes the pending result onto the bounded queue.
// The blocking queue send is the backpressure bounding in-flight batches.
func (p *Pipeline) produce(ctx context.Context, batches <-chan *batch.Batch, jobs, queue chan<- *pendingResult) error {
	for {
		select {
		case b, ok := <-batches:
			if !ok {
				return nil
			}

			region, err := shm.WriteBatch(b)
			b.Release()
			if err != nil {
				return err
			}

			pr := &pendingResult{region: region, done: make(chan struct{})}

			select {
			case jobs <- pr:
			case <-ctx.Done():
				pr.err = ctx.Err()
				close(pr.done)
				region.Unlink()
				return ctx.Err()
			}

			select {
			case queue <- pr:
				metrics.QueueDepth.Inc()
			case <-ctx.Done():
				// The job was already submitted; the drain pass unlinks it.
				<-pr.done
				region.Unlink()
				return ctx.Err()
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// work runs one pool worker: open the region by name, decode and transform
// the batch, and hand the materialized fragments back through the pending
// result. Workers close their region handle in ReadBatch and never unlink.
func (p *Pipeline) work(jobs <-chan *pendingResult) {
	for pr := range jobs {
		pr.fragments, pr.err = p.transformRegion(pr.region.Name())
		close(pr.done)
	}
}

func (p *Pipeline) transformRegion(name string) ([][]byte, error) {
	b, err := shm.ReadBatch(name, p.config.JSONColumns)
	if err != nil {
		return nil, err
	}
	defer b.Release()

	// Workers cannot stream incrementally back to the consumer; the whole
	// batch's output is materialized before returning.
	return p.transformer.WriteBatch(b)
}

// consume pops pending results strictly in submission order, so output
// order matches input order even when workers finish out of order.
func (p *Pipeline) consume(ctx context.Context, queue <-chan *pendingResult, chunks chan<- segment.Chunk) error {
	for {
		select {
		case pr, ok := <-queue:
			if !ok {
				return nil
			}
			metrics.QueueDepth.Dec()

			select {
			case <-pr.done:
			case <-ctx.Done():
				<-pr.done
				pr.region.Unlink()
				return ctx.Err()
			}

			if err := pr.region.Unlink(); err != nil {
				return err
			}
			if pr.err != nil {
				return pr.err
			}

			out, err := p.controller.Append(pr.fragments)
			if err != nil {
				return err
			}
			if err := emit(ctx, chunks, out); err != nil {
				return err
			}
			metrics.BatchesTransformed.Inc()

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func emit(ctx context.Context, chunks chan<- segment.Chunk, out []segment.Chunk) error {
	for _, chunk := range out {
		select {
		case chunks <- chunk:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// drain waits out remaining pending results and unlinks their regions.
func drain(queue <-chan *pendingResult) {
	for pr := range queue {
		metrics.QueueDepth.Dec()
		<-pr.done
		pr.region.Unlink()
	}
}
