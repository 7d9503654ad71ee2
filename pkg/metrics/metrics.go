// Package metrics provides Prometheus metrics for the export transformer:
// throughput counters, segment rotation counts, encode fallback counts, and
// pipeline queue depth.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BatchesTransformed counts input batches fully encoded.
	BatchesTransformed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "batchexport_batches_transformed_total",
		Help: "Total number of input batches transformed",
	})

	// BytesEmitted counts bytes emitted in non-boundary chunks.
	BytesEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "batchexport_bytes_emitted_total",
		Help: "Total output bytes emitted after encoding and compression",
	})

	// SegmentsClosed counts segment boundaries emitted.
	SegmentsClosed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "batchexport_segments_closed_total",
		Help: "Total number of size-triggered segment boundaries",
	})

	// EncodeFallbacks counts rows recovered through a fallback encoding
	// path, labeled by the recovery applied.
	EncodeFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batchexport_encode_fallbacks_total",
		Help: "Total rows recovered via sanitization or fallback encoders",
	}, []string{"reason"})

	// QueueDepth tracks the number of pending results queued between the
	// pipeline producer and consumer.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "batchexport_pipeline_queue_depth",
		Help: "Pending transform results awaiting the consumer",
	})

	// RegionsActive tracks live shared memory regions.
	RegionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "batchexport_shared_regions_active",
		Help: "Shared memory regions created and not yet unlinked",
	})
)
