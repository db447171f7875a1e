// Package metrics holds the upload domain's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	ResultSuccess   = "success"
	ResultDuplicate = "duplicate"
	ResultError     = "error"
)

var (
	SessionsInitiated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chunkup_sessions_initiated_total",
		Help: "Upload sessions opened.",
	})

	ChunksReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chunkup_chunks_received_total",
		Help: "Chunks written to session directories, retries included.",
	})

	ChunkBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chunkup_chunk_bytes_total",
		Help: "Bytes of chunk payload received.",
	})

	Finalizations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chunkup_finalizations_total",
		Help: "Finalize attempts by result.",
	}, []string{"result"})

	FinalizeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chunkup_finalize_duration_seconds",
		Help:    "Time spent reassembling and placing a file.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	CleanupRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chunkup_cleanup_runs_total",
		Help: "Retention sweeps executed.",
	})

	CleanupRemoved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chunkup_cleanup_removed_total",
		Help: "Items removed by retention sweeps.",
	}, []string{"kind"})

	CleanupErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chunkup_cleanup_errors_total",
		Help: "Per-item failures during retention sweeps.",
	}, []string{"kind"})

	CleanupDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chunkup_cleanup_duration_seconds",
		Help:    "Duration of a full retention sweep.",
		Buckets: prometheus.DefBuckets,
	})
)
