package journal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// batchesTotal counts append attempts by result
	batchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "memstate_journal_batches_total",
		Help: "Journal batch appends by result",
	}, []string{"result"})

	// batchSize tracks commands per appended batch
	batchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "memstate_journal_batch_size",
		Help:    "Number of commands per journal batch",
		Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 200, 500},
	})

	// appendDuration tracks storage append latency
	appendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "memstate_journal_append_duration_seconds",
		Help:    "Journal batch append duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 0.1ms to ~800ms
	})

	// poisonedTotal counts commands rejected while the writer was halted
	poisonedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "memstate_journal_poisoned_commands_total",
		Help: "Commands failed by a halted journal writer",
	})
)
