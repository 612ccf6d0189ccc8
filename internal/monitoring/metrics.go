// Package monitoring holds the node's Prometheus instrumentation.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sequencingRoundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "verity_sequencing_rounds_total",
		Help: "Total sequencing rounds by result.",
	}, []string{"result"})

	entriesSequencedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "verity_entries_sequenced_total",
		Help: "Total entries assigned a new sequence number by this node.",
	})

	treeHeadsSignedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "verity_tree_heads_signed_total",
		Help: "Total signed tree heads produced.",
	})

	treeSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "verity_tree_size",
		Help: "Leaf count of the in-memory Merkle tree.",
	})

	sequencingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "verity_sequencing_duration_seconds",
		Help:    "Duration of a sequencing round in seconds.",
		Buckets: prometheus.DefBuckets,
	})

	dependencyUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "verity_dependency_up",
		Help: "Whether the last probe of a dependency succeeded (1) or failed (0).",
	}, []string{"dependency"})
)

// RecordSequencingRound records the outcome and duration of one round.
func RecordSequencingRound(err error, newlySequenced int, elapsed time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	sequencingRoundsTotal.WithLabelValues(result).Inc()
	sequencingDuration.Observe(elapsed.Seconds())
	if newlySequenced > 0 {
		entriesSequencedTotal.Add(float64(newlySequenced))
	}
}

// RecordTreeHead records a freshly signed tree head.
func RecordTreeHead(size uint64) {
	treeHeadsSignedTotal.Inc()
	treeSize.Set(float64(size))
}

// RecordDependency records the result of one dependency probe.
func RecordDependency(name string, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	dependencyUp.WithLabelValues(name).Set(v)
}
