// Package metrics backs the §6 metrics-sink hook with prometheus/client_golang
// (dependency grounded on pkg/metrics/metrics.go in the cuemby-warren example,
// the pack's other Prometheus user): package-level collectors registered once
// in init, a Handler for scraping, and a Timer helper for histogram
// observations.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/khryptorgraphics/a2a-memory-core/pkg/gossip"
)

var (
	GossipSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "a2a_gossip_sent_total",
			Help: "Total number of gossip frames sent, by target agent",
		},
		[]string{"target"},
	)

	GossipReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "a2a_gossip_received_total",
			Help: "Total number of gossip frames received, by source agent",
		},
		[]string{"from"},
	)

	GossipDupTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "a2a_gossip_dup_total",
			Help: "Total number of gossip messages dropped as already-seen",
		},
	)

	GossipFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "a2a_gossip_failed_total",
			Help: "Total number of gossip send/receive failures, by reason",
		},
		[]string{"reason"},
	)

	SyncLatencySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "a2a_sync_latency_seconds",
			Help:    "Anti-entropy sync round-trip latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ConflictResolvedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "a2a_conflict_resolved_total",
			Help: "Total number of conflicts resolved automatically, by strategy",
		},
		[]string{"strategy"},
	)

	ConflictManualTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "a2a_conflict_manual_total",
			Help: "Total number of conflicts routed to manual review",
		},
	)

	ShardMigratedBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "a2a_shard_migrated_bytes_total",
			Help: "Total number of bytes migrated during shard rebalancing",
		},
	)

	MemoryPressure = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "a2a_memory_pressure",
			Help: "Current local memory pressure as reported to the manager, in [0,1]",
		},
	)

	TotalMemoryUsage = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "a2a_total_memory_usage_bytes",
			Help: "Estimated size in bytes of all locally held memory entries",
		},
	)

	CompressionSavingsRatio = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "a2a_compression_savings_ratio",
			Help: "Fraction of bytes saved by compression across held entries",
		},
	)
)

func init() {
	prometheus.MustRegister(
		GossipSentTotal,
		GossipReceivedTotal,
		GossipDupTotal,
		GossipFailedTotal,
		SyncLatencySeconds,
		ConflictResolvedTotal,
		ConflictManualTotal,
		ShardMigratedBytesTotal,
		MemoryPressure,
		TotalMemoryUsage,
		CompressionSavingsRatio,
	)
}

// Handler returns the Prometheus scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Sink adapts gossip.MetricEvent names into the collectors above, so it can
// be installed directly via gossip.Protocol.SetMetricSink.
func Sink(event gossip.MetricEvent) {
	switch event.Name {
	case "a2a.gossip.sent":
		GossipSentTotal.WithLabelValues(event.Tags["target"]).Add(event.Value)
	case "a2a.gossip.received":
		GossipReceivedTotal.WithLabelValues(event.Tags["from"]).Add(event.Value)
	case "a2a.gossip.dup":
		GossipDupTotal.Add(event.Value)
	case "a2a.gossip.failed":
		GossipFailedTotal.WithLabelValues(event.Tags["reason"]).Add(event.Value)
	case "a2a.sync.latency":
		SyncLatencySeconds.Observe(event.Value)
	case "a2a.conflict.resolved":
		ConflictResolvedTotal.WithLabelValues(event.Tags["strategy"]).Add(event.Value)
	case "a2a.conflict.manual":
		ConflictManualTotal.Add(event.Value)
	case "a2a.shard.migrated_bytes":
		ShardMigratedBytesTotal.Add(event.Value)
	case "a2a.memory.pressure":
		MemoryPressure.Set(event.Value)
	}
}

// Fanout returns a sink that forwards every event to each of sinks in turn,
// so a single gossip.Protocol/memory.Manager sink slot can feed Prometheus
// and, e.g., a live WebSocket broadcaster at once. nil sinks are skipped.
func Fanout(sinks ...gossip.MetricSink) gossip.MetricSink {
	return func(event gossip.MetricEvent) {
		for _, s := range sinks {
			if s != nil {
				s(event)
			}
		}
	}
}

// Timer times an operation and reports its duration to a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}
