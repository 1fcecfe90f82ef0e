// Package metrics exposes the node's Prometheus instrumentation: provider
// pool health, indexer progress, and cacher progress gauges, registered
// against the default registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ProvidersOnline tracks online/offline state per (chain, provider).
	ProvidersOnline = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meshnode_eth_providers_online",
			Help: "1 if the provider is online, 0 if offline",
		},
		[]string{"chain_id", "provider"},
	)

	ProviderRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshnode_eth_provider_requests_total",
			Help: "Total eth requests served by provider, by outcome",
		},
		[]string{"chain_id", "provider", "outcome"},
	)

	IndexerLastBlock = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meshnode_indexer_last_block",
			Help: "Last block processed by the identity indexer",
		},
		[]string{"chain_id"},
	)

	IndexerPendingNotes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meshnode_indexer_pending_notes",
			Help: "Number of notes buffered waiting for their parent name",
		},
		[]string{"chain_id"},
	)

	CacherLastCachedBlock = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meshnode_cacher_last_cached_block",
			Help: "Last block number covered by the cacher's manifest",
		},
		[]string{"chain_id"},
	)

	CacherBatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "meshnode_cacher_batch_duration_seconds",
			Help:    "Time to fetch, sign, and write one log-cache batch",
			Buckets: prometheus.DefBuckets,
		},
	)

	KernelMessagesRoutedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshnode_kernel_messages_routed_total",
			Help: "Messages routed by the kernel, by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		ProvidersOnline,
		ProviderRequestsTotal,
		IndexerLastBlock,
		IndexerPendingNotes,
		CacherLastCachedBlock,
		CacherBatchDuration,
		KernelMessagesRoutedTotal,
	)
}

// Handler returns the Prometheus scrape handler for wiring into an HTTP mux.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an operation's wall-clock duration for a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a new Timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time since NewTimer into h.
func (t *Timer) ObserveDuration(h prometheus.Histogram) time.Duration {
	d := time.Since(t.start)
	h.Observe(d.Seconds())
	return d
}
