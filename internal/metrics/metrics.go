// Package metrics installs the engine's Prometheus instrumentation.
// Counting is ambient: it runs regardless of whether anything scrapes
// the HTTP endpoint this package optionally serves.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	OrdersAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fenrir_orders_accepted_total",
		Help: "Orders accepted by a shard.",
	})
	OrdersRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fenrir_orders_rejected_total",
		Help: "Orders rejected by a shard, labeled by reason.",
	}, []string{"reason"})
	FillsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fenrir_fills_total",
		Help: "Fills produced across all shards.",
	})
	WalAppendSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fenrir_wal_append_seconds",
		Help:    "Latency of a single WAL append call.",
		Buckets: prometheus.DefBuckets,
	})
)

// Serve starts the blocking Prometheus pull endpoint on addr. Callers
// run it in its own goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
