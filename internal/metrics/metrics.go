// Package metrics exposes Prometheus counters and histograms for the relay's
// HTTP surface, chain-client RPC calls, and nonce-pool state, the same set
// of instrumentation points the teacher's chainadapter/metrics package
// defines conceptually, wired here onto github.com/prometheus/client_golang
// instead of a hand-rolled aggregator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPActiveRequests  prometheus.Gauge

	RPCCallsTotal    *prometheus.CounterVec
	RPCCallDuration  *prometheus.HistogramVec

	NonceAssignedTotal    *prometheus.CounterVec
	NonceConflictsTotal   *prometheus.CounterVec
	NonceGapsRecovered    *prometheus.CounterVec
	NoncePoolAvailable    *prometheus.GaugeVec

	BroadcastsTotal  *prometheus.CounterVec
	SettlementPolls  *prometheus.HistogramVec
}

// New registers and returns the relay's metric set against reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "Total HTTP requests by method, path, and status.",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		HTTPActiveRequests: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_http_active_requests",
			Help: "In-flight HTTP requests.",
		}),
		RPCCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_chain_rpc_calls_total",
			Help: "Chain RPC calls by method and outcome.",
		}, []string{"method", "outcome"}),
		RPCCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_chain_rpc_duration_seconds",
			Help:    "Chain RPC call duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		NonceAssignedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_nonce_assigned_total",
			Help: "Nonces assigned per wallet index.",
		}, []string{"wallet"}),
		NonceConflictsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_nonce_conflicts_total",
			Help: "Nonce conflicts detected per wallet index.",
		}, []string{"wallet"}),
		NonceGapsRecovered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_nonce_gaps_recovered_total",
			Help: "Stale reserved nonces recovered by reconciliation per wallet index.",
		}, []string{"wallet"}),
		NoncePoolAvailable: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "relay_nonce_pool_available",
			Help: "Available nonces in the pool per wallet index.",
		}, []string{"wallet"}),
		BroadcastsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_broadcasts_total",
			Help: "Broadcast attempts by outcome.",
		}, []string{"outcome"}),
		SettlementPolls: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_settlement_poll_seconds",
			Help:    "Time spent polling for settlement confirmation.",
			Buckets: []float64{1, 2, 4, 8, 16, 30, 60},
		}, []string{"outcome"}),
	}
}
