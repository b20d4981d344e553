// Package metrics exposes the counters of the client in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cdse"

// Kinds of token renewal
const (
	TokenRefresh  = "refresh"
	TokenReauth   = "reauth"
	TokenReactive = "reactive"
)

var (
	registry = prometheus.NewRegistry()

	// TokenRenewals counts the token renewals by kind (refresh, reauth, reactive)
	TokenRenewals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_renewals_total",
		Help:      "Number of bearer token renewals.",
	}, []string{"kind"})

	// Downloads counts the downloads by final status
	Downloads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "downloads_total",
		Help:      "Number of product downloads by status.",
	}, []string{"status"})

	// DownloadedBytes counts the bytes written to disk
	DownloadedBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "downloaded_bytes_total",
		Help:      "Number of bytes downloaded.",
	})

	// ChecksumFailures counts the checksum mismatches by algorithm
	ChecksumFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "checksum_failures_total",
		Help:      "Number of downloaded files that did not match their checksum.",
	}, []string{"algorithm"})

	// Notifications counts the push notifications received by event
	Notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Number of subscription notifications received.",
	}, []string{"event"})
)

func init() {
	registry.MustRegister(TokenRenewals, Downloads, DownloadedBytes, ChecksumFailures, Notifications)
}

// Registry returns the registry of the counters
func Registry() *prometheus.Registry {
	return registry
}

// Handler serves the metrics in Prometheus exposition format
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
