// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Catalog metrics
	ProviderFetchTokens  *prometheus.CounterVec
	ProviderFetchErrors  *prometheus.CounterVec
	AggregationRunsTotal prometheus.Counter
	CatalogSize          prometheus.Gauge

	// Cache metrics
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec

	// Validation metrics
	ValidationBatchesTotal *prometheus.CounterVec
	TokensValidated        *prometheus.CounterVec
	ValidationPosition     prometheus.Gauge
	ValidationTotal        prometheus.Gauge

	// Price metrics
	PriceLookupsTotal  *prometheus.CounterVec
	PriceSourceLatency *prometheus.HistogramVec

	// Chain access metrics
	RPCCallLatency *prometheus.HistogramVec
	RPCCallErrors  *prometheus.CounterVec

	// Storage metrics
	StoreQueryDuration *prometheus.HistogramVec
	StoreQueryErrors   *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Health metrics
	LastSuccessfulSync      prometheus.Gauge
	LastCompletedValidation prometheus.Gauge
	UptimeSeconds           prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "token_catalog"
	}

	return &Metrics{
		// Catalog metrics
		ProviderFetchTokens: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "provider_tokens_fetched_total",
			Help:      "Total number of tokens fetched per list provider",
		}, []string{"provider"}),
		ProviderFetchErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "provider_fetch_errors_total",
			Help:      "Total number of failed list provider fetches",
		}, []string{"provider"}),
		AggregationRunsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "aggregation_runs_total",
			Help:      "Total number of catalog aggregation runs",
		}),
		CatalogSize: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "size",
			Help:      "Number of tokens in the most recent catalog snapshot",
		}),

		// Cache metrics
		CacheHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of cache hits by namespace",
		}, []string{"namespace"}),
		CacheMisses: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of cache misses by namespace",
		}, []string{"namespace"}),

		// Validation metrics
		ValidationBatchesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "batches_total",
			Help:      "Total number of validation batch cycles by outcome",
		}, []string{"status"}),
		TokensValidated: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "tokens_total",
			Help:      "Total number of tokens put through validation by result",
		}, []string{"result"}),
		ValidationPosition: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "position",
			Help:      "Current position of the active validation run",
		}),
		ValidationTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "total_tokens",
			Help:      "Total token count of the active validation run",
		}),

		// Price metrics
		PriceLookupsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prices",
			Name:      "lookups_total",
			Help:      "Total number of price lookups by winning source",
		}, []string{"source"}),
		PriceSourceLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "prices",
			Name:      "source_latency_seconds",
			Help:      "Upstream price source request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),

		// Chain access metrics
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "evm",
			Name:      "rpc_call_latency_seconds",
			Help:      "EVM RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		RPCCallErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evm",
			Name:      "rpc_call_errors_total",
			Help:      "Total number of failed EVM RPC calls",
		}, []string{"method"}),

		// Storage metrics
		StoreQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "query_duration_seconds",
			Help:      "Store query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"store", "operation"}),
		StoreQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "query_errors_total",
			Help:      "Total number of store query errors",
		}, []string{"store", "operation"}),

		// HTTP metrics
		HTTPRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by route and status",
		}, []string{"route", "status"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),

		// Health metrics
		LastSuccessfulSync: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_sync_timestamp",
			Help:      "Unix timestamp of the last successful catalog sync",
		}),
		LastCompletedValidation: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_completed_validation_timestamp",
			Help:      "Unix timestamp of the last completed validation run",
		}),
		UptimeSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordProviderFetch records the outcome of one list provider fetch.
func RecordProviderFetch(provider string, tokens int, failed bool) {
	DefaultMetrics.ProviderFetchTokens.WithLabelValues(provider).Add(float64(tokens))
	if failed {
		DefaultMetrics.ProviderFetchErrors.WithLabelValues(provider).Inc()
	}
}

// RecordAggregationRun records one aggregation pass and its result size.
func RecordAggregationRun(catalogSize int) {
	DefaultMetrics.AggregationRunsTotal.Inc()
	DefaultMetrics.CatalogSize.Set(float64(catalogSize))
}

// RecordCacheHit increments the hit counter for a cache namespace.
func RecordCacheHit(namespace string) {
	DefaultMetrics.CacheHits.WithLabelValues(namespace).Inc()
}

// RecordCacheMiss increments the miss counter for a cache namespace.
func RecordCacheMiss(namespace string) {
	DefaultMetrics.CacheMisses.WithLabelValues(namespace).Inc()
}

// RecordValidationBatch records one batch cycle outcome and progress.
func RecordValidationBatch(status string, position, total int) {
	DefaultMetrics.ValidationBatchesTotal.WithLabelValues(status).Inc()
	DefaultMetrics.ValidationPosition.Set(float64(position))
	DefaultMetrics.ValidationTotal.Set(float64(total))
}

// RecordTokenValidated counts one validated token by result.
func RecordTokenValidated(confirmed bool) {
	if confirmed {
		DefaultMetrics.TokensValidated.WithLabelValues("confirmed").Inc()
	} else {
		DefaultMetrics.TokensValidated.WithLabelValues("unconfirmed").Inc()
	}
}

// RecordPriceLookup counts one resolved price by winning source.
func RecordPriceLookup(source string) {
	DefaultMetrics.PriceLookupsTotal.WithLabelValues(source).Inc()
}

// RecordRPCCall records an EVM RPC call.
func RecordRPCCall(method string, seconds float64, err error) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
	if err != nil {
		DefaultMetrics.RPCCallErrors.WithLabelValues(method).Inc()
	}
}

// RecordStoreQuery records store query metrics.
func RecordStoreQuery(store, operation string, seconds float64, err error) {
	DefaultMetrics.StoreQueryDuration.WithLabelValues(store, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.StoreQueryErrors.WithLabelValues(store, operation).Inc()
	}
}

// RecordHTTPRequest records one served HTTP request.
func RecordHTTPRequest(route, status string, seconds float64) {
	DefaultMetrics.HTTPRequestsTotal.WithLabelValues(route, status).Inc()
	DefaultMetrics.HTTPRequestDuration.WithLabelValues(route).Observe(seconds)
}
