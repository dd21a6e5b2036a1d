// Package metrics provides Prometheus metrics for the settlement pricer.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// QuoteUpdatesTotal is a counter of recorded reporter quotes.
	QuoteUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quote_updates_total",
			Help: "Total number of quotes recorded from price reporters",
		},
		[]string{"asset", "source"},
	)

	// QuoteAgeSeconds is a gauge of quote age observed during aggregation.
	QuoteAgeSeconds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quote_age_seconds",
			Help: "Age of the quote for an asset from a source at aggregation time",
		},
		[]string{"asset", "source"},
	)

	// PriceAggregationDuration is a histogram of price aggregation duration.
	PriceAggregationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "price_aggregation_duration_seconds",
			Help:    "Duration of price aggregation operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// OutlierRejectionsTotal is a counter of rejected outlier quotes.
	OutlierRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outlier_rejections_total",
			Help: "Total number of outlier quotes rejected",
		},
		[]string{"asset"},
	)

	// ReweightsTotal counts weight redistribution passes by policy.
	ReweightsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reweights_total",
			Help: "Total number of aggregation passes that redistributed source weights",
		},
		[]string{"asset", "policy"},
	)

	// WeightOutOfBoundsTotal counts bounds failures, split by whether the caller overrode them.
	WeightOutOfBoundsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weight_out_of_bounds_total",
			Help: "Total number of aggregations whose active weight was out of bounds",
		},
		[]string{"asset", "overridden"},
	)

	// TWAPTriggersTotal counts TWAP sampler triggers by outcome.
	TWAPTriggersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "twap_triggers_total",
			Help: "Total number of TWAP sampler triggers",
		},
		[]string{"pool", "result"},
	)

	// SettlementsTotal counts prices forwarded to the settlement oracle.
	SettlementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlements_total",
			Help: "Total number of settlement price submissions",
		},
		[]string{"asset", "kind", "status"},
	)

	// HTTPRequestsTotal is a counter of total HTTP requests.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"endpoint", "status"},
	)

	// HTTPRequestDuration is a histogram of HTTP request latencies.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"endpoint"},
	)
)

// Init initializes Prometheus metrics registry.
func Init() {
	prometheus.MustRegister(
		QuoteUpdatesTotal,
		QuoteAgeSeconds,
		PriceAggregationDuration,
		OutlierRejectionsTotal,
		ReweightsTotal,
		WeightOutOfBoundsTotal,
		TWAPTriggersTotal,
		SettlementsTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}

// NewServer builds the metrics HTTP server without starting it.
func NewServer(addr, path string) *http.Server {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// RecordQuote records a quote recorded for an asset from a source.
func RecordQuote(asset, source string) {
	QuoteUpdatesTotal.WithLabelValues(asset, source).Inc()
}

// RecordQuoteAge records how old a source's quote was when it was aggregated.
func RecordQuoteAge(asset, source string, age time.Duration) {
	QuoteAgeSeconds.WithLabelValues(asset, source).Set(age.Seconds())
}

// RecordAggregation records a price aggregation operation.
func RecordAggregation(method string, duration time.Duration) {
	PriceAggregationDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordOutlierRejection records an outlier rejection.
func RecordOutlierRejection(asset string) {
	OutlierRejectionsTotal.WithLabelValues(asset).Inc()
}

// RecordReweight records a weight redistribution pass.
func RecordReweight(asset, policy string) {
	ReweightsTotal.WithLabelValues(asset, policy).Inc()
}

// RecordWeightOutOfBounds records a bounds failure.
func RecordWeightOutOfBounds(asset string, overridden bool) {
	val := "false"
	if overridden {
		val = "true"
	}
	WeightOutOfBoundsTotal.WithLabelValues(asset, val).Inc()
}

// RecordTWAPTrigger records a TWAP trigger outcome ("started", "finalized", "too_early", "error").
func RecordTWAPTrigger(pool, result string) {
	TWAPTriggersTotal.WithLabelValues(pool, result).Inc()
}

// RecordSettlement records a settlement submission.
func RecordSettlement(asset, kind, status string) {
	SettlementsTotal.WithLabelValues(asset, kind, status).Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}
