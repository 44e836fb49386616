// Package metrics exposes Prometheus collectors for the catalog crawler.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	categoriesTotal            *prometheus.CounterVec
	productLinksTotal          prometheus.Counter
	productsTotal              prometheus.Counter
	productFailuresTotal       *prometheus.CounterVec
	navigationsTotal           *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	runDurationSeconds         *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		categoriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_categories_attempted_total",
				Help: "Category discovery attempts, labeled by stage and result.",
			},
			[]string{"stage", "result"},
		)

		productLinksTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "catalog_product_links_discovered_total",
				Help: "Product links newly inserted into the catalog.",
			},
		)

		productsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "catalog_products_scraped_total",
				Help: "Product records persisted by ingestion.",
			},
		)

		productFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_product_failures_total",
				Help: "Product URLs that failed ingestion, labeled by stage.",
			},
			[]string{"stage"},
		)

		navigationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_navigation_attempts_total",
				Help: "Browser navigation attempts, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "catalog_active_workers",
				Help: "Number of browser tasks currently in progress.",
			},
		)

		runDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "catalog_run_duration_seconds",
				Help:    "Wall time of discovery and ingestion runs.",
				Buckets: []float64{10, 30, 60, 300, 900, 1800, 3600, 7200, 14400},
			},
			[]string{"stage"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCategory counts one category attempt.
func ObserveCategory(stage, result string) {
	Init()
	categoriesTotal.WithLabelValues(stage, result).Inc()
}

// AddProductLinks counts newly inserted product links.
func AddProductLinks(n int) {
	if n <= 0 {
		return
	}
	Init()
	productLinksTotal.Add(float64(n))
}

// ObserveProducts counts persisted product records.
func ObserveProducts(n int) {
	if n <= 0 {
		return
	}
	Init()
	productsTotal.Add(float64(n))
}

// ObserveProductFailure counts a failed product URL at the given stage.
func ObserveProductFailure(stage string) {
	Init()
	productFailuresTotal.WithLabelValues(stage).Inc()
}

// ObserveNavigation counts one navigation attempt.
func ObserveNavigation(rawURL, outcome string) {
	Init()
	navigationsTotal.WithLabelValues(SanitizeSite(rawURL), outcome).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRun records how long a stage took.
func ObserveRun(stage string, d time.Duration) {
	Init()
	runDurationSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
