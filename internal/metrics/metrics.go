// Package metrics exposes Prometheus collectors for the similarity service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsTotal                  *prometheus.CounterVec
	rowsTotal                  *prometheus.CounterVec
	contentFailuresTotal       *prometheus.CounterVec
	pageFetchesTotal           *prometheus.CounterVec
	sheetFlushesTotal          prometheus.Counter
	sheetUpdatesTotal          prometheus.Counter
	activeJobs                 prometheus.Gauge
	writeLimitDelaySeconds     prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "similarity_jobs_total",
				Help: "Total number of jobs finished, labeled by terminal status.",
			},
			[]string{"status"},
		)

		rowsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "similarity_rows_total",
				Help: "Total number of sheet rows scored, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		contentFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "similarity_content_failures_total",
				Help: "Content fetch failures, labeled by reason.",
			},
			[]string{"reason"},
		)

		pageFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "similarity_page_fetches_total",
				Help: "Page fetches issued, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		sheetFlushesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "similarity_sheet_flushes_total",
				Help: "Batched spreadsheet writes sent.",
			},
		)

		sheetUpdatesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "similarity_sheet_updates_total",
				Help: "Cell updates sent in batched spreadsheet writes.",
			},
		)

		activeJobs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "similarity_active_jobs",
				Help: "Number of jobs currently being processed.",
			},
		)

		writeLimitDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "similarity_write_limit_delay_seconds",
				Help:    "Time spent waiting on the spreadsheet write limiter.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
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

// Middleware records request counts and latencies per chi route pattern.
func Middleware(next http.Handler) http.Handler {
	Init()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		ObserveHTTPRequest(r.Method, route, rec.statusCode, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveJob increments the job counter for the given terminal status.
func ObserveJob(status string) {
	jobsTotal.WithLabelValues(status).Inc()
}

// ObserveRow counts one scored row; outcome is "success" or "failed".
func ObserveRow(outcome string) {
	rowsTotal.WithLabelValues(outcome).Inc()
}

// ObserveContentFailure counts a rejected or unreachable page by reason.
func ObserveContentFailure(reason string) {
	contentFailuresTotal.WithLabelValues(reason).Inc()
}

// ObservePageFetch counts a page fetch against the host of rawURL.
func ObservePageFetch(rawURL string, status string) {
	pageFetchesTotal.WithLabelValues(SanitizeSite(rawURL), status).Inc()
}

// ObserveSheetFlush records one batched write of n cell updates.
func ObserveSheetFlush(n int) {
	sheetFlushesTotal.Inc()
	sheetUpdatesTotal.Add(float64(n))
}

// ObserveWriteLimitDelay records the time spent waiting for a write token.
func ObserveWriteLimitDelay(duration time.Duration) {
	writeLimitDelaySeconds.Observe(duration.Seconds())
}

// IncActiveJobs increments the active jobs gauge.
func IncActiveJobs() {
	activeJobs.Inc()
}

// DecActiveJobs decrements the active jobs gauge.
func DecActiveJobs() {
	activeJobs.Dec()
}
