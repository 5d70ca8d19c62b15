// Package metrics provides Prometheus instrumentation for the media gate.
//
// The server registers its metrics at package init then mounts
// metrics.Handler() at GET /metrics (Prometheus scrape endpoint).
//
// Standard metrics exposed automatically by prometheus/client_golang:
//   - go_goroutines, go_gc_duration_seconds, etc. (Go runtime)
//   - process_cpu_seconds_total, process_open_fds, etc. (process)
//
// Gate-specific metrics registered here:
//
//	mediagate_http_requests_total           — counter: HTTP requests by method/path/status
//	mediagate_http_request_duration_seconds — histogram: HTTP latency by method/path
//	mediagate_access_denied_total           — counter: denied media requests by reason
//	mediagate_streams_served_total          — counter: served streams by status (200/206)
//	mediagate_stream_bytes_total            — counter: media payload bytes written
//	mediagate_links_issued_total            — counter: protected links issued
//	mediagate_auth_events_total             — counter: login/logout events by result
//	mediagate_active_devices                — gauge: registered devices across accounts
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ── Counters ──────────────────────────────────────────────────────────────────

// HTTPRequests counts HTTP requests by method, path, and status code.
var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mediagate_http_requests_total",
	Help: "Total HTTP requests handled.",
}, []string{"method", "path", "status"})

// AccessDenied counts denied media requests by denial reason.
var AccessDenied = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mediagate_access_denied_total",
	Help: "Media requests denied by the access gate, by reason.",
}, []string{"reason"})

// StreamsServed counts successfully served streams by response status.
var StreamsServed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mediagate_streams_served_total",
	Help: "Media streams served, by HTTP status (200 full, 206 partial).",
}, []string{"status"})

// StreamBytes counts media payload bytes written to clients.
var StreamBytes = promauto.NewCounter(prometheus.CounterOpts{
	Name: "mediagate_stream_bytes_total",
	Help: "Total media payload bytes written.",
})

// LinksIssued counts protected links issued.
var LinksIssued = promauto.NewCounter(prometheus.CounterOpts{
	Name: "mediagate_links_issued_total",
	Help: "Protected media links issued.",
})

// AuthEvents counts login/logout events by type and result.
var AuthEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mediagate_auth_events_total",
	Help: "Auth events by type.",
}, []string{"event", "result"})

// ── Gauges ────────────────────────────────────────────────────────────────────

// ActiveDevices is the number of registered devices across all accounts.
var ActiveDevices = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "mediagate_active_devices",
	Help: "Registered devices across all accounts.",
})

// ── Histograms ────────────────────────────────────────────────────────────────

// HTTPDuration tracks HTTP request latency.
var HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "mediagate_http_request_duration_seconds",
	Help:    "HTTP request latency in seconds.",
	Buckets: prometheus.DefBuckets, // .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10
}, []string{"method", "path"})

// ── Handler ───────────────────────────────────────────────────────────────────

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ── Middleware ────────────────────────────────────────────────────────────────

// Middleware wraps an HTTP handler to record request counts and latency.
// path should be a templated path (e.g. "/devices/{fingerprint}") not the
// raw URL, to keep label cardinality bounded.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		dur := time.Since(start).Seconds()
		path := sanitizePath(r.URL.Path)
		status := strconv.Itoa(rw.status)
		HTTPRequests.WithLabelValues(r.Method, path, status).Inc()
		HTTPDuration.WithLabelValues(r.Method, path).Observe(dur)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush passes stream flushes through to the underlying writer.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// sanitizePath bounds label length. Device fingerprints appear as the final
// path segment on DELETE /devices/{fingerprint}, so long paths get truncated
// rather than minting one label per fingerprint.
func sanitizePath(path string) string {
	if len(path) > 64 {
		return path[:64] + "..."
	}
	return path
}

// ── Init (registry-scoped) ────────────────────────────────────────────────────

// Init registers all gate metrics with the given prometheus.Registerer.
// This is provided for testing — pass prometheus.NewRegistry() to get an
// isolated registry. In production all metrics are registered via promauto
// to prometheus.DefaultRegisterer at package init time.
func Init(reg prometheus.Registerer) {
	httpReqs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mediagate_http_requests_total",
		Help: "Total HTTP requests handled.",
	}, []string{"method", "path", "status"})

	httpDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mediagate_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	accessDenied := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mediagate_access_denied_total",
		Help: "Media requests denied by the access gate, by reason.",
	}, []string{"reason"})

	streamsServed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mediagate_streams_served_total",
		Help: "Media streams served, by HTTP status (200 full, 206 partial).",
	}, []string{"status"})

	streamBytes := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mediagate_stream_bytes_total",
		Help: "Total media payload bytes written.",
	})

	linksIssued := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mediagate_links_issued_total",
		Help: "Protected media links issued.",
	})

	authEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mediagate_auth_events_total",
		Help: "Auth events by type.",
	}, []string{"event", "result"})

	activeDevices := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mediagate_active_devices",
		Help: "Registered devices across all accounts.",
	})

	reg.MustRegister(
		httpReqs,
		httpDur,
		accessDenied,
		streamsServed,
		streamBytes,
		linksIssued,
		authEvents,
		activeDevices,
	)
}
