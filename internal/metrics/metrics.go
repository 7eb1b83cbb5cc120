// Package metrics exposes Prometheus counters for archive loading, filtering and the HTTP API.
// All methods accept a nil *Metrics and then do nothing.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hyperjump/archivext/internal/archive"
)

const namespace = "archivext"

// Metrics holds the collectors registered on one registry.
type Metrics struct {
	gatherer prometheus.Gatherer

	filesRead      prometheus.Counter
	filesSkipped   prometheus.Counter
	linesRejected  prometheus.Counter
	linesWritten   prometheus.Counter
	filesCreated   prometheus.Counter
	filterRuns     prometheus.Counter
	filterDuration prometheus.Histogram
	records        prometheus.Gauge
	matches        prometheus.Gauge
	updates        *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New registers the collectors on reg. A nil reg creates a private registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		filesRead: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "archive_files_read_total",
			Help: "Archive files read successfully",
		}),
		filesSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "archive_files_skipped_total",
			Help: "Archive files skipped because they could not be read or parsed",
		}),
		linesRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "archive_lines_rejected_total",
			Help: "Malformed archive lines",
		}),
		linesWritten: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "archive_lines_written_total",
			Help: "Records appended to archive files",
		}),
		filesCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "archive_files_created_total",
			Help: "Archive files created",
		}),
		filterRuns: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "filter_runs_total",
			Help: "Filter executions after debouncing",
		}),
		filterDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "filter_duration_seconds",
			Help:    "Time spent filtering the record store",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		}),
		records: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "records",
			Help: "Records currently loaded",
		}),
		matches: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "matches",
			Help: "Records matching the current query",
		}),
		updates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "updates_total",
			Help: "Remote archive sync runs by result",
		}, []string{"result"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "HTTP requests",
		}, []string{"method", "path", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// ObserveStats adds the counters of a load or archiving run.
func (m *Metrics) ObserveStats(s archive.Stats) {
	if m == nil {
		return
	}
	m.filesRead.Add(float64(s.FilesRead))
	m.filesSkipped.Add(float64(s.FilesSkipped))
	m.linesRejected.Add(float64(s.LinesRejected))
	m.linesWritten.Add(float64(s.LinesWritten))
	m.filesCreated.Add(float64(s.FilesCreated))
}

// ObserveFilter records one filter run.
func (m *Metrics) ObserveFilter(d time.Duration, matches, total int) {
	if m == nil {
		return
	}
	m.filterRuns.Inc()
	m.filterDuration.Observe(d.Seconds())
	m.matches.Set(float64(matches))
	m.records.Set(float64(total))
}

// ObserveUpdate counts a sync run ending with result ("up_to_date", "updated", "failed").
func (m *Metrics) ObserveUpdate(result string) {
	if m == nil {
		return
	}
	m.updates.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Middleware counts requests and their duration per normalized path.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		m.httpRequests.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// normalizePath replaces record ids with {id} to bound label cardinality.
// /api/v1/records/sig:0a1b... -> /api/v1/records/{id}
func normalizePath(path string) string {
	const recordsPrefix = "/api/v1/records/"
	if !strings.HasPrefix(path, recordsPrefix) {
		return path
	}
	rest := path[len(recordsPrefix):]
	if rest == "fuzzy" {
		return path
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return recordsPrefix + "{id}" + rest[i:]
	}
	return recordsPrefix + "{id}"
}
