package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/archivext/internal/archive"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestMetrics_ObserveAndScrape(t *testing.T) {
	m := New(nil)
	m.ObserveStats(archive.Stats{FilesRead: 2, LinesRejected: 3, LinesWritten: 1})
	m.ObserveFilter(2*time.Millisecond, 4, 10)
	m.ObserveUpdate("updated")

	body := scrape(t, m)
	for _, want := range []string{
		"archivext_archive_files_read_total 2",
		"archivext_archive_lines_rejected_total 3",
		"archivext_archive_lines_written_total 1",
		"archivext_filter_runs_total 1",
		"archivext_matches 4",
		"archivext_records 10",
		`archivext_updates_total{result="updated"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}

func TestMetrics_nilIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveStats(archive.Stats{FilesRead: 1})
	m.ObserveFilter(time.Millisecond, 1, 1)
	m.ObserveUpdate("failed")
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestMetrics_Middleware(t *testing.T) {
	m := New(nil)
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	for _, path := range []string{"/api/v1/records/sig:aa", "/api/v1/records/sig:bb"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, path, nil))
	}
	body := scrape(t, m)
	want := `archivext_http_requests_total{method="DELETE",path="/api/v1/records/{id}",status="404"} 2`
	if !strings.Contains(body, want) {
		t.Errorf("scrape missing %q:\n%s", want, body)
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/api/v1/records", "/api/v1/records"},
		{"/api/v1/records/fuzzy", "/api/v1/records/fuzzy"},
		{"/api/v1/records/sig:0a1b", "/api/v1/records/{id}"},
		{"/api/v1/records/sig:0a1b/archive", "/api/v1/records/{id}/archive"},
		{"/health", "/health"},
	}
	for _, tt := range tests {
		if got := normalizePath(tt.in); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
