// Package metrics provides Prometheus metrics for the k2share server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "k2share_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "k2share_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	downloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "k2share_downloads_total",
			Help: "Total number of download responses started",
		},
		[]string{"kind"},
	)

	// Archive metrics
	archiveBuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "k2share_archive_builds_total",
			Help: "Total number of archive builds",
		},
		[]string{"status"},
	)

	archiveBuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "k2share_archive_build_duration_seconds",
			Help:    "Time to pack a directory",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 60, 300},
		},
	)

	archiveCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "k2share_archive_cache_hits_total",
			Help: "Archive requests answered by an existing archive",
		},
	)

	serverRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "k2share_server_running",
			Help: "1 while the listener is serving",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRequest records one handled request.
func ObserveRequest(method, path string, status int, d time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// DownloadStarted counts a download response of the given kind ("file", "zip").
func DownloadStarted(kind string) {
	downloadsTotal.WithLabelValues(kind).Inc()
}

// ObserveArchiveBuild records one build attempt.
func ObserveArchiveBuild(d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	archiveBuildsTotal.WithLabelValues(status).Inc()
	archiveBuildDuration.Observe(d.Seconds())
}

// ArchiveCacheHit counts a reused archive.
func ArchiveCacheHit() {
	archiveCacheHits.Inc()
}

// SetRunning flips the running gauge.
func SetRunning(running bool) {
	if running {
		serverRunning.Set(1)
		return
	}
	serverRunning.Set(0)
}
