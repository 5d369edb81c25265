// Package metrics exposes the Prometheus collectors of the repository manager.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds the process wide collectors.
type Metrics struct {
	// Scanner
	ScannedFilesTotal   *prometheus.CounterVec
	ConsumerErrorsTotal *prometheus.CounterVec
	ScanDuration        *prometheus.HistogramVec

	// Purge
	PurgedFilesTotal *prometheus.CounterVec

	// Proxy
	ProxyFetchesTotal *prometheus.CounterVec

	// HTTP
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// Get returns the collectors, registering them on first use.
//
// Metrics:
//   - archiva_scanned_files_total{repository} - files visited by the scanner
//   - archiva_consumer_errors_total{consumer} - consumer failures
//   - archiva_scan_duration_seconds{repository} - duration of complete scans
//   - archiva_purged_files_total{repository} - files removed by purge policies
//   - archiva_proxy_fetches_total{remote,result} - remote fetch attempts
//   - archiva_http_requests_total{method,status} - served requests
//   - archiva_http_request_duration_seconds{method} - request latency
func Get() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			ScannedFilesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "archiva_scanned_files_total",
					Help: "Total number of files visited by the repository scanner",
				},
				[]string{"repository"},
			),

			ConsumerErrorsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "archiva_consumer_errors_total",
					Help: "Total number of consumer failures while processing files",
				},
				[]string{"consumer"},
			),

			ScanDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "archiva_scan_duration_seconds",
					Help:    "Duration of repository scans in seconds",
					Buckets: prometheus.ExponentialBuckets(0.01, 4, 10), // 10ms to ~43m
				},
				[]string{"repository"},
			),

			PurgedFilesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "archiva_purged_files_total",
					Help: "Total number of files removed by purge policies",
				},
				[]string{"repository"},
			),

			ProxyFetchesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "archiva_proxy_fetches_total",
					Help: "Total number of remote fetch attempts",
				},
				[]string{"remote", "result"}, // "hit", "miss", "error", "cached_failure"
			),

			HTTPRequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "archiva_http_requests_total",
					Help: "Total number of HTTP requests served",
				},
				[]string{"method", "status"},
			),

			HTTPRequestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "archiva_http_request_duration_seconds",
					Help:    "Duration of HTTP requests in seconds",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"method"},
			),
		}
	})

	return globalMetrics
}

func (m *Metrics) RecordScannedFile(repoID string) {
	m.ScannedFilesTotal.WithLabelValues(repoID).Inc()
}

func (m *Metrics) RecordConsumerError(consumerID string) {
	m.ConsumerErrorsTotal.WithLabelValues(consumerID).Inc()
}

func (m *Metrics) RecordScan(repoID string, d time.Duration) {
	m.ScanDuration.WithLabelValues(repoID).Observe(d.Seconds())
}

func (m *Metrics) RecordPurged(repoID string, n int) {
	m.PurgedFilesTotal.WithLabelValues(repoID).Add(float64(n))
}

func (m *Metrics) RecordProxyFetch(remoteID, result string) {
	m.ProxyFetchesTotal.WithLabelValues(remoteID, result).Inc()
}

func (m *Metrics) RecordHTTPRequest(method string, status int, d time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method).Observe(d.Seconds())
}
