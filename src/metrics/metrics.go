// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

// Package metrics exposes Prometheus metrics with the vlabstools_ prefix.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"regexp"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Config struct {
	Enabled bool
	// Endpoint path for metrics (default: /metrics)
	Endpoint       string
	IncludeRuntime bool
	// Optional bearer token
	Token           string
	DurationBuckets []float64
}

func DefaultConfig() Config {
	return Config{
		Enabled:         false,
		Endpoint:        "/metrics",
		IncludeRuntime:  true,
		Token:           "",
		DurationBuckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}
}

var (
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vlabstools_app_info",
			Help: "Application information",
		},
		[]string{"version", "go_version"},
	)

	AppUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vlabstools_app_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vlabstools_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vlabstools_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: DefaultConfig().DurationBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vlabstools_http_active_requests",
			Help: "Number of active HTTP requests",
		},
	)

	// Tool metrics
	ToolRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vlabstools_tool_runs_total",
			Help: "Utility runs by tool and result",
		},
		[]string{"tool", "result"},
	)

	ToolDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vlabstools_tool_duration_seconds",
			Help:    "Utility run duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		},
		[]string{"tool"},
	)

	PortsProbedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vlabstools_scan_ports_probed_total",
			Help: "Total number of TCP ports probed",
		},
	)

	OpenPortsFoundTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vlabstools_scan_open_ports_total",
			Help: "Total number of open TCP ports found",
		},
	)

	BackupBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vlabstools_backup_bytes_total",
			Help: "Bytes of archives written",
		},
		[]string{"kind"},
	)

	DBQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vlabstools_db_queries_total",
			Help: "Total number of history database queries",
		},
		[]string{"operation"},
	)

	DBErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vlabstools_db_errors_total",
			Help: "Total number of history database errors",
		},
		[]string{"operation"},
	)

	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vlabstools_auth_attempts_total",
			Help: "Total admin login attempts",
		},
		[]string{"status"},
	)

	RateLimitBlockedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vlabstools_ratelimit_blocked_total",
			Help: "Tool requests blocked by the rate limiter",
		},
	)

	ScheduledJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vlabstools_scheduled_jobs_total",
			Help: "Scheduled job runs by job and result",
		},
		[]string{"job", "result"},
	)

	GoGoroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vlabstools_go_goroutines",
			Help: "Current number of goroutines",
		},
	)

	GoMemAllocBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vlabstools_go_mem_alloc_bytes",
			Help: "Bytes allocated and in use (heap)",
		},
	)
)

var (
	uuidRegex = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)

	startTime time.Time
	config    Config
	mu        sync.RWMutex
)

// Init sets the global configuration and starts the background collectors.
func Init(cfg Config, version string) {
	mu.Lock()
	defer mu.Unlock()

	config = cfg
	startTime = time.Now()

	if !cfg.Enabled {
		return
	}

	AppInfo.WithLabelValues(version, runtime.Version()).Set(1)

	go updateLoop()
}

func updateLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		mu.RLock()
		cfg := config
		mu.RUnlock()

		if !cfg.Enabled {
			return
		}

		AppUptime.Set(time.Since(startTime).Seconds())

		if cfg.IncludeRuntime {
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			GoGoroutines.Set(float64(runtime.NumGoroutine()))
			GoMemAllocBytes.Set(float64(m.Alloc))
		}
	}
}

func IsEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return config.Enabled
}

// NormalizePath keeps label cardinality low: ids become :id and query
// strings are never part of the label.
func NormalizePath(path string) string {
	return uuidRegex.ReplaceAllString(path, ":id")
}

// Handler returns the Prometheus handler, guarded by a bearer token when set.
func Handler(cfg Config) http.Handler {
	promHandler := promhttp.Handler()

	if cfg.Token == "" {
		return promHandler
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+cfg.Token {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		promHandler.ServeHTTP(w, r)
	})
}

// ResponseWriter wraps http.ResponseWriter to capture the status code.
type ResponseWriter struct {
	http.ResponseWriter
	Status int
	Size   int
}

func (rw *ResponseWriter) WriteHeader(status int) {
	rw.Status = status
	rw.ResponseWriter.WriteHeader(status)
}

func (rw *ResponseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.Size += n
	return n, err
}

// Hijack lets websocket upgrades pass through the middleware.
func (rw *ResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	rw.Status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (rw *ResponseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{
		ResponseWriter: w,
		Status:         http.StatusOK,
	}
}

func Middleware(cfg Config) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == cfg.Endpoint {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()

			HTTPActiveRequests.Inc()
			defer HTTPActiveRequests.Dec()

			path := NormalizePath(r.URL.Path)
			rw := NewResponseWriter(w)

			next.ServeHTTP(rw, r)

			HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.Status)).Inc()
			HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

func result(err error) string {
	if err != nil {
		return "failed"
	}
	return "ok"
}

// RecordTool records one utility run.
func RecordTool(tool string, took time.Duration, err error) {
	if !IsEnabled() {
		return
	}

	ToolRunsTotal.WithLabelValues(tool, result(err)).Inc()
	ToolDuration.WithLabelValues(tool).Observe(took.Seconds())
}

// RecordScan records the probes of one port scan.
func RecordScan(probed int, open int) {
	if !IsEnabled() {
		return
	}

	PortsProbedTotal.Add(float64(probed))
	OpenPortsFoundTotal.Add(float64(open))
}

// RecordBackup records the size of a finished archive (kind: zip, mssql).
func RecordBackup(kind string, size int64) {
	if !IsEnabled() || size <= 0 {
		return
	}

	BackupBytesTotal.WithLabelValues(kind).Add(float64(size))
}

func RecordDBQuery(operation string, err error) {
	if !IsEnabled() {
		return
	}

	DBQueriesTotal.WithLabelValues(operation).Inc()
	if err != nil {
		DBErrors.WithLabelValues(operation).Inc()
	}
}

func RecordAuth(status string) {
	if !IsEnabled() {
		return
	}

	AuthAttempts.WithLabelValues(status).Inc()
}

func RecordRateLimited() {
	if !IsEnabled() {
		return
	}

	RateLimitBlockedTotal.Inc()
}

func RecordJob(job string, err error) {
	if !IsEnabled() {
		return
	}

	ScheduledJobsTotal.WithLabelValues(job, result(err)).Inc()
}
