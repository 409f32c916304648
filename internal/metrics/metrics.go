// Package metrics exposes Prometheus instrumentation for the bridge.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Launch results.
const (
	LaunchOK            = "ok"
	LaunchRunnerMissing = "runner_missing"
	LaunchFailed        = "failed"
	LaunchFallbackOK    = "fallback_ok"
	LaunchFallbackFail  = "fallback_failed"
)

var (
	registerOnce sync.Once

	sessionsOpened = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ptybridge",
		Subsystem: "sessions",
		Name:      "opened_total",
		Help:      "Terminal sessions opened.",
	})
	sessionsClosed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ptybridge",
		Subsystem: "sessions",
		Name:      "closed_total",
		Help:      "Terminal sessions closed.",
	})
	sessionsLive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ptybridge",
		Subsystem: "sessions",
		Name:      "live",
		Help:      "Terminal sessions currently open.",
	})
	launches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ptybridge",
			Subsystem: "process",
			Name:      "launches_total",
			Help:      "Process launch attempts by result.",
		},
		[]string{"result"},
	)
	respawns = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ptybridge",
		Subsystem: "process",
		Name:      "respawn_delay_seconds",
		Help:      "Backoff delay of scheduled respawns.",
		Buckets:   []float64{1, 2, 4, 8, 16, 30, 60},
	})
	uploads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ptybridge",
			Subsystem: "files",
			Name:      "uploads_total",
			Help:      "File uploads by outcome.",
		},
		[]string{"outcome"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ptybridge",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status.",
		},
		[]string{"method", "route", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ptybridge",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

// Register adds the bridge collectors to the default registry. Safe to call
// repeatedly.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(sessionsOpened, sessionsClosed, sessionsLive, launches, respawns, uploads,
			httpRequests, httpDuration)
	})
}

// SessionOpened counts a new connection.
func SessionOpened() {
	Register()
	sessionsOpened.Inc()
	sessionsLive.Inc()
}

// SessionClosed counts a finished connection.
func SessionClosed() {
	Register()
	sessionsClosed.Inc()
	sessionsLive.Dec()
}

// RecordLaunch counts one launch attempt.
func RecordLaunch(result string) {
	Register()
	launches.WithLabelValues(result).Inc()
}

// RecordRespawn observes a scheduled respawn delay.
func RecordRespawn(delay time.Duration) {
	Register()
	respawns.Observe(delay.Seconds())
}

// RecordUpload counts an upload by outcome ("ok", "too_large", "invalid",
// "error").
func RecordUpload(outcome string) {
	Register()
	uploads.WithLabelValues(outcome).Inc()
}

// RecordRequest counts a served HTTP request.
func RecordRequest(method, route string, status int, d time.Duration) {
	Register()
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(route).Observe(d.Seconds())
}
