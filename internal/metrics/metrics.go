package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradepost",
			Subsystem: "market",
			Name:      "requests_total",
			Help:      "Total number of protocol requests handled.",
		},
		[]string{"type", "outcome"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tradepost",
			Subsystem: "market",
			Name:      "request_duration_seconds",
			Help:      "Duration of protocol request handling.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14), // 100us to ~1.6s
		},
		[]string{"type"},
	)

	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tradepost",
			Subsystem: "server",
			Name:      "active_sessions",
			Help:      "Number of users currently logged in.",
		},
	)

	openConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tradepost",
			Subsystem: "server",
			Name:      "open_connections",
			Help:      "Number of open client connections.",
		},
	)

	commits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradepost",
			Subsystem: "store",
			Name:      "commits_total",
			Help:      "Total number of store commits by trigger and result.",
		},
		[]string{"trigger", "result"},
	)

	adminRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradepost",
			Subsystem: "admin",
			Name:      "requests_total",
			Help:      "Total number of admin HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)
)

func init() {
	Registry.MustRegister(
		requests,
		requestDuration,
		activeSessions,
		openConnections,
		commits,
		adminRequests,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordRequest counts one handled protocol request. outcome is "ok" or the
// failure code of the response.
func RecordRequest(requestType, outcome string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Microsecond
	}
	requests.WithLabelValues(requestType, outcome).Inc()
	requestDuration.WithLabelValues(requestType).Observe(duration.Seconds())
}

func SetActiveSessions(n int) {
	activeSessions.Set(float64(n))
}

func ConnectionOpened() { openConnections.Inc() }

func ConnectionClosed() { openConnections.Dec() }

func RecordCommit(trigger string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	commits.WithLabelValues(trigger, result).Inc()
}

// RecordAdminRequest counts an admin API call. route should be the matched
// route pattern, not the raw path.
func RecordAdminRequest(method, route string, status int) {
	if route == "" {
		route = "unmatched"
	}
	adminRequests.WithLabelValues(strings.ToUpper(method), route, strconv.Itoa(status)).Inc()
}
