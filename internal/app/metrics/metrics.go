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

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "jive",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jive",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "jive",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	chatRelayed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "jive",
			Subsystem: "chat",
			Name:      "messages_relayed_total",
			Help:      "Total number of chat messages relayed over websockets.",
		},
	)

	chatConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "jive",
			Subsystem: "chat",
			Name:      "open_connections",
			Help:      "Current number of open chat websocket connections.",
		},
	)

	pushDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jive",
			Subsystem: "push",
			Name:      "deliveries_total",
			Help:      "Total number of push notification attempts by outcome.",
		},
		[]string{"outcome"},
	)

	streamsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "jive",
			Subsystem: "streams",
			Name:      "started_total",
			Help:      "Total number of broadcasts started.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		chatRelayed,
		chatConnections,
		pushDeliveries,
		streamsStarted,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// PushDeliveries exposes the push outcome counter for the notifications
// dispatcher.
func PushDeliveries() *prometheus.CounterVec {
	return pushDeliveries
}

// RecordChatRelay counts one relayed chat message.
func RecordChatRelay() {
	chatRelayed.Inc()
}

// ChatConnectionOpened and ChatConnectionClosed track websocket lifetimes.
func ChatConnectionOpened() { chatConnections.Inc() }

// ChatConnectionClosed decrements the open connection gauge.
func ChatConnectionClosed() { chatConnections.Dec() }

// RecordStreamStarted counts one started broadcast.
func RecordStreamStarted() {
	streamsStarted.Inc()
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses path parameters so the label set stays bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] == "api" {
		if len(parts) == 1 {
			return "/api"
		}
		return "/api/" + parts[1]
	}
	if parts[0] == "ws" && len(parts) > 1 {
		return "/ws/" + parts[1]
	}
	return "/" + parts[0]
}
