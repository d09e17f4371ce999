package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes application metrics that are safe to scrape via Prometheus.
type Metrics struct {
	registry            *prometheus.Registry
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	ticksTotal          prometheus.Counter
	actionsTotal        *prometheus.CounterVec
	actionDuration      *prometheus.HistogramVec
	retryAttempts       *prometheus.CounterVec
	faultsTotal         prometheus.Counter
	deviceReachable     *prometheus.GaugeVec
}

// New creates a fresh Metrics registry with HTTP, scheduler and device metrics registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rpimash",
		Name:      "http_requests_total",
		Help:      "Count of HTTP requests processed by the status API",
	}, []string{"method", "path", "status"})

	httpRequestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rpimash",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests served by the status API",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	ticksTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rpimash",
		Name:      "scheduler_ticks_total",
		Help:      "Total number of scheduler ticks evaluated",
	})

	actionsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rpimash",
		Name:      "scheduler_actions_total",
		Help:      "Scheduler actions executed, by action",
	}, []string{"action"})

	actionDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rpimash",
		Name:      "scheduler_action_duration_seconds",
		Help:      "Duration of scheduler actions from start to finish",
		Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 300, 900, 3600},
	}, []string{"action"})

	retryAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rpimash",
		Name:      "retry_attempts_total",
		Help:      "Failed attempts that were scheduled for retry, by operation",
	}, []string{"operation"})

	faultsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rpimash",
		Name:      "faults_total",
		Help:      "Unhandled faults caught by the main loop",
	})

	deviceReachable := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "rpimash",
		Name:      "device_reachable",
		Help:      "1 if the device answered the last reachability probe",
	}, []string{"device"})

	registry.MustRegister(
		httpRequests,
		httpRequestDuration,
		ticksTotal,
		actionsTotal,
		actionDuration,
		retryAttempts,
		faultsTotal,
		deviceReachable,
	)

	return &Metrics{
		registry:            registry,
		httpRequests:        httpRequests,
		httpRequestDuration: httpRequestDuration,
		ticksTotal:          ticksTotal,
		actionsTotal:        actionsTotal,
		actionDuration:      actionDuration,
		retryAttempts:       retryAttempts,
		faultsTotal:         faultsTotal,
		deviceReachable:     deviceReachable,
	}
}

// ObserveHTTPRequest records a single HTTP request/response cycle.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

func (m *Metrics) IncTick() {
	if m == nil {
		return
	}
	m.ticksTotal.Inc()
}

// ObserveAction counts an executed scheduler action and its duration.
func (m *Metrics) ObserveAction(action string, duration time.Duration) {
	if m == nil {
		return
	}
	m.actionsTotal.WithLabelValues(action).Inc()
	m.actionDuration.WithLabelValues(action).Observe(duration.Seconds())
}

func (m *Metrics) IncRetry(operation string) {
	if m == nil {
		return
	}
	m.retryAttempts.WithLabelValues(operation).Inc()
}

func (m *Metrics) IncFault() {
	if m == nil {
		return
	}
	m.faultsTotal.Inc()
}

func (m *Metrics) SetDeviceReachable(device string, reachable bool) {
	if m == nil {
		return
	}
	v := 0.0
	if reachable {
		v = 1
	}
	m.deviceReachable.WithLabelValues(device).Set(v)
}

// Handler exposes the Prometheus registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
