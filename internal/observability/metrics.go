package observability

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors for the scheduler core and its
// transport shell. All collectors are registered against the default
// registry so /metrics (internal/api) can scrape them via promhttp.
type Metrics struct {
	TicksTotal          *prometheus.CounterVec
	ClaimsTotal         *prometheus.CounterVec
	ReportsTotal        *prometheus.CounterVec
	RetriesScheduled    prometheus.Counter
	MessagesPermFailed  prometheus.Counter
	MessagesCanceled    prometheus.Counter
	ThrottleWaitSeconds prometheus.Gauge
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics constructs and registers the collectors against reg. Pass
// prometheus.DefaultRegisterer in production; tests use a fresh registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduler_ticks_total",
			Help: "Tick engine iterations by outcome (ready, throttled, no_due_messages).",
		}, []string{"outcome"}),
		ClaimsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduler_claims_total",
			Help: "Gateway claim attempts by outcome (pending, fallback, throttled, none).",
		}, []string{"outcome"}),
		ReportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduler_reports_total",
			Help: "Gateway-reported outcomes by reported status.",
		}, []string{"status"}),
		RetriesScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_retries_scheduled_total",
			Help: "Messages requeued for retry after a transient failure.",
		}),
		MessagesPermFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_messages_failed_total",
			Help: "Messages that exhausted max_attempts and reached terminal FAILED.",
		}),
		MessagesCanceled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_messages_canceled_total",
			Help: "Messages canceled via the cancel handler.",
		}),
		ThrottleWaitSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scheduler_throttle_next_send_seconds",
			Help: "Seconds until the throttle permits the next promotion (0 if due now).",
		}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, path and status.",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}

	reg.MustRegister(
		m.TicksTotal,
		m.ClaimsTotal,
		m.ReportsTotal,
		m.RetriesScheduled,
		m.MessagesPermFailed,
		m.MessagesCanceled,
		m.ThrottleWaitSeconds,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)

	return m
}
