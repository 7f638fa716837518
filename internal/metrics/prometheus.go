package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	DispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_messages_total",
			Help: "Dispatch attempts by channel, provider and outcome",
		},
		[]string{"channel", "provider", "outcome"},
	)

	StatusTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "message_status_transitions_total",
			Help: "Status changes applied by the reconciler",
		},
		[]string{"status"},
	)

	StatusSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "message_status_skipped_total",
			Help: "Status changes dropped because they would regress a message",
		},
		[]string{"status"},
	)

	WebhookCallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_callbacks_total",
			Help: "Provider callbacks by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	NotifierFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "metrics_notifier_failures_total",
			Help: "Status notifications that could not be delivered downstream",
		},
	)

	WorkerProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_messages_processed_total",
			Help: "Total number of queue messages processed by workers",
		},
		[]string{"queue"},
	)

	WorkerActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_active_goroutines",
			Help: "Number of active worker goroutines per queue",
		},
		[]string{"queue"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Current RabbitMQ queue depth",
		},
		[]string{"queue"},
	)

	LiveSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "live_metrics_subscribers",
			Help: "Open live metrics streams",
		},
	)

	ResendRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaign_resend_requests_total",
			Help: "Resend requests by outcome",
		},
		[]string{"outcome"},
	)
)

var once sync.Once

// Init registers metrics with Prometheus
func Init() {
	once.Do(func() {
		prometheus.MustRegister(
			DispatchTotal,
			StatusTransitions,
			StatusSkipped,
			WebhookCallbacks,
			NotifierFailures,
			WorkerProcessed,
			WorkerActive,
			QueueDepth,
			LiveSubscribers,
			ResendRequests,
		)
	})
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
