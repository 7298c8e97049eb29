package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fieldsync"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	attempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_attempts_total",
			Help:      "Downstream submission attempts by service and outcome.",
		},
		[]string{"service", "outcome"},
	)

	batchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Duration of sync passes by trigger.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"trigger"},
	)

	queueSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_items",
			Help:      "Items per collection.",
		},
		[]string{"collection"},
	)

	serviceHealth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "service_healthy",
			Help:      "1 when the downstream service answered its last probe.",
		},
		[]string{"service"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, attempts, batchDuration, queueSize, serviceHealth)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// ObserveAttempt records one downstream call; outcome is success, transient or permanent.
func ObserveAttempt(service, outcome string) {
	attempts.WithLabelValues(service, outcome).Inc()
}

func ObserveBatch(trigger string, d time.Duration) {
	batchDuration.WithLabelValues(trigger).Observe(d.Seconds())
}

func SetQueueSizes(active, completed, failed int) {
	queueSize.WithLabelValues("active").Set(float64(active))
	queueSize.WithLabelValues("completed").Set(float64(completed))
	queueSize.WithLabelValues("failed").Set(float64(failed))
}

func SetServiceHealth(service string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1
	}
	serviceHealth.WithLabelValues(service).Set(v)
}
