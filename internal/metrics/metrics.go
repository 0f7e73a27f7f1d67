package metrics

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jafarshop/webhookgw/internal/domain"
)

// Prometheus metrics for webhook ingestion
var (
	WebhookRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_requests_total",
			Help: "Total number of webhook requests by topic, final state and status code",
		},
		[]string{"topic", "state", "status"},
	)

	WebhookDuplicatesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_duplicates_total",
			Help: "Total number of redelivered webhooks acknowledged without dispatch",
		},
	)

	WebhookSignatureFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_signature_failures_total",
			Help: "Total number of webhook requests rejected as unauthorized",
		},
	)

	WebhookProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webhook_processing_duration_seconds",
			Help:    "Duration of webhook processing",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"topic"},
	)
)

var registerOnce sync.Once

// Register registers all Prometheus metrics with the default registry. It is
// safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(WebhookRequestsTotal)
		prometheus.MustRegister(WebhookDuplicatesTotal)
		prometheus.MustRegister(WebhookSignatureFailuresTotal)
		prometheus.MustRegister(WebhookProcessingDuration)
	})
}

// TopicLabel keeps label cardinality bounded: topics outside the handled set
// are reported as "other".
func TopicLabel(topic domain.Topic) string {
	if topic.IsValid() {
		return string(topic)
	}
	return "other"
}

// ObserveWebhook records one finished webhook request
func ObserveWebhook(topic domain.Topic, state domain.DeliveryState, status int, duplicate bool, seconds float64) {
	label := TopicLabel(topic)
	WebhookRequestsTotal.WithLabelValues(label, string(state), strconv.Itoa(status)).Inc()
	WebhookProcessingDuration.WithLabelValues(label).Observe(seconds)
	if duplicate {
		WebhookDuplicatesTotal.Inc()
	}
	if state == domain.StateRejected && status == http.StatusUnauthorized {
		WebhookSignatureFailuresTotal.Inc()
	}
}
