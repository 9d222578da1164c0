// Package metrics holds the Prometheus collectors of umisync.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// Namespace is the basic namespace where all metrics are defined under.
	Namespace = "umisync"
)

// NewCounter creates a Counter metrics under the global namespace.
func NewCounter(name, subsystem, help string, labels []string) *prometheus.CounterVec {
	return promauto.NewCounterVec(prometheus.CounterOpts{Namespace: Namespace, Subsystem: subsystem, Name: name, Help: help}, labels)
}

// NewGauge creates a Gauge metrics under the global namespace.
func NewGauge(name, subsystem, help string, labels []string) *prometheus.GaugeVec {
	return promauto.NewGaugeVec(prometheus.GaugeOpts{Namespace: Namespace, Subsystem: subsystem, Name: name, Help: help}, labels)
}

// NewHistogramWithBuckets creates a Histogram metrics with custom buckets.
func NewHistogramWithBuckets(name, subsystem, help string, labels []string, buckets []float64) *prometheus.HistogramVec {
	return promauto.NewHistogramVec(prometheus.HistogramOpts{Namespace: Namespace, Subsystem: subsystem, Name: name, Help: help, Buckets: buckets}, labels)
}

// Outcome label values.
const (
	OutcomeOK      = "ok"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

var (
	operationsApplied = NewCounter(
		"operations_total",
		"dispatch",
		"Operations applied, by kind and outcome",
		[]string{"kind", "outcome"},
	)
	unknownOperations = NewCounter(
		"unknown_operations_total",
		"dispatch",
		"Operations routed to the unknown operation fallback",
		[]string{"kind"},
	)
	missingEntities = NewCounter(
		"missing_entities_total",
		"dispatch",
		"Operations that targeted an entity absent from the registry",
		[]string{"kind"},
	)
	transactionDuration = NewHistogramWithBuckets(
		"transaction_duration_seconds",
		"dispatch",
		"Time to apply a whole transaction",
		[]string{"reliable"},
		prometheus.ExponentialBuckets(0.0005, 2, 14),
	)
	decodeFailures = NewCounter(
		"decode_failures_total",
		"codec",
		"Payloads that could not be decoded, by stage",
		[]string{"stage"},
	)
	registryEntities = NewGauge(
		"entities",
		"registry",
		"Entities currently registered",
		[]string{"environment"},
	)
	frames = NewCounter(
		"frames_total",
		"transport",
		"Frames moved through a transport",
		[]string{"transport", "direction"},
	)
	peers = NewGauge(
		"peers",
		"server",
		"Connected peers",
		[]string{"environment"},
	)
	busEvents = NewCounter(
		"events_total",
		"bus",
		"Events published on the event bus, by type and outcome",
		[]string{"type", "outcome"},
	)
	busHandlers = NewCounter(
		"event_deliveries_total",
		"bus",
		"Handler invocations by the event bus",
		[]string{"type"},
	)
	rateLimited = NewCounter(
		"rate_limited_total",
		"server",
		"Peer transactions dropped by the rate limit",
		[]string{"environment"},
	)
)

func ReportOperation(kind, outcome string) {
	operationsApplied.WithLabelValues(kind, outcome).Inc()
}

func ReportUnknownOperation(kind string) {
	unknownOperations.WithLabelValues(kind).Inc()
}

func ReportMissingEntity(kind string) {
	missingEntities.WithLabelValues(kind).Inc()
}

func ReportTransaction(reliable bool, took time.Duration) {
	label := "false"
	if reliable {
		label = "true"
	}
	transactionDuration.WithLabelValues(label).Observe(took.Seconds())
}

// ReportDecodeFailure counts a failure at stage: "frame", "transaction",
// "operation" or "object".
func ReportDecodeFailure(stage string) {
	decodeFailures.WithLabelValues(stage).Inc()
}

func SetRegistrySize(environment string, n int) {
	registryEntities.WithLabelValues(environment).Set(float64(n))
}

// ForgetRegistry drops the series of a closed environment.
func ForgetRegistry(environment string) {
	registryEntities.DeleteLabelValues(environment)
	peers.DeleteLabelValues(environment)
	rateLimited.DeleteLabelValues(environment)
}

// ReportFrame counts a frame; direction is "in" or "out".
func ReportFrame(transport, direction string) {
	frames.WithLabelValues(transport, direction).Inc()
}

func PeerConnected(environment string) {
	peers.WithLabelValues(environment).Inc()
}

func PeerDisconnected(environment string) {
	peers.WithLabelValues(environment).Dec()
}

// ReportEvent counts one bus publication delivered to handlers subscribers.
func ReportEvent(eventType string, handlers int, err error) {
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeFailed
	}
	busEvents.WithLabelValues(eventType, outcome).Inc()
	busHandlers.WithLabelValues(eventType).Add(float64(handlers))
}

func ReportRateLimited(environment string) {
	rateLimited.WithLabelValues(environment).Inc()
}

// Handler serves the default registry for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
