package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the integration core exposes. One
// instance is shared by the bus, dispatcher, pipeline and engines.
type Metrics struct {
	EventsPublished *prometheus.CounterVec
	EventsHandled   *prometheus.CounterVec
	DeadLetters     *prometheus.CounterVec

	DispatchTotal   *prometheus.CounterVec
	DispatchLatency *prometheus.HistogramVec
	CircuitState    *prometheus.GaugeVec

	QueueDepth *prometheus.GaugeVec

	PayloadsStored *prometheus.CounterVec
	InboundTotal   *prometheus.CounterVec

	AmendmentsTotal *prometheus.CounterVec

	RetentionArchived prometheus.Counter
	RetentionDeleted  prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "otabridge_events_published_total",
			Help: "Events accepted by the bus, by kind.",
		}, []string{"kind"}),
		EventsHandled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "otabridge_events_handled_total",
			Help: "Events acked or nacked by subscribers.",
		}, []string{"kind", "outcome"}),
		DeadLetters: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "otabridge_dead_letters_total",
			Help: "Events moved to the dead-letter queue.",
		}, []string{"kind"}),

		DispatchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "otabridge_dispatch_total",
			Help: "Outbound channel calls, by channel and outcome.",
		}, []string{"hotel", "channel", "outcome"}),
		DispatchLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "otabridge_dispatch_latency_seconds",
			Help:    "Outbound call latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"channel"}),
		CircuitState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "otabridge_circuit_state",
			Help: "Circuit breaker state per hotel/channel (0 closed, 1 half-open, 2 open).",
		}, []string{"hotel", "channel"}),

		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "otabridge_queue_depth",
			Help: "Queued events per bus partition.",
		}, []string{"partition"}),

		PayloadsStored: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "otabridge_payloads_stored_total",
			Help: "Payload records written, by direction and channel.",
		}, []string{"direction", "channel"}),
		InboundTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "otabridge_inbound_total",
			Help: "Inbound webhook requests, by channel and result.",
		}, []string{"channel", "result"}),

		AmendmentsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "otabridge_amendments_total",
			Help: "Amendment state transitions.",
		}, []string{"state"}),

		RetentionArchived: factory.NewCounter(prometheus.CounterOpts{
			Name: "otabridge_retention_archived_total",
			Help: "Payload records archived by the retention sweep.",
		}),
		RetentionDeleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "otabridge_retention_deleted_total",
			Help: "Payload records deleted by the retention sweep.",
		}),
	}
}

// NewDefault registers on the default prometheus registry
func NewDefault() *Metrics {
	return New(prometheus.DefaultRegisterer)
}
