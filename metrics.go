package cdp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors a Conn reports into. All recording
// methods are nil-safe, so an uninstrumented Conn carries no overhead beyond a
// nil check.
type Metrics struct {
	commandsSent       *prometheus.CounterVec
	responsesSettled   *prometheus.CounterVec
	eventsDispatched   *prometheus.CounterVec
	unmatchedResponses prometheus.Counter
	malformedMessages  prometheus.Counter
}

// NewMetrics registers the connection collectors with the given registerer.
// Pass prometheus.DefaultRegisterer for the process-global registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		commandsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cdp",
			Name:      "commands_sent_total",
			Help:      "Commands written to the transport",
		}, []string{"method"}),

		responsesSettled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cdp",
			Name:      "responses_settled_total",
			Help:      "Pending calls settled by a matching response",
		}, []string{"status"}),

		eventsDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cdp",
			Name:      "events_dispatched_total",
			Help:      "Event notifications received, handled or not",
		}, []string{"method"}),

		unmatchedResponses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "cdp",
			Name:      "unmatched_responses_total",
			Help:      "Responses whose id matched no pending call",
		}),

		malformedMessages: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "cdp",
			Name:      "malformed_messages_total",
			Help:      "Inbound messages matching neither response nor event shape",
		}),
	}
}

func (m *Metrics) commandSent(method string) {
	if m == nil {
		return
	}
	m.commandsSent.WithLabelValues(method).Inc()
}

func (m *Metrics) responseSettled(status string) {
	if m == nil {
		return
	}
	m.responsesSettled.WithLabelValues(status).Inc()
}

func (m *Metrics) eventDispatched(method string) {
	if m == nil {
		return
	}
	m.eventsDispatched.WithLabelValues(method).Inc()
}

func (m *Metrics) unmatchedResponse() {
	if m == nil {
		return
	}
	m.unmatchedResponses.Inc()
}

func (m *Metrics) malformedMessage() {
	if m == nil {
		return
	}
	m.malformedMessages.Inc()
}
