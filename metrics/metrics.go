// Package metrics exposes the communication engine counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "grblcomm"

// Framing label values.
const (
	FramingChecksum = "checksum"
	FramingPlain    = "plain"
)

type Metrics struct {
	LinesSent        *prometheus.CounterVec
	LinesReceived    prometheus.Counter
	Resends          prometheus.Counter
	ResendFailures   prometheus.Counter
	StateTransitions *prometheus.CounterVec
	State            prometheus.Gauge
	PermitsAvailable prometheus.Gauge
	RxBytesInFlight  prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LinesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "serial",
			Name:      "lines_sent_total",
			Help:      "Lines written to the controller, by framing.",
		}, []string{"framing"}),
		LinesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "serial",
			Name:      "lines_received_total",
			Help:      "Non empty lines read from the controller.",
		}),
		Resends: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "serial",
			Name:      "resends_total",
			Help:      "Lines replayed from history on controller request.",
		}),
		ResendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "serial",
			Name:      "resend_failures_total",
			Help:      "Resend requests for lines outside of the history window.",
		}),
		StateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "machine",
			Name:      "state_transitions_total",
			Help:      "Protocol state transitions.",
		}, []string{"from", "to"}),
		State: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "machine",
			Name:      "state",
			Help:      "Current protocol state number.",
		}),
		PermitsAvailable: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "flow",
			Name:      "permits_available",
			Help:      "Flow control permits available to the sender.",
		}),
		RxBytesInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "serial",
			Name:      "rx_bytes_in_flight",
			Help:      "Bytes sent and not yet acknowledged, against the controller receive buffer.",
		}),
	}
	reg.MustRegister(
		m.LinesSent,
		m.LinesReceived,
		m.Resends,
		m.ResendFailures,
		m.StateTransitions,
		m.State,
		m.PermitsAvailable,
		m.RxBytesInFlight,
	)
	return m
}

// NewUnregistered creates collectors registered with a private registry.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
