package phxclient

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for one or more connections.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	framesSent     *prometheus.CounterVec
	sendFailures   *prometheus.CounterVec
	framesReceived prometheus.Counter
	decodeErrors   prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
// Pass nil to use prometheus.DefaultRegisterer.
func NewMetrics(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	if namespace == "" {
		namespace = "phx"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		framesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sender",
				Name:      "frames_total",
				Help:      "Envelopes written to the socket.",
			},
			[]string{"kind"},
		),
		sendFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sender",
				Name:      "failures_total",
				Help:      "Envelopes that could not be encoded or written.",
			},
			[]string{"kind"},
		),
		framesReceived: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "receiver",
				Name:      "frames_total",
				Help:      "Frames decoded from the socket.",
			},
		),
		decodeErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "receiver",
				Name:      "decode_errors_total",
				Help:      "Frames that failed to decode.",
			},
		),
	}

	for _, c := range []prometheus.Collector{m.framesSent, m.sendFailures, m.framesReceived, m.decodeErrors} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) sent(event Event) {
	if m == nil {
		return
	}
	m.framesSent.WithLabelValues(event.Kind().String()).Inc()
}

func (m *Metrics) failed(event Event) {
	if m == nil {
		return
	}
	m.sendFailures.WithLabelValues(event.Kind().String()).Inc()
}

func (m *Metrics) received() {
	if m == nil {
		return
	}
	m.framesReceived.Inc()
}

func (m *Metrics) decodeFailed() {
	if m == nil {
		return
	}
	m.decodeErrors.Inc()
}
