package relay

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the relay's prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	connected     prometheus.Gauge
	delivered     prometheus.Counter
	undeliverable prometheus.Counter
	dropped       prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "warpcall",
			Subsystem: "relay",
			Name:      "connected_clients",
			Help:      "Number of identities currently connected to the relay.",
		}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "warpcall",
			Subsystem: "relay",
			Name:      "delivered_total",
			Help:      "Signals forwarded to a connected recipient.",
		}),
		undeliverable: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "warpcall",
			Subsystem: "relay",
			Name:      "undeliverable_total",
			Help:      "Signals addressed to an identity that is not connected.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "warpcall",
			Subsystem: "relay",
			Name:      "dropped_total",
			Help:      "Frames dropped because a client's send buffer was full.",
		}),
	}
	reg.MustRegister(m.connected, m.delivered, m.undeliverable, m.dropped)
	return m
}

func (m *Metrics) setConnected(n int) {
	if m != nil {
		m.connected.Set(float64(n))
	}
}

func (m *Metrics) incDelivered() {
	if m != nil {
		m.delivered.Inc()
	}
}

func (m *Metrics) incUndeliverable() {
	if m != nil {
		m.undeliverable.Inc()
	}
}

func (m *Metrics) incDropped() {
	if m != nil {
		m.dropped.Inc()
	}
}
