package stream

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the multiplexer's prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	subscribes   *prometheus.CounterVec
	events       *prometheus.CounterVec
	decodeErrors *prometheus.CounterVec
	disconnects  *prometheus.CounterVec
	active       prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		subscribes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cryptostream",
			Name:      "subscribe_total",
			Help:      "Subscribe attempts by feed and result.",
		}, []string{"feed", "result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cryptostream",
			Name:      "events_total",
			Help:      "Decoded events delivered by kind.",
		}, []string{"kind"}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cryptostream",
			Name:      "decode_errors_total",
			Help:      "Frames that failed to decode, by feed.",
		}, []string{"feed"}),
		disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cryptostream",
			Name:      "disconnects_total",
			Help:      "Subscriptions lost because their connection ended, by feed.",
		}, []string{"feed"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cryptostream",
			Name:      "active_subscriptions",
			Help:      "Number of registered subscriptions.",
		}),
	}
	for _, c := range []prometheus.Collector{m.subscribes, m.events, m.decodeErrors, m.disconnects, m.active} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) subscribed(sub Subscription, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.subscribes.WithLabelValues(sub.Feed().String(), result).Inc()
}

func (m *Metrics) delivered(kind string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind).Inc()
}

func (m *Metrics) decodeFailed(sub Subscription) {
	if m == nil {
		return
	}
	m.decodeErrors.WithLabelValues(sub.Feed().String()).Inc()
}

func (m *Metrics) disconnected(sub Subscription) {
	if m == nil {
		return
	}
	m.disconnects.WithLabelValues(sub.Feed().String()).Inc()
}

func (m *Metrics) setActive(n int) {
	if m == nil {
		return
	}
	m.active.Set(float64(n))
}
