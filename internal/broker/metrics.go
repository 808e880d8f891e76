package broker

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts broker activity by message source.
type Metrics struct {
	Published  *prometheus.CounterVec
	Duplicates prometheus.Counter
	Sessions   prometheus.Gauge
}

// NewMetrics creates broker metrics and registers them with reg when it is non-nil
func NewMetrics(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "published_total",
			Help:      "Messages routed by the broker.",
		}, []string{"source"}),
		Duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "duplicates_total",
			Help:      "Messages dropped because their ID was already routed.",
		}),
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "sessions",
			Help:      "Open client sessions.",
		}),
	}
	if reg == nil {
		return m, nil
	}

	var err error
	if m.Published, err = register(reg, m.Published); err != nil {
		return nil, err
	}
	if m.Duplicates, err = register(reg, m.Duplicates); err != nil {
		return nil, err
	}
	if m.Sessions, err = register(reg, m.Sessions); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}
