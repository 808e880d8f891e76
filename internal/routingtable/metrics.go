package routingtable

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts routing activity.
type Metrics struct {
	Messages       prometheus.Counter
	Deliveries     *prometheus.CounterVec
	CallbackErrors *prometheus.CounterVec
	Subscribers    prometheus.Gauge
	Filters        prometheus.Gauge
}

// NewMetrics creates routing metrics and registers them with reg when it is
// non-nil. Collectors that are already registered are reused.
func NewMetrics(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Messages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "routing",
			Name:      "messages_total",
			Help:      "Messages handed to the routing table for dispatch.",
		}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "routing",
			Name:      "deliveries_total",
			Help:      "Successful subscriber callbacks.",
		}, []string{"subscriber_type"}),
		CallbackErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "routing",
			Name:      "callback_errors_total",
			Help:      "Subscriber callbacks that returned an error or panicked.",
		}, []string{"subscriber_type", "reason"}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "routing",
			Name:      "subscribers",
			Help:      "Subscribers holding at least one filter.",
		}),
		Filters: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "routing",
			Name:      "filters",
			Help:      "Distinct subscribed filters.",
		}),
	}
	if reg == nil {
		return m, nil
	}

	var err error
	if m.Messages, err = register(reg, m.Messages); err != nil {
		return nil, err
	}
	if m.Deliveries, err = register(reg, m.Deliveries); err != nil {
		return nil, err
	}
	if m.CallbackErrors, err = register(reg, m.CallbackErrors); err != nil {
		return nil, err
	}
	if m.Subscribers, err = register(reg, m.Subscribers); err != nil {
		return nil, err
	}
	if m.Filters, err = register(reg, m.Filters); err != nil {
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
