package resilience

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups breaker collectors.
type Metrics struct {
	State       *prometheus.GaugeVec
	Transitions *prometheus.CounterVec
}

// NewMetrics creates breaker collectors on reg, reusing ones already registered.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		State: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Current breaker state: 0=closed,1=open,2=half-open",
		}, []string{"target"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_transition_total",
			Help:      "Count of breaker state transitions",
		}, []string{"target", "from", "to"}),
	}
	if err := reg.Register(m.State); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			panic(fmt.Errorf("register breaker state: %w", err))
		}
		m.State = are.ExistingCollector.(*prometheus.GaugeVec)
	}
	if err := reg.Register(m.Transitions); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			panic(fmt.Errorf("register breaker transitions: %w", err))
		}
		m.Transitions = are.ExistingCollector.(*prometheus.CounterVec)
	}
	return m
}
