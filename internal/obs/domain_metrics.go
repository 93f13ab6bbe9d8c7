package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PricingMetrics groups the collectors describing calculator outcomes.
type PricingMetrics struct {
	// Calculations counts quotes by policy kind and result (ok, invalid_input, configuration_error, defective_record).
	Calculations *prometheus.CounterVec
	// Resolutions counts resolver outcomes (applied, none).
	Resolutions *prometheus.CounterVec
	// BlendedRatio observes the effective discount ratio of successful quotes.
	BlendedRatio prometheus.Histogram
	// RejectedRecords counts catalog records quarantined while taking snapshots, by source.
	RejectedRecords *prometheus.CounterVec
}

var (
	pricingOnce    sync.Once
	defaultPricing *PricingMetrics
)

// MustRegisterPricingMetrics registers the process-wide pricing collectors once on the default registerer.
func MustRegisterPricingMetrics(namespace string) *PricingMetrics {
	pricingOnce.Do(func() {
		defaultPricing = NewPricingMetrics(namespace, nil)
	})
	return defaultPricing
}

// NewPricingMetrics creates pricing collectors and registers them on reg, reusing existing ones.
func NewPricingMetrics(namespace string, reg prometheus.Registerer) *PricingMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &PricingMetrics{
		Calculations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_calculations_total",
			Help:      "Count of price calculations by policy kind and outcome.",
		}, []string{"kind", "result"}),
		Resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_policy_resolution_total",
			Help:      "Count of policy resolution outcomes.",
		}, []string{"outcome"}),
		BlendedRatio: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pricing_discount_ratio_percent",
			Help:      "Effective blended discount ratio of successful calculations.",
			Buckets:   []float64{10, 25, 50, 60, 70, 80, 90, 95, 100},
		}),
		RejectedRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_catalog_rejected_records_total",
			Help:      "Count of catalog records that failed normalization.",
		}, []string{"source"}),
	}
	mustRegisterCollector(reg, m.Calculations, func(existing prometheus.Collector) {
		if v, ok := existing.(*prometheus.CounterVec); ok {
			m.Calculations = v
		}
	})
	mustRegisterCollector(reg, m.Resolutions, func(existing prometheus.Collector) {
		if v, ok := existing.(*prometheus.CounterVec); ok {
			m.Resolutions = v
		}
	})
	mustRegisterCollector(reg, m.BlendedRatio, func(existing prometheus.Collector) {
		if v, ok := existing.(prometheus.Histogram); ok {
			m.BlendedRatio = v
		}
	})
	mustRegisterCollector(reg, m.RejectedRecords, func(existing prometheus.Collector) {
		if v, ok := existing.(*prometheus.CounterVec); ok {
			m.RejectedRecords = v
		}
	})
	return m
}

// ObserveRejectedRecord counts a quarantined catalog record. A nil receiver is a no-op.
func (m *PricingMetrics) ObserveRejectedRecord(source string) {
	if m == nil {
		return
	}
	m.RejectedRecords.WithLabelValues(source).Inc()
}

// ObserveCalculation records a calculation outcome. A nil receiver is a no-op.
func (m *PricingMetrics) ObserveCalculation(kind, result string, ratio float64) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "none"
	}
	m.Calculations.WithLabelValues(kind, result).Inc()
	if result == "ok" {
		m.BlendedRatio.Observe(ratio)
	}
}

// ObserveResolution records whether a policy was applied. A nil receiver is a no-op.
func (m *PricingMetrics) ObserveResolution(applied bool) {
	if m == nil {
		return
	}
	outcome := "none"
	if applied {
		outcome = "applied"
	}
	m.Resolutions.WithLabelValues(outcome).Inc()
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register pricing metric: %w", err))
	}
}
