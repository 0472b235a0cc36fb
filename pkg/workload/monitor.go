package workload

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Monitor exports estimator activity. A nil Monitor records nothing.
type Monitor struct {
	predictions   *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
	ruleFallbacks prometheus.Counter
}

// NewMonitor creates the workload metrics and registers them.
func NewMonitor(registry prometheus.Registerer) *Monitor {
	m := &Monitor{
		predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vmenergy_workload_predictions_total",
			Help: "Total number of CPU utilisation predictions per estimator",
		}, []string{"estimator"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vmenergy_workload_cache_lookups_total",
			Help: "Statistics cache lookups by result (hit or miss)",
		}, []string{"result"}),
		ruleFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vmenergy_workload_rule_fallbacks_total",
			Help: "Lookups with no matching predictor rule that fell back to the default estimator",
		}),
	}
	registry.MustRegister(m.predictions, m.cacheLookups, m.ruleFallbacks)
	return m
}

func (m *Monitor) observePrediction(estimator string) {
	if m == nil {
		return
	}
	m.predictions.WithLabelValues(estimator).Inc()
}

func (m *Monitor) observeCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Monitor) observeFallback() {
	if m == nil {
		return
	}
	m.ruleFallbacks.Inc()
}
