package history

import "github.com/prometheus/client_golang/prometheus"

// Monitor counts ingested rows. A nil Monitor records nothing.
type Monitor struct {
	samples *prometheus.CounterVec
}

func NewMonitor(registry prometheus.Registerer) *Monitor {
	samples := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vmenergy_history_samples_total",
		Help: "Total number of samples written to the history store",
	}, []string{"kind"})
	registry.MustRegister(samples)
	return &Monitor{samples: samples}
}

func (m *Monitor) observeSamples(kind string, n int) {
	if m == nil {
		return
	}
	m.samples.WithLabelValues(kind).Add(float64(n))
}
