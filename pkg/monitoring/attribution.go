package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ja7ad/vmenergy/pkg/types"
)

// AttributionMonitor exports the latest host power split and the energy
// accumulated per tenant.
type AttributionMonitor struct {
	hostPower   *prometheus.GaugeVec
	hostUtil    *prometheus.GaugeVec
	tenantPower *prometheus.GaugeVec
	tenantJ     *prometheus.GaugeVec
	predicted   *prometheus.GaugeVec
}

func NewAttributionMonitor(registry prometheus.Registerer) *AttributionMonitor {
	m := &AttributionMonitor{
		hostPower: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vmenergy_host_power_watts",
			Help: "Latest host power draw, metered or modelled",
		}, []string{"host"}),
		hostUtil: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vmenergy_host_cpu_utilisation_ratio",
			Help: "Latest host CPU utilisation",
		}, []string{"host"}),
		tenantPower: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vmenergy_tenant_power_watts",
			Help: "Latest share of host power attributed to a tenant",
		}, []string{"host", "kind", "tenant"}),
		tenantJ: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vmenergy_tenant_energy_joules",
			Help: "Energy attributed to a tenant since the daemon started",
		}, []string{"host", "kind", "tenant"}),
		predicted: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vmenergy_predicted_host_cpu_utilisation_ratio",
			Help: "Host CPU utilisation predicted from workload history for the current tenant set",
		}, []string{"host"}),
	}
	registry.MustRegister(m.hostPower, m.hostUtil, m.tenantPower, m.tenantJ, m.predicted)
	return m
}

// ObserveHost records the host's latest measurement.
func (m *AttributionMonitor) ObserveHost(h types.HostMeasurement) {
	if m == nil || h.Host == nil {
		return
	}
	m.hostPower.WithLabelValues(h.Host.Name).Set(h.Power)
	m.hostUtil.WithLabelValues(h.Host.Name).Set(h.CPUUtilisation)
}

// ObservePrediction records the predicted host utilisation.
func (m *AttributionMonitor) ObservePrediction(host *types.Host, u float64) {
	if m == nil || host == nil {
		return
	}
	m.predicted.WithLabelValues(host.Name).Set(u)
}

// ObserveTenant records a tenant's latest power share and its cumulative
// energy.
func (m *AttributionMonitor) ObserveTenant(host *types.Host, user types.EnergyUsageSource, watts, joules float64) {
	if m == nil || host == nil || user == nil {
		return
	}
	labels := []string{host.Name, user.Kind().String(), user.Label()}
	m.tenantPower.WithLabelValues(labels...).Set(watts)
	m.tenantJ.WithLabelValues(labels...).Set(joules)
}

// Forget drops the series of a tenant that left the host.
func (m *AttributionMonitor) Forget(host *types.Host, user types.EnergyUsageSource) {
	if m == nil || host == nil || user == nil {
		return
	}
	labels := []string{host.Name, user.Kind().String(), user.Label()}
	m.tenantPower.DeleteLabelValues(labels...)
	m.tenantJ.DeleteLabelValues(labels...)
}
