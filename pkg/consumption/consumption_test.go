package consumption

import (
	"math"
	"testing"
	"time"

	"github.com/ja7ad/vmenergy/pkg/energy"
	"github.com/ja7ad/vmenergy/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DefaultsAndOverrides(t *testing.T) {
	def := New(nil).Config()
	assert.Equal(t, *_defaultConfig(), def)

	m := New(&Config{PIdle: 50, Gamma: -1})
	assert.Equal(t, 50.0, m.Config().PIdle)
	assert.Equal(t, def.PMax, m.Config().PMax, "zero keeps default")
	assert.Equal(t, def.Gamma, m.Config().Gamma, "negative keeps default")

	clamped := New(&Config{PIdle: 400, PMax: 200})
	assert.Equal(t, 400.0, clamped.Config().PMax, "PMax is clamped to PIdle")
}

func TestModel_Power(t *testing.T) {
	m := New(&Config{PIdle: 100, PMax: 300, Gamma: 1.3})
	for _, u := range []float64{0, 0.1, 0.25, 0.5, 0.8, 1} {
		want := 100 + 200*math.Pow(u, 1.3)
		got := m.Power(u)
		t.Logf("u=%.2f P=%.3fW", u, got)
		assert.InDelta(t, want, got, 1e-9)
	}
	assert.Equal(t, 100.0, m.Power(-0.5))
	assert.Equal(t, 300.0, m.Power(2))
	assert.InDelta(t, 200*math.Pow(0.5, 1.3), m.Dynamic(0.5), 1e-9)
}

func TestForHost(t *testing.T) {
	host := &types.Host{Name: "node-1", IdlePowerConsumption: 80, MaxPowerConsumption: 240}
	m := ForHost(host, &Config{PIdle: 10, PMax: 20, Gamma: 1})
	assert.InDelta(t, 160, m.Power(0.5), 1e-9, "host figures win over config")

	host.Calibration = []types.CalibrationPoint{
		{Utilisation: 1, Watts: 250},
		{Utilisation: 0, Watts: 90},
		{Utilisation: 0.5, Watts: 200},
	}
	m = ForHost(host, nil)
	assert.InDelta(t, 90, m.Power(0), 1e-9)
	assert.InDelta(t, 145, m.Power(0.25), 1e-9)
	assert.InDelta(t, 225, m.Power(0.75), 1e-9)
	assert.InDelta(t, 250, m.Power(1), 1e-9)

	// profile that does not span the full range holds its end points
	host.Calibration = []types.CalibrationPoint{{Utilisation: 0.2, Watts: 120}, {Utilisation: 0.6, Watts: 200}}
	m = ForHost(host, nil)
	assert.Equal(t, 120.0, m.Power(0.1))
	assert.Equal(t, 200.0, m.Power(0.9))

	assert.NotPanics(t, func() { ForHost(nil, nil).Power(0.5) })
}

func TestAccumulator_Sequence(t *testing.T) {
	host := &types.Host{Name: "node-1", IdlePowerConsumption: 100, MaxPowerConsumption: 300}
	a := &types.DeployedVM{VirtualMachine: types.VirtualMachine{ID: "a", CPUCount: 1}}
	b := &types.DeployedVM{VirtualMachine: types.VirtualMachine{ID: "b", CPUCount: 3}}

	rule := &energy.CoreCountShareRule{}
	d, err := rule.EnergyUsage(host, []types.EnergyUsageSource{a, b})
	require.NoError(t, err)

	acc := NewAccumulator()
	model := ForHost(host, nil)
	var hostJ float64
	t.Logf("# tick,     u |  P_host(W)      P_a(W)      P_b(W)")
	for i, u := range []float64{0.1, 0.4, 0.7, 1.0} {
		p := model.Power(u)
		res, err := acc.Apply(d, p, time.Second)
		require.NoError(t, err)
		hostJ += p
		t.Logf("%6d, %5.2f | %10.3f  %10.3f  %10.3f", i, u, res.Host, res.Shares[a.SourceID()], res.Shares[b.SourceID()])
		assert.InDelta(t, p, res.Shares[a.SourceID()]+res.Shares[b.SourceID()], 1e-9, "shares sum to host power")
	}

	assert.Equal(t, 4, acc.Ticks())
	assert.InDelta(t, hostJ, acc.HostEnergyCumJ(), 1e-9)
	assert.InDelta(t, hostJ/4, acc.EnergyCumJ(a.SourceID()), 1e-9)
	assert.InDelta(t, hostJ*3/4, acc.EnergyCumJ(b.SourceID()), 1e-9)

	avg := acc.Averages()
	assert.InDelta(t, hostJ/4/4, avg[a.SourceID()], 1e-9)
	assert.Len(t, acc.Energies(), 2)
}

func TestAccumulator_Errors(t *testing.T) {
	acc := NewAccumulator()
	d := energy.NewDivision(&types.Host{})
	_, err := acc.Apply(d, 100, 0)
	assert.Error(t, err)

	_, err = acc.Apply(d, 100, time.Second)
	assert.ErrorIs(t, err, energy.ErrNoWeights, "a division without users cannot be applied")
	assert.Equal(t, 0, acc.Ticks())
	assert.Empty(t, acc.Averages())
}
