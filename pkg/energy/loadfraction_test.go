package energy

import (
	"testing"
	"time"

	"github.com/ja7ad/vmenergy/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostLoadFraction_FromVMMeasurements(t *testing.T) {
	vm1, vm2 := vm("1", 1), vm("2", 1)
	t0 := time.Unix(1000, 0)
	lf := FromVMMeasurements(testHost(), []types.VMMeasurement{
		{VM: vm1, Clock: t0, CPUUtilisation: types.Utilisation(0.1)},
		{VM: vm2, Clock: t0.Add(5 * time.Second), CPUUtilisation: types.Utilisation(0.3)},
	}, false)

	assert.Equal(t, t0.Add(5*time.Second), lf.Time, "snapshot carries the latest clock")
	f1, ok := lf.Fraction(vm1)
	require.True(t, ok)
	assert.InDelta(t, 0.25, f1, 1e-12)

	recs := lf.UsageRecords()
	require.Len(t, recs, 2)
	assert.Equal(t, vm1.SourceID(), recs[0].User.SourceID())
	assert.Equal(t, lf.Time, recs[1].Time)
}

func TestHostLoadFraction_FixedAfterAssignment(t *testing.T) {
	a := &types.ApplicationOnHost{ID: "a"}
	lf := NewHostLoadFraction(testHost(), time.Unix(0, 0))
	lf.SetFractions(map[types.EnergyUsageSource]float64{a: 0.4})
	lf.SetFractions(map[types.EnergyUsageSource]float64{a: 0.9})
	f, _ := lf.Fraction(a)
	assert.Equal(t, 0.4, f)

	lf.SetHostPowerOffset(12.5)
	assert.Equal(t, 12.5, lf.HostPowerOffset())
}

func TestHostLoadFraction_Division(t *testing.T) {
	a := &types.ApplicationOnHost{ID: "a"}
	b := &types.ApplicationOnHost{ID: "b"}
	lf := FromApplicationMeasurements(testHost(), []types.ApplicationMeasurement{
		{App: a, CPUUtilisation: types.Utilisation(0.2)},
		{App: b, CPUUtilisation: types.Utilisation(0.6)},
	}, false)
	d := lf.Division(false)
	s, err := d.EnergyUsage(100, b)
	require.NoError(t, err)
	assert.InDelta(t, 75.0, s, 1e-9)
}
