package history

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/ja7ad/vmenergy/pkg/types"
	"github.com/ja7ad/vmenergy/pkg/workload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Wednesday 14:30 UTC
var now = time.Date(2026, 10, 14, 14, 30, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*Store, *Monitor) {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(db.Close)

	mon := NewMonitor(prometheus.NewRegistry())
	s, err := NewStore(db, mon)
	require.NoError(t, err)
	s.Now = func() time.Time { return now }
	s.Location = time.UTC
	return s, mon
}

func vm(id string, created time.Time, tags, disks []string) *types.DeployedVM {
	return &types.DeployedVM{
		VirtualMachine: types.VirtualMachine{ID: id, Name: "vm-" + id, CPUCount: 2, AppTags: tags, DiskImages: disks},
		HostName:       "node-1",
		Created:        created,
	}
}

func TestStore_TablesCreated(t *testing.T) {
	s, _ := newTestStore(t)
	assert.True(t, s.db.TableExists(WorkloadSample{}))
	assert.True(t, s.db.TableExists(HostSample{}))
}

func TestStore_AverageForTagAndDisk(t *testing.T) {
	s, mon := newTestStore(t)
	ctx := context.Background()
	v := vm("1", now.Add(-time.Hour), []string{"web"}, []string{"ubuntu"})

	n, err := s.RecordVMMeasurements(ctx, []types.VMMeasurement{
		{VM: v, Clock: now.Add(-2 * time.Minute), CPUUtilisation: types.Utilisation(0.2)},
		{VM: v, Clock: now.Add(-time.Minute), CPUUtilisation: types.Utilisation(0.6)},
		{VM: v, Clock: now}, // no cpu data
	})
	require.NoError(t, err)
	assert.Equal(t, 4, n, "one row per tag and per disk")
	assert.InDelta(t, 4, testutil.ToFloat64(mon.samples.WithLabelValues("vm")), 0)

	r, err := s.AverageUtilisationForTag(ctx, "web")
	require.NoError(t, err)
	assert.InDelta(t, 0.4, r.Utilisation, 1e-9)
	assert.InDelta(t, 0.2, r.StdDev, 1e-9)

	r, err = s.AverageUtilisationForDisk(ctx, "ubuntu")
	require.NoError(t, err)
	assert.InDelta(t, 0.4, r.Utilisation, 1e-9)

	_, err = s.AverageUtilisationForTag(ctx, "ubuntu")
	assert.ErrorIs(t, err, workload.ErrNoHistory, "tag and disk keys are separate namespaces")
}

func TestStore_BootTrace(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	created := now.Add(-time.Hour)
	v := vm("1", created, nil, []string{"ubuntu"})

	_, err := s.RecordVMMeasurements(ctx, []types.VMMeasurement{
		{VM: v, Clock: created.Add(100 * time.Second), CPUUtilisation: types.Utilisation(0.9)},
		{VM: v, Clock: created.Add(400 * time.Second), CPUUtilisation: types.Utilisation(0.7)},
		{VM: v, Clock: created.Add(1200 * time.Second), CPUUtilisation: types.Utilisation(0.1)},
	})
	require.NoError(t, err)

	trace, err := s.BootTraceForDisk(ctx, "ubuntu", 500*time.Second)
	require.NoError(t, err)
	require.Len(t, trace, 2)
	assert.Equal(t, 0, trace[0].Bucket)
	assert.InDelta(t, 0.8, trace[0].Utilisation, 1e-9)
	assert.Equal(t, 2, trace[1].Bucket)
	assert.InDelta(t, 0.1, trace[1].Utilisation, 1e-9)

	_, err = s.BootTraceForDisk(ctx, "ubuntu", 0)
	assert.Error(t, err)
	_, err = s.BootTraceForDisk(ctx, "debian", 500*time.Second)
	assert.ErrorIs(t, err, workload.ErrNoHistory)
}

func TestStore_WeekTrace(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	app := &types.ApplicationOnHost{ID: "nginx", Name: "nginx", HostName: "node-1", CPUCount: 1, AppTags: []string{"web"}}

	_, err := s.RecordApplicationMeasurements(ctx, []types.ApplicationMeasurement{
		{App: app, Clock: now, CPUUtilisation: types.Utilisation(0.5)},
		{App: app, Clock: now.Add(-7 * 24 * time.Hour), CPUUtilisation: types.Utilisation(0.3)},
		{App: app, Clock: now.Add(-2 * time.Hour), CPUUtilisation: types.Utilisation(0.9)},
	})
	require.NoError(t, err)

	trace, err := s.WeekTraceForTag(ctx, "web")
	require.NoError(t, err)
	require.Len(t, trace, 2)
	for _, r := range trace {
		t.Logf("slot %s %02d:00 -> %.2f", r.DayOfWeek, r.HourOfDay, r.Utilisation)
		if r.Matches(now) {
			assert.InDelta(t, 0.4, r.Utilisation, 1e-9)
			assert.InDelta(t, 0.1, r.StdDev, 1e-9)
		}
	}

	_, err = s.WeekTraceForDisk(ctx, "web")
	assert.ErrorIs(t, err, workload.ErrNoHistory)
}

func TestStore_HostUtilisationAndUsage(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	host := &types.Host{ID: "1", Name: "node-1", IdlePowerConsumption: 100, MaxPowerConsumption: 300}

	_, err := s.HostCPUUtilisation(ctx, host, time.Hour)
	assert.ErrorIs(t, err, workload.ErrNoHistory)

	for i, m := range []types.HostMeasurement{
		{Clock: now.Add(-3 * time.Hour), CPUUtilisation: 0.9, Power: 280},
		{Clock: now.Add(-10 * time.Minute), CPUUtilisation: 0.2, Power: 140, Voltage: 230},
		{Clock: now.Add(-5 * time.Minute), CPUUtilisation: 0.4, Power: 180, Voltage: 230},
	} {
		m.Host = host
		require.NoError(t, s.RecordHostMeasurement(ctx, m), "sample %d", i)
	}

	u, err := s.HostCPUUtilisation(ctx, host, 15*time.Minute)
	require.NoError(t, err)
	assert.InDelta(t, 0.3, u, 1e-9, "the 3h old sample is outside the look-back")

	users := []types.EnergyUsageSource{vm("1", now, nil, nil)}
	rec, err := s.HostUsage(ctx, host, users, now.Add(-15*time.Minute), now)
	require.NoError(t, err)
	assert.InDelta(t, 160, rec.AvgPower, 1e-9)
	assert.InDelta(t, 230, rec.AvgVoltage, 1e-9)
	assert.InDelta(t, 160*900, rec.TotalEnergy, 1e-6)
	assert.Equal(t, 15*time.Minute, rec.Duration())
	assert.Len(t, rec.Users, 1)

	assert.Error(t, s.RecordHostMeasurement(ctx, types.HostMeasurement{Clock: now}))
}

func TestStore_KeysAndPrune(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	v := vm("1", now.Add(-time.Hour), []string{"web", "batch"}, []string{"ubuntu"})
	_, err := s.RecordVMMeasurements(ctx, []types.VMMeasurement{
		{VM: v, Clock: now.Add(-48 * time.Hour), CPUUtilisation: types.Utilisation(0.1)},
		{VM: v, Clock: now, CPUUtilisation: types.Utilisation(0.5)},
	})
	require.NoError(t, err)

	tags, disks, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"batch", "web"}, tags)
	assert.Equal(t, []string{"ubuntu"}, disks)

	n, err := s.Prune(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	r, err := s.AverageUtilisationForTag(ctx, "web")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, r.Utilisation, 1e-9)
	assert.InDelta(t, 0, r.StdDev, 1e-9)
}

func TestStore_ServesMapper(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	v := vm("1", now.Add(-time.Hour), []string{"batch"}, nil)
	_, err := s.RecordVMMeasurements(ctx, []types.VMMeasurement{
		{VM: v, Clock: now, CPUUtilisation: types.Utilisation(0.25)},
		{VM: v, Clock: now.Add(-time.Minute), CPUUtilisation: types.Utilisation(0.75)},
	})
	require.NoError(t, err)

	cache := workload.NewStatisticsCache()
	tags, disks, err := s.Keys(ctx)
	require.NoError(t, err)
	require.NoError(t, cache.Warm(ctx, s, tags, disks, workload.DefaultBootBucketSize))

	m := workload.NewMapper(workload.DefaultRules(), workload.Options{
		Connector:  s,
		DataSource: s,
		Cache:      cache,
		Now:        func() time.Time { return now },
	})
	got := m.CPUUtilisation(ctx, nil, []types.EnergyUsageSource{v})
	assert.False(t, math.IsNaN(got))
	assert.InDelta(t, 0.5, got, 1e-9)
}

func TestStore_WeekSlotsFollowStoreLocation(t *testing.T) {
	s, _ := newTestStore(t)
	s.Location = time.FixedZone("UTC+2", 2*60*60)
	ctx := context.Background()
	v := vm("1", now.Add(-time.Hour), []string{"web"}, nil)
	_, err := s.RecordVMMeasurements(ctx, []types.VMMeasurement{
		{VM: v, Clock: now, CPUUtilisation: types.Utilisation(0.9)},
		{VM: v, Clock: now.Add(-24 * time.Hour), CPUUtilisation: types.Utilisation(0.1)},
	})
	require.NoError(t, err)

	trace, err := s.WeekTraceForTag(ctx, "web")
	require.NoError(t, err)
	require.Len(t, trace, 2)

	m := workload.NewMapper(workload.DefaultRules(), workload.Options{
		Connector: s,
		Now:       func() time.Time { return now },
		Location:  s.Location,
	})
	r, name, ok := m.PredictSource(ctx, v)
	require.True(t, ok)
	assert.Equal(t, workload.NameWeekByTag, name)
	assert.InDelta(t, 0.9, r.Utilisation, 1e-9, "exact slot, not the mean of both days")
}
