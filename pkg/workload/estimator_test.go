package workload

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ja7ad/vmenergy/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Wednesday 14:30 UTC
var fixedNow = time.Date(2026, 10, 14, 14, 30, 0, 0, time.UTC)

func opts(conn HistoryConnector) Options {
	log, _ := bufferLogger()
	return Options{Connector: conn, Logger: log, Now: func() time.Time { return fixedNow }, Location: time.UTC}
}

func TestAverageEstimator_ByTag(t *testing.T) {
	conn := newFakeConnector()
	conn.tagAvg["web"] = rec(0.4, 0.05)
	conn.tagAvg["db"] = rec(0.8, 0.20)
	e := NewAverageEstimator(ByTag, opts(conn))

	r, ok := e.AverageCPUUtilisation(context.Background(), tagged("1", "web", "db"))
	require.True(t, ok)
	assert.InDelta(t, 0.6, r.Utilisation, 1e-12)
	assert.InDelta(t, 0.20, r.StdDev, 1e-12, "stddev is the maximum, not the mean")

	// vm 3 has no tags and is left out; vm 4 is tagged but has no history
	// and counts as zero
	got := e.CPUUtilisation(context.Background(), nil, []types.EnergyUsageSource{
		tagged("1", "web", "db"),
		tagged("2", "web"),
		tagged("3"),
		tagged("4", "unknown"),
	})
	assert.InDelta(t, (0.6+0.4+0)/3, got, 1e-12)
}

func TestAverageEstimator_NewTagPullsMeanDown(t *testing.T) {
	conn := newFakeConnector()
	conn.tagAvg["web"] = rec(0.8, 0)
	e := NewAverageEstimator(ByTag, opts(conn))
	got := e.CPUUtilisation(context.Background(), nil, []types.EnergyUsageSource{tagged("a", "web"), tagged("b", "newtag")})
	assert.InDelta(t, 0.4, got, 1e-12)
}

func TestAverageEstimator_NoDimension(t *testing.T) {
	e := NewAverageEstimator(ByDisk, opts(newFakeConnector()))
	got := e.CPUUtilisation(context.Background(), nil, []types.EnergyUsageSource{tagged("1", "web"), &types.PowerConsumer{ID: "p"}})
	assert.Equal(t, 0.0, got)
	assert.Equal(t, NameAverageByDisk, e.Name())
}

func TestAverageEstimator_ConnectorFailureDegrades(t *testing.T) {
	conn := newFakeConnector()
	conn.fail = errors.New("db down")
	e := NewAverageEstimator(ByTag, opts(conn))
	assert.Equal(t, 0.0, e.CPUUtilisation(context.Background(), nil, []types.EnergyUsageSource{tagged("1", "web")}))

	noConn := NewAverageEstimator(ByTag, Options{})
	assert.Equal(t, 0.0, noConn.CPUUtilisation(context.Background(), nil, []types.EnergyUsageSource{tagged("1", "web")}))
}

func TestAverageEstimator_CacheFirst(t *testing.T) {
	conn := newFakeConnector()
	conn.tagAvg["web"] = rec(0.9, 0)
	cache := NewStatisticsCache()
	cache.SetTagAverage("web", rec(0.1, 0))

	o := opts(conn)
	o.Cache = cache
	e := NewAverageEstimator(ByTag, o)
	src := []types.EnergyUsageSource{tagged("1", "web")}

	assert.InDelta(t, 0.1, e.CPUUtilisation(context.Background(), nil, src), 1e-12)
	assert.Equal(t, 0, conn.Calls(), "cache hit must not reach the connector")

	cache.SetInUse(false)
	assert.InDelta(t, 0.9, e.CPUUtilisation(context.Background(), nil, src), 1e-12)
	assert.Equal(t, 1, conn.Calls())

	cache.SetInUse(true)
	conn.tagAvg["db"] = rec(0.5, 0)
	assert.InDelta(t, 0.5, e.CPUUtilisation(context.Background(), nil, []types.EnergyUsageSource{tagged("2", "db")}), 1e-12, "miss falls back to the connector")
}

func TestWeekEstimator_ExactSlot(t *testing.T) {
	conn := newFakeConnector()
	conn.weekTag["web"] = []WeekHistoryRecord{
		{VMLoadHistoryRecord: rec(0.2, 0.01), DayOfWeek: time.Wednesday, HourOfDay: 13},
		{VMLoadHistoryRecord: rec(0.7, 0.03), DayOfWeek: time.Wednesday, HourOfDay: 14},
		{VMLoadHistoryRecord: rec(0.3, 0.09), DayOfWeek: time.Thursday, HourOfDay: 14},
	}
	e := NewWeekEstimator(ByTag, opts(conn))
	r, ok := e.AverageCPUUtilisation(context.Background(), tagged("1", "web"))
	require.True(t, ok)
	assert.InDelta(t, 0.7, r.Utilisation, 1e-12)
	assert.InDelta(t, 0.03, r.StdDev, 1e-12)
}

func TestWeekEstimator_SlotInLocation(t *testing.T) {
	conn := newFakeConnector()
	conn.weekTag["web"] = []WeekHistoryRecord{
		{VMLoadHistoryRecord: rec(0.1, 0), DayOfWeek: time.Wednesday, HourOfDay: 14},
		{VMLoadHistoryRecord: rec(0.9, 0), DayOfWeek: time.Wednesday, HourOfDay: 16},
	}
	o := opts(conn)
	o.Location = time.FixedZone("UTC+2", 2*60*60)
	e := NewWeekEstimator(ByTag, o)

	// 14:30 UTC is 16:30 in the slot zone
	r, ok := e.AverageCPUUtilisation(context.Background(), tagged("1", "web"))
	require.True(t, ok)
	assert.InDelta(t, 0.9, r.Utilisation, 1e-12)
}

func TestWeekEstimator_MeanWhenSlotMissing(t *testing.T) {
	conn := newFakeConnector()
	conn.weekDisk["img"] = []WeekHistoryRecord{
		{VMLoadHistoryRecord: rec(0.2, 0.01), DayOfWeek: time.Monday, HourOfDay: 1},
		{VMLoadHistoryRecord: rec(0.4, 0.09), DayOfWeek: time.Friday, HourOfDay: 22},
		{VMLoadHistoryRecord: rec(0.9, 0.02), DayOfWeek: time.Sunday, HourOfDay: 14},
	}
	e := NewWeekEstimator(ByDisk, opts(conn))
	r, ok := e.AverageCPUUtilisation(context.Background(), withDisks("1", "img"))
	require.True(t, ok)
	assert.InDelta(t, 0.5, r.Utilisation, 1e-12)
	assert.InDelta(t, 0.09, r.StdDev, 1e-12)

	conn.weekDisk["empty"] = nil
	_, ok = e.AverageCPUUtilisation(context.Background(), withDisks("2", "empty"))
	assert.False(t, ok)
}

func TestBootEstimator_BucketSelection(t *testing.T) {
	conn := newFakeConnector()
	conn.boot["img"] = []BootHistoryRecord{
		{VMLoadHistoryRecord: rec(0.9, 0.1), Bucket: 0},
		{VMLoadHistoryRecord: rec(0.3, 0.2), Bucket: 2},
	}
	conn.diskAvg["img"] = rec(0.5, 0.4)
	e := NewBootEstimator(opts(conn))
	require.Equal(t, DefaultBootBucketSize, e.BucketSize)

	// 1100s old -> bucket 2
	vm := withDisks("1", "img")
	vm.Created = fixedNow.Add(-1100 * time.Second)
	r, ok := e.AverageCPUUtilisation(context.Background(), vm)
	require.True(t, ok)
	assert.InDelta(t, 0.3, r.Utilisation, 1e-12)

	// 600s old -> bucket 1 has no record -> aggregate
	vm.Created = fixedNow.Add(-600 * time.Second)
	r, ok = e.AverageCPUUtilisation(context.Background(), vm)
	require.True(t, ok)
	assert.InDelta(t, 0.5, r.Utilisation, 1e-12)

	// planned VMs have not booted yet -> bucket 0
	planned := &types.PlannedVM{VirtualMachine: types.VirtualMachine{ID: "p", DiskImages: []string{"img"}}}
	r, ok = e.AverageCPUUtilisation(context.Background(), planned)
	require.True(t, ok)
	assert.InDelta(t, 0.9, r.Utilisation, 1e-12)
}

func TestBootEstimator_NoTraceUsesAggregate(t *testing.T) {
	conn := newFakeConnector()
	conn.diskAvg["img"] = rec(0.25, 0)
	e := NewBootEstimator(opts(conn))
	got := e.CPUUtilisation(context.Background(), nil, []types.EnergyUsageSource{withDisks("1", "img")})
	assert.InDelta(t, 0.25, got, 1e-12)
}

func TestRecentHistoryEstimator(t *testing.T) {
	src := &fakeSource{util: 0.42}
	o := opts(nil)
	o.DataSource = src
	o.RecentLookback = 5 * time.Minute
	e := NewRecentHistoryEstimator(o)
	assert.InDelta(t, 0.42, e.CPUUtilisation(context.Background(), &types.Host{Name: "h"}, nil), 1e-12)
	assert.Equal(t, 5*time.Minute, src.got)

	src.err = errors.New("gone")
	assert.Equal(t, 0.0, e.CPUUtilisation(context.Background(), &types.Host{Name: "h"}, nil))

	bare := NewRecentHistoryEstimator(Options{})
	assert.Equal(t, DefaultRecentLookback, bare.Lookback)
	assert.Equal(t, 0.0, bare.CPUUtilisation(context.Background(), nil, nil))
	bare.SetDataSource(&fakeSource{util: 0.1})
	assert.InDelta(t, 0.1, bare.CPUUtilisation(context.Background(), nil, nil), 1e-12)
}

func TestBootBucket(t *testing.T) {
	assert.Equal(t, 0, BootBucket(0, time.Second))
	assert.Equal(t, 0, BootBucket(499*time.Second, 500*time.Second))
	assert.Equal(t, 1, BootBucket(500*time.Second, 500*time.Second))
	assert.Equal(t, 0, BootBucket(time.Hour, 0))
}
