package workload

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/ja7ad/vmenergy/pkg/types"
)

// Estimator names as used in predictor rules.
const (
	NameAverageByTag  = "average_by_tag"
	NameAverageByDisk = "average_by_disk"
	NameBootByDisk    = "boot_by_disk"
	NameWeekByTag     = "week_by_tag"
	NameWeekByDisk    = "week_by_disk"
	NameRecentHistory = "recent_history"
	NameUserDefined   = "user_defined"
)

// Default tuning.
const (
	DefaultBootBucketSize = 500 * time.Second
	DefaultRecentLookback = 15 * time.Minute
)

// Estimator predicts the CPU utilisation a set of tenants induces on a
// host. The result is nominally in [0,1] but is not clamped.
type Estimator interface {
	Name() string
	CPUUtilisation(ctx context.Context, host *types.Host, sources []types.EnergyUsageSource) float64
	SetDataSource(ds DataSource)
	SetHistoryConnector(conn HistoryConnector)
}

// SourceEstimator is an Estimator keyed on a per-VM property, able to
// produce a utilisation record for a single tenant.
type SourceEstimator interface {
	Estimator
	Dimension() Dimension
	// AverageCPUUtilisation returns the mean utilisation across the
	// tenant's keys and the largest standard deviation seen, or false when
	// no key had history.
	AverageCPUUtilisation(ctx context.Context, src types.EnergyUsageSource) (VMLoadHistoryRecord, bool)
}

// Options carries the shared collaborators of every estimator.
type Options struct {
	Cache      *StatisticsCache
	Monitor    *Monitor
	Logger     *slog.Logger
	Connector  HistoryConnector
	DataSource DataSource
	// Now is the clock used for boot age and week slot selection.
	Now func() time.Time
	// Location is the zone week slots are matched in. It must be the zone
	// the history store filed its samples under; defaults to time.Local.
	Location *time.Location

	BootBucketSize time.Duration
	RecentLookback time.Duration
}

type base struct {
	name      string
	connector HistoryConnector
	source    DataSource
	cache     *StatisticsCache
	monitor   *Monitor
	log       *slog.Logger
	now       func() time.Time
	loc       *time.Location
}

func newBase(name string, o Options) base {
	b := base{
		name:      name,
		connector: o.Connector,
		source:    o.DataSource,
		cache:     o.Cache,
		monitor:   o.Monitor,
		log:       o.Logger,
		now:       o.Now,
		loc:       o.Location,
	}
	if b.log == nil {
		b.log = slog.Default()
	}
	if b.now == nil {
		b.now = time.Now
	}
	if b.loc == nil {
		b.loc = time.Local
	}
	return b
}

func (b *base) Name() string                             { return b.name }
func (b *base) SetDataSource(ds DataSource)              { b.source = ds }
func (b *base) SetHistoryConnector(conn HistoryConnector) { b.connector = conn }

// meanOverSources averages per-tenant estimates over the tenants that carry
// the dimension. A tenant without history for any of its keys counts as
// zero; tenants lacking the dimension are left out.
func (b *base) meanOverSources(ctx context.Context, sources []types.EnergyUsageSource, dim Dimension,
	avg func(context.Context, types.EnergyUsageSource) (VMLoadHistoryRecord, bool),
) float64 {
	b.monitor.observePrediction(b.name)
	var (
		sum float64
		n   int
	)
	for _, src := range sources {
		if len(dim.Keys(src)) == 0 {
			continue
		}
		if r, ok := avg(ctx, src); ok {
			sum += r.Utilisation
		}
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// averageOverKeys looks every key up and returns the mean utilisation with
// the maximum standard deviation.
func (b *base) averageOverKeys(ctx context.Context, keys []string,
	lookup func(context.Context, string) (VMLoadHistoryRecord, error),
) (VMLoadHistoryRecord, bool) {
	var (
		sum, sd float64
		n       int
	)
	for _, k := range keys {
		r, err := lookup(ctx, k)
		if err != nil {
			if !errors.Is(err, ErrNoHistory) {
				b.log.Warn("workload: history lookup failed", "estimator", b.name, "key", k, "err", err)
			}
			continue
		}
		sum += r.Utilisation
		sd = math.Max(sd, r.StdDev)
		n++
	}
	if n == 0 {
		return VMLoadHistoryRecord{}, false
	}
	return VMLoadHistoryRecord{Utilisation: sum / float64(n), StdDev: sd}, true
}

func (b *base) tagAverage(ctx context.Context, tag string) (VMLoadHistoryRecord, error) {
	if b.cache.InUse() {
		r, ok := b.cache.TagAverage(tag)
		b.monitor.observeCache(ok)
		if ok {
			return r, nil
		}
	}
	if b.connector == nil {
		return VMLoadHistoryRecord{}, ErrNoConnector
	}
	return b.connector.AverageUtilisationForTag(ctx, tag)
}

func (b *base) diskAverage(ctx context.Context, disk string) (VMLoadHistoryRecord, error) {
	if b.cache.InUse() {
		r, ok := b.cache.DiskAverage(disk)
		b.monitor.observeCache(ok)
		if ok {
			return r, nil
		}
	}
	if b.connector == nil {
		return VMLoadHistoryRecord{}, ErrNoConnector
	}
	return b.connector.AverageUtilisationForDisk(ctx, disk)
}

func (b *base) bootTrace(ctx context.Context, disk string, bucketSize time.Duration) ([]BootHistoryRecord, error) {
	if b.cache.InUse() {
		r, ok := b.cache.BootTrace(disk, bucketSize)
		b.monitor.observeCache(ok)
		if ok {
			return r, nil
		}
	}
	if b.connector == nil {
		return nil, ErrNoConnector
	}
	return b.connector.BootTraceForDisk(ctx, disk, bucketSize)
}

func (b *base) weekTrace(ctx context.Context, dim Dimension, key string) ([]WeekHistoryRecord, error) {
	if b.cache.InUse() {
		var (
			r  []WeekHistoryRecord
			ok bool
		)
		if dim == ByDisk {
			r, ok = b.cache.WeekTraceForDisk(key)
		} else {
			r, ok = b.cache.WeekTraceForTag(key)
		}
		b.monitor.observeCache(ok)
		if ok {
			return r, nil
		}
	}
	if b.connector == nil {
		return nil, ErrNoConnector
	}
	if dim == ByDisk {
		return b.connector.WeekTraceForDisk(ctx, key)
	}
	return b.connector.WeekTraceForTag(ctx, key)
}

// AverageEstimator predicts from the single aggregate utilisation figure of
// each app tag or disk image, with no time dimension.
type AverageEstimator struct {
	base
	dim Dimension
}

// NewAverageEstimator returns the basic estimator for dim.
func NewAverageEstimator(dim Dimension, o Options) *AverageEstimator {
	name := NameAverageByTag
	if dim == ByDisk {
		name = NameAverageByDisk
	}
	return &AverageEstimator{base: newBase(name, o), dim: dim}
}

func (e *AverageEstimator) Dimension() Dimension { return e.dim }

func (e *AverageEstimator) CPUUtilisation(ctx context.Context, _ *types.Host, sources []types.EnergyUsageSource) float64 {
	return e.meanOverSources(ctx, sources, e.dim, e.AverageCPUUtilisation)
}

func (e *AverageEstimator) AverageCPUUtilisation(ctx context.Context, src types.EnergyUsageSource) (VMLoadHistoryRecord, bool) {
	lookup := e.tagAverage
	if e.dim == ByDisk {
		lookup = e.diskAverage
	}
	return e.averageOverKeys(ctx, e.dim.Keys(src), lookup)
}
