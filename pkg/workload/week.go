package workload

import (
	"context"
	"fmt"
	"time"

	"github.com/ja7ad/vmenergy/pkg/types"
)

// WeekEstimator predicts from the utilisation recorded for the current
// day of week and hour of day, taken in Options.Location. When that slot has no history it uses the
// mean over all slots with the largest standard deviation among them.
type WeekEstimator struct {
	base
	dim Dimension
}

// NewWeekEstimator returns a day/hour estimator keyed on dim.
func NewWeekEstimator(dim Dimension, o Options) *WeekEstimator {
	name := NameWeekByTag
	if dim == ByDisk {
		name = NameWeekByDisk
	}
	return &WeekEstimator{base: newBase(name, o), dim: dim}
}

func (e *WeekEstimator) Dimension() Dimension { return e.dim }

func (e *WeekEstimator) CPUUtilisation(ctx context.Context, _ *types.Host, sources []types.EnergyUsageSource) float64 {
	return e.meanOverSources(ctx, sources, e.dim, e.AverageCPUUtilisation)
}

func (e *WeekEstimator) AverageCPUUtilisation(ctx context.Context, src types.EnergyUsageSource) (VMLoadHistoryRecord, bool) {
	now := e.now().In(e.loc)
	return e.averageOverKeys(ctx, e.dim.Keys(src), func(ctx context.Context, key string) (VMLoadHistoryRecord, error) {
		trace, err := e.weekTrace(ctx, e.dim, key)
		if err != nil {
			return VMLoadHistoryRecord{}, err
		}
		return selectWeekSlot(trace, now, key)
	})
}

func selectWeekSlot(trace []WeekHistoryRecord, now time.Time, key string) (VMLoadHistoryRecord, error) {
	if len(trace) == 0 {
		return VMLoadHistoryRecord{}, fmt.Errorf("%w: %s", ErrNoHistory, key)
	}
	all := make([]VMLoadHistoryRecord, 0, len(trace))
	for _, r := range trace {
		if r.Matches(now) {
			return r.VMLoadHistoryRecord, nil
		}
		all = append(all, r.VMLoadHistoryRecord)
	}
	return meanOf(all), nil
}
