package workload

import (
	"context"
	"time"

	"github.com/ja7ad/vmenergy/pkg/types"
)

// RecentHistoryEstimator predicts that a host keeps the CPU utilisation it
// showed over the last Lookback. It ignores the tenant set and is the
// default when no tenant property matches a predictor rule.
type RecentHistoryEstimator struct {
	base
	Lookback time.Duration
}

// NewRecentHistoryEstimator returns the recent host history estimator.
func NewRecentHistoryEstimator(o Options) *RecentHistoryEstimator {
	lb := o.RecentLookback
	if lb <= 0 {
		lb = DefaultRecentLookback
	}
	return &RecentHistoryEstimator{base: newBase(NameRecentHistory, o), Lookback: lb}
}

func (e *RecentHistoryEstimator) CPUUtilisation(ctx context.Context, host *types.Host, _ []types.EnergyUsageSource) float64 {
	e.monitor.observePrediction(e.name)
	if e.source == nil {
		e.log.Warn("workload: recent history without data source", "err", ErrNoDataSource)
		return 0
	}
	u, err := e.source.HostCPUUtilisation(ctx, host, e.Lookback)
	if err != nil {
		e.log.Warn("workload: recent host utilisation unavailable", "host", hostName(host), "err", err)
		return 0
	}
	return u
}

func hostName(h *types.Host) string {
	if h == nil {
		return ""
	}
	return h.Name
}
