package workload

import (
	"context"
	"fmt"
	"time"

	"github.com/ja7ad/vmenergy/pkg/types"
)

// BootEstimator predicts from the utilisation observed on the same disk
// image at the same age since boot. Age is bucketed by BucketSize.
type BootEstimator struct {
	base
	BucketSize time.Duration
}

// NewBootEstimator returns a disk keyed boot-age estimator.
func NewBootEstimator(o Options) *BootEstimator {
	bucket := o.BootBucketSize
	if bucket <= 0 {
		bucket = DefaultBootBucketSize
	}
	return &BootEstimator{base: newBase(NameBootByDisk, o), BucketSize: bucket}
}

func (e *BootEstimator) Dimension() Dimension { return ByDisk }

func (e *BootEstimator) CPUUtilisation(ctx context.Context, _ *types.Host, sources []types.EnergyUsageSource) float64 {
	return e.meanOverSources(ctx, sources, ByDisk, e.AverageCPUUtilisation)
}

func (e *BootEstimator) AverageCPUUtilisation(ctx context.Context, src types.EnergyUsageSource) (VMLoadHistoryRecord, bool) {
	bucket := BootBucket(e.bootAge(src), e.BucketSize)
	return e.averageOverKeys(ctx, types.DiskImages(src), func(ctx context.Context, disk string) (VMLoadHistoryRecord, error) {
		trace, err := e.bootTrace(ctx, disk, e.BucketSize)
		if err == nil {
			for _, r := range trace {
				if r.Bucket == bucket {
					return r.VMLoadHistoryRecord, nil
				}
			}
		}
		// no exact bucket: use the disk's aggregate
		return e.diskAverage(ctx, disk)
	})
}

func (e *BootEstimator) bootAge(src types.EnergyUsageSource) time.Duration {
	switch v := src.(type) {
	case *types.DeployedVM:
		return v.BootAge(e.now())
	case *types.PlannedVM, *types.ApplicationOnHost, *types.PowerConsumer:
		return 0
	default:
		panic(fmt.Sprintf("workload: unhandled energy usage source %T", src))
	}
}
