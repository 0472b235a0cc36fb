package workload

import (
	"context"
	"time"

	"github.com/ja7ad/vmenergy/pkg/types"
)

// HistoryConnector answers aggregate utilisation queries against the
// historical store. Implementations return ErrNoHistory (possibly wrapped)
// when a key has no samples.
type HistoryConnector interface {
	AverageUtilisationForTag(ctx context.Context, tag string) (VMLoadHistoryRecord, error)
	AverageUtilisationForDisk(ctx context.Context, disk string) (VMLoadHistoryRecord, error)
	BootTraceForDisk(ctx context.Context, disk string, bucketSize time.Duration) ([]BootHistoryRecord, error)
	WeekTraceForTag(ctx context.Context, tag string) ([]WeekHistoryRecord, error)
	WeekTraceForDisk(ctx context.Context, disk string) ([]WeekHistoryRecord, error)
}

// DataSource supplies live utilisation figures for a host.
type DataSource interface {
	// HostCPUUtilisation returns the host's mean CPU utilisation over the
	// last lookback.
	HostCPUUtilisation(ctx context.Context, host *types.Host, lookback time.Duration) (float64, error)
}

// Dimension is the VM property a historical lookup is keyed on.
type Dimension int

const (
	ByTag Dimension = iota
	ByDisk
)

func (d Dimension) String() string {
	if d == ByDisk {
		return "disk"
	}
	return "tag"
}

// Keys returns the values of the dimension carried by src.
func (d Dimension) Keys(src types.EnergyUsageSource) []string {
	if d == ByDisk {
		return types.DiskImages(src)
	}
	return types.AppTags(src)
}
