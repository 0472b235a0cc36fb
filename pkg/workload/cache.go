package workload

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
)

type bootKey struct {
	disk   string
	bucket time.Duration
}

// StatisticsCache holds recently computed utilisation statistics by tag and
// disk image. A single instance is shared between the ingestion loop, which
// writes it, and every estimator, which reads it. Each key is replaced as a
// whole so readers observe either the old or the new value.
type StatisticsCache struct {
	inUse atomic.Bool

	mu       sync.RWMutex
	tagAvg   map[string]VMLoadHistoryRecord
	diskAvg  map[string]VMLoadHistoryRecord
	boot     map[bootKey][]BootHistoryRecord
	weekTag  map[string][]WeekHistoryRecord
	weekDisk map[string][]WeekHistoryRecord
}

// NewStatisticsCache returns an empty cache. It starts in use.
func NewStatisticsCache() *StatisticsCache {
	c := &StatisticsCache{}
	c.reset()
	c.inUse.Store(true)
	return c
}

func (c *StatisticsCache) reset() {
	c.tagAvg = make(map[string]VMLoadHistoryRecord)
	c.diskAvg = make(map[string]VMLoadHistoryRecord)
	c.boot = make(map[bootKey][]BootHistoryRecord)
	c.weekTag = make(map[string][]WeekHistoryRecord)
	c.weekDisk = make(map[string][]WeekHistoryRecord)
}

// InUse reports whether estimators should consult the cache. A nil cache
// is never in use.
func (c *StatisticsCache) InUse() bool {
	return c != nil && c.inUse.Load()
}

// SetInUse enables or disables the cache for estimators.
func (c *StatisticsCache) SetInUse(v bool) { c.inUse.Store(v) }

// Clear drops every cached statistic.
func (c *StatisticsCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
}

// Len returns the number of cached keys across all tables.
func (c *StatisticsCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tagAvg) + len(c.diskAvg) + len(c.boot) + len(c.weekTag) + len(c.weekDisk)
}

// TagAverage returns the cached aggregate utilisation of tag.
func (c *StatisticsCache) TagAverage(tag string) (VMLoadHistoryRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.tagAvg[tag]
	return r, ok
}

// SetTagAverage stores the aggregate utilisation of tag.
func (c *StatisticsCache) SetTagAverage(tag string, r VMLoadHistoryRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tagAvg[tag] = r
}

// DiskAverage returns the cached aggregate utilisation of disk.
func (c *StatisticsCache) DiskAverage(disk string) (VMLoadHistoryRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.diskAvg[disk]
	return r, ok
}

// SetDiskAverage stores the aggregate utilisation of disk.
func (c *StatisticsCache) SetDiskAverage(disk string, r VMLoadHistoryRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.diskAvg[disk] = r
}

// BootTrace returns the cached boot trace of disk for the given bucket size.
func (c *StatisticsCache) BootTrace(disk string, bucketSize time.Duration) ([]BootHistoryRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.boot[bootKey{disk, bucketSize}]
	return slices.Clone(r), ok
}

// SetBootTrace stores a copy of the boot trace of disk for bucketSize.
func (c *StatisticsCache) SetBootTrace(disk string, bucketSize time.Duration, trace []BootHistoryRecord) {
	trace = slices.Clone(trace)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.boot[bootKey{disk, bucketSize}] = trace
}

// WeekTraceForTag returns a copy of the cached day/hour trace of tag.
func (c *StatisticsCache) WeekTraceForTag(tag string) ([]WeekHistoryRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.weekTag[tag]
	return slices.Clone(r), ok
}

// SetWeekTraceForTag stores a copy of the day/hour trace of tag.
func (c *StatisticsCache) SetWeekTraceForTag(tag string, trace []WeekHistoryRecord) {
	trace = slices.Clone(trace)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.weekTag[tag] = trace
}

// WeekTraceForDisk returns a copy of the cached day/hour trace of disk.
func (c *StatisticsCache) WeekTraceForDisk(disk string) ([]WeekHistoryRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.weekDisk[disk]
	return slices.Clone(r), ok
}

// SetWeekTraceForDisk stores a copy of the day/hour trace of disk.
func (c *StatisticsCache) SetWeekTraceForDisk(disk string, trace []WeekHistoryRecord) {
	trace = slices.Clone(trace)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.weekDisk[disk] = trace
}

// Warm refreshes the statistics of the given tags and disks from conn.
// Keys without history are left untouched; other failures are collected
// and returned together after every key was tried.
func (c *StatisticsCache) Warm(ctx context.Context, conn HistoryConnector, tags, disks []string, bucketSize time.Duration) error {
	var result *multierror.Error
	keep := func(err error) bool {
		if err == nil {
			return true
		}
		if !errors.Is(err, ErrNoHistory) {
			result = multierror.Append(result, err)
		}
		return false
	}

	for _, tag := range tags {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r, err := conn.AverageUtilisationForTag(ctx, tag); keep(err) {
			c.SetTagAverage(tag, r)
		}
		if tr, err := conn.WeekTraceForTag(ctx, tag); keep(err) {
			c.SetWeekTraceForTag(tag, tr)
		}
	}
	for _, disk := range disks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r, err := conn.AverageUtilisationForDisk(ctx, disk); keep(err) {
			c.SetDiskAverage(disk, r)
		}
		if tr, err := conn.WeekTraceForDisk(ctx, disk); keep(err) {
			c.SetWeekTraceForDisk(disk, tr)
		}
		if tr, err := conn.BootTraceForDisk(ctx, disk, bucketSize); keep(err) {
			c.SetBootTrace(disk, bucketSize, tr)
		}
	}
	return result.ErrorOrNil()
}
