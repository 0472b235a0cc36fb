package types

import (
	"slices"
	"time"
)

// UsageRecord is the load one energy user induced at a point in time,
// expressed as a fraction of the host's full system load.
type UsageRecord struct {
	User         EnergyUsageSource
	Time         time.Time
	LoadFraction float64
}

// Equal compares records by (user, timestamp).
func (r UsageRecord) Equal(o UsageRecord) bool {
	if r.User == nil || o.User == nil {
		return r.User == o.User && r.Time.Equal(o.Time)
	}
	return r.User.SourceID() == o.User.SourceID() && r.Time.Equal(o.Time)
}

// CompareUsageRecords orders records by timestamp.
func CompareUsageRecords(a, b UsageRecord) int {
	return a.Time.Compare(b.Time)
}

// SortUsageRecords sorts records in place, oldest first.
func SortUsageRecords(records []UsageRecord) {
	slices.SortStableFunc(records, CompareUsageRecords)
}

// HistoricUsageRecord aggregates the power statistics of a set of energy
// users over a time window.
type HistoricUsageRecord struct {
	Users       []EnergyUsageSource
	AvgPower    float64 // W
	AvgCurrent  float64 // A
	AvgVoltage  float64 // V
	TotalEnergy float64 // J
	Start       time.Time
	End         time.Time
}

// Duration is the length of the record's window.
func (r HistoricUsageRecord) Duration() time.Duration {
	return r.End.Sub(r.Start)
}
