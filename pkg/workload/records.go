package workload

import (
	"math"
	"time"
)

// VMLoadHistoryRecord is the historical CPU utilisation of a key (tag or
// disk image) together with its standard deviation.
type VMLoadHistoryRecord struct {
	Utilisation float64 `db:"utilisation" json:"utilisation"`
	StdDev      float64 `db:"stddev" json:"stddev"`
}

// BootHistoryRecord is a VMLoadHistoryRecord for one post-boot time bucket.
type BootHistoryRecord struct {
	VMLoadHistoryRecord
	Bucket int `db:"bucket" json:"bucket"`
}

// WeekHistoryRecord is a VMLoadHistoryRecord for one (day, hour) slot.
type WeekHistoryRecord struct {
	VMLoadHistoryRecord
	DayOfWeek time.Weekday `db:"day_of_week" json:"day_of_week"`
	HourOfDay int          `db:"hour_of_day" json:"hour_of_day"`
}

// Matches reports whether the record is the slot t falls in.
func (r WeekHistoryRecord) Matches(t time.Time) bool {
	return r.DayOfWeek == t.Weekday() && r.HourOfDay == t.Hour()
}

// BootBucket returns the bucket index a boot age falls in.
func BootBucket(age, bucketSize time.Duration) int {
	if bucketSize <= 0 || age <= 0 {
		return 0
	}
	return int(age / bucketSize)
}

// meanOf returns the arithmetic mean utilisation of records and the
// largest standard deviation among them.
func meanOf(records []VMLoadHistoryRecord) VMLoadHistoryRecord {
	if len(records) == 0 {
		return VMLoadHistoryRecord{}
	}
	var sum, sd float64
	for _, r := range records {
		sum += r.Utilisation
		sd = math.Max(sd, r.StdDev)
	}
	return VMLoadHistoryRecord{Utilisation: sum / float64(len(records)), StdDev: sd}
}
