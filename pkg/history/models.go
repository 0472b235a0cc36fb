package history

const (
	kindTag  = "tag"
	kindDisk = "disk"
)

// WorkloadSample is one VM or application CPU sample, stored once per app
// tag or disk image it carries.
type WorkloadSample struct {
	SourceID       string  `db:"source_id"`
	HostName       string  `db:"host_name"`
	KeyKind        string  `db:"key_kind"`
	Key            string  `db:"lookup_key"`
	Clock          int64   `db:"clock"`
	CPUUtilisation float64 `db:"cpu_utilisation"`
	BootAgeSeconds int64   `db:"boot_age_seconds"`
	DayOfWeek      int     `db:"day_of_week"`
	HourOfDay      int     `db:"hour_of_day"`
}

func (WorkloadSample) TableName() string { return "workload_samples" }

// HostSample is one metered host snapshot.
type HostSample struct {
	HostName       string  `db:"host_name"`
	Clock          int64   `db:"clock"`
	CPUUtilisation float64 `db:"cpu_utilisation"`
	Power          float64 `db:"power_watts"`
	Current        float64 `db:"current_amps"`
	Voltage        float64 `db:"voltage_volts"`
}

func (HostSample) TableName() string { return "host_samples" }

// aggregate is the shape of every utilisation aggregate query.
type aggregate struct {
	Bucket    int64   `db:"bucket"`
	DayOfWeek int     `db:"day_of_week"`
	HourOfDay int     `db:"hour_of_day"`
	Samples   int64   `db:"samples"`
	Mean      float64 `db:"mean"`
	MeanSq    float64 `db:"mean_sq"`
}
