package types

import "time"

// HostMeasurement is one snapshot of a host's metered state.
type HostMeasurement struct {
	Host  *Host     `yaml:"-" json:"-"`
	Clock time.Time `yaml:"clock" json:"clock"`

	// CPUUtilisation is in [0,1].
	CPUUtilisation float64 `yaml:"cpu" json:"cpu"`
	Power          float64 `yaml:"power" json:"power_w"`
	Current        float64 `yaml:"current,omitempty" json:"current_a,omitempty"`
	Voltage        float64 `yaml:"voltage,omitempty" json:"voltage_v,omitempty"`
}

// LoadMeasurement is the part of a tenant measurement used to derive load
// fractions.
type LoadMeasurement interface {
	Source() EnergyUsageSource
	// CPU returns the tenant's CPU utilisation and false when the
	// backend reported no CPU data at all.
	CPU() (float64, bool)
	Cores() int
	Time() time.Time
}

// VMMeasurement is one snapshot of a VM's load as reported by a
// monitoring backend.
type VMMeasurement struct {
	VM    *DeployedVM `yaml:"-" json:"-"`
	Clock time.Time   `yaml:"clock" json:"clock"`

	// CPUUtilisation is nil when the backend has no CPU data for the VM.
	CPUUtilisation *float64 `yaml:"cpu,omitempty" json:"cpu,omitempty"`
	DiskRead       Bytes    `yaml:"diskRead,omitempty" json:"disk_read,omitempty"`
	DiskWrite      Bytes    `yaml:"diskWrite,omitempty" json:"disk_write,omitempty"`
}

func (m VMMeasurement) Source() EnergyUsageSource { return m.VM }
func (m VMMeasurement) Time() time.Time           { return m.Clock }
func (m VMMeasurement) Cores() int                { return m.VM.CPUCount }

func (m VMMeasurement) CPU() (float64, bool) {
	if m.CPUUtilisation == nil {
		return 0, false
	}
	return *m.CPUUtilisation, true
}

// ApplicationMeasurement is one snapshot of an application's load.
type ApplicationMeasurement struct {
	App   *ApplicationOnHost `yaml:"-" json:"-"`
	Clock time.Time          `yaml:"clock" json:"clock"`

	CPUUtilisation *float64 `yaml:"cpu,omitempty" json:"cpu,omitempty"`
	ReadBytes      Bytes    `yaml:"readBytes,omitempty" json:"read_bytes,omitempty"`
	WriteBytes     Bytes    `yaml:"writeBytes,omitempty" json:"write_bytes,omitempty"`
}

func (m ApplicationMeasurement) Source() EnergyUsageSource { return m.App }
func (m ApplicationMeasurement) Time() time.Time           { return m.Clock }
func (m ApplicationMeasurement) Cores() int                { return m.App.CPUCount }

func (m ApplicationMeasurement) CPU() (float64, bool) {
	if m.CPUUtilisation == nil {
		return 0, false
	}
	return *m.CPUUtilisation, true
}

// Utilisation is a helper for building measurements with CPU data.
func Utilisation(v float64) *float64 { return &v }
