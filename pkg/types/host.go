package types

import "slices"

// CalibrationPoint is one measured (utilisation, watts) pair from a host's
// power profile.
type CalibrationPoint struct {
	Utilisation float64 `yaml:"utilisation" json:"utilisation"`
	Watts       float64 `yaml:"watts" json:"watts"`
}

// Host is a physical machine whose power draw is attributed to its tenants.
// It is owned by the caller; this module never mutates it.
type Host struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`

	// IdlePowerConsumption is the draw in Watts with no tenant load.
	IdlePowerConsumption float64 `yaml:"idlePower" json:"idle_power"`
	// MaxPowerConsumption is the draw in Watts at full utilisation; zero if unknown.
	MaxPowerConsumption float64 `yaml:"maxPower,omitempty" json:"max_power,omitempty"`
	FlopsPerWatt        float64 `yaml:"flopsPerWatt,omitempty" json:"flops_per_watt,omitempty"`

	Calibration []CalibrationPoint `yaml:"calibration,omitempty" json:"calibration,omitempty"`
}

// Calibrated reports whether the host carries a usable power profile
// (at least two points).
func (h *Host) Calibrated() bool {
	return h != nil && len(h.Calibration) >= 2
}

// SortedCalibration returns the calibration points ordered by utilisation.
func (h *Host) SortedCalibration() []CalibrationPoint {
	out := slices.Clone(h.Calibration)
	slices.SortFunc(out, func(a, b CalibrationPoint) int {
		switch {
		case a.Utilisation < b.Utilisation:
			return -1
		case a.Utilisation > b.Utilisation:
			return 1
		default:
			return 0
		}
	})
	return out
}
