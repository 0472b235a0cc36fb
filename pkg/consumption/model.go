package consumption

import (
	"github.com/ja7ad/vmenergy/pkg/system/util"
	"github.com/ja7ad/vmenergy/pkg/types"
)

// Config holds the host power model coefficients.
// Units:
//   - PIdle/PMax: Watts
//   - Gamma: dimensionless (CPU nonlinearity)
type Config struct {
	PIdle float64 `yaml:"idle"`
	PMax  float64 `yaml:"max"`
	Gamma float64 `yaml:"gamma"`
}

// _defaultConfig returns a Config pre-filled with the coefficients of a
// small two-socket server.
func _defaultConfig() *Config {
	return &Config{
		PIdle: 100.0, // W at idle
		PMax:  300.0, // W at full utilization
		Gamma: 1.0,   // CPU curve exponent
	}
}

// Model converts host CPU utilisation into watts.
type Model struct {
	cfg         Config
	calibration []types.CalibrationPoint
}

// New creates a power model with the given config.
// Fields > 0 in cfg override defaults; PMax is clamped to at least PIdle.
func New(cfg *Config) *Model {
	merged := *_defaultConfig()
	if cfg != nil {
		// Positive-only overrides
		if cfg.PIdle > 0 {
			merged.PIdle = cfg.PIdle
		}
		if cfg.PMax > 0 {
			merged.PMax = cfg.PMax
		}
		if cfg.Gamma > 0 {
			merged.Gamma = cfg.Gamma
		}
	}
	if merged.PMax < merged.PIdle {
		merged.PMax = merged.PIdle
	}
	return &Model{cfg: merged}
}

// ForHost creates a model for host. The host's idle and max power take
// precedence over cfg, and a calibrated host is modelled by its profile.
func ForHost(host *types.Host, cfg *Config) *Model {
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	if host != nil {
		if host.IdlePowerConsumption > 0 {
			c.PIdle = host.IdlePowerConsumption
		}
		if host.MaxPowerConsumption > 0 {
			c.PMax = host.MaxPowerConsumption
		}
	}
	m := New(&c)
	if host.Calibrated() {
		m.calibration = host.SortedCalibration()
	}
	return m
}

// Config returns the effective coefficients.
func (m *Model) Config() Config { return m.cfg }

// Power returns the host power at utilisation u in [0,1]:
//
//	P = PIdle + (PMax-PIdle) * u^Gamma
//
// A calibrated model interpolates linearly between profile points instead
// and holds the end points flat outside the profile.
func (m *Model) Power(u float64) float64 {
	u = util.Clamp01(u)
	if len(m.calibration) >= 2 {
		return interpolate(m.calibration, u)
	}
	return m.cfg.PIdle + (m.cfg.PMax-m.cfg.PIdle)*util.Pow(u, m.cfg.Gamma)
}

// Dynamic returns the power above idle at utilisation u.
func (m *Model) Dynamic(u float64) float64 {
	return max(0, m.Power(u)-m.Power(0))
}

func interpolate(pts []types.CalibrationPoint, u float64) float64 {
	first, last := pts[0], pts[len(pts)-1]
	if u <= first.Utilisation {
		return first.Watts
	}
	if u >= last.Utilisation {
		return last.Watts
	}
	for i := 1; i < len(pts); i++ {
		a, b := pts[i-1], pts[i]
		if u <= b.Utilisation {
			return util.Lerp(u, a.Utilisation, b.Utilisation, a.Watts, b.Watts)
		}
	}
	return last.Watts
}
