package energy

import (
	"fmt"
	"maps"
	"sync"

	"github.com/ja7ad/vmenergy/pkg/types"
)

// ShareRule populates a Division for a host given its tenants. Rules never
// mutate their inputs.
type ShareRule interface {
	Name() string
	EnergyUsage(host *types.Host, users []types.EnergyUsageSource) (*Division, error)
}

// EqualShareRule gives every user weight 1.
type EqualShareRule struct {
	ConsiderIdleEnergy bool
}

func (*EqualShareRule) Name() string { return "equal" }

func (r *EqualShareRule) EnergyUsage(host *types.Host, users []types.EnergyUsageSource) (*Division, error) {
	if host == nil {
		return nil, ErrNilHost
	}
	d := NewDivision(host)
	d.ConsiderIdleEnergy = r.ConsiderIdleEnergy
	for _, u := range users {
		d.AddWeight(u, 1)
	}
	return d, nil
}

// LoadFractionShareRule weights each user by its measured share of the
// host's CPU load. The fractions must be set from live measurements before
// EnergyUsage is called.
type LoadFractionShareRule struct {
	ConsiderIdleEnergy bool
	// ConsiderCoreCount multiplies each fraction by the tenant's core count.
	ConsiderCoreCount bool

	mu        sync.RWMutex
	fractions map[types.SourceID]float64
}

// NewLoadFractionShareRule returns a load rule; with cores set the
// fractions are weighted by core count.
func NewLoadFractionShareRule(cores, idle bool) *LoadFractionShareRule {
	return &LoadFractionShareRule{ConsiderCoreCount: cores, ConsiderIdleEnergy: idle}
}

func (r *LoadFractionShareRule) Name() string {
	if r.ConsiderCoreCount {
		return "load-cores"
	}
	return "load"
}

// SetVMLoadsFromMeasurements derives and stores the fractions of the given
// VM measurements, replacing any previous set.
func (r *LoadFractionShareRule) SetVMLoadsFromMeasurements(measurements []types.VMMeasurement) {
	r.SetFractions(Fractions(measurements, r.ConsiderCoreCount))
}

// SetApplicationLoadsFromMeasurements is the application equivalent of
// SetVMLoadsFromMeasurements.
func (r *LoadFractionShareRule) SetApplicationLoadsFromMeasurements(measurements []types.ApplicationMeasurement) {
	r.SetFractions(Fractions(measurements, r.ConsiderCoreCount))
}

// SetFractions stores precomputed fractions.
func (r *LoadFractionShareRule) SetFractions(fractions map[types.SourceID]float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fractions = maps.Clone(fractions)
}

// Fractions returns a copy of the stored fractions.
func (r *LoadFractionShareRule) Fractions() map[types.SourceID]float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.fractions)
}

func (r *LoadFractionShareRule) EnergyUsage(host *types.Host, users []types.EnergyUsageSource) (*Division, error) {
	if host == nil {
		return nil, ErrNilHost
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	d := NewDivision(host)
	d.ConsiderIdleEnergy = r.ConsiderIdleEnergy
	for _, u := range users {
		f, ok := r.fractions[u.SourceID()]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingFraction, u.SourceID())
		}
		d.AddWeight(u, f)
	}
	return d, nil
}

// CoreCountShareRule weights each deployed VM by its declared core count.
// Planned VMs, applications and general purpose consumers are excluded
// from the division entirely.
type CoreCountShareRule struct {
	ConsiderIdleEnergy bool
}

func (*CoreCountShareRule) Name() string { return "cores" }

func (r *CoreCountShareRule) EnergyUsage(host *types.Host, users []types.EnergyUsageSource) (*Division, error) {
	if host == nil {
		return nil, ErrNilHost
	}
	d := NewDivision(host)
	d.ConsiderIdleEnergy = r.ConsiderIdleEnergy
	for _, u := range users {
		switch v := u.(type) {
		case *types.DeployedVM:
			d.AddWeight(v, float64(v.CPUCount))
		case *types.PlannedVM, *types.ApplicationOnHost, *types.PowerConsumer:
		default:
			panic(fmt.Sprintf("energy: unhandled energy usage source %T", u))
		}
	}
	return d, nil
}

// RuleByName builds a share rule from its name: equal, load, load-cores
// or cores.
func RuleByName(name string, idle bool) (ShareRule, error) {
	switch name {
	case "equal":
		return &EqualShareRule{ConsiderIdleEnergy: idle}, nil
	case "load":
		return NewLoadFractionShareRule(false, idle), nil
	case "load-cores":
		return NewLoadFractionShareRule(true, idle), nil
	case "cores":
		return &CoreCountShareRule{ConsiderIdleEnergy: idle}, nil
	default:
		return nil, fmt.Errorf("energy: unknown share rule %q", name)
	}
}
