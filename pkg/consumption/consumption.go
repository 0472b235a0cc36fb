package consumption

import (
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/ja7ad/vmenergy/pkg/energy"
	"github.com/ja7ad/vmenergy/pkg/system/util"
	"github.com/ja7ad/vmenergy/pkg/types"
)

// Result is the power split of one tick.
type Result struct {
	Host   float64                    // W
	Shares map[types.SourceID]float64 // W per user
}

// Accumulator keeps running per-user energy and average power.
// It is safe for concurrent use.
type Accumulator struct {
	mu         sync.Mutex
	count      int
	hostCumJ   float64
	energyCumJ map[types.SourceID]float64
	sumP       map[types.SourceID]float64
}

func NewAccumulator() *Accumulator {
	return &Accumulator{
		energyCumJ: make(map[types.SourceID]float64),
		sumP:       make(map[types.SourceID]float64),
	}
}

// Apply splits hostPower with d for one tick of length dt, returns the
// split and updates cumulative energy/averages.
//
//	E_cum[user] += share[user] * dt
func (a *Accumulator) Apply(d *energy.Division, hostPower float64, dt time.Duration) (Result, error) {
	if dt <= 0 {
		return Result{}, fmt.Errorf("consumption: non-positive tick %s", dt)
	}
	if d.Len() == 0 {
		return Result{}, fmt.Errorf("consumption: %w", energy.ErrNoWeights)
	}
	shares, err := d.Shares(hostPower)
	if err != nil {
		return Result{}, fmt.Errorf("consumption: split %.2f W: %w", hostPower, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.count++
	a.hostCumJ += util.Joules(hostPower, dt)
	for id, p := range shares {
		a.energyCumJ[id] += util.Joules(p, dt)
		a.sumP[id] += p
	}
	return Result{Host: hostPower, Shares: shares}, nil
}

// EnergyCumJ returns cumulative energy of user in Joules.
func (a *Accumulator) EnergyCumJ(id types.SourceID) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.energyCumJ[id]
}

// HostEnergyCumJ returns cumulative host energy in Joules.
func (a *Accumulator) HostEnergyCumJ() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hostCumJ
}

// Energies returns a copy of every user's cumulative energy in Joules.
func (a *Accumulator) Energies() map[types.SourceID]float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return maps.Clone(a.energyCumJ)
}

// Averages returns every user's average power over all applied ticks. A
// user absent from a tick counts as drawing nothing during it.
func (a *Accumulator) Averages() map[types.SourceID]float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[types.SourceID]float64, len(a.sumP))
	if a.count == 0 {
		return out
	}
	n := float64(a.count)
	for id, s := range a.sumP {
		out[id] = s / n
	}
	return out
}

// Ticks returns the number of applied ticks.
func (a *Accumulator) Ticks() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}
