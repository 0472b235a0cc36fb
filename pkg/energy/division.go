package energy

import (
	"fmt"
	"math"
	"slices"

	"github.com/ja7ad/vmenergy/pkg/types"
)

// Division maps each energy user of one host to a non-negative weight and
// converts a host total (power or energy) into per-user shares.
//
// A Division is built per attribution request and is not safe for
// concurrent use.
type Division struct {
	host         *types.Host
	weights      map[types.SourceID]float64
	users        map[types.SourceID]types.EnergyUsageSource
	sumOfWeights float64

	// ConsiderIdleEnergy reserves the host's idle power and splits it evenly
	// across users; only the active remainder is split by weight.
	ConsiderIdleEnergy bool
}

// NewDivision returns an empty division for host.
func NewDivision(host *types.Host) *Division {
	return &Division{
		host:    host,
		weights: make(map[types.SourceID]float64),
		users:   make(map[types.SourceID]types.EnergyUsageSource),
	}
}

// Host returns the host the division belongs to.
func (d *Division) Host() *types.Host { return d.host }

// AddWeight sets the weight of user. Negative (and NaN) weights are
// ignored. Re-adding a user overwrites its weight.
func (d *Division) AddWeight(user types.EnergyUsageSource, weight float64) {
	if user == nil || !(weight >= 0) {
		return
	}
	id := user.SourceID()
	d.sumOfWeights += weight - d.weights[id]
	d.weights[id] = weight
	d.users[id] = user
}

// RemoveEnergyUser deletes user and subtracts its weight from the running sum.
func (d *Division) RemoveEnergyUser(user types.EnergyUsageSource) {
	if user == nil {
		return
	}
	id := user.SourceID()
	w, ok := d.weights[id]
	if !ok {
		return
	}
	d.sumOfWeights -= w
	// an empty division always sums to exactly zero
	if len(d.weights) == 1 {
		d.sumOfWeights = 0
	}
	delete(d.weights, id)
	delete(d.users, id)
}

// Weight returns the weight of user.
func (d *Division) Weight(user types.EnergyUsageSource) (float64, bool) {
	w, ok := d.weights[user.SourceID()]
	return w, ok
}

// SumOfWeights returns the running sum of all stored weights.
func (d *Division) SumOfWeights() float64 { return d.sumOfWeights }

// Len returns the number of users in the division.
func (d *Division) Len() int { return len(d.weights) }

// Users returns the users of the division ordered by SourceID.
func (d *Division) Users() []types.EnergyUsageSource {
	ids := make([]types.SourceID, 0, len(d.users))
	for id := range d.users {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]types.EnergyUsageSource, 0, len(ids))
	for _, id := range ids {
		out = append(out, d.users[id])
	}
	return out
}

// EnergyUsage returns the share of hostTotal attributed to user.
//
// Without idle energy:
//
//	share = weight/sum * hostTotal
//
// With idle energy:
//
//	share = weight/sum * max(0, hostTotal-idle) + idle/len(users)
func (d *Division) EnergyUsage(hostTotal float64, user types.EnergyUsageSource) (float64, error) {
	if user == nil {
		return 0, ErrUnknownUser
	}
	w, ok := d.weights[user.SourceID()]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownUser, user.SourceID())
	}
	if d.sumOfWeights <= 0 {
		return 0, ErrNoWeights
	}
	ratio := w / d.sumOfWeights

	if !d.ConsiderIdleEnergy {
		return ratio * hostTotal, nil
	}
	idle := 0.0
	if d.host != nil {
		idle = d.host.IdlePowerConsumption
	}
	active := math.Max(0, hostTotal-idle)
	return ratio*active + idle/float64(len(d.weights)), nil
}

// Shares returns the share of hostTotal for every user in the division.
func (d *Division) Shares(hostTotal float64) (map[types.SourceID]float64, error) {
	out := make(map[types.SourceID]float64, len(d.weights))
	for id, user := range d.users {
		v, err := d.EnergyUsage(hostTotal, user)
		if err != nil {
			return nil, err
		}
		out[id] = v
	}
	return out, nil
}
