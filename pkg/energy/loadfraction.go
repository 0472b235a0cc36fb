package energy

import (
	"maps"
	"slices"
	"time"

	"github.com/ja7ad/vmenergy/pkg/types"
)

// HostLoadFraction is a timestamped snapshot of how a host's load splits
// across its tenants. Fractions are fixed once assigned; only the host
// power offset (datacenter overhead such as cooling) may change later.
type HostLoadFraction struct {
	Host *types.Host
	Time time.Time

	users     map[types.SourceID]types.EnergyUsageSource
	fractions map[types.SourceID]float64
	offset    float64
}

// NewHostLoadFraction returns a snapshot with no fractions assigned.
func NewHostLoadFraction(host *types.Host, at time.Time) *HostLoadFraction {
	return &HostLoadFraction{
		Host:      host,
		Time:      at,
		users:     make(map[types.SourceID]types.EnergyUsageSource),
		fractions: make(map[types.SourceID]float64),
	}
}

// FromVMMeasurements builds a snapshot of host from VM measurements. The
// snapshot time is the latest measurement clock.
func FromVMMeasurements(host *types.Host, measurements []types.VMMeasurement, considerCoreCount bool) *HostLoadFraction {
	return fromMeasurements(host, measurements, considerCoreCount)
}

// FromApplicationMeasurements builds a snapshot of host from application
// measurements.
func FromApplicationMeasurements(host *types.Host, measurements []types.ApplicationMeasurement, considerCoreCount bool) *HostLoadFraction {
	return fromMeasurements(host, measurements, considerCoreCount)
}

func fromMeasurements[M types.LoadMeasurement](host *types.Host, measurements []M, considerCoreCount bool) *HostLoadFraction {
	var at time.Time
	for _, m := range measurements {
		if m.Time().After(at) {
			at = m.Time()
		}
	}
	lf := NewHostLoadFraction(host, at)
	fr := Fractions(measurements, considerCoreCount)
	for _, m := range measurements {
		src := m.Source()
		lf.setFraction(src, fr[src.SourceID()])
	}
	return lf
}

// SetFractions assigns fractions to users. It is a no-op once fractions
// have been assigned.
func (lf *HostLoadFraction) SetFractions(fractions map[types.EnergyUsageSource]float64) {
	if len(lf.fractions) > 0 {
		return
	}
	for u, f := range fractions {
		lf.setFraction(u, f)
	}
}

func (lf *HostLoadFraction) setFraction(u types.EnergyUsageSource, f float64) {
	id := u.SourceID()
	lf.users[id] = u
	lf.fractions[id] = f
}

// Fraction returns the load fraction of user.
func (lf *HostLoadFraction) Fraction(user types.EnergyUsageSource) (float64, bool) {
	f, ok := lf.fractions[user.SourceID()]
	return f, ok
}

// Fractions returns a copy of all fractions keyed by user identity.
func (lf *HostLoadFraction) Fractions() map[types.SourceID]float64 {
	return maps.Clone(lf.fractions)
}

// Users returns the tenants of the snapshot ordered by SourceID.
func (lf *HostLoadFraction) Users() []types.EnergyUsageSource {
	ids := make([]types.SourceID, 0, len(lf.users))
	for id := range lf.users {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]types.EnergyUsageSource, 0, len(ids))
	for _, id := range ids {
		out = append(out, lf.users[id])
	}
	return out
}

// HostPowerOffset returns the extra power charged on top of the host's
// metered draw.
func (lf *HostLoadFraction) HostPowerOffset() float64 { return lf.offset }

// SetHostPowerOffset sets the datacenter level overhead for this host.
func (lf *HostLoadFraction) SetHostPowerOffset(w float64) { lf.offset = w }

// UsageRecords converts the snapshot into one UsageRecord per tenant.
func (lf *HostLoadFraction) UsageRecords() []types.UsageRecord {
	users := lf.Users()
	out := make([]types.UsageRecord, 0, len(users))
	for _, u := range users {
		out = append(out, types.UsageRecord{
			User:         u,
			Time:         lf.Time,
			LoadFraction: lf.fractions[u.SourceID()],
		})
	}
	return out
}

// Division builds a Division weighted by the snapshot fractions.
func (lf *HostLoadFraction) Division(considerIdleEnergy bool) *Division {
	d := NewDivision(lf.Host)
	d.ConsiderIdleEnergy = considerIdleEnergy
	for id, u := range lf.users {
		d.AddWeight(u, lf.fractions[id])
	}
	return d
}
