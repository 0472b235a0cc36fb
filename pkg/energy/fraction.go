package energy

import (
	"github.com/ja7ad/vmenergy/pkg/types"
)

// Fractions derives a load fraction per tenant from raw measurements.
// It follows a three tier ladder:
//
//  1. any measurement without CPU data: every tenant gets 1.0
//  2. total load is exactly zero: every tenant gets 1/len(measurements)
//  3. otherwise: cpu/total, multiplied by max(cores, 1) when considerCoreCount
//
// The first two tiers leave normalisation to Division.
func Fractions[M types.LoadMeasurement](measurements []M, considerCoreCount bool) map[types.SourceID]float64 {
	out := make(map[types.SourceID]float64, len(measurements))
	if len(measurements) == 0 {
		return out
	}

	var (
		total   float64
		missing bool
	)
	for _, m := range measurements {
		u, ok := m.CPU()
		if !ok {
			missing = true
			continue
		}
		total += u
	}

	switch {
	case missing:
		for _, m := range measurements {
			out[m.Source().SourceID()] = 1.0
		}
	case total == 0:
		equal := 1.0 / float64(len(measurements))
		for _, m := range measurements {
			out[m.Source().SourceID()] = equal
		}
	default:
		for _, m := range measurements {
			u, _ := m.CPU()
			f := u / total
			if considerCoreCount {
				f *= float64(max(m.Cores(), 1))
			}
			out[m.Source().SourceID()] = f
		}
	}
	return out
}
