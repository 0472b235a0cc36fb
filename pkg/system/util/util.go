// Package util holds the numeric helpers shared by the procfs sampler and
// the host power model.
package util

import (
	"math"
	"time"
)

// EMA smooths a utilisation series. The first sample seeds the average.
type EMA struct {
	alpha float64
	avg   float64
	seen  bool
}

// NewEMA returns an average weighting each new sample by alpha. An alpha
// outside (0,1] turns smoothing off.
func NewEMA(alpha float64) *EMA {
	if !(alpha > 0 && alpha <= 1) {
		alpha = 1
	}
	return &EMA{alpha: alpha}
}

// Alpha returns the effective smoothing factor.
func (e *EMA) Alpha() float64 { return e.alpha }

// Next folds v into the average and returns the new value.
func (e *EMA) Next(v float64) float64 {
	if !e.seen {
		e.avg, e.seen = v, true
		return v
	}
	e.avg += e.alpha * (v - e.avg)
	return e.avg
}

// Value returns the current average and whether any sample was seen.
func (e *EMA) Value() (float64, bool) { return e.avg, e.seen }

// Reset forgets every sample.
func (e *EMA) Reset() { e.avg, e.seen = 0, false }

// DeltaU64 is the progress of a monotonic counter. A counter that went
// backwards (wrap or PID reuse) reports none.
func DeltaU64(cur, prev uint64) uint64 {
	if cur < prev {
		return 0
	}
	return cur - prev
}

// SafeDiv returns n/d, or 0 when d is too close to zero.
func SafeDiv(n, d float64) float64 {
	const eps = 1e-12
	if math.Abs(d) <= eps {
		return 0
	}
	return n / d
}

// Clamp01 bounds a utilisation to [0,1]; NaN becomes 0.
func Clamp01(x float64) float64 {
	switch {
	case math.IsNaN(x), x < 0:
		return 0
	case x > 1:
		return 1
	}
	return x
}

// Pow is a^b for a utilisation base; non-positive bases yield 0.
func Pow(a, b float64) float64 {
	if a <= 0 {
		return 0
	}
	return math.Pow(a, b)
}

// Lerp maps x from [x0,x1] onto [y0,y1]. A degenerate segment yields y0.
func Lerp(x, x0, x1, y0, y1 float64) float64 {
	return y0 + SafeDiv(x-x0, x1-x0)*(y1-y0)
}

// Joules is the energy drawn at a constant watts over dt.
func Joules(watts float64, dt time.Duration) float64 {
	return watts * dt.Seconds()
}
