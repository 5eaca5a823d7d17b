// Package simulator produces synthetic service and host telemetry so the
// dashboard has something to show and heal without a real agent attached.
package simulator

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
)

// ErrInvalidBounds is returned when a walk or generator is built with
// unusable limits.
var ErrInvalidBounds = errors.New("simulator: invalid bounds")

// Walk is a value doing a random walk between Min and Max. Each step moves
// by at most Volatility/2 and reflects off the bounds.
type Walk struct {
	Value      float64
	Min        float64
	Max        float64 // may be +Inf
	Volatility float64
}

// NewWalk validates the bounds and clamps value into them.
func NewWalk(value, lo, hi, volatility float64) (*Walk, error) {
	switch {
	case math.IsNaN(value) || math.IsNaN(lo) || math.IsNaN(hi) || math.IsNaN(volatility):
		return nil, fmt.Errorf("%w: NaN", ErrInvalidBounds)
	case lo < 0 || hi < 0:
		return nil, fmt.Errorf("%w: negative limit [%g, %g]", ErrInvalidBounds, lo, hi)
	case hi < lo:
		return nil, fmt.Errorf("%w: max %g below min %g", ErrInvalidBounds, hi, lo)
	case volatility < 0 || math.IsInf(volatility, 0):
		return nil, fmt.Errorf("%w: volatility %g", ErrInvalidBounds, volatility)
	}
	return &Walk{Value: clamp(value, lo, hi), Min: lo, Max: hi, Volatility: volatility}, nil
}

// Step advances the walk once and returns the new value.
func (w *Walk) Step(r *rand.Rand) float64 {
	v := w.Value + (r.Float64()-0.5)*w.Volatility
	if v < w.Min {
		v = w.Min + (w.Min - v)
	}
	if v > w.Max {
		v = w.Max - (v - w.Max)
	}
	w.Value = clamp(v, w.Min, w.Max)
	return w.Value
}

// clamp bounds v to [lo, hi]; NaN maps to lo.
func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

// finite returns v, or floor when v is NaN or infinite.
func finite(v, floor float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return floor
	}
	return v
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
