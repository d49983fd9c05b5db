package ledger

import (
	"fmt"
	"math"
	"time"
)

// DecayFunc maps an entry's age to a multiplier on its weight. Must be
// pure and monotonically non-increasing with decay(0) = 1. The curve is
// configuration, not law: callers pick one of the constructors below.
type DecayFunc func(age time.Duration) float64

// ExponentialDecay halves the weight every halfLife, never dropping
// below floor. Matches the half-life-with-floor model used for memory
// relevance: entries fade but are not instantly forgotten.
func ExponentialDecay(halfLife time.Duration, floor float64) DecayFunc {
	return func(age time.Duration) float64 {
		if age <= 0 {
			return 1.0
		}
		d := math.Pow(0.5, float64(age)/float64(halfLife))
		if d < floor {
			return floor
		}
		return d
	}
}

// LinearDecay fades the weight to zero over span.
func LinearDecay(span time.Duration) DecayFunc {
	return func(age time.Duration) float64 {
		if age <= 0 {
			return 1.0
		}
		if age >= span {
			return 0
		}
		return 1.0 - float64(age)/float64(span)
	}
}

// StepDecay multiplies the weight by factor once per full width of age.
// factor must be in (0, 1] to keep the curve non-increasing.
func StepDecay(width time.Duration, factor float64) DecayFunc {
	return func(age time.Duration) float64 {
		if age <= 0 {
			return 1.0
		}
		steps := int(age / width)
		return math.Pow(factor, float64(steps))
	}
}

// DecayCurve builds a DecayFunc by name. Names match the config file:
// "exponential" (param = half-life), "linear" (param = span), "step"
// (param = step width, floor reused as the per-step factor).
func DecayCurve(name string, param time.Duration, floor float64) (DecayFunc, error) {
	if param <= 0 {
		return nil, fmt.Errorf("decay curve %q: non-positive parameter %v", name, param)
	}
	switch name {
	case "exponential":
		return ExponentialDecay(param, floor), nil
	case "linear":
		return LinearDecay(param), nil
	case "step":
		if floor <= 0 || floor > 1 {
			return nil, fmt.Errorf("step decay factor %v outside (0,1]", floor)
		}
		return StepDecay(param, floor), nil
	default:
		return nil, fmt.Errorf("unknown decay curve %q", name)
	}
}

// DecayedWeight is an entry's effective weight at time now.
func (e *Entry) DecayedWeight(now time.Time, decay DecayFunc) float64 {
	age := now.Sub(e.Receipt.CreatedAt)
	if age < 0 {
		age = 0
	}
	return e.Receipt.Weight * decay(age)
}
