// Package fade computes timed attribute fades sampled once per output tick.
package fade

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrUnknownEasing is returned by ParseEasing for unrecognised names.
var ErrUnknownEasing = errors.New("fade: unknown easing")

// EasingType names an easing curve.
type EasingType string

const (
	// EasingLinear provides constant rate of change.
	EasingLinear EasingType = "LINEAR"
	// EasingInOutCubic provides smooth acceleration and deceleration.
	EasingInOutCubic EasingType = "EASE_IN_OUT_CUBIC"
	// EasingInOutSine provides gentle sine wave easing.
	EasingInOutSine EasingType = "EASE_IN_OUT_SINE"
	// EasingOutExponential provides sharp start, smooth end.
	EasingOutExponential EasingType = "EASE_OUT_EXPONENTIAL"
	// EasingBezier is the CSS ease-in-out curve (0.42, 0, 0.58, 1).
	EasingBezier EasingType = "BEZIER"
	// EasingSCurve provides sigmoid easing.
	EasingSCurve EasingType = "S_CURVE"

	// DefaultEasing is used when no easing is given.
	DefaultEasing = EasingInOutSine
)

var easings = []EasingType{
	EasingLinear, EasingInOutCubic, EasingInOutSine, EasingOutExponential, EasingBezier, EasingSCurve,
}

// ParseEasing accepts an easing name in any case. Empty selects DefaultEasing.
func ParseEasing(s string) (EasingType, error) {
	if s == "" {
		return DefaultEasing, nil
	}
	want := EasingType(strings.ToUpper(strings.TrimSpace(s)))
	for _, e := range easings {
		if e == want {
			return e, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEasing, s)
}

// ApplyEasing maps linear progress to eased progress. Progress is clamped to [0, 1].
func ApplyEasing(progress float64, easingType EasingType) float64 {
	p := math.Max(0, math.Min(1, progress))

	switch easingType {
	case EasingInOutCubic:
		if p < 0.5 {
			return 4 * p * p * p
		}
		q := -2*p + 2
		return 1 - q*q*q/2

	case EasingInOutSine:
		return -(math.Cos(math.Pi*p) - 1) / 2

	case EasingOutExponential:
		if p == 1 {
			return 1
		}
		return 1 - math.Pow(2, -10*p)

	case EasingBezier:
		return cubicBezier(0.42, 0, 0.58, 1, p)

	case EasingSCurve:
		// Logistic curve rescaled so the ends land exactly on 0 and 1.
		const k = 10.0
		lo := 1 / (1 + math.Exp(k*0.5))
		hi := 1 / (1 + math.Exp(-k*0.5))
		return (1/(1+math.Exp(-k*(p-0.5))) - lo) / (hi - lo)

	default:
		return p
	}
}

// cubicBezier evaluates y at x for a bezier with endpoints (0,0) and (1,1), solving
// for the curve parameter with Newton-Raphson and falling back to bisection.
func cubicBezier(x1, y1, x2, y2, x float64) float64 {
	cx := 3 * x1
	bx := 3*(x2-x1) - cx
	ax := 1 - cx - bx
	cy := 3 * y1
	by := 3*(y2-y1) - cy
	ay := 1 - cy - by

	sampleX := func(t float64) float64 { return ((ax*t+bx)*t + cx) * t }
	slopeX := func(t float64) float64 { return (3*ax*t+2*bx)*t + cx }

	t := x
	for i := 0; i < 8; i++ {
		dx := sampleX(t) - x
		if math.Abs(dx) < 1e-7 {
			return ((ay*t+by)*t + cy) * t
		}
		d := slopeX(t)
		if math.Abs(d) < 1e-6 {
			break
		}
		t -= dx / d
	}

	lo, hi := 0.0, 1.0
	t = x
	for i := 0; i < 32; i++ {
		v := sampleX(t)
		if math.Abs(v-x) < 1e-7 {
			break
		}
		if v < x {
			lo = t
		} else {
			hi = t
		}
		t = (lo + hi) / 2
	}
	return ((ay*t+by)*t + cy) * t
}

// Interpolate returns the eased value between start and end.
func Interpolate(start, end, progress float64, easingType EasingType) float64 {
	if easingType == "" {
		easingType = DefaultEasing
	}
	return start + (end-start)*ApplyEasing(progress, easingType)
}
