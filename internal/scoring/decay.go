package scoring

import (
	"math"
	"time"

	"github.com/opslayer/membank/internal/model"
)

// Category decay defaults. Reasoning-type output keeps a long tail,
// action/prediction output goes stale fast, observations age out uniformly.
var decayDefaults = map[model.Category]struct {
	Curve    model.Curve
	HalfLife time.Duration
}{
	model.CategoryReasoning:   {model.CurveHyperbolic, 7 * 24 * time.Hour},
	model.CategoryDecision:    {model.CurveHyperbolic, 7 * 24 * time.Hour},
	model.CategoryAction:      {model.CurveExponential, 3 * 24 * time.Hour},
	model.CategoryPrediction:  {model.CurveExponential, 3 * 24 * time.Hour},
	model.CategoryObservation: {model.CurveLinear, 2 * 24 * time.Hour},
	model.CategoryGeneration:  {model.CurveLinear, 2 * 24 * time.Hour},
}

// DecayDefaults returns the decay curve and half-life for a category.
func DecayDefaults(cat model.Category) (model.Curve, time.Duration) {
	d, ok := decayDefaults[cat]
	if !ok {
		return model.CurveHyperbolic, 7 * 24 * time.Hour
	}
	return d.Curve, d.HalfLife
}

// ApplyDecay returns the value after aging it over the given curve.
// Non-increasing in age; identity at age 0.
func ApplyDecay(value float64, age time.Duration, curve model.Curve, halfLife time.Duration) float64 {
	if age <= 0 || halfLife <= 0 {
		return clamp01(value)
	}
	ratio := float64(age) / float64(halfLife)

	switch curve {
	case model.CurveExponential:
		value *= math.Exp2(-ratio)
	case model.CurveLinear:
		value *= 1 - ratio/2
	default: // hyperbolic
		value /= 1 + ratio
	}
	return clamp01(value)
}
