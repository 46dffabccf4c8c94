package tuning

import (
	"fmt"
	"math"
)

// ValidationResult is the outcome of checking a proposed value against a
// descriptor. Value is what would actually be applied; Clamped reports
// that it differs from what was proposed. Clamping is a successful
// transformation, not an error.
type ValidationResult struct {
	Valid   bool        `json:"valid"`
	Value   interface{} `json:"value"`
	Clamped bool        `json:"clamped"`
}

// Validate checks proposed against d, clamping numeric values into
// [Min, Max] and rounding onto the step grid anchored at Min. Wrong-typed
// or non-finite input is invalid and never clamped.
func Validate(d *ParameterDescriptor, proposed interface{}) (ValidationResult, error) {
	switch d.Kind {
	case KindBoolean:
		b, ok := proposed.(bool)
		if !ok {
			return ValidationResult{}, invalidValue(d, fmt.Sprintf("parameter %q expects a boolean, got %T", d.Key, proposed))
		}
		return ValidationResult{Valid: true, Value: b}, nil

	case KindNumber:
		v, ok := toFloat(proposed)
		if !ok {
			return ValidationResult{}, invalidValue(d, fmt.Sprintf("parameter %q expects a number, got %T", d.Key, proposed))
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ValidationResult{}, invalidValue(d, fmt.Sprintf("parameter %q received a non-finite value", d.Key))
		}
		applied := v
		if applied < d.Min {
			applied = d.Min
		}
		if applied > d.Max {
			applied = d.Max
		}
		if d.Step > 0 {
			steps := math.Round((applied - d.Min) / d.Step)
			applied = d.Min + steps*d.Step
			// Rounding can push past Max when the range is not an
			// exact multiple of the step.
			if applied > d.Max {
				applied -= d.Step
			}
		}
		return ValidationResult{Valid: true, Value: applied, Clamped: applied != v}, nil

	default:
		return ValidationResult{}, invalidValue(d, fmt.Sprintf("parameter %q has unsupported kind %q", d.Key, d.Kind))
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
