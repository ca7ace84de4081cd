package validate

import (
	"fmt"
	"math"
)

// NumberValue checks that value is a finite number within [min, max].
// Out-of-range values are rejected, never clamped.
func NumberValue(value float64, min float64, max float64, label string) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("%s must be a finite number", label)
	}
	if value < min || value > max {
		return fmt.Errorf("%s %v is outside the allowed range [%v, %v]", label, value, min, max)
	}
	return nil
}

// IntegerValue additionally rejects non-integral values and returns the
// checked value as an int.
func IntegerValue(value float64, min int, max int, label string) (int, error) {
	if err := NumberValue(value, float64(min), float64(max), label); err != nil {
		return 0, err
	}
	if value != math.Trunc(value) {
		return 0, fmt.Errorf("%s %v is not an integer", label, value)
	}
	return int(value), nil
}
