// Package display converts host volume values into their UI
// representation.
package display

import "math"

// ToPercent converts a host volume in [0.0, 1.0] to a display
// percentage, rounding half up. Out-of-range inputs are not validated;
// the host owns the range.
func ToPercent(volume float64) int {
	return int(math.Round(volume * 100))
}
