// Package records derives exercise variant keys and tracks personal bests per key.
package records

import (
	"fmt"
	"math"
	"strings"
)

// VariantKey identifies a parameterization of an exercise. Distance wins over
// repetitions; an exercise with neither is time-only.
func VariantKey(exercise string, distance float64, reps int) string {
	switch {
	case distance > 0:
		return fmt.Sprintf("%s_%dm", exercise, int64(math.Round(distance)))
	case reps > 0:
		return fmt.Sprintf("%s_%dreps", exercise, reps)
	default:
		return exercise + "_timeOnly"
	}
}

// exerciseFromKey recovers the exercise name from a key produced by VariantKey.
func exerciseFromKey(key string) string {
	if i := strings.LastIndex(key, "_"); i > 0 {
		return key[:i]
	}
	return key
}
