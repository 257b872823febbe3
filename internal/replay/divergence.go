package replay

import (
	"math"

	"trajreplay/internal/sim"
)

// Divergence compares one recorded state against the simulated one. Step is the index of
// the recorded state that was checked.
type Divergence struct {
	Step       int
	Distance   float64
	ExactMatch bool
}

// Compare never fails. ExactMatch has no tolerance; Distance is always the Euclidean norm of
// the difference, with missing elements of the shorter vector taken as zero.
func Compare(expected, actual sim.State) Divergence {
	n := len(expected)
	if len(actual) > n {
		n = len(actual)
	}
	exact := len(expected) == len(actual)
	var sum float64
	for i := 0; i < n; i++ {
		var e, a float64
		if i < len(expected) {
			e = expected[i]
		}
		if i < len(actual) {
			a = actual[i]
		}
		if e != a {
			exact = false
		}
		d := e - a
		sum += d * d
	}
	return Divergence{Distance: math.Sqrt(sum), ExactMatch: exact}
}
