package qprep

import (
	"math"
	"math/rand/v2"
)

/*
StateVector is the classical description handed to a synthesizer: the
approximant, its kind, and the register width it needs. Probability vectors
are loaded with amplitudes sqrt(p_i).
*/
type StateVector struct {
	ID       string
	Kind     Kind
	Vector   []float64
	Size     int
	Bound    float64
	Dropped  int
	Distance float64
}

// Amplitudes returns the real amplitudes the register should end up in.
func (sv *StateVector) Amplitudes() []float64 {
	amps := make([]float64, len(sv.Vector))
	for i, x := range sv.Vector {
		if sv.Kind == KindProbability {
			amps[i] = math.Sqrt(x)
		} else {
			amps[i] = x
		}
	}
	return amps
}

// Probabilities returns the measurement distribution of the state.
func (sv *StateVector) Probabilities() []float64 {
	probs := make([]float64, len(sv.Vector))
	for i, x := range sv.Vector {
		if sv.Kind == KindProbability {
			probs[i] = x
		} else {
			probs[i] = x * x
		}
	}
	return probs
}

/*
Measure draws one basis index according to the state's probabilities.
The vector itself is left untouched; a StateVector is a description, not
a live register.
*/
func (sv *StateVector) Measure(rng *rand.Rand) int {
	probs := sv.Probabilities()
	if len(probs) == 0 {
		return -1
	}

	var total float64
	for _, p := range probs {
		total += p
	}

	r := rng.Float64() * total
	var cumulative float64
	for i, p := range probs {
		cumulative += p
		if r < cumulative {
			return i
		}
	}

	// Rounding can leave r just above the last cumulative value.
	for i := len(probs) - 1; i >= 0; i-- {
		if probs[i] > 0 {
			return i
		}
	}
	return len(probs) - 1
}
