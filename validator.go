package qprep

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// DefaultTolerance is the numerical slack on normalization checks.
const DefaultTolerance = 1e-9

/*
Validate checks that vector is a well-formed distribution of the given kind
using DefaultTolerance. Length is checked before contents, so a vector that
is both the wrong length and badly normalized reports ErrInvalidLength.
*/
func Validate(vector []float64, kind Kind) error {
	return ValidateWithTolerance(vector, kind, DefaultTolerance)
}

/*
ValidateWithTolerance is Validate with an explicit tolerance. For
probabilities the tolerance applies to |sum - 1|, for amplitudes to
|norm - 1|.
*/
func ValidateWithTolerance(vector []float64, kind Kind, tol float64) error {
	const op = "validate"

	if !kind.valid() {
		return newLoadError(op, kind, ErrInvalidDistribution, "unknown kind")
	}

	if !isPowerOfTwo(len(vector)) {
		return newLoadError(op, kind, ErrInvalidLength, "length %d is not a power of two", len(vector))
	}

	for i, x := range vector {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return newLoadError(op, kind, ErrInvalidDistribution, "entry %d is not finite", i)
		}
	}

	switch kind {
	case KindProbability:
		for i, p := range vector {
			if p < 0 {
				return newLoadError(op, kind, ErrInvalidDistribution, "entry %d is negative (%g)", i, p)
			}
		}
		if sum := floats.Sum(vector); math.Abs(sum-1) > tol {
			return newLoadError(op, kind, ErrInvalidDistribution, "sum %.12g deviates from 1", sum)
		}
	case KindAmplitude:
		if norm := floats.Norm(vector, 2); math.Abs(norm-1) > tol {
			return newLoadError(op, kind, ErrInvalidDistribution, "L2 norm %.12g deviates from 1", norm)
		}
	}

	return nil
}
