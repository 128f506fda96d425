package qprep

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

/*
Approximation is the outcome of fitting a vector under an L2 error bound.
Dropped counts the coefficients that were zeroed and Distance is the L2
distance between Vector and the input.
*/
type Approximation struct {
	Vector   []float64
	Kind     Kind
	Bound    float64
	Dropped  int
	Distance float64
}

/*
Approximate returns a vector of the same kind within bound (L2) of vector.
A zero bound returns the input unchanged; a positive bound may zero out
small coefficients, after which the result is renormalized.
*/
func Approximate(vector []float64, kind Kind, bound float64) ([]float64, error) {
	approx, err := ApproximateReport(vector, kind, bound, DefaultTolerance)
	if err != nil {
		return nil, err
	}
	return approx.Vector, nil
}

/*
ApproximateReport is Approximate with an explicit validation tolerance that
also reports how much was truncated.

The strategy is coefficient truncation. Coefficients are ranked by weight
(p_i for probabilities, a_i^2 for amplitudes) and, for every k, the cost of
zeroing the k lightest ones and renormalizing is computed in one pass. The
largest k whose cost fits the bound wins. Each k has a fixed cost, so a
larger bound can only admit the same or a larger truncation. At least one
coefficient is always kept.

A vector that passed validation may still be off its invariant by up to the
tolerance. When the bound is tighter than that slack no renormalized
candidate fits, and the input itself is returned, as for a zero bound.
*/
func ApproximateReport(vector []float64, kind Kind, bound, tol float64) (*Approximation, error) {
	if math.IsNaN(bound) || bound < 0 {
		return nil, newLoadError("approximate", kind, ErrInvalidBound, "bound %g", bound)
	}

	if err := ValidateWithTolerance(vector, kind, tol); err != nil {
		return nil, err
	}

	if bound == 0 {
		return exactCopy(vector, kind, bound), nil
	}

	order := rankByWeight(vector, kind)
	costs := truncationCosts(vector, kind, order)

	k := -1
	for i, c := range costs {
		if c <= bound {
			k = i
		}
	}

	// The closed-form costs can disagree with a direct measurement in the
	// last few ulps, so the winner is re-measured and stepped back if needed.
	for ; k >= 0; k-- {
		if costs[k] > bound {
			continue
		}
		candidate := truncate(vector, kind, order[:k])
		if dist := floats.Distance(candidate, vector, 2); dist <= bound {
			return &Approximation{
				Vector:   candidate,
				Kind:     kind,
				Bound:    bound,
				Dropped:  k,
				Distance: dist,
			}, nil
		}
	}

	return exactCopy(vector, kind, bound), nil
}

func exactCopy(vector []float64, kind Kind, bound float64) *Approximation {
	exact := make([]float64, len(vector))
	copy(exact, vector)
	return &Approximation{Vector: exact, Kind: kind, Bound: bound}
}

func weight(x float64, kind Kind) float64 {
	if kind == KindAmplitude {
		return x * x
	}
	return math.Abs(x)
}

// rankByWeight returns indices ordered from lightest to heaviest coefficient.
func rankByWeight(vector []float64, kind Kind) []int {
	order := make([]int, len(vector))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return weight(vector[order[a]], kind) < weight(vector[order[b]], kind)
	})
	return order
}

/*
truncationCosts returns, for k = 0..n-1, the L2 distance between vector and
the renormalized vector with the k lightest coefficients zeroed.

For probabilities with total S, dropped mass r and dropped/kept squared
sums R2, K2:

	d^2 = R2 + (1/(S-r) - 1)^2 * K2

For amplitudes with total squared norm Q and dropped squared mass r:

	d^2 = r + (1/sqrt(Q-r) - 1)^2 * (Q-r)
*/
func truncationCosts(vector []float64, kind Kind, order []int) []float64 {
	n := len(vector)
	costs := make([]float64, n)

	var total, totalSq float64
	for _, x := range vector {
		total += x
		totalSq += x * x
	}

	var dropped, droppedSq float64
	for k := 0; k < n; k++ {
		if k > 0 {
			x := vector[order[k-1]]
			dropped += x
			droppedSq += x * x
		}

		switch kind {
		case KindProbability:
			kept := total - dropped
			if kept <= 0 {
				costs[k] = math.Inf(1)
				continue
			}
			c := 1/kept - 1
			costs[k] = math.Sqrt(droppedSq + c*c*(totalSq-droppedSq))
		case KindAmplitude:
			kept := totalSq - droppedSq
			if kept <= 0 {
				costs[k] = math.Inf(1)
				continue
			}
			c := 1/math.Sqrt(kept) - 1
			costs[k] = math.Sqrt(droppedSq + c*c*kept)
		}
	}

	return costs
}

// truncate zeroes the given indices and renormalizes the remainder.
func truncate(vector []float64, kind Kind, drop []int) []float64 {
	out := make([]float64, len(vector))
	copy(out, vector)
	for _, i := range drop {
		out[i] = 0
	}
	normalize(out, kind)
	return out
}

func normalize(v []float64, kind Kind) {
	var scale float64
	switch kind {
	case KindProbability:
		scale = floats.Sum(v)
	case KindAmplitude:
		scale = floats.Norm(v, 2)
	}
	if scale > 0 {
		floats.Scale(1/scale, v)
	}
}
