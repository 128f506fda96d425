package qprep

import "math/bits"

// SizeFor returns the number of qubits needed to index length basis states.
func SizeFor(length int) (int, error) {
	if !isPowerOfTwo(length) {
		return 0, newLoadError("size_for", kindNone, ErrInvalidLength, "length %d is not a power of two", length)
	}
	return bits.TrailingZeros(uint(length)), nil
}

/*
PadLength zero-pads vector to the next power of two. The loader never pads
on its own; callers that want padding opt in by calling this first. Padding
with zeros keeps both the sum and the L2 norm unchanged.
*/
func PadLength(vector []float64) []float64 {
	n := len(vector)
	target := 1
	if n > 1 {
		target = 1 << bits.Len(uint(n-1))
	}

	out := make([]float64, target)
	copy(out, vector)
	return out
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
