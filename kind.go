package qprep

import (
	"fmt"
	"strings"
)

/*
Kind declares which normalization class a vector belongs to.
A probability vector lives on the simplex, an amplitude vector on the
unit sphere.
*/
type Kind int

const (
	KindProbability Kind = iota // non-negative, sums to 1
	KindAmplitude               // real, unit L2 norm
)

func (k Kind) String() string {
	switch k {
	case KindProbability:
		return "probability"
	case KindAmplitude:
		return "amplitude"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind accepts the names produced by String.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "probability", "probabilities", "prob":
		return KindProbability, nil
	case "amplitude", "amplitudes", "amp":
		return KindAmplitude, nil
	}
	return 0, fmt.Errorf("unknown vector kind %q", s)
}

func (k Kind) valid() bool {
	return k == KindProbability || k == KindAmplitude
}
