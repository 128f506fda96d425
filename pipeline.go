package qprep

import (
	"fmt"

	"github.com/charmbracelet/log"
)

// Request is one vector to be prepared.
type Request struct {
	ID     string
	Vector []float64
	Kind   Kind
	Bound  float64
}

/*
Run is the working state threaded through a pipeline. Steps read the
request and fill in the approximation and the register size.
*/
type Run struct {
	Request       Request
	Tolerance     float64
	Approximation *Approximation
	Size          int
}

// Step is a named stage of a Pipeline.
type Step struct {
	Name  string
	Apply func(*Run) error
}

/*
Pipeline is an ordered list of steps applied synchronously to a request.
It stops at the first failing step and reports that step's error as is.
Pipelines are immutable; Then returns an extended copy.
*/
type Pipeline struct {
	steps     []Step
	tolerance float64
}

func NewPipeline(tolerance float64, steps ...Step) *Pipeline {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Pipeline{
		steps:     append([]Step(nil), steps...),
		tolerance: tolerance,
	}
}

/*
DefaultPipeline approximates and sizes. The approximate step checks the
bound and then validates the vector, so those errors surface in the same
order as from Approximate.
*/
func DefaultPipeline(cfg *Config) *Pipeline {
	return NewPipeline(cfg.tolerance(), ApproximateStep(), SizeStep())
}

func (p *Pipeline) Then(step Step) *Pipeline {
	return NewPipeline(p.tolerance, append(p.Steps(), step)...)
}

// Steps returns a copy of the steps in execution order.
func (p *Pipeline) Steps() []Step {
	return append([]Step(nil), p.steps...)
}

func (p *Pipeline) Run(req Request) (*StateVector, error) {
	run := &Run{Request: req, Tolerance: p.tolerance, Size: -1}

	for _, step := range p.steps {
		log.Debug("pipeline step", "step", step.Name, "request", req.ID, "kind", req.Kind)
		if err := step.Apply(run); err != nil {
			return nil, err
		}
	}

	approx := run.Approximation
	if approx == nil {
		exact := make([]float64, len(req.Vector))
		copy(exact, req.Vector)
		approx = &Approximation{Vector: exact, Kind: req.Kind}
	}

	if run.Size < 0 {
		size, err := SizeFor(len(approx.Vector))
		if err != nil {
			return nil, err
		}
		run.Size = size
	}

	return &StateVector{
		ID:       req.ID,
		Kind:     req.Kind,
		Vector:   approx.Vector,
		Size:     run.Size,
		Bound:    req.Bound,
		Dropped:  approx.Dropped,
		Distance: approx.Distance,
	}, nil
}

func ValidateStep() Step {
	return Step{
		Name: "validate",
		Apply: func(r *Run) error {
			return ValidateWithTolerance(r.Request.Vector, r.Request.Kind, r.Tolerance)
		},
	}
}

func ApproximateStep() Step {
	return Step{
		Name: "approximate",
		Apply: func(r *Run) error {
			approx, err := ApproximateReport(r.Request.Vector, r.Request.Kind, r.Request.Bound, r.Tolerance)
			if err != nil {
				return err
			}
			r.Approximation = approx
			return nil
		},
	}
}

func SizeStep() Step {
	return Step{
		Name: "size",
		Apply: func(r *Run) error {
			size, err := SizeFor(len(r.Request.Vector))
			if err != nil {
				return err
			}
			r.Size = size
			return nil
		},
	}
}

/*
MaxSizeStep rejects requests that would need more than max qubits. It is
not part of the default pipeline; engines with a width limit append it.
*/
func MaxSizeStep(max int) Step {
	return Step{
		Name: "max-size",
		Apply: func(r *Run) error {
			size, err := SizeFor(len(r.Request.Vector))
			if err != nil {
				return err
			}
			if size > max {
				return newLoadError("max_size", r.Request.Kind, ErrSizeMismatch,
					"%d qubits requested, engine allows %d", size, max)
			}
			return nil
		},
	}
}

func (s Step) String() string {
	return fmt.Sprintf("step(%s)", s.Name)
}
