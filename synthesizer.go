package qprep

import (
	"context"
	"fmt"
)

// Register is a handle to a qubit register owned by a synthesis engine.
type Register struct {
	ID   string
	Size int
}

func (r *Register) String() string {
	if r == nil {
		return "register(nil)"
	}
	return fmt.Sprintf("register(%s, %d qubits)", r.ID, r.Size)
}

/*
Synthesizer is the external circuit-synthesis engine. The loader never
builds circuits itself; it validates and approximates the target, then
asks the engine to allocate a register and load the state into it.
Implementations are injected, there is no package-level engine.
*/
type Synthesizer interface {
	// Allocate reserves a fresh register of size qubits.
	Allocate(ctx context.Context, size int) (*Register, error)

	// Load prepares state in reg. reg.Size equals state.Size.
	Load(ctx context.Context, reg *Register, state *StateVector) error
}

// Releaser is implemented by engines that can hand back an allocated register.
type Releaser interface {
	Release(ctx context.Context, reg *Register) error
}
