package qprep

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/google/uuid"
	"github.com/theapemachine/errnie"
)

/*
Simulator is an in-memory Synthesizer. It does not emit gates; a loaded
register simply holds the StateVector it was given, which is enough to
sample measurement outcomes and to check what reached the engine.
*/
type Simulator struct {
	mu        sync.RWMutex
	maxQubits int
	registers map[string]*simRegister
}

type simRegister struct {
	reg   *Register
	state *StateVector
}

// NewSimulator creates a simulator that refuses registers wider than maxQubits.
func NewSimulator(maxQubits int) *Simulator {
	return &Simulator{
		maxQubits: maxQubits,
		registers: make(map[string]*simRegister),
	}
}

func (s *Simulator) Allocate(ctx context.Context, size int) (*Register, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if size < 0 || size > s.maxQubits {
		return nil, fmt.Errorf("simulator: cannot allocate %d qubits (max %d)", size, s.maxQubits)
	}

	reg := &Register{ID: uuid.NewString(), Size: size}

	s.mu.Lock()
	s.registers[reg.ID] = &simRegister{reg: reg}
	s.mu.Unlock()

	errnie.Info("Simulator.Allocate - %v", reg)
	return reg, nil
}

func (s *Simulator) Load(ctx context.Context, reg *Register, state *StateVector) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.lookup(reg)
	if err != nil {
		return err
	}
	if state == nil {
		return fmt.Errorf("simulator: no state to load into %v", reg)
	}
	if entry.reg.Size != state.Size {
		return newLoadError("load", state.Kind, ErrSizeMismatch,
			"%v cannot hold %d qubits", reg, state.Size)
	}

	loaded := *state
	loaded.Vector = append([]float64(nil), state.Vector...)
	entry.state = &loaded
	return nil
}

func (s *Simulator) Release(ctx context.Context, reg *Register) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.lookup(reg); err != nil {
		return err
	}
	delete(s.registers, reg.ID)
	return nil
}

// State returns the state last loaded into reg, or nil if none was loaded.
func (s *Simulator) State(reg *Register) (*StateVector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, err := s.lookup(reg)
	if err != nil {
		return nil, err
	}
	return entry.state, nil
}

// lookup assumes the caller holds mu.
func (s *Simulator) lookup(reg *Register) (*simRegister, error) {
	if reg == nil {
		return nil, fmt.Errorf("simulator: %w: nil register", ErrSizeMismatch)
	}
	entry, ok := s.registers[reg.ID]
	if !ok {
		return nil, fmt.Errorf("simulator: unknown %v", reg)
	}
	return entry, nil
}

// Registers returns how many registers are currently allocated.
func (s *Simulator) Registers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.registers)
}

/*
Sample measures reg shots times and returns a histogram of basis indices.
Each shot measures a fresh copy of the prepared state.
*/
func (s *Simulator) Sample(reg *Register, shots int, rng *rand.Rand) (map[int]int, error) {
	state, err := s.State(reg)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, fmt.Errorf("simulator: %v has no state loaded", reg)
	}

	counts := make(map[int]int)
	for i := 0; i < shots; i++ {
		counts[state.Measure(rng)]++
	}
	return counts, nil
}
