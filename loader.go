package qprep

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/theapemachine/errnie"
)

/*
Loader prepares registers from probability or amplitude vectors. The
classical part (validation, approximation, sizing) runs first and in full;
the engine is only contacted once that succeeded, so a rejected vector
never costs a register.

Engine calls go through a rate limiter, a circuit breaker and a retry
policy that only retries engine errors.
*/
type Loader struct {
	engine   Synthesizer
	pipeline *Pipeline
	breaker  *CircuitBreaker
	limiter  *RateLimiter
	retry    *RetryPolicy
	metrics  *Metrics
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

func WithPipeline(p *Pipeline) LoaderOption {
	return func(l *Loader) {
		l.pipeline = p
	}
}

func WithEngineRetry(policy *RetryPolicy) LoaderOption {
	return func(l *Loader) {
		l.retry = policy
	}
}

func WithCircuitBreaker(cb *CircuitBreaker) LoaderOption {
	return func(l *Loader) {
		l.breaker = cb
	}
}

func WithRateLimiter(rl *RateLimiter) LoaderOption {
	return func(l *Loader) {
		l.limiter = rl
	}
}

func WithMetrics(m *Metrics) LoaderOption {
	return func(l *Loader) {
		l.metrics = m
	}
}

// NewLoader wires engine behind the guards described by cfg.
func NewLoader(engine Synthesizer, cfg *Config, opts ...LoaderOption) *Loader {
	if cfg == nil {
		cfg = NewConfig()
	}

	l := &Loader{
		engine:   engine,
		pipeline: DefaultPipeline(cfg),
		breaker:  NewCircuitBreaker(cfg.BreakerMaxFailures, cfg.BreakerResetTimeout, cfg.BreakerHalfOpenMax),
		limiter:  NewRateLimiter(cfg.EngineRateTokens, cfg.EngineRefill),
		retry:    newEngineRetryPolicy(cfg),
		metrics:  NewMetrics(),
	}
	for _, opt := range opts {
		opt(l)
	}

	l.breaker.Observe(l.metrics)
	l.limiter.Observe(l.metrics)
	return l
}

func (l *Loader) Metrics() *Metrics {
	return l.metrics
}

func (l *Loader) Breaker() *CircuitBreaker {
	return l.breaker
}

// PrepareState allocates a register and loads the probability vector into it.
func (l *Loader) PrepareState(ctx context.Context, vector []float64, bound float64) (*Register, error) {
	return l.prepare(ctx, Request{Vector: vector, Kind: KindProbability, Bound: bound})
}

// PrepareAmplitudes allocates a register and loads the amplitude vector into it.
func (l *Loader) PrepareAmplitudes(ctx context.Context, vector []float64, bound float64) (*Register, error) {
	return l.prepare(ctx, Request{Vector: vector, Kind: KindAmplitude, Bound: bound})
}

// PrepareStateInto loads a probability vector into an existing register.
func (l *Loader) PrepareStateInto(ctx context.Context, reg *Register, vector []float64, bound float64) error {
	return l.prepareInto(ctx, reg, Request{Vector: vector, Kind: KindProbability, Bound: bound})
}

// PrepareAmplitudesInto loads an amplitude vector into an existing register.
func (l *Loader) PrepareAmplitudesInto(ctx context.Context, reg *Register, vector []float64, bound float64) error {
	return l.prepareInto(ctx, reg, Request{Vector: vector, Kind: KindAmplitude, Bound: bound})
}

// Plan runs only the classical pipeline and returns what would be loaded.
func (l *Loader) Plan(req Request) (*StateVector, error) {
	return l.pipeline.Run(req)
}

func (l *Loader) prepare(ctx context.Context, req Request) (*Register, error) {
	state, err := l.pipeline.Run(req)
	if err != nil {
		return nil, err
	}

	var reg *Register
	if err := l.call(ctx, "allocate", func() error {
		var allocErr error
		reg, allocErr = l.engine.Allocate(ctx, state.Size)
		return allocErr
	}); err != nil {
		return nil, err
	}

	if err := l.load(ctx, reg, state); err != nil {
		l.release(ctx, reg)
		return nil, err
	}

	errnie.Info("Loader.prepare - %s vector of %d entries into %v (dropped %d, distance %g)",
		state.Kind, len(state.Vector), reg, state.Dropped, state.Distance)
	return reg, nil
}

func (l *Loader) prepareInto(ctx context.Context, reg *Register, req Request) error {
	state, err := l.pipeline.Run(req)
	if err != nil {
		return err
	}

	if reg == nil {
		return newLoadError("prepare_into", req.Kind, ErrSizeMismatch, "nil register, need %d qubits", state.Size)
	}
	if reg.Size != state.Size {
		return newLoadError("prepare_into", req.Kind, ErrSizeMismatch,
			"%v given, need %d qubits", reg, state.Size)
	}

	return l.load(ctx, reg, state)
}

func (l *Loader) load(ctx context.Context, reg *Register, state *StateVector) error {
	return l.call(ctx, "load", func() error {
		return l.engine.Load(ctx, reg, state)
	})
}

// release is best effort; the load error is what the caller needs to see.
func (l *Loader) release(ctx context.Context, reg *Register) {
	releaser, ok := l.engine.(Releaser)
	if !ok {
		return
	}
	if err := releaser.Release(context.WithoutCancel(ctx), reg); err != nil {
		log.Warn("release after failed load", "register", reg, "err", err)
	}
}

/*
call runs one engine operation under the guards. A contract violation
reported by the engine (for example a size mismatch) is returned as is and
does not count against the engine's health. Neither does an error caused
by the caller's ctx ending.
*/
func (l *Loader) call(ctx context.Context, op string, fn func() error) error {
	return l.retry.do(ctx, "engine "+op, func() error {
		if !l.breaker.Allow() {
			return fmt.Errorf("%s: %w (circuit %s)", op, ErrEngineUnavailable, l.breaker.State())
		}
		if err := l.limiter.Wait(ctx); err != nil {
			l.breaker.Abandon()
			return fmt.Errorf("%s: %w", op, err)
		}

		err := fn()

		switch {
		case err == nil:
			l.metrics.recordEngineCall(nil)
			l.breaker.RecordSuccess()
		case ctx.Err() != nil && errors.Is(err, ctx.Err()):
			l.breaker.Abandon()
		case IsContractViolation(err):
			l.metrics.recordEngineCall(err)
			l.breaker.Abandon()
		default:
			l.metrics.recordEngineCall(err)
			l.breaker.RecordFailure()
		}
		return err
	})
}
