package qprep

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"gonum.org/v1/gonum/floats"
)

var errEngineDown = errors.New("engine down")

// flakyEngine fails the first failLoads Load calls, then delegates.
type flakyEngine struct {
	*Simulator
	mu        sync.Mutex
	failLoads int
	loads     int
	allocs    int
}

func (f *flakyEngine) Allocate(ctx context.Context, size int) (*Register, error) {
	f.mu.Lock()
	f.allocs++
	f.mu.Unlock()
	return f.Simulator.Allocate(ctx, size)
}

func (f *flakyEngine) Load(ctx context.Context, reg *Register, state *StateVector) error {
	f.mu.Lock()
	f.loads++
	fail := f.loads <= f.failLoads
	f.mu.Unlock()

	if fail {
		return errEngineDown
	}
	return f.Simulator.Load(ctx, reg, state)
}

func testConfig() *Config {
	cfg := NewConfig()
	cfg.EngineBackoff = time.Millisecond
	cfg.EngineRefill = time.Millisecond
	return cfg
}

func TestLoaderPrepare(t *testing.T) {
	Convey("Given a loader over a simulator", t, func() {
		ctx := context.Background()
		engine := &flakyEngine{Simulator: NewSimulator(10)}
		loader := NewLoader(engine, testConfig())

		Convey("PrepareState allocates a sized register and loads the approximant", func() {
			p := []float64{0.05, 0.11, 0.13, 0.23, 0.27, 0.12, 0.03, 0.06}
			reg, err := loader.PrepareState(ctx, p, 0.01)
			So(err, ShouldBeNil)
			So(reg.Size, ShouldEqual, 3)

			state, err := engine.State(reg)
			So(err, ShouldBeNil)
			So(state.Kind, ShouldEqual, KindProbability)
			So(floats.Sum(state.Vector), ShouldAlmostEqual, 1, 1e-9)
			So(floats.Distance(state.Vector, p, 2), ShouldBeLessThanOrEqualTo, 0.01)
		})

		Convey("PrepareAmplitudes with a zero bound loads the exact vector", func() {
			a := unitNorm(linspace(-1, 1, 8))
			reg, err := loader.PrepareAmplitudes(ctx, a, 0)
			So(err, ShouldBeNil)
			So(reg.Size, ShouldEqual, 3)

			state, _ := engine.State(reg)
			So(state.Vector, ShouldResemble, a)
		})

		Convey("An invalid vector never reaches the engine", func() {
			_, err := loader.PrepareState(ctx, []float64{0.5, 0.25, 0.25}, 0)
			So(errors.Is(err, ErrInvalidLength), ShouldBeTrue)

			_, err = loader.PrepareAmplitudes(ctx, []float64{1, 1}, 0)
			So(errors.Is(err, ErrInvalidDistribution), ShouldBeTrue)

			_, err = loader.PrepareState(ctx, []float64{0.5, 0.5}, -0.1)
			So(errors.Is(err, ErrInvalidBound), ShouldBeTrue)

			So(engine.allocs, ShouldEqual, 0)
			So(engine.Registers(), ShouldEqual, 0)
		})

		Convey("Plan runs only the classical part", func() {
			state, err := loader.Plan(Request{Vector: []float64{1, 0, 0, 0}, Kind: KindAmplitude})
			So(err, ShouldBeNil)
			So(state.Size, ShouldEqual, 2)
			So(engine.allocs, ShouldEqual, 0)
		})
	})
}

func TestLoaderPrepareInto(t *testing.T) {
	Convey("Given an allocated register", t, func() {
		ctx := context.Background()
		engine := &flakyEngine{Simulator: NewSimulator(10)}
		loader := NewLoader(engine, testConfig())

		reg, err := engine.Allocate(ctx, 2)
		So(err, ShouldBeNil)

		Convey("A vector of matching width is loaded in place", func() {
			So(loader.PrepareStateInto(ctx, reg, []float64{0.25, 0.25, 0.25, 0.25}, 0), ShouldBeNil)
			state, _ := engine.State(reg)
			So(state.Size, ShouldEqual, 2)
			So(engine.Registers(), ShouldEqual, 1)
		})

		Convey("A vector of another width fails with SizeMismatch", func() {
			err := loader.PrepareAmplitudesInto(ctx, reg, unitNorm(linspace(-1, 1, 8)), 0)
			So(errors.Is(err, ErrSizeMismatch), ShouldBeTrue)

			state, _ := engine.State(reg)
			So(state, ShouldBeNil)
		})

		Convey("A nil register fails with SizeMismatch", func() {
			err := loader.PrepareStateInto(ctx, nil, []float64{1, 0}, 0)
			So(errors.Is(err, ErrSizeMismatch), ShouldBeTrue)
		})
	})
}

func TestLoaderEngineGuards(t *testing.T) {
	Convey("Given an engine that fails transiently", t, func() {
		ctx := context.Background()
		engine := &flakyEngine{Simulator: NewSimulator(10), failLoads: 2}
		loader := NewLoader(engine, testConfig())

		Convey("Loads are retried until they succeed", func() {
			reg, err := loader.PrepareState(ctx, []float64{0.5, 0.5}, 0)
			So(err, ShouldBeNil)
			So(engine.loads, ShouldEqual, 3)
			So(loader.Metrics().EngineFailures, ShouldEqual, int64(2))
			So(loader.Breaker().State(), ShouldEqual, CircuitClosed)

			state, _ := engine.State(reg)
			So(state, ShouldNotBeNil)
		})
	})

	Convey("Given an engine that keeps failing", t, func() {
		ctx := context.Background()
		engine := &flakyEngine{Simulator: NewSimulator(10), failLoads: 1000}

		cfg := testConfig()
		cfg.EngineRetries = 2
		cfg.BreakerMaxFailures = 2
		cfg.BreakerResetTimeout = time.Hour
		loader := NewLoader(engine, cfg)

		Convey("The failed register is released and the error surfaces", func() {
			_, err := loader.PrepareState(ctx, []float64{0.5, 0.5}, 0)
			So(errors.Is(err, errEngineDown), ShouldBeTrue)
			So(engine.Registers(), ShouldEqual, 0)
		})

		Convey("The breaker opens and later calls fail fast", func() {
			_, err := loader.PrepareState(ctx, []float64{0.5, 0.5}, 0)
			So(err, ShouldNotBeNil)
			So(loader.Breaker().State(), ShouldEqual, CircuitOpen)

			loads := engine.loads
			_, err = loader.PrepareState(ctx, []float64{0.5, 0.5}, 0)
			So(errors.Is(err, ErrEngineUnavailable), ShouldBeTrue)
			So(engine.loads, ShouldEqual, loads)
		})
	})

	Convey("Given callers that keep cancelling", t, func() {
		engine := &flakyEngine{Simulator: NewSimulator(10)}

		cfg := testConfig()
		cfg.BreakerMaxFailures = 2
		cfg.BreakerResetTimeout = time.Hour
		loader := NewLoader(engine, cfg)

		for i := 0; i < 5; i++ {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			_, err := loader.PrepareState(ctx, []float64{0.5, 0.5}, 0)
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
		}

		Convey("The breaker stays closed for healthy callers", func() {
			So(loader.Breaker().State(), ShouldEqual, CircuitClosed)
			So(loader.Metrics().EngineFailures, ShouldEqual, int64(0))

			reg, err := loader.PrepareState(context.Background(), []float64{0.5, 0.5}, 0)
			So(err, ShouldBeNil)
			So(reg.Size, ShouldEqual, 1)
		})
	})

	Convey("Given a cancelled context", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		engine := &flakyEngine{Simulator: NewSimulator(10)}
		loader := NewLoader(engine, testConfig())

		_, err := loader.PrepareState(ctx, []float64{0.5, 0.5}, 0)
		So(errors.Is(err, context.Canceled), ShouldBeTrue)
	})
}
