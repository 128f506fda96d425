package qprep

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// BatchResult is the outcome for one request of a batch, at its input index.
type BatchResult struct {
	Index   int
	Request Request
	State   *StateVector
	Err     error
}

/*
Batch runs many independent requests through a pipeline on a worker pool.
Every request is a pure computation, so they run in parallel without any
coordination; a failing request only affects its own result.
*/
type Batch struct {
	pool         *Q
	pipeline     *Pipeline
	defaultBound float64
}

func NewBatch(pool *Q, pipeline *Pipeline) *Batch {
	if pipeline == nil {
		pipeline = DefaultPipeline(pool.config)
	}
	return &Batch{pool: pool, pipeline: pipeline, defaultBound: pool.config.DefaultBound}
}

// PrepareAll runs vectors of one kind under the configured DefaultBound.
func (b *Batch) PrepareAll(ctx context.Context, vectors [][]float64, kind Kind) ([]BatchResult, error) {
	reqs := make([]Request, len(vectors))
	for i, v := range vectors {
		reqs[i] = Request{Vector: v, Kind: kind, Bound: b.defaultBound}
	}
	return b.Run(ctx, reqs)
}

/*
Run schedules every request and collects results in input order. Requests
without an ID get a random one. Request IDs are for reporting only; every
job gets its own id, so a reused request ID never picks up another run's
result. The returned error is only set when ctx ends before all results
arrived; per-request failures are in the results.
*/
func (b *Batch) Run(ctx context.Context, reqs []Request) ([]BatchResult, error) {
	reqs = append([]Request(nil), reqs...)
	pending := make([]chan Result, len(reqs))
	jobIDs := make([]string, len(reqs))

	for i := range reqs {
		if reqs[i].ID == "" {
			reqs[i].ID = uuid.NewString()
		}
		req := reqs[i]
		jobIDs[i] = uuid.NewString()

		pending[i] = b.pool.Schedule(jobIDs[i], func() (any, error) {
			return b.pipeline.Run(req)
		})
	}

	results := make([]BatchResult, len(reqs))
	for i, ch := range pending {
		results[i] = BatchResult{Index: i, Request: reqs[i]}

		select {
		case <-ctx.Done():
			for _, id := range jobIDs[i:] {
				b.pool.space.Forget(id)
			}
			return results, ctx.Err()
		case r, ok := <-ch:
			b.pool.space.Forget(jobIDs[i])
			if !ok {
				results[i].Err = fmt.Errorf("request %s: pool closed", reqs[i].ID)
				continue
			}
			if r.Error != nil {
				results[i].Err = r.Error
				continue
			}
			state, _ := r.Value.(*StateVector)
			results[i].State = state
		}
	}

	return results, nil
}

// ValidateAll checks every vector against kind in parallel.
func (b *Batch) ValidateAll(ctx context.Context, vectors [][]float64, kind Kind) ([]error, error) {
	reqs := make([]Request, len(vectors))
	for i, v := range vectors {
		reqs[i] = Request{Vector: v, Kind: kind}
	}

	validate := &Batch{pool: b.pool, pipeline: NewPipeline(b.pipeline.tolerance, ValidateStep(), SizeStep())}
	results, err := validate.Run(ctx, reqs)
	if err != nil {
		return nil, err
	}

	errs := make([]error, len(results))
	for i, r := range results {
		errs[i] = r.Err
	}
	return errs, nil
}
