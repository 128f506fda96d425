package qprep

import (
	"fmt"
)

// Worker processes jobs handed to it by the pool manager.
type Worker struct {
	pool *Q
	jobs chan Job
}

func (w *Worker) run() {
	ctx := w.pool.ctx

	for {
		// Announce availability, then wait for the job the manager sends.
		select {
		case <-ctx.Done():
			return
		case w.pool.workers <- w.jobs:
		}

		select {
		case <-ctx.Done():
			return
		case job := <-w.jobs:
			result, err := w.processJob(job)
			w.pool.space.Store(job.ID, result, err, job.TTL)
		}
	}
}

func (w *Worker) processJob(job Job) (result any, err error) {
	policy := job.RetryPolicy
	if policy == nil {
		policy = NoRetry()
	}

	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("job %s panicked: %v", job.ID, r)
		}
		w.pool.metrics.recordJobExecution(job.StartTime, err == nil)
	}()

	err = policy.do(w.pool.ctx, job.ID, func() error {
		var fnErr error
		result, fnErr = job.Fn()
		return fnErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
