package qprep

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/theapemachine/errnie"
)

// ErrNoAvailableWorkers is stored as the result of a job no worker picked up in time.
var ErrNoAvailableWorkers = errors.New("no workers available to process job")

/*
Q is the worker pool behind batch preparation. Jobs go into a queue, a
manager hands each one to an idle worker, and results land in a
ResultSpace where callers await them by id. The pool starts MinWorkers
workers and adds more, up to MaxWorkers, when no worker is idle.
*/
type Q struct {
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	workers    chan chan Job
	jobs       chan Job
	space      *ResultSpace
	metrics    *Metrics
	config     *Config
	regulators []Regulator
	workerMu   sync.Mutex
	workerList []*Worker
	closeOnce  sync.Once
}

// NewQ creates a pool bound to ctx. Cancelling ctx stops every worker.
func NewQ(ctx context.Context, config *Config, regulators ...Regulator) *Q {
	if config == nil {
		config = NewConfig()
	}
	minWorkers := max(1, config.MinWorkers)
	maxWorkers := max(minWorkers, config.MaxWorkers)

	ctx, cancel := context.WithCancel(ctx)
	q := &Q{
		ctx:        ctx,
		cancel:     cancel,
		workers:    make(chan chan Job, maxWorkers),
		jobs:       make(chan Job, maxWorkers*10),
		space:      NewResultSpace(config.ResultTTL),
		metrics:    NewMetrics(),
		config:     config,
		regulators: regulators,
		workerList: make([]*Worker, 0, maxWorkers),
	}

	for _, r := range regulators {
		r.Observe(q.metrics)
	}

	for i := 0; i < minWorkers; i++ {
		q.startWorker()
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.manage()
	}()

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.collectMetrics()
	}()

	errnie.Info("NewQ - workers %d..%d", minWorkers, maxWorkers)
	return q
}

func (q *Q) manage() {
	for {
		select {
		case <-q.ctx.Done():
			return
		case job := <-q.jobs:
			q.dispatch(job)
		}
	}
}

func (q *Q) dispatch(job Job) {
	select {
	case workerChan := <-q.workers:
		q.handoff(workerChan, job)
		return
	default:
	}

	q.grow()

	select {
	case <-q.ctx.Done():
	case workerChan := <-q.workers:
		q.handoff(workerChan, job)
	case <-time.After(q.getSchedulingTimeout()):
		log.Warnf("no available workers for job %s, timeout occurred", job.ID)
		q.space.Store(job.ID, nil, ErrNoAvailableWorkers, job.TTL)

		q.metrics.mu.Lock()
		q.metrics.SchedulingFailures++
		q.metrics.mu.Unlock()
	}
}

func (q *Q) handoff(workerChan chan Job, job Job) {
	select {
	case workerChan <- job:
	case <-q.ctx.Done():
	}
}

func (q *Q) collectMetrics() {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			q.metrics.mu.Lock()
			q.metrics.JobQueueSize = len(q.jobs)
			q.metrics.mu.Unlock()

			for _, r := range q.regulators {
				r.Observe(q.metrics)
				r.Renormalize()
			}
		}
	}
}

/*
Schedule queues fn under id and returns a channel that yields its result.
Jobs run once unless a retry option is given. If a regulator keeps limiting
for longer than the scheduling timeout the job is refused.
*/
func (q *Q) Schedule(id string, fn func() (any, error), opts ...JobOption) chan Result {
	ctx, cancel := context.WithTimeout(q.ctx, q.getSchedulingTimeout())
	defer cancel()

	job := Job{
		ID:          id,
		Fn:          fn,
		RetryPolicy: NoRetry(),
		TTL:         q.config.ResultTTL,
		StartTime:   time.Now(),
	}
	for _, opt := range opts {
		opt(&job)
	}

	if err := q.ctx.Err(); err != nil {
		return failed(fmt.Errorf("pool closed: %w", err))
	}

	if err := q.admit(ctx); err != nil {
		q.metrics.mu.Lock()
		q.metrics.ThrottledJobs++
		q.metrics.mu.Unlock()
		return failed(fmt.Errorf("job %s throttled: %w", id, err))
	}

	select {
	case q.jobs <- job:
		return q.space.Await(id)
	case <-ctx.Done():
		q.metrics.mu.Lock()
		q.metrics.SchedulingFailures++
		q.metrics.mu.Unlock()
		return failed(fmt.Errorf("job scheduling timeout: %w", ctx.Err()))
	}
}

// admit waits until no regulator limits, or ctx is done.
func (q *Q) admit(ctx context.Context) error {
	for {
		limited := false
		for _, r := range q.regulators {
			if r.Limit() {
				limited = true
				r.Renormalize()
				break
			}
		}
		if !limited {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func failed(err error) chan Result {
	ch := make(chan Result, 1)
	ch <- Result{Error: err, CreatedAt: time.Now()}
	close(ch)
	return ch
}

// Metrics returns the live metrics of the pool.
func (q *Q) Metrics() *Metrics {
	return q.metrics
}

func (q *Q) WorkerCount() int {
	q.workerMu.Lock()
	defer q.workerMu.Unlock()
	return len(q.workerList)
}

func (q *Q) startWorker() {
	q.workerMu.Lock()
	defer q.workerMu.Unlock()
	q.startWorkerLocked()
}

// grow adds a worker when the pool is below its ceiling.
func (q *Q) grow() {
	q.workerMu.Lock()
	defer q.workerMu.Unlock()

	if len(q.workerList) < max(1, q.config.MaxWorkers) {
		q.startWorkerLocked()
	}
}

func (q *Q) startWorkerLocked() {
	worker := &Worker{
		pool: q,
		jobs: make(chan Job),
	}
	q.workerList = append(q.workerList, worker)

	q.metrics.mu.Lock()
	q.metrics.WorkerCount = len(q.workerList)
	q.metrics.mu.Unlock()

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		worker.run()
	}()
	log.Debugf("started worker, total workers: %d", len(q.workerList))
}

func (q *Q) getSchedulingTimeout() time.Duration {
	if q.config != nil && q.config.SchedulingTimeout > 0 {
		return q.config.SchedulingTimeout
	}
	return 5 * time.Second
}

// Close stops the pool and waits for every goroutine to exit.
func (q *Q) Close() {
	if q == nil {
		return
	}

	q.closeOnce.Do(func() {
		q.cancel()
		q.wg.Wait()
		q.space.Close()
		errnie.Info("Q closed - %v", q.metrics.ExportMetrics())
	})
}
