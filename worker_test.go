package qprep

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

const timeoutMsg = "Test timed out waiting for value retrieval"

func newTestPool() *Q {
	cfg := NewConfig()
	cfg.MinWorkers = 2
	cfg.MaxWorkers = 4
	cfg.SchedulingTimeout = 2 * time.Second
	return NewQ(context.Background(), cfg)
}

func TestWorker(t *testing.T) {
	Convey("Given a worker", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		pool := &Q{
			ctx:     ctx,
			cancel:  cancel,
			workers: make(chan chan Job, 1),
			space:   NewResultSpace(time.Minute),
			metrics: NewMetrics(),
			config:  NewConfig(),
		}

		worker := &Worker{
			pool: pool,
			jobs: make(chan Job),
		}
		go worker.run()

		Reset(func() {
			cancel()
			pool.space.Close()
		})

		Convey("It should process a job successfully", func() {
			job := Job{
				ID:        "job_success",
				Fn:        func() (any, error) { return "result", nil },
				StartTime: time.Now(),
				TTL:       10 * time.Second,
			}

			workerChan := <-pool.workers
			workerChan <- job

			select {
			case <-time.After(2 * time.Second):
				t.Fatal(timeoutMsg)
			case value := <-pool.space.Await(job.ID):
				So(value.Error, ShouldBeNil)
				So(value.Value, ShouldEqual, "result")
			}
		})

		Convey("It should not retry a contract violation", func() {
			var calls int32
			job := Job{
				ID: "job_invalid",
				Fn: func() (any, error) {
					atomic.AddInt32(&calls, 1)
					return nil, Validate([]float64{0.5, 0.5, 0.5}, KindProbability)
				},
				RetryPolicy: &RetryPolicy{
					MaxAttempts: 3,
					Strategy:    &ExponentialBackoff{Initial: time.Millisecond},
					Filter:      Retryable,
				},
				StartTime: time.Now(),
			}

			workerChan := <-pool.workers
			workerChan <- job

			value := <-pool.space.Await(job.ID)
			So(errors.Is(value.Error, ErrInvalidLength), ShouldBeTrue)
			So(atomic.LoadInt32(&calls), ShouldEqual, 1)
		})

		Convey("It should turn a panic into an error", func() {
			job := Job{
				ID:        "job_panic",
				Fn:        func() (any, error) { panic("boom") },
				StartTime: time.Now(),
			}

			workerChan := <-pool.workers
			workerChan <- job

			value := <-pool.space.Await(job.ID)
			So(value.Error, ShouldNotBeNil)
			So(value.Error.Error(), ShouldContainSubstring, "panicked")
			So(pool.metrics.FailedJobs, ShouldEqual, int64(1))
		})
	})
}

func TestQuantumPool(t *testing.T) {
	Convey("Given a new pool", t, func() {
		q := newTestPool()

		Reset(func() {
			q.Close()
		})

		Convey("When scheduling a simple job", func() {
			value := <-q.Schedule("test-job", func() (any, error) {
				return "success", nil
			})

			So(value.Error, ShouldBeNil)
			So(value.Value, ShouldEqual, "success")
		})

		Convey("When scheduling a job with retries", func() {
			var attempts int32
			value := <-q.Schedule("retry-job", func() (any, error) {
				if atomic.AddInt32(&attempts, 1) < 3 {
					return nil, errors.New("temporary error")
				}
				return "success after retry", nil
			}, WithRetry(3, &ExponentialBackoff{Initial: time.Millisecond}))

			So(value.Error, ShouldBeNil)
			So(value.Value, ShouldEqual, "success after retry")
			So(atomic.LoadInt32(&attempts), ShouldEqual, 3)
		})

		Convey("When the pool is busy it grows up to its ceiling", func() {
			release := make(chan struct{})
			results := make([]chan Result, 6)
			for i := range results {
				results[i] = q.Schedule(fmt.Sprintf("load-%d", i), func() (any, error) {
					<-release
					return nil, nil
				})
			}

			time.Sleep(200 * time.Millisecond)
			So(q.WorkerCount(), ShouldEqual, 4)

			close(release)
			for _, ch := range results {
				So((<-ch).Error, ShouldBeNil)
			}
		})

		Convey("When the pool is closed", func() {
			q.Close()
			value := <-q.Schedule("late-job", func() (any, error) {
				return "never", nil
			})
			So(value.Error, ShouldNotBeNil)
		})
	})
}

func TestPoolRegulators(t *testing.T) {
	Convey("Given a pool behind an open circuit breaker", t, func() {
		breaker := NewCircuitBreaker(1, time.Hour, 1)
		breaker.RecordFailure()

		cfg := NewConfig()
		cfg.SchedulingTimeout = 50 * time.Millisecond
		q := NewQ(context.Background(), cfg, breaker)

		Reset(func() {
			q.Close()
		})

		Convey("Jobs are refused as throttled", func() {
			value := <-q.Schedule("held", func() (any, error) {
				return "never", nil
			})
			So(value.Error, ShouldNotBeNil)
			So(value.Error.Error(), ShouldContainSubstring, "throttled")
			So(q.Metrics().ExportMetrics()["throttled_jobs"], ShouldEqual, int64(1))
		})
	})
}

func TestResultSpace(t *testing.T) {
	Convey("Given a result space", t, func() {
		rs := NewResultSpace(time.Minute)

		Reset(func() {
			rs.Close()
		})

		Convey("A stored value is retrievable", func() {
			rs.Store("test-key", "test-value", nil, time.Minute)
			value := <-rs.Await("test-key")
			So(value.Value, ShouldEqual, "test-value")
			So(value.Error, ShouldBeNil)
		})

		Convey("An earlier await is woken by Store", func() {
			ch := rs.Await("later")
			rs.Store("later", 42, nil, time.Minute)

			select {
			case <-time.After(time.Second):
				t.Fatal(timeoutMsg)
			case value := <-ch:
				So(value.Value, ShouldEqual, 42)
			}
		})

		Convey("Close releases pending awaits", func() {
			ch := rs.Await("never")
			rs.Close()
			_, ok := <-ch
			So(ok, ShouldBeFalse)
		})
	})
}
