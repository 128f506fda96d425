package qprep

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Result wraps a job outcome with metadata
type Result struct {
	Value     any
	Error     error
	CreatedAt time.Time
	TTL       time.Duration
}

/*
ResultSpace holds job results by id until their TTL runs out, and hands
them to whoever awaits them. A result stored before anyone awaits it is
kept; an await registered before the result arrives is woken on Store.
*/
type ResultSpace struct {
	mu      sync.Mutex
	values  map[string]Result
	waiting map[string][]chan Result
	done    chan struct{}
	wg      sync.WaitGroup
	closed  bool
}

func NewResultSpace(cleanupInterval time.Duration) *ResultSpace {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	rs := &ResultSpace{
		values:  make(map[string]Result),
		waiting: make(map[string][]chan Result),
		done:    make(chan struct{}),
	}

	rs.wg.Add(1)
	go func() {
		defer rs.wg.Done()
		rs.cleanup(cleanupInterval)
	}()

	return rs
}

// Store records a result and wakes every waiter for id.
func (rs *ResultSpace) Store(id string, value any, err error, ttl time.Duration) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.closed {
		return
	}

	r := Result{
		Value:     value,
		Error:     err,
		CreatedAt: time.Now(),
		TTL:       ttl,
	}
	rs.values[id] = r

	for _, ch := range rs.waiting[id] {
		ch <- r
		close(ch)
	}
	delete(rs.waiting, id)

	log.Debug("stored result", "id", id, "err", err)
}

// Await returns a channel that receives the result for id exactly once.
func (rs *ResultSpace) Await(id string) chan Result {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	ch := make(chan Result, 1)

	if rs.closed {
		close(ch)
		return ch
	}

	if r, ok := rs.values[id]; ok {
		ch <- r
		close(ch)
		return ch
	}

	rs.waiting[id] = append(rs.waiting[id], ch)
	return ch
}

// Forget drops a stored result before its TTL expires.
func (rs *ResultSpace) Forget(id string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	delete(rs.values, id)
}

func (rs *ResultSpace) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-rs.done:
			return
		case <-ticker.C:
			rs.mu.Lock()
			now := time.Now()
			for id, r := range rs.values {
				if r.TTL > 0 && now.Sub(r.CreatedAt) > r.TTL {
					delete(rs.values, id)
				}
			}
			rs.mu.Unlock()
		}
	}
}

// Close stops the cleanup loop and closes all pending await channels.
func (rs *ResultSpace) Close() {
	rs.mu.Lock()
	if rs.closed {
		rs.mu.Unlock()
		return
	}
	rs.closed = true
	for id, chans := range rs.waiting {
		for _, ch := range chans {
			close(ch)
		}
		delete(rs.waiting, id)
	}
	rs.values = make(map[string]Result)
	rs.mu.Unlock()

	close(rs.done)
	rs.wg.Wait()
}
