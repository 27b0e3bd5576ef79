package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrPoolStopped is returned by Do after Stop.
var ErrPoolStopped = errors.New("worker pool stopped")

// job is a unit of work handed to one worker goroutine.
type job struct {
	ctx  context.Context
	fn   func(context.Context) (any, error)
	done chan jobResult
}

// jobResult holds the return value from a job.
type jobResult struct {
	value any
	err   error
}

// WorkerPool runs jobs on a fixed set of goroutines. Each run builds its own
// machine and arena inside the job, so workers share no mutable state and
// the pool size bounds how many programs execute at once.
type WorkerPool struct {
	requests chan job
	quit     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	size     int
}

// NewWorkerPool starts n workers. n below 1 is treated as 1.
func NewWorkerPool(n int) *WorkerPool {
	n = max(n, 1)
	p := &WorkerPool{
		// Unbuffered: a handed-off job always has a worker.
		requests: make(chan job),
		quit:     make(chan struct{}),
		size:     n,
	}
	p.wg.Add(n)
	for i := 0; i < n; i++ {
		go p.loop(i)
	}
	log.Debugf("started %d workers", n)
	return p
}

// Size returns the number of workers.
func (p *WorkerPool) Size() int { return p.size }

// loop processes jobs sequentially on one goroutine.
func (p *WorkerPool) loop(id int) {
	defer p.wg.Done()
	for {
		select {
		case req := <-p.requests:
			req.done <- p.execute(id, req)
		case <-p.quit:
			return
		}
	}
}

// execute runs one job, recovering from panics.
func (p *WorkerPool) execute(id int, req job) (result jobResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("worker %d: panic: %v", id, r)
			result = jobResult{err: fmt.Errorf("worker panic: %v", r)}
		}
	}()
	value, err := req.fn(req.ctx)
	return jobResult{value: value, err: err}
}

// Do submits fn to the pool and blocks until it completes. It gives up
// waiting for a free worker when ctx is done; once a worker has taken the
// job, fn is responsible for honoring ctx.
func (p *WorkerPool) Do(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	req := job{ctx: ctx, fn: fn, done: make(chan jobResult, 1)}
	select {
	case p.requests <- req:
	case <-p.quit:
		return nil, ErrPoolStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	result := <-req.done
	return result.value, result.err
}

// Stop shuts down the workers and waits for running jobs to finish.
// Calling Stop more than once is safe.
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() { close(p.quit) })
	p.wg.Wait()
}
