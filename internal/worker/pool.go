// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package worker runs jobs on a bounded pool of goroutines and rate-limits
// calls to external services.
package worker

import (
	"context"
	"sync"
)

// Job is a unit of work executed by the pool.
type Job interface {
	Execute(ctx context.Context) Result
}

// Result is the outcome of one Job.
type Result interface {
	GetError() error
}

// Pool executes submitted jobs on a fixed number of workers. Results are
// collected as they arrive, so Submit never blocks on unread results.
type Pool struct {
	workers  int
	jobQueue chan Job
	results  chan Result
	wg       sync.WaitGroup
	collect  sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc

	mu        sync.Mutex
	collected []Result
}

// NewPool creates a pool bound to ctx. Cancelling ctx stops workers after
// their current job.
func NewPool(ctx context.Context, workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Pool{
		workers:  workers,
		jobQueue: make(chan Job, workers*2),
		results:  make(chan Result, workers*2),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the workers and the result collector.
func (p *Pool) Start() {
	p.collect.Add(1)
	go func() {
		defer p.collect.Done()
		for r := range p.results {
			p.mu.Lock()
			p.collected = append(p.collected, r)
			p.mu.Unlock()
		}
	}()

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.jobQueue:
			if !ok {
				return
			}
			p.results <- job.Execute(p.ctx)
		}
	}
}

// Submit queues a job. It returns the context error if the pool was
// cancelled before the job could be queued.
func (p *Pool) Submit(job Job) error {
	if err := p.ctx.Err(); err != nil {
		return err
	}
	select {
	case <-p.ctx.Done():
		return p.ctx.Err()
	case p.jobQueue <- job:
		return nil
	}
}

// Wait closes the queue, waits for queued jobs to finish, and returns the
// results in completion order.
func (p *Pool) Wait() []Result {
	close(p.jobQueue)
	p.wg.Wait()
	close(p.results)
	p.collect.Wait()
	p.cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.collected
}

// Run executes jobs on a fresh pool of the given size and returns their
// results in completion order.
func Run(ctx context.Context, workers int, jobs []Job) []Result {
	pool := NewPool(ctx, workers)
	pool.Start()
	for _, job := range jobs {
		if err := pool.Submit(job); err != nil {
			break
		}
	}
	return pool.Wait()
}
