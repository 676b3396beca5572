// Package bgwork is the fire-and-forget background task queue for
// best-effort side effects (stats recording, audit writes, dedup writes)
// named in §7 and §9: bounded concurrency, never awaited on the response
// path. Grounded on the worker-pool shape in the teacher's ambient-stack
// exercises (job channel, fixed worker goroutines, graceful Shutdown
// draining the channel).
package bgwork

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

type Job func()

// Pool runs submitted jobs on a fixed number of worker goroutines.
type Pool struct {
	jobs    chan Job
	wg      sync.WaitGroup
	log     zerolog.Logger
	workers int
}

func New(numWorkers, queueDepth int, log zerolog.Logger) *Pool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	return &Pool{
		jobs:    make(chan Job, queueDepth),
		log:     log.With().Str("component", "bgwork").Logger(),
		workers: numWorkers,
	}
}

// Start launches the worker goroutines; they run until ctx is cancelled or
// Shutdown is called.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			p.runSafely(job)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pool) runSafely(job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Interface("panic", r).Msg("background job panicked")
		}
	}()
	job()
}

// Submit enqueues job without blocking the caller's response path. If the
// queue is full, the job is dropped and logged rather than blocking —
// losing a best-effort side effect never fails the request.
func (p *Pool) Submit(job Job) {
	select {
	case p.jobs <- job:
	default:
		p.log.Warn().Msg("background queue full, dropping job")
	}
}

// Shutdown closes the job queue and waits for in-flight jobs to finish.
func (p *Pool) Shutdown() {
	close(p.jobs)
	p.wg.Wait()
}
