// Package worker runs background jobs on a fixed set of goroutines fed by a
// bounded queue.
package worker

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"

	"github.com/character-lab/backend/internal/logging"
	"github.com/character-lab/backend/internal/metrics"
)

var (
	// ErrQueueFull is returned by Submit when the queue has no room.
	ErrQueueFull = errors.New("worker pool queue is full")

	// ErrStopped is returned by Submit after Stop.
	ErrStopped = errors.New("worker pool stopped")
)

// Job is a unit of work. ctx is cancelled when the pool stops.
type Job func(ctx context.Context) error

// Pool is a fixed-size worker pool.
type Pool struct {
	workers int
	queue   chan namedJob

	mu      sync.RWMutex
	stopped bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

type namedJob struct {
	name string
	run  Job
}

// NewPool starts workers goroutines reading from a queue of queueSize jobs.
func NewPool(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 100
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		workers: workers,
		queue:   make(chan namedJob, queueSize),
		ctx:     ctx,
		cancel:  cancel,
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.queue:
			if !ok {
				return
			}
			metrics.WorkerQueueDepth.Set(float64(len(p.queue)))
			p.run(job)
		}
	}
}

func (p *Pool) run(job namedJob) {
	defer func() {
		if r := recover(); r != nil {
			metrics.WorkerJobs.WithLabelValues("panic").Inc()
			logging.Error().
				Str("job", job.name).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("worker job panicked")
		}
	}()

	if err := job.run(p.ctx); err != nil {
		metrics.WorkerJobs.WithLabelValues("error").Inc()
		logging.Warn().Err(err).Str("job", job.name).Msg("worker job failed")
		return
	}
	metrics.WorkerJobs.WithLabelValues("ok").Inc()
}

// Submit queues job without blocking.
func (p *Pool) Submit(name string, job Job) error {
	if job == nil {
		return nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}

	select {
	case p.queue <- namedJob{name: name, run: job}:
		metrics.WorkerQueueDepth.Set(float64(len(p.queue)))
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop refuses new jobs, cancels the context of running ones and waits for the
// workers to exit or ctx to expire. Queued jobs that never started are dropped.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.mu.Unlock()

	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	dropped := 0
	for {
		select {
		case <-p.queue:
			dropped++
		default:
			metrics.WorkerQueueDepth.Set(0)
			if dropped > 0 {
				logging.Warn().Int("dropped", dropped).Msg("worker pool stopped with queued jobs")
			}
			return nil
		}
	}
}

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int {
	return p.workers
}

// Pending returns the number of queued jobs.
func (p *Pool) Pending() int {
	return len(p.queue)
}
