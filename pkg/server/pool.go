package server

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrPoolClosed is returned by Submit after Close has been called.
var ErrPoolClosed = errors.New("server: pool closed")

// Job is one unit of work, typically the full lifecycle of a connection.
type Job func()

// Pool runs jobs on a fixed number of workers fed by a bounded queue.
// Each worker runs one job to completion before taking the next.
type Pool struct {
	size   int
	jobs   chan Job
	g      errgroup.Group
	logger *zerolog.Logger

	mu     sync.RWMutex // held for reading while sending on jobs
	closed bool
}

// NewPool starts size workers. Up to backlog submitted jobs may wait in
// the queue for a free worker; further submissions block.
func NewPool(size, backlog int, logger *zerolog.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	if backlog < 0 {
		backlog = 0
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	p := &Pool{
		size:   size,
		jobs:   make(chan Job, backlog),
		logger: logger,
	}
	for i := 0; i < size; i++ {
		id := i
		p.g.Go(func() error {
			p.work(id)
			return nil
		})
	}
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return p.size }

// Submit queues job, blocking while the queue is full. Jobs are handed
// to workers in submission order.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs and waits for the queued ones to finish.
func (p *Pool) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()
	return p.g.Wait()
}

func (p *Pool) work(id int) {
	for job := range p.jobs {
		p.run(id, job)
	}
}

// run executes job, containing any panic to this job alone.
func (p *Pool) run(id int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Int("worker", id).Interface("panic", r).Msg("job aborted")
		}
	}()
	job()
}
