package worker

import (
	"context"
	"log"
	"runtime"
	"sync"
	"sync/atomic"
)

// Job runs on a worker goroutine. It must honour ctx and post its result
// back to the event loop itself.
type Job func(ctx context.Context)

type queued struct {
	ctx  context.Context
	name string
	run  Job
}

// Pool runs capture and analysis jobs off the event loop. Its queue holds a
// single job so a burst of submissions is refused rather than buffered.
type Pool struct {
	queue  chan queued
	wg     sync.WaitGroup
	active atomic.Int32

	mu     sync.Mutex
	closed bool
}

// New starts size workers, or one per CPU when size<=0.
func New(size int) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	p := &Pool{queue: make(chan queued, 1)}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.work()
	}
	return p
}

func (p *Pool) work() {
	defer p.wg.Done()
	for q := range p.queue {
		if err := q.ctx.Err(); err != nil {
			log.Printf("Worker: skipping %s: %v", q.name, err)
			continue
		}
		p.active.Add(1)
		p.run(q)
		p.active.Add(-1)
	}
}

func (p *Pool) run(q queued) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("PANIC in worker job %s: %v", q.name, r)
		}
	}()
	log.Printf("Worker: starting %s", q.name)
	q.run(q.ctx)
}

// Submit queues run if the slot is free. It reports false when the job was
// refused, including after Close.
func (p *Pool) Submit(ctx context.Context, name string, run Job) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	select {
	case p.queue <- queued{ctx: ctx, name: name, run: run}:
		return true
	default:
		log.Printf("Worker: queue full, refusing %s", name)
		return false
	}
}

// Active is the number of jobs currently running.
func (p *Pool) Active() int { return int(p.active.Load()) }

// Close refuses new work and waits for running jobs to return.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
	p.wg.Wait()
}
