package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/coursepay/payments/internal/metrics"
)

var (
	ErrStopped   = errors.New("worker: pool stopped")
	ErrQueueFull = errors.New("worker: queue full")
)

// Task receives the pool context, which is cancelled on Stop.
type Task func(ctx context.Context)

type Pool struct {
	wg     sync.WaitGroup
	jobs   chan Task
	ctx    context.Context
	cancel context.CancelFunc
	log    *slog.Logger

	mu      sync.RWMutex
	stopped bool
}

func NewPool(n int, log *slog.Logger) *Pool {
	if n < 1 {
		n = 1
	}
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{jobs: make(chan Task, 1024), ctx: ctx, cancel: cancel, log: log}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				metrics.WorkerQueueDepth.Set(float64(len(p.jobs)))
				p.run(job)
			}
		}()
	}
	return p
}

func (p *Pool) run(job Task) {
	defer func() {
		if rec := recover(); rec != nil {
			p.log.Error("worker panic", "err", rec)
		}
	}()
	job(p.ctx)
}

// Submit never blocks. It fails when the pool is stopped or the queue is full.
func (p *Pool) Submit(t Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.jobs <- t:
		metrics.WorkerQueueDepth.Set(float64(len(p.jobs)))
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop drains queued jobs and waits for them. Running jobs see ctx cancelled
// only after the drain completes.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
	p.cancel()
}
