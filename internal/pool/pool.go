// Package pool implements the bounded worker pool that executes request
// handlers. Workers between Min and Max are created on demand and retire
// after sitting idle for IdleTimeout; Min workers stay alive for the life
// of the pool.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrStopped is returned by Submit when the pool is not running.
var ErrStopped = errors.New("worker pool is not running")

// PanicHandler receives values recovered from panicking tasks.
type PanicHandler func(recovered any)

// Options configures a Pool.
type Options struct {
	Min         int
	Max         int
	IdleTimeout time.Duration // 0 disables retirement of surplus workers
	OnPanic     PanicHandler
}

// Stats is a point-in-time snapshot of pool bookkeeping.
type Stats struct {
	Running bool `json:"running"`
	Min     int  `json:"min_workers"`
	Max     int  `json:"max_workers"`
	Size    int  `json:"workers"`
	Idle    int  `json:"idle_workers"`
	Busy    int  `json:"busy_workers"`
	Queued  int  `json:"queued_tasks"`
	Peak    int  `json:"peak_workers"`
}

// Pool is a bounded, elastic set of worker goroutines.
type Pool struct {
	opts   Options
	logger *slog.Logger

	tasks chan func()
	quit  chan struct{}
	wg    sync.WaitGroup

	mu      sync.Mutex
	running bool
	stopped bool
	size    int // live workers
	idle    int // workers blocked waiting for a task
	queued  int // submitters waiting for a worker
	peak    int
}

// New creates a stopped Pool. Call Start before submitting work.
func New(opts Options, logger *slog.Logger) (*Pool, error) {
	if opts.Max < 1 {
		return nil, fmt.Errorf("pool: max workers must be positive; got %d", opts.Max)
	}
	if opts.Min < 0 || opts.Min > opts.Max {
		return nil, fmt.Errorf("pool: min workers must be in [0, %d]; got %d", opts.Max, opts.Min)
	}
	if opts.IdleTimeout < 0 {
		return nil, fmt.Errorf("pool: idle timeout must be non-negative; got %v", opts.IdleTimeout)
	}
	return &Pool{
		opts:   opts,
		logger: logger.With("component", "worker_pool"),
		tasks:  make(chan func()),
		quit:   make(chan struct{}),
	}, nil
}

// Start launches the persistent Min workers. It may be called once.
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running || p.stopped {
		return errors.New("pool: already started")
	}
	p.running = true
	for range p.opts.Min {
		p.spawnLocked(nil)
	}
	p.logger.Info("worker pool started",
		"min", p.opts.Min,
		"max", p.opts.Max,
		"idle_timeout", p.opts.IdleTimeout.String(),
	)
	return nil
}

// Submit runs task on a pool worker. It returns once a worker has accepted
// the task, not when the task completes. If every worker is busy and the
// pool is at Max, Submit waits until a worker frees up, ctx is done, or the
// pool stops.
func (p *Pool) Submit(ctx context.Context, task func()) error {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	if !running {
		return ErrStopped
	}

	// Hand off to a worker already blocked on receive.
	select {
	case p.tasks <- task:
		return nil
	default:
	}

	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return ErrStopped
	}
	if p.size < p.opts.Max {
		p.spawnLocked(task)
		p.mu.Unlock()
		return nil
	}
	p.queued++
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.queued--
		p.mu.Unlock()
	}()

	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		return ErrStopped
	}
}

// spawnLocked starts a worker, optionally with a first task. p.mu must be held.
func (p *Pool) spawnLocked(first func()) {
	p.size++
	if p.size > p.peak {
		p.peak = p.size
	}
	p.wg.Add(1)
	go p.worker(first)
}

func (p *Pool) worker(task func()) {
	defer p.wg.Done()

	var timer *time.Timer
	if p.opts.IdleTimeout > 0 {
		timer = time.NewTimer(p.opts.IdleTimeout)
		defer timer.Stop()
	}

	for {
		if task != nil {
			p.run(task)
		}
		var ok bool
		if task, ok = p.next(timer); !ok {
			return
		}
	}
}

// next parks the worker until it receives a task. It returns false when the
// worker should exit, either because the pool stopped or because it retired.
func (p *Pool) next(timer *time.Timer) (func(), bool) {
	p.mu.Lock()
	p.idle++
	p.mu.Unlock()

	for {
		var timeout <-chan time.Time
		if timer != nil {
			timer.Reset(p.opts.IdleTimeout)
			timeout = timer.C
		}

		select {
		case task := <-p.tasks:
			p.mu.Lock()
			p.idle--
			p.mu.Unlock()
			return task, true
		case <-timeout:
			if p.retire() {
				return nil, false
			}
		case <-p.quit:
			p.mu.Lock()
			p.idle--
			p.size--
			p.mu.Unlock()
			return nil, false
		}
	}
}

// retire reports whether an idle-timed-out worker may exit. Workers never
// retire at or below Min, nor while submitters are queued waiting for one.
func (p *Pool) retire() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.size <= p.opts.Min || p.queued > 0 {
		return false
	}
	p.idle--
	p.size--
	p.logger.Debug("idle worker retired", "workers", p.size)
	return true
}

func (p *Pool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked", "panic", fmt.Sprint(r))
			if p.opts.OnPanic != nil {
				p.opts.OnPanic(r)
			}
		}
	}()
	task()
}

// Stop stops accepting work and waits for running tasks to finish or ctx
// to end. It may be called more than once.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.stopped = true
	close(p.quit)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pool: drain: %w", ctx.Err())
	}
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Running: p.running,
		Min:     p.opts.Min,
		Max:     p.opts.Max,
		Size:    p.size,
		Idle:    p.idle,
		Busy:    p.size - p.idle,
		Queued:  p.queued,
		Peak:    p.peak,
	}
}
