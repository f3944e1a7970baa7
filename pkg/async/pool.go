// Package async provides bounded background execution for work that
// must detach from the request lifetime.
package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/covebase/cove/pkg/observability"
)

// Task is a unit of background work. It receives a context bound by
// the pool's per-task timeout.
type Task func(context.Context) error

// WorkerPool runs tasks on a fixed number of workers. Each task gets
// its own timeout and panic recovery, so a misbehaving task cannot
// take down the process or starve the pool forever.
type WorkerPool struct {
	name    string
	timeout time.Duration
	tasks   chan Task
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *observability.Logger

	closeOnce sync.Once
}

// NewWorkerPool starts workers goroutines draining the task queue.
// The queue buffers twice the worker count; Submit blocks once the
// buffer is full.
func NewWorkerPool(ctx context.Context, workers int, name string, timeout time.Duration, logger *observability.Logger) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(ctx)

	p := &WorkerPool{
		name:    name,
		timeout: timeout,
		tasks:   make(chan Task, workers*2),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
	}

	go func() {
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				p.run()
			}()
		}
		wg.Wait()
		close(p.done)
	}()

	return p
}

// Submit queues a task. Returns an error once the pool has shut down.
func (p *WorkerPool) Submit(task Task) error {
	select {
	case <-p.done:
		return fmt.Errorf("worker pool %s is shut down", p.name)
	default:
	}

	select {
	case p.tasks <- task:
		return nil
	case <-p.done:
		return fmt.Errorf("worker pool %s is shut down", p.name)
	case <-p.ctx.Done():
		return fmt.Errorf("worker pool %s is shut down", p.name)
	}
}

// Shutdown stops accepting tasks and waits up to timeout for workers
// to drain the queue. Tasks still queued after the timeout are
// abandoned.
func (p *WorkerPool) Shutdown(timeout time.Duration) error {
	var err error
	p.closeOnce.Do(func() {
		close(p.tasks)
		select {
		case <-p.done:
		case <-time.After(timeout):
			err = fmt.Errorf("worker pool %s shutdown timed out after %v", p.name, timeout)
		}
		p.cancel()
	})
	return err
}

func (p *WorkerPool) run() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			p.execute(task)
		}
	}
}

func (p *WorkerPool) execute(task Task) {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			p.logger.WithField("pool", p.name).
				WithField("panic", fmt.Sprintf("%v", r)).
				WithField("stack", string(debug.Stack())).
				Error("recovered panic in background task")
		}
	}()

	if err := task(ctx); err != nil {
		p.logger.WithError(err).WithField("pool", p.name).Warn("background task failed")
	}
}
