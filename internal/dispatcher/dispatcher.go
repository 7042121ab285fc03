// Package dispatcher manages worker fan-out over a task queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/backlink-monitor/internal/backlink"
	"github.com/JakeFAU/backlink-monitor/internal/worker"
)

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   backlink.Queue
	workers []*worker.Worker
}

// New creates a Dispatcher.
func New(queue backlink.Queue, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
	}
}

// NewPool builds a Dispatcher with size identical workers sharing handler and retry.
func NewPool(
	queue backlink.Queue,
	size int,
	handler worker.Handler,
	retry worker.RetryPolicy,
	cfg worker.Config,
	logger *zap.Logger,
) *Dispatcher {
	if size <= 0 {
		size = 1
	}
	workers := make([]*worker.Worker, 0, size)
	for i := 0; i < size; i++ {
		workers = append(workers, worker.New(queue, handler, retry, cfg, logger))
	}
	return New(queue, workers)
}

// Run starts all workers and blocks until every worker has exited, either
// because the context finished or because the queue was closed and drained.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, task backlink.Task) error {
	if err := d.queue.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
