package phase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// WorkItem represents a generic work item for processing
type WorkItem interface {
	ID() string
	Priority() int
}

// Processor defines the function signature for processing work items
type Processor[T WorkItem, R any] func(context.Context, T) (R, error)

// WorkerPool runs a processor over a slice of items with bounded
// concurrency. Results are always returned in input order.
type WorkerPool[T WorkItem, R any] struct {
	workers int
	timeout time.Duration
	logger  *slog.Logger
}

// WorkerPoolOption allows customization of worker pool behavior
type WorkerPoolOption func(*workerPoolConfig)

type workerPoolConfig struct {
	workers int
	timeout time.Duration
	logger  *slog.Logger
}

// WithWorkers sets the number of concurrent workers
func WithWorkers(workers int) WorkerPoolOption {
	return func(c *workerPoolConfig) {
		if workers > 0 {
			c.workers = workers
		}
	}
}

// WithTimeout sets the timeout for individual work items
func WithTimeout(timeout time.Duration) WorkerPoolOption {
	return func(c *workerPoolConfig) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

func WithPoolLogger(logger *slog.Logger) WorkerPoolOption {
	return func(c *workerPoolConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewWorkerPool creates a new worker pool with the specified configuration
func NewWorkerPool[T WorkItem, R any](options ...WorkerPoolOption) *WorkerPool[T, R] {
	config := workerPoolConfig{
		workers: 1,
		timeout: 10 * time.Minute,
		logger:  slog.Default(),
	}

	for _, option := range options {
		option(&config)
	}

	return &WorkerPool[T, R]{
		workers: config.workers,
		timeout: config.timeout,
		logger:  config.logger.With("component", "worker_pool"),
	}
}

func (p *WorkerPool[T, R]) Workers() int {
	return p.workers
}

// Process runs processor over items using an errgroup limited to the pool's
// worker count. The first failure cancels the remaining items.
func (p *WorkerPool[T, R]) Process(ctx context.Context, items []T, processor Processor[T, R]) ([]R, error) {
	if len(items) == 0 {
		return []R{}, nil
	}

	p.logger.Debug("starting worker pool processing",
		"worker_count", p.workers,
		"item_count", len(items),
		"timeout", p.timeout)

	results := make([]R, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for i, item := range items {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			result, err := p.run(gctx, item, processor)
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		p.logger.Error("worker pool processing failed", "error", err)
		return nil, err
	}

	p.logger.Debug("worker pool processing completed", "result_count", len(results))
	return results, nil
}

// ProcessWithSemaphore runs every item in its own goroutine, gating the
// processor with a weighted semaphore. Unlike Process, a failed item does
// not cancel the others; the per-item errors are returned alongside the
// results.
func (p *WorkerPool[T, R]) ProcessWithSemaphore(ctx context.Context, items []T, processor Processor[T, R]) ([]R, []error) {
	results := make([]R, len(items))
	errs := make([]error, len(items))
	if len(items) == 0 {
		return results, errs
	}

	sem := semaphore.NewWeighted(int64(p.workers))
	var g errgroup.Group

	for i, item := range items {
		g.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				errs[i] = err
				return nil
			}
			defer sem.Release(1)

			results[i], errs[i] = p.run(ctx, item, processor)
			return nil
		})
	}
	_ = g.Wait()

	return results, errs
}

func (p *WorkerPool[T, R]) run(ctx context.Context, item T, processor Processor[T, R]) (R, error) {
	itemCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	result, err := processor(itemCtx, item)
	if err != nil {
		p.logger.Warn("failed to process item",
			"item_id", item.ID(),
			"error", err)
		var zero R
		return zero, fmt.Errorf("processing item %s: %w", item.ID(), err)
	}
	return result, nil
}

// SimpleWorkItem provides a basic implementation of WorkItem
type SimpleWorkItem[D any] struct {
	id       string
	priority int
	data     D
}

// NewSimpleWorkItem creates a new simple work item
func NewSimpleWorkItem[D any](id string, priority int, data D) SimpleWorkItem[D] {
	return SimpleWorkItem[D]{
		id:       id,
		priority: priority,
		data:     data,
	}
}

func (s SimpleWorkItem[D]) ID() string    { return s.id }
func (s SimpleWorkItem[D]) Priority() int { return s.priority }
func (s SimpleWorkItem[D]) Data() D       { return s.data }
