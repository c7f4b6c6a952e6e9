package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"blog-serverless/internal/observability"
)

// Task removes expired state and reports how many entries it dropped.
type Task struct {
	Name     string
	Interval time.Duration
	Sweep    func(ctx context.Context) (int64, error)
}

type Result struct {
	Task    string `json:"task"`
	Removed int64  `json:"removed"`
}

type Runner struct {
	tasks   []Task
	logger  *zap.Logger
	metrics *observability.Metrics
}

func NewRunner(logger *zap.Logger, metrics *observability.Metrics, tasks ...Task) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{tasks: tasks, logger: logger, metrics: metrics}
}

// RunOnce sweeps every task once. A failing task does not stop the others.
func (r *Runner) RunOnce(ctx context.Context) ([]Result, error) {
	results := make([]Result, 0, len(r.tasks))
	var errs []error

	for _, task := range r.tasks {
		removed, err := r.sweep(ctx, task)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", task.Name, err))
			continue
		}
		results = append(results, Result{Task: task.Name, Removed: removed})
	}

	return results, errors.Join(errs...)
}

// Run sweeps each task on its own interval until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, task := range r.tasks {
		if task.Interval <= 0 {
			continue
		}
		wg.Add(1)
		go func(task Task) {
			defer wg.Done()
			r.loop(ctx, task)
		}(task)
	}

	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

func (r *Runner) loop(ctx context.Context, task Task) {
	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = r.sweep(ctx, task)
		}
	}
}

func (r *Runner) sweep(ctx context.Context, task Task) (int64, error) {
	start := time.Now()
	removed, err := task.Sweep(ctx)
	if err != nil {
		r.logger.Warn("maintenance_sweep_failed", zap.String("task", task.Name), zap.Error(err))
		return 0, err
	}

	r.metrics.Swept(task.Name, removed)
	r.logger.Debug("maintenance_sweep_completed",
		zap.String("task", task.Name),
		zap.Int64("removed", removed),
		zap.Duration("took", time.Since(start)),
	)
	return removed, nil
}
