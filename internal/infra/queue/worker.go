package queue

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"go.uber.org/ratelimit"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/explorer/internal/indexing/metrics"
)

// Handler processes one job. A non-empty result with a nil error is a soft
// outcome and completes the job. Errors are retried per the strategy.
type Handler func(ctx context.Context, job *Job) (string, error)

// WorkerConfig holds configuration for the job worker.
type WorkerConfig struct {
	Concurrency   int
	PollInterval  time.Duration
	RatePerSecond int
	MaxAttempts   int
}

// Worker pulls jobs from a Source and dispatches them to handlers.
type Worker struct {
	cfg      WorkerConfig
	source   Source
	handlers map[string]Handler
	strategy RetryStrategy
	limiter  ratelimit.Limiter
	log      *slog.Logger
}

// NewWorker creates a worker. Register handlers before calling Run.
func NewWorker(cfg WorkerConfig, source Source) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	limiter := ratelimit.NewUnlimited()
	if cfg.RatePerSecond > 0 {
		limiter = ratelimit.New(cfg.RatePerSecond)
	}
	return &Worker{
		cfg:      cfg,
		source:   source,
		handlers: make(map[string]Handler),
		strategy: DefaultBackoff(cfg.MaxAttempts),
		limiter:  limiter,
		log:      slog.Default().With("component", "worker"),
	}
}

// Register binds a handler to a job type.
func (w *Worker) Register(jobType string, h Handler) {
	w.handlers[jobType] = h
}

// Types returns the registered job types in a stable order.
func (w *Worker) Types() []string {
	types := make([]string, 0, len(w.handlers))
	for t := range w.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Run starts Concurrency polling loops and blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	types := w.Types()
	w.log.Info("Worker started", "concurrency", w.cfg.Concurrency, "job_types", len(types))

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Concurrency; i++ {
		offset := i
		g.Go(func() error {
			w.loop(ctx, types, offset)
			return nil
		})
	}
	return g.Wait()
}

func (w *Worker) loop(ctx context.Context, types []string, offset int) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		// Drain while there is work, then wait for the next tick.
		for w.RunOnce(ctx, types, offset) {
			if ctx.Err() != nil {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce processes at most one job per type, starting the rotation at
// offset so concurrent loops do not all favour the same type. It reports
// whether any job was processed.
func (w *Worker) RunOnce(ctx context.Context, types []string, offset int) bool {
	processed := false
	for i := range types {
		jobType := types[(i+offset)%len(types)]
		job, err := w.source.Pop(ctx, jobType)
		if errors.Is(err, ErrNoJob) {
			continue
		}
		if err != nil {
			w.log.Error("Failed to pop job", "type", jobType, "error", err)
			continue
		}
		w.limiter.Take()
		w.process(ctx, job)
		processed = true
	}
	return processed
}

func (w *Worker) process(ctx context.Context, job *Job) {
	// Settling the job must survive shutdown cancelling ctx.
	settle := context.WithoutCancel(ctx)

	handler, ok := w.handlers[job.Type]
	if !ok {
		w.log.Warn("No handler for job type", "type", job.Type, "name", job.Name)
		_ = w.source.Complete(settle, job)
		return
	}

	start := time.Now()
	result, err := handler(ctx, job)
	metrics.JobDuration.WithLabelValues(job.Type).Observe(time.Since(start).Seconds())

	if err == nil {
		metrics.JobsProcessed.WithLabelValues(job.Type, "completed").Inc()
		w.log.Debug("Job completed", "type", job.Type, "name", job.Name, "result", result)
		if err := w.source.Complete(settle, job); err != nil {
			w.log.Error("Failed to complete job", "name", job.Name, "error", err)
		}
		return
	}

	if ctx.Err() != nil {
		metrics.JobsProcessed.WithLabelValues(job.Type, "interrupted").Inc()
		w.log.Warn("Job interrupted by shutdown, requeueing", "type", job.Type, "name", job.Name, "error", err)
		if err := w.source.Retry(settle, job, 0); err != nil {
			w.log.Error("Failed to requeue interrupted job", "name", job.Name, "error", err)
		}
		return
	}

	if w.strategy.ShouldRetry(err, job.Attempt) {
		delay := w.strategy.GetDelay(job.Attempt)
		metrics.JobsProcessed.WithLabelValues(job.Type, "retried").Inc()
		w.log.Warn("Job failed, retrying",
			"type", job.Type,
			"name", job.Name,
			"attempt", job.Attempt+1,
			"delay", delay,
			"error", err,
		)
		if err := w.source.Retry(settle, job, delay); err != nil {
			w.log.Error("Failed to schedule retry", "name", job.Name, "error", err)
		}
		return
	}

	metrics.JobsProcessed.WithLabelValues(job.Type, "failed").Inc()
	w.log.Error("Job failed permanently",
		"type", job.Type,
		"name", job.Name,
		"attempts", job.Attempt+1,
		"error", err,
	)
	if err := w.source.Complete(settle, job); err != nil {
		w.log.Error("Failed to complete job", "name", job.Name, "error", err)
	}
}
