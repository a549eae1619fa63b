package control

import (
	"context"
	"log/slog"
	"time"

	"go.uber.org/ratelimit"
	"golang.org/x/sync/errgroup"
)

// Sweep is one periodic task of the scheduler.
type Sweep struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs each sweep on its own ticker. A failing sweep is logged and
// retried on its next tick.
type Scheduler struct {
	sweeps []Sweep
	log    *slog.Logger
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{log: slog.Default().With("component", "scheduler")}
}

// Add registers a sweep. Sweeps with a non-positive interval are ignored.
func (s *Scheduler) Add(sweep Sweep) {
	if sweep.Interval <= 0 {
		return
	}
	s.sweeps = append(s.sweeps, sweep)
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, sweep := range s.sweeps {
		g.Go(func() error {
			s.loop(ctx, sweep)
			return nil
		})
	}
	s.log.Info("Scheduler started", "sweeps", len(s.sweeps))
	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, sweep Sweep) {
	ticker := time.NewTicker(sweep.Interval)
	defer ticker.Stop()

	for {
		s.runOnce(ctx, sweep)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, sweep Sweep) {
	start := time.Now()
	if err := sweep.Run(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.log.Error("Sweep failed", "sweep", sweep.Name, "error", err)
		return
	}
	s.log.Debug("Sweep finished", "sweep", sweep.Name, "duration", time.Since(start))
}

// fanOut calls fn for every item, paced by limiter, and stops at the first error.
func fanOut[T any](ctx context.Context, limiter ratelimit.Limiter, items []T, fn func(ctx context.Context, item T) error) error {
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		limiter.Take()
		if err := fn(ctx, item); err != nil {
			return err
		}
	}
	return nil
}
