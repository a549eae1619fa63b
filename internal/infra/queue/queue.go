// Package queue implements the deduplicated, at-least-once job queue the
// reconciliation handlers run on.
//
// Jobs carry a deterministic name. While a job with a given name is queued or
// running, enqueueing the same name again is a no-op, which is how concurrent
// retries for the same workspace or range collapse into one execution.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Job types. blockSync and batchBlockSync are consumed by the block sync
// pipeline; everything else has a handler in this service.
const (
	TypeBlockSync                    = "blockSync"
	TypeBatchBlockSync               = "batchBlockSync"
	TypeIntegrityCheck               = "integrityCheck"
	TypeProcessTransactionTrace      = "processTransactionTrace"
	TypeProcessNativeTokenTransfers  = "processNativeTokenTransfers"
	TypeProcessTokenTransfer         = "processTokenTransfer"
	TypeRevertPartialBlock           = "revertPartialBlock"
	TypeIncreaseStripeBillingQuota   = "increaseStripeBillingQuota"
	TypeUpdateExplorerSyncingProcess = "updateExplorerSyncingProcess"
	TypeRemoveStalledDemoExplorers   = "removeStalledDemoExplorers"
	TypeRemoveExpiredExplorers       = "removeExpiredExplorers"
	TypeWorkspaceReset               = "workspaceReset"
	TypeDeleteWorkspace              = "deleteWorkspace"
)

// Priorities. Lower runs first.
const (
	PriorityHighest = 1
	PriorityNormal  = 5
	PriorityLow     = 10
)

// ErrNoJob is returned by Pop when nothing is ready.
var ErrNoJob = errors.New("no job available")

// Job is a unit of work delivered at least once.
type Job struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Name     string          `json:"name"`
	Data     json.RawMessage `json:"data"`
	Priority int             `json:"priority"`
	Attempt  int             `json:"attempt"`
	RunAt    time.Time       `json:"run_at"`
	QueuedAt time.Time       `json:"queued_at"`
}

// Decode unmarshals the payload into v.
func (j *Job) Decode(v any) error {
	if len(j.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(j.Data, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", j.Type, err)
	}
	return nil
}

// Spec describes one job of a bulk enqueue.
type Spec struct {
	Name string
	Data any
}

// Options tune a single enqueue.
type Options struct {
	Priority int
	Delay    time.Duration
}

// Option mutates Options.
type Option func(*Options)

// WithPriority sets the job priority (1 is highest).
func WithPriority(p int) Option {
	return func(o *Options) { o.Priority = p }
}

// WithDelay defers the job.
func WithDelay(d time.Duration) Option {
	return func(o *Options) { o.Delay = d }
}

func buildOptions(opts []Option) Options {
	o := Options{Priority: PriorityNormal}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Enqueuer is the producer side used by handlers and the scheduler.
type Enqueuer interface {
	// Enqueue adds a job unless one with the same name is pending.
	Enqueue(ctx context.Context, jobType, name string, data any, opts ...Option) error

	// BulkEnqueue adds several jobs of one type, skipping pending names.
	BulkEnqueue(ctx context.Context, jobType string, jobs []Spec, opts ...Option) error
}

// Source is the consumer side used by the worker.
type Source interface {
	// Pop returns the next ready job of the given type or ErrNoJob.
	Pop(ctx context.Context, jobType string) (*Job, error)

	// Complete releases the job name so it can be enqueued again.
	Complete(ctx context.Context, job *Job) error

	// Retry schedules another attempt after delay.
	Retry(ctx context.Context, job *Job, delay time.Duration) error
}

// Queue is both sides.
type Queue interface {
	Enqueuer
	Source
}

// Name builds a deterministic job name: jobType-part1-part2...
func Name(jobType string, parts ...any) string {
	var b strings.Builder
	b.WriteString(jobType)
	for _, p := range parts {
		b.WriteByte('-')
		fmt.Fprint(&b, p)
	}
	return b.String()
}
