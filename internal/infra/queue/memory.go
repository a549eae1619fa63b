package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is an in-process Queue for local runs and tests.
type MemoryQueue struct {
	mu      sync.Mutex
	pending map[string]*Job // by name
	order   []*Job
}

// NewMemoryQueue creates an empty in-process queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{pending: make(map[string]*Job)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, jobType, name string, data any, opts ...Option) error {
	return q.add(jobType, name, data, buildOptions(opts))
}

func (q *MemoryQueue) BulkEnqueue(ctx context.Context, jobType string, jobs []Spec, opts ...Option) error {
	o := buildOptions(opts)
	for _, spec := range jobs {
		if err := q.add(jobType, spec.Name, spec.Data, o); err != nil {
			return err
		}
	}
	return nil
}

func (q *MemoryQueue) add(jobType, name string, data any, o Options) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal job payload: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.pending[name]; exists {
		return nil
	}
	now := time.Now()
	job := &Job{
		ID:       uuid.New().String(),
		Type:     jobType,
		Name:     name,
		Data:     payload,
		Priority: o.Priority,
		RunAt:    now.Add(o.Delay),
		QueuedAt: now,
	}
	q.pending[name] = job
	q.order = append(q.order, job)
	return nil
}

func (q *MemoryQueue) Pop(ctx context.Context, jobType string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	idx := -1
	for i, j := range q.order {
		if j.Type != jobType || j.RunAt.After(now) {
			continue
		}
		if idx == -1 || j.Priority < q.order[idx].Priority {
			idx = i
		}
	}
	if idx == -1 {
		return nil, ErrNoJob
	}
	job := q.order[idx]
	q.order = append(q.order[:idx], q.order[idx+1:]...)
	return job, nil
}

func (q *MemoryQueue) Complete(ctx context.Context, job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if cur, ok := q.pending[job.Name]; ok && cur.ID == job.ID {
		delete(q.pending, job.Name)
	}
	return nil
}

func (q *MemoryQueue) Retry(ctx context.Context, job *Job, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job.Attempt++
	job.RunAt = time.Now().Add(delay)
	q.order = append(q.order, job)
	return nil
}

// Jobs returns the queued jobs of a type in enqueue order.
func (q *MemoryQueue) Jobs(jobType string) []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	var result []*Job
	for _, j := range q.order {
		if j.Type == jobType {
			result = append(result, j)
		}
	}
	return result
}

// All returns every queued job sorted by name.
func (q *MemoryQueue) All() []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	result := append([]*Job(nil), q.order...)
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}
