package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// NewRedisClient creates and pings a Redis client.
func NewRedisClient(cfg RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return rdb, nil
}

// RedisQueue stores jobs in Redis.
//
//	jobs:data:<id>      job JSON
//	jobs:name:<name>    id of the pending job with that name (dedup lock)
//	jobs:ready:<type>   sorted set of ids, scored by priority then queue time
//	jobs:delayed:<type> sorted set of ids, scored by run-at milliseconds
//	jobs:active:<type>  sorted set of popped ids, scored by lease deadline
//
// A popped job stays in the active set until Complete or Retry. Leases
// that run out are moved back to the ready set on the next Pop, so a
// worker that dies mid-job does not strand the name lock.
type RedisQueue struct {
	rdb     *redis.Client
	nameTTL time.Duration
	lease   time.Duration
	log     *slog.Logger
}

// NewRedisQueue creates a queue on an existing client. A zero lease uses
// ten minutes.
func NewRedisQueue(rdb *redis.Client, lease time.Duration) *RedisQueue {
	if lease <= 0 {
		lease = 10 * time.Minute
	}
	return &RedisQueue{
		rdb:     rdb,
		nameTTL: 24 * time.Hour,
		lease:   lease,
		log:     slog.Default().With("component", "queue"),
	}
}

// Key helpers
func dataKey(id string) string         { return "jobs:data:" + id }
func nameKey(name string) string       { return "jobs:name:" + name }
func readyKey(jobType string) string   { return "jobs:ready:" + jobType }
func delayedKey(jobType string) string { return "jobs:delayed:" + jobType }
func activeKey(jobType string) string  { return "jobs:active:" + jobType }
func readyScore(priority int, t time.Time) float64 {
	// Priority dominates; queue time breaks ties (ms since epoch < 1e13).
	return float64(priority)*1e13 + float64(t.UnixMilli())
}

// popScript moves the lowest scored ready id into the active set in one step.
var popScript = redis.NewScript(`
local res = redis.call('ZPOPMIN', KEYS[1])
if #res == 0 then
	return false
end
redis.call('ZADD', KEYS[2], ARGV[1], res[1])
return res[1]
`)

// Enqueue adds a job unless one with the same name is pending.
func (q *RedisQueue) Enqueue(ctx context.Context, jobType, name string, data any, opts ...Option) error {
	return q.enqueue(ctx, jobType, name, data, buildOptions(opts))
}

// BulkEnqueue adds several jobs of one type.
func (q *RedisQueue) BulkEnqueue(ctx context.Context, jobType string, jobs []Spec, opts ...Option) error {
	o := buildOptions(opts)
	for _, spec := range jobs {
		if err := q.enqueue(ctx, jobType, spec.Name, spec.Data, o); err != nil {
			return err
		}
	}
	return nil
}

func (q *RedisQueue) enqueue(ctx context.Context, jobType, name string, data any, o Options) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal job payload: %w", err)
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

	ok, err := q.rdb.SetNX(ctx, nameKey(name), job.ID, q.nameTTL+o.Delay).Result()
	if err != nil {
		return fmt.Errorf("setnx failed: %w", err)
	}
	if !ok {
		q.log.Debug("Job already pending", "type", jobType, "name", name)
		return nil
	}

	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := q.rdb.TxPipeline()
	pipe.Set(ctx, dataKey(job.ID), raw, q.nameTTL+o.Delay)
	if o.Delay > 0 {
		pipe.ZAdd(ctx, delayedKey(jobType), redis.Z{Score: float64(job.RunAt.UnixMilli()), Member: job.ID})
	} else {
		pipe.ZAdd(ctx, readyKey(jobType), redis.Z{Score: readyScore(job.Priority, now), Member: job.ID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		// Release the name so a later enqueue can succeed.
		_ = q.rdb.Del(ctx, nameKey(name)).Err()
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// promote moves due delayed jobs and expired leases of a type to its
// ready set.
func (q *RedisQueue) promote(ctx context.Context, jobType string) error {
	now := time.Now()
	if err := q.requeue(ctx, jobType, delayedKey(jobType), now); err != nil {
		return err
	}
	return q.requeue(ctx, jobType, activeKey(jobType), now)
}

func (q *RedisQueue) requeue(ctx context.Context, jobType, from string, now time.Time) error {
	ids, err := q.rdb.ZRangeByScore(ctx, from, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return fmt.Errorf("zrangebyscore failed: %w", err)
	}

	for _, id := range ids {
		removed, err := q.rdb.ZRem(ctx, from, id).Result()
		if err != nil {
			return fmt.Errorf("zrem failed: %w", err)
		}
		if removed == 0 {
			continue // another worker moved it
		}
		job, err := q.load(ctx, id)
		if err != nil {
			return err
		}
		if job == nil {
			continue
		}
		if from == activeKey(jobType) {
			q.log.Warn("Job lease expired, requeueing", "type", jobType, "name", job.Name, "attempt", job.Attempt)
		}
		if err := q.rdb.ZAdd(ctx, readyKey(jobType), redis.Z{Score: readyScore(job.Priority, now), Member: id}).Err(); err != nil {
			return fmt.Errorf("zadd failed: %w", err)
		}
	}
	return nil
}

func (q *RedisQueue) load(ctx context.Context, id string) (*Job, error) {
	raw, err := q.rdb.Get(ctx, dataKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	return &job, nil
}

// Pop returns the next ready job of the given type and leases it until
// Complete or Retry.
func (q *RedisQueue) Pop(ctx context.Context, jobType string) (*Job, error) {
	if err := q.promote(ctx, jobType); err != nil {
		return nil, err
	}

	for {
		deadline := time.Now().Add(q.lease).UnixMilli()
		id, err := popScript.Run(ctx, q.rdb, []string{readyKey(jobType), activeKey(jobType)}, deadline).Text()
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoJob
		}
		if err != nil {
			return nil, fmt.Errorf("failed to pop job: %w", err)
		}

		job, err := q.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if job == nil {
			// Data expired but id still queued; drop it.
			_ = q.rdb.ZRem(ctx, activeKey(jobType), id).Err()
			continue
		}
		return job, nil
	}
}

// Complete releases the job name and removes the job data.
func (q *RedisQueue) Complete(ctx context.Context, job *Job) error {
	pipe := q.rdb.TxPipeline()
	pipe.Del(ctx, dataKey(job.ID))
	pipe.Del(ctx, nameKey(job.Name))
	pipe.ZRem(ctx, activeKey(job.Type), job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

// Retry schedules another attempt after delay, keeping the name locked.
func (q *RedisQueue) Retry(ctx context.Context, job *Job, delay time.Duration) error {
	job.Attempt++
	job.RunAt = time.Now().Add(delay)

	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := q.rdb.TxPipeline()
	pipe.Set(ctx, dataKey(job.ID), raw, q.nameTTL+delay)
	pipe.Expire(ctx, nameKey(job.Name), q.nameTTL+delay)
	pipe.ZRem(ctx, activeKey(job.Type), job.ID)
	pipe.ZAdd(ctx, delayedKey(job.Type), redis.Z{Score: float64(job.RunAt.UnixMilli()), Member: job.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to schedule retry: %w", err)
	}
	return nil
}

// Pending returns how many jobs of a type are ready or delayed. Jobs held
// by a worker are not counted.
func (q *RedisQueue) Pending(ctx context.Context, jobType string) (int64, error) {
	ready, err := q.rdb.ZCard(ctx, readyKey(jobType)).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard failed: %w", err)
	}
	delayed, err := q.rdb.ZCard(ctx, delayedKey(jobType)).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard failed: %w", err)
	}
	return ready + delayed, nil
}
