package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"chromi/internal/logging"
	"chromi/internal/metrics"
)

const (
	backendRedis = "redis"

	// QueueKey is the Redis list jobs are pushed to.
	QueueKey  = "chromi:jobs:queue"
	jobPrefix = "chromi:job:"
)

func jobKey(id string) string {
	return jobPrefix + id
}

type envelope struct {
	ID         string    `json:"id"`
	Task       string    `json:"task"`
	Payload    Payload   `json:"payload"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Redis keeps pending jobs in a list and job state in one hash per job.
// The web process enqueues and fetches; chromi-worker consumes.
type Redis struct {
	client      redis.UniversalClient
	retention   time.Duration
	pollTimeout time.Duration
}

// NewRedis creates a Redis-backed queue. retention bounds how long job
// hashes live.
func NewRedis(client redis.UniversalClient, retention time.Duration) *Redis {
	if retention <= 0 {
		retention = defaultRetention
	}
	return &Redis{
		client:      client,
		retention:   retention,
		pollTimeout: 5 * time.Second,
	}
}

// Enabled implements Queue.
func (q *Redis) Enabled() bool { return true }

// Enqueue implements Queue. The job hash and the list entry are written in
// one transaction so a worker never sees a job without state.
func (q *Redis) Enqueue(ctx context.Context, task string, p Payload) (Handle, error) {
	if task != TaskConvert {
		return Handle{}, fmt.Errorf("%w: %s", ErrUnknownTask, task)
	}

	env := envelope{
		ID:         ulid.Make().String(),
		Task:       task,
		Payload:    p,
		EnqueuedAt: time.Now().UTC(),
	}
	body, err := json.Marshal(env)
	if err != nil {
		return Handle{}, fmt.Errorf("encode job: %w", err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, jobKey(env.ID), map[string]interface{}{
			"status":      StatusQueued,
			"task":        task,
			"enqueued_at": env.EnqueuedAt.Format(time.RFC3339Nano),
		})
		pipe.Expire(ctx, jobKey(env.ID), q.retention)
		pipe.LPush(ctx, QueueKey, body)
		return nil
	})
	if err != nil {
		return Handle{}, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}

	metrics.QueueJobsTotal.WithLabelValues(backendRedis, "enqueued").Inc()
	return Handle{ID: env.ID}, nil
}

// Fetch implements Queue.
func (q *Redis) Fetch(ctx context.Context, id string) (Status, error) {
	fields, err := q.client.HGetAll(ctx, jobKey(id)).Result()
	if err != nil {
		return Status{}, fmt.Errorf("fetch job %s: %w", id, err)
	}
	if len(fields) == 0 {
		return Status{}, ErrJobNotFound
	}

	st := Status{ID: id, Status: fields["status"]}
	if st.Status == StatusFinished || st.Status == StatusFailed {
		st.Result = &Result{
			Success:      st.Status == StatusFinished,
			ConvertedURL: fields["converted_url"],
			Error:        fields["error"],
		}
	}
	if u := fields["converted_url"]; u != "" {
		st.Meta = map[string]string{"converted_url": u}
	}
	return st, nil
}

// Depth returns the number of jobs waiting in the list.
func (q *Redis) Depth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, QueueKey).Result()
}

// Consume pops jobs and runs handler on each until ctx is cancelled. Jobs
// are processed one at a time; run several consumers for parallelism.
func (q *Redis) Consume(ctx context.Context, handler Handler) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		res, err := q.client.BLPop(ctx, q.pollTimeout, QueueKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.Error("Failed to pop from job queue: %v", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		if len(res) < 2 {
			continue
		}

		var env envelope
		if err := json.Unmarshal([]byte(res[1]), &env); err != nil {
			logging.Error("Discarding invalid job payload: %v", err)
			continue
		}

		q.process(ctx, env, handler)
	}
}

func (q *Redis) process(ctx context.Context, env envelope, handler Handler) {
	metrics.QueueWaitDuration.WithLabelValues(backendRedis).Observe(time.Since(env.EnqueuedAt).Seconds())

	if env.Task != TaskConvert {
		q.finish(ctx, env.ID, Result{Error: fmt.Sprintf("unknown task %q", env.Task)})
		return
	}

	if err := q.mark(ctx, env.ID, map[string]interface{}{"status": StatusProcessing}); err != nil {
		logging.Warn("Failed to mark job %s processing: %v", env.ID, err)
	}
	metrics.QueueJobsTotal.WithLabelValues(backendRedis, "started").Inc()

	logging.Info("Processing job %s", env.ID)
	q.finish(ctx, env.ID, handler(ctx, env.ID, env.Payload))
}

func (q *Redis) finish(ctx context.Context, id string, r Result) {
	status := resultStatus(r)
	fields := map[string]interface{}{
		"status":        status,
		"success":       r.Success,
		"converted_url": r.ConvertedURL,
		"error":         truncate(r.Error, 1024),
	}

	// Record the outcome even if shutdown cancelled ctx mid-job
	if err := q.mark(context.WithoutCancel(ctx), id, fields); err != nil {
		logging.Error("Failed to record result of job %s: %v", id, err)
	}
	metrics.QueueJobsTotal.WithLabelValues(backendRedis, status).Inc()

	if !r.Success {
		logging.Warn("Job %s failed: %s", id, r.Error)
	}
}

func (q *Redis) mark(ctx context.Context, id string, fields map[string]interface{}) error {
	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, jobKey(id), fields)
		pipe.Expire(ctx, jobKey(id), q.retention)
		return nil
	})
	return err
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
