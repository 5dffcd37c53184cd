package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"chromi/internal/logging"
	"chromi/internal/metrics"
)

const backendLocal = "local"

type localJob struct {
	id       string
	payload  Payload
	enqueued time.Time
}

type localRecord struct {
	status  Status
	expires time.Time
}

// Local runs jobs on a fixed pool of goroutines in this process. Job
// records live in memory and are dropped retention after they finish.
type Local struct {
	handler   Handler
	workers   int
	retention time.Duration
	jobs      chan localJob
	now       func() time.Time

	mu      sync.Mutex
	records map[string]*localRecord
	closed  bool

	wg sync.WaitGroup
}

// NewLocal creates a pool of workers goroutines with room for buffer
// pending jobs. Call Start before enqueueing.
func NewLocal(handler Handler, workers, buffer int, retention time.Duration) *Local {
	if workers < 1 {
		workers = 1
	}
	if buffer < 1 {
		buffer = workers * 4
	}
	if retention <= 0 {
		retention = defaultRetention
	}
	return &Local{
		handler:   handler,
		workers:   workers,
		retention: retention,
		jobs:      make(chan localJob, buffer),
		now:       time.Now,
		records:   make(map[string]*localRecord),
	}
}

// Start launches the worker goroutines. ctx is passed to every job.
func (q *Local) Start(ctx context.Context) {
	logging.Info("Starting local job queue with %d workers", q.workers)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
}

// Close stops accepting jobs and waits for queued and running jobs to end.
func (q *Local) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	q.wg.Wait()
}

// Enabled implements Queue.
func (q *Local) Enabled() bool { return true }

// Enqueue implements Queue. A full buffer is reported as
// ErrQueueUnavailable rather than blocking the request.
func (q *Local) Enqueue(_ context.Context, task string, p Payload) (Handle, error) {
	if task != TaskConvert {
		return Handle{}, fmt.Errorf("%w: %s", ErrUnknownTask, task)
	}

	id := ulid.Make().String()

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return Handle{}, ErrQueueUnavailable
	}

	select {
	case q.jobs <- localJob{id: id, payload: p, enqueued: q.now()}:
	default:
		return Handle{}, fmt.Errorf("%w: local queue full", ErrQueueUnavailable)
	}

	q.records[id] = &localRecord{status: Status{ID: id, Status: StatusQueued}}
	q.pruneLocked()
	metrics.QueueJobsTotal.WithLabelValues(backendLocal, "enqueued").Inc()
	return Handle{ID: id}, nil
}

// Fetch implements Queue.
func (q *Local) Fetch(_ context.Context, id string) (Status, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pruneLocked()
	rec, ok := q.records[id]
	if !ok {
		return Status{}, ErrJobNotFound
	}
	return rec.status, nil
}

// Depth returns the number of jobs waiting for a worker.
func (q *Local) Depth() int {
	return len(q.jobs)
}

func (q *Local) worker(ctx context.Context) {
	defer q.wg.Done()
	for j := range q.jobs {
		q.run(ctx, j)
	}
}

func (q *Local) run(ctx context.Context, j localJob) {
	metrics.QueueWaitDuration.WithLabelValues(backendLocal).Observe(q.now().Sub(j.enqueued).Seconds())
	metrics.QueueJobsTotal.WithLabelValues(backendLocal, "started").Inc()
	q.setStatus(j.id, Status{ID: j.id, Status: StatusProcessing}, time.Time{})

	logging.Debug("Local queue: running job %s", j.id)
	result := q.handler(ctx, j.id, j.payload)

	st := Status{ID: j.id, Status: resultStatus(result), Result: &result}
	if result.ConvertedURL != "" {
		st.Meta = map[string]string{"converted_url": result.ConvertedURL}
	}
	q.setStatus(j.id, st, q.now().Add(q.retention))
	metrics.QueueJobsTotal.WithLabelValues(backendLocal, st.Status).Inc()

	if !result.Success {
		logging.Warn("Local queue: job %s failed: %s", j.id, result.Error)
	}
}

func (q *Local) setStatus(id string, st Status, expires time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.records[id] = &localRecord{status: st, expires: expires}
}

// pruneLocked drops finished records past their retention.
func (q *Local) pruneLocked() {
	now := q.now()
	for id, rec := range q.records {
		if !rec.expires.IsZero() && now.After(rec.expires) {
			delete(q.records, id)
		}
	}
}
