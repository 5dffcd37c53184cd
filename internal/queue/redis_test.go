package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisQueue(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q := NewRedis(client, 10*time.Minute)
	q.pollTimeout = 50 * time.Millisecond
	return q, mr
}

func TestRedisEnqueueFetch(t *testing.T) {
	q, mr := newRedisQueue(t)
	ctx := context.Background()

	h, err := q.Enqueue(ctx, TaskConvert, Payload{UploadPath: "/w/uploads/a.mp4", OutputName: "a.gif", DurationSeconds: 6})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	st, err := q.Fetch(ctx, h.ID)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if st.Status != StatusQueued || st.Result != nil {
		t.Errorf("Fetch() = %+v, want queued without result", st)
	}

	if ttl := mr.TTL(jobKey(h.ID)); ttl != 10*time.Minute {
		t.Errorf("job hash TTL = %v, want 10m", ttl)
	}
	if depth, _ := q.Depth(ctx); depth != 1 {
		t.Errorf("Depth() = %d, want 1", depth)
	}

	if _, err := q.Fetch(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Fetch(missing) error = %v, want ErrJobNotFound", err)
	}
	if _, err := q.Enqueue(ctx, "other", Payload{}); !errors.Is(err, ErrUnknownTask) {
		t.Errorf("Enqueue(other) error = %v, want ErrUnknownTask", err)
	}
}

func TestRedisConsume(t *testing.T) {
	q, _ := newRedisQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ok, err := q.Enqueue(ctx, TaskConvert, Payload{OutputName: "ok.gif"})
	if err != nil {
		t.Fatal(err)
	}
	bad, err := q.Enqueue(ctx, TaskConvert, Payload{OutputName: "bad.gif"})
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		done <- q.Consume(ctx, func(_ context.Context, _ string, p Payload) Result {
			if p.OutputName == "bad.gif" {
				return Result{Error: "Conversion failed"}
			}
			return Result{Success: true, ConvertedURL: "/download/tok/"}
		})
	}()

	waitForStatus(t, q, ok.ID, StatusFinished)
	st := waitForStatus(t, q, bad.ID, StatusFailed)
	if st.Result == nil || st.Result.Error != "Conversion failed" {
		t.Errorf("failed job = %+v", st)
	}

	okStatus, _ := q.Fetch(context.Background(), ok.ID)
	if okStatus.ConvertedURL() != "/download/tok/" {
		t.Errorf("ConvertedURL() = %q", okStatus.ConvertedURL())
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Consume() returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Consume() did not return after cancel")
	}
}

func TestRedisConsumeSkipsGarbage(t *testing.T) {
	q, mr := newRedisQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := mr.Lpush(QueueKey, "{not json"); err != nil {
		t.Fatal(err)
	}
	h, err := q.Enqueue(ctx, TaskConvert, Payload{})
	if err != nil {
		t.Fatal(err)
	}

	go func() {
		_ = q.Consume(ctx, func(context.Context, string, Payload) Result {
			return Result{Success: true}
		})
	}()

	waitForStatus(t, q, h.ID, StatusFinished)
}

func TestRedisEnqueueBackendDown(t *testing.T) {
	q, mr := newRedisQueue(t)
	mr.Close()

	if _, err := q.Enqueue(context.Background(), TaskConvert, Payload{}); !errors.Is(err, ErrQueueUnavailable) {
		t.Errorf("Enqueue() with Redis down error = %v, want ErrQueueUnavailable", err)
	}
}
