// Package redisconn builds the shared Redis client used by the token store,
// the job queue and the sweep lock.
package redisconn

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"

	"chromi/internal/logging"
)

// Connect parses url, which may list several comma-separated addresses for a
// cluster, and pings the server before returning.
func Connect(ctx context.Context, url string) (redis.UniversalClient, error) {
	if url == "" {
		return nil, fmt.Errorf("redis URL must be provided")
	}

	opts, err := buildUniversalOptions(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if len(opts.Addrs) > 1 && opts.DB != 0 {
		logging.Warn("Ignoring non-zero Redis DB for cluster configuration")
		opts.DB = 0
	}

	client := redis.NewUniversalClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.Info("Connected to Redis at %s", strings.Join(opts.Addrs, ","))
	return client, nil
}

func buildUniversalOptions(raw string) (*redis.UniversalOptions, error) {
	opts := &redis.UniversalOptions{}

	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if !strings.Contains(part, "://") {
			opts.Addrs = append(opts.Addrs, part)
			continue
		}

		parsed, err := redis.ParseURL(part)
		if err != nil {
			return nil, err
		}
		opts.Addrs = append(opts.Addrs, parsed.Addr)

		// First URL wins for shared settings
		if opts.Username == "" {
			opts.Username = parsed.Username
		}
		if opts.Password == "" {
			opts.Password = parsed.Password
		}
		if opts.DB == 0 {
			opts.DB = parsed.DB
		}
		if opts.TLSConfig == nil {
			opts.TLSConfig = parsed.TLSConfig
		}
	}

	if len(opts.Addrs) == 0 {
		return nil, fmt.Errorf("no Redis addresses provided")
	}

	return opts, nil
}

// Locker serializes work across replicas that share a Redis server.
type Locker struct {
	rs *redsync.Redsync
}

// NewLocker creates a Locker on client.
func NewLocker(client redis.UniversalClient) *Locker {
	return &Locker{rs: redsync.New(goredis.NewPool(client))}
}

// TryWithLock runs fn if the named lock can be taken right now. It reports
// whether fn ran; a lock held elsewhere is not an error.
func (l *Locker) TryWithLock(ctx context.Context, name string, ttl time.Duration, fn func() error) (bool, error) {
	mutex := l.rs.NewMutex(name, redsync.WithExpiry(ttl), redsync.WithTries(1))

	if err := mutex.TryLockContext(ctx); err != nil {
		logging.Debug("Lock %s not acquired: %v", name, err)
		return false, nil
	}

	defer func() {
		if _, err := mutex.UnlockContext(context.WithoutCancel(ctx)); err != nil {
			logging.Warn("Failed to release lock %s: %v", name, err)
		}
	}()

	return true, fn()
}
