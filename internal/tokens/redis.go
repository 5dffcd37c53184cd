package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"chromi/internal/metrics"
)

const redisKeyPrefix = "chromi:token:"

// RedisStore keeps tokens in Redis so a worker process can mint tokens the
// web process redeems. Expired keys vanish on their own; their files are
// reclaimed by the file manager sweep.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, path string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", fmt.Errorf("token ttl must be positive, got %v", ttl)
	}

	token := newToken()
	if err := s.client.Set(ctx, redisKeyPrefix+token, path, ttl).Err(); err != nil {
		return "", fmt.Errorf("store download token: %w", err)
	}

	metrics.TokensIssuedTotal.Inc()
	return token, nil
}

// TakeOnce implements Store. GETDEL makes the read and the delete a single
// atomic step.
func (s *RedisStore) TakeOnce(ctx context.Context, token string) (string, error) {
	if !validToken(token) {
		metrics.TokenRedemptionsTotal.WithLabelValues(metrics.RedeemNotFound).Inc()
		return "", ErrTokenNotFound
	}

	path, err := s.client.GetDel(ctx, redisKeyPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		metrics.TokenRedemptionsTotal.WithLabelValues(metrics.RedeemNotFound).Inc()
		return "", ErrTokenNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redeem download token: %w", err)
	}

	metrics.TokenRedemptionsTotal.WithLabelValues(metrics.RedeemSuccess).Inc()
	return path, nil
}
