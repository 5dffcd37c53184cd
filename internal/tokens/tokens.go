// Package tokens implements the single-use download token store.
//
// A token maps to exactly one converted file. It can be redeemed once with
// TakeOnce; after that, or after its TTL, it resolves to ErrTokenNotFound
// forever.
package tokens

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrTokenNotFound is returned for unknown, expired or already redeemed tokens.
var ErrTokenNotFound = errors.New("download token not found or expired")

// Store is implemented by MemoryStore and RedisStore.
type Store interface {
	// Put registers path and returns a fresh token valid for ttl.
	Put(ctx context.Context, path string, ttl time.Duration) (string, error)
	// TakeOnce atomically resolves and invalidates token.
	TakeOnce(ctx context.Context, token string) (string, error)
}

// newToken returns 122 bits of randomness as 32 lowercase hex characters.
func newToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// validToken rejects values that newToken could never have produced, so
// junk never reaches the backend.
func validToken(token string) bool {
	if len(token) != 32 {
		return false
	}
	_, err := hex.DecodeString(token)
	return err == nil && strings.ToLower(token) == token
}
