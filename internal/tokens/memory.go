package tokens

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/simplelru"

	"chromi/internal/logging"
	"chromi/internal/metrics"
)

// ReleaseFunc deletes a file nobody will redeem anymore.
type ReleaseFunc func(path string) error

type entry struct {
	path    string
	expires time.Time
	// claimed is set before a redeemed entry is removed so eviction
	// leaves its file alone.
	claimed bool
}

// MemoryStore keeps tokens in a bounded LRU. When capacity is exceeded the
// least recently issued token is dropped and its file released.
type MemoryStore struct {
	mu      sync.Mutex
	lru     *simplelru.LRU
	release ReleaseFunc
	now     func() time.Time

	// orphans collects paths evicted while mu is held; they are released
	// after unlocking.
	orphans []string

	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
	stop      chan struct{}
	done      chan struct{}
}

// NewMemoryStore creates a store holding at most capacity tokens. release
// may be nil.
func NewMemoryStore(capacity int, release ReleaseFunc) (*MemoryStore, error) {
	s := &MemoryStore{
		release: release,
		now:     time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	lru, err := simplelru.NewLRU(capacity, s.onEvict)
	if err != nil {
		return nil, fmt.Errorf("create token cache: %w", err)
	}
	s.lru = lru
	return s, nil
}

// onEvict runs under s.mu for every removal from the LRU.
func (s *MemoryStore) onEvict(_ interface{}, value interface{}) {
	e := value.(*entry)
	if e.claimed {
		return
	}

	if s.now().After(e.expires) {
		metrics.TokenEvictionsTotal.WithLabelValues(metrics.EvictExpired).Inc()
	} else {
		metrics.TokenEvictionsTotal.WithLabelValues(metrics.EvictCapacity).Inc()
		logging.Warn("Token store full, evicting unredeemed download")
	}
	s.orphans = append(s.orphans, e.path)
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, path string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", fmt.Errorf("token ttl must be positive, got %v", ttl)
	}

	token := newToken()

	s.mu.Lock()
	s.lru.Add(token, &entry{path: path, expires: s.now().Add(ttl)})
	orphans := s.takeOrphans()
	s.mu.Unlock()

	s.releaseAll(orphans)
	metrics.TokensIssuedTotal.Inc()
	return token, nil
}

// TakeOnce implements Store.
func (s *MemoryStore) TakeOnce(_ context.Context, token string) (string, error) {
	if !validToken(token) {
		metrics.TokenRedemptionsTotal.WithLabelValues(metrics.RedeemNotFound).Inc()
		return "", ErrTokenNotFound
	}

	s.mu.Lock()
	v, ok := s.lru.Peek(token)
	var path string
	if ok {
		e := v.(*entry)
		if s.now().After(e.expires) {
			ok = false
		} else {
			e.claimed = true
			path = e.path
		}
		s.lru.Remove(token)
	}
	orphans := s.takeOrphans()
	s.mu.Unlock()

	s.releaseAll(orphans)

	if !ok {
		metrics.TokenRedemptionsTotal.WithLabelValues(metrics.RedeemNotFound).Inc()
		return "", ErrTokenNotFound
	}
	metrics.TokenRedemptionsTotal.WithLabelValues(metrics.RedeemSuccess).Inc()
	return path, nil
}

// Len returns the number of unredeemed tokens, including expired ones not
// yet swept.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}

// RemoveExpired drops expired tokens and releases their files. It returns
// how many were removed.
func (s *MemoryStore) RemoveExpired() int {
	s.mu.Lock()
	now := s.now()
	removed := 0
	for _, k := range s.lru.Keys() {
		v, ok := s.lru.Peek(k)
		if !ok {
			continue
		}
		if now.After(v.(*entry).expires) {
			s.lru.Remove(k)
			removed++
		}
	}
	orphans := s.takeOrphans()
	s.mu.Unlock()

	s.releaseAll(orphans)
	if removed > 0 {
		logging.Debug("Expired %d download tokens", removed)
	}
	return removed
}

// Start runs RemoveExpired every interval until Stop is called.
func (s *MemoryStore) Start(interval time.Duration) {
	s.startOnce.Do(func() {
		s.mu.Lock()
		s.started = true
		s.mu.Unlock()
		go s.expiryLoop(interval)
	})
}

func (s *MemoryStore) expiryLoop(interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RemoveExpired()
		case <-s.stop:
			return
		}
	}
}

// Stop ends the expiry loop started by Start and waits for it to exit.
func (s *MemoryStore) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.mu.Lock()
		started := s.started
		s.mu.Unlock()
		if started {
			<-s.done
		}
	})
}

func (s *MemoryStore) takeOrphans() []string {
	o := s.orphans
	s.orphans = nil
	return o
}

func (s *MemoryStore) releaseAll(paths []string) {
	if s.release == nil {
		return
	}
	for _, p := range paths {
		if err := s.release(p); err != nil {
			logging.Warn("Failed to release expired download %s: %v", p, err)
		}
	}
}
