package filesystem

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"chromi/internal/logging"
)

// ErrOutsideRoot is returned when a path handed to a Manager does not live
// directly inside its directory.
var ErrOutsideRoot = errors.New("path outside managed directory")

// Manager owns one directory of short-lived files. Every file it hands out
// has a random name, and every file it hands out is eventually released by
// its holder, a Scope, or Sweep.
type Manager struct {
	area string
	dir  string
}

// NewManager creates dir if needed and returns a Manager for it. area is
// the label used in logs and metrics ("uploads", "converted").
func NewManager(area, dir string) (*Manager, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s directory: %w", area, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create %s directory: %w", area, err)
	}
	return &Manager{area: area, dir: abs}, nil
}

// Dir returns the absolute managed directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Area returns the manager's label.
func (m *Manager) Area() string {
	return m.area
}

// Allocate creates an empty file named <uuid><suffix> and returns its path.
func (m *Manager) Allocate(suffix string) (string, error) {
	path := filepath.Join(m.dir, uuid.NewString()+suffix)

	start := time.Now()
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	observe().ObserveOperation(m.area, "create", time.Since(start).Seconds(), err)
	if err != nil {
		return "", fmt.Errorf("allocate %s file: %w", m.area, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("allocate %s file: %w", m.area, err)
	}

	observe().ObserveAllocate(m.area)
	logging.Debug("Allocated %s", path)
	return path, nil
}

// AllocateDir creates an empty scratch directory. It is released like a
// file; Release removes it with its contents.
func (m *Manager) AllocateDir(suffix string) (string, error) {
	path := filepath.Join(m.dir, uuid.NewString()+suffix)
	if err := os.Mkdir(path, 0o755); err != nil {
		return "", fmt.Errorf("allocate %s directory: %w", m.area, err)
	}
	observe().ObserveAllocate(m.area)
	return path, nil
}

// Resolve maps a bare file name (as carried in queue payloads) to its path
// inside the managed directory.
func (m *Manager) Resolve(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, name)
	}
	return filepath.Join(m.dir, name), nil
}

// Owns reports whether path lives directly inside the managed directory.
func (m *Manager) Owns(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	return filepath.Dir(abs) == m.dir
}

// Release deletes path. Releasing a path that no longer exists is not an
// error, so Release may be called any number of times.
func (m *Manager) Release(path string) error {
	if path == "" {
		return nil
	}
	if !m.Owns(path) {
		return fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}

	start := time.Now()
	info, err := os.Lstat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err == nil {
		if info.IsDir() {
			err = os.RemoveAll(path)
		} else {
			err = os.Remove(path)
		}
	}
	if errors.Is(err, os.ErrNotExist) {
		err = nil
	}
	observe().ObserveOperation(m.area, "remove", time.Since(start).Seconds(), err)
	if err != nil {
		logging.Warn("Failed to release %s: %v", path, err)
		return fmt.Errorf("release %s: %w", path, err)
	}

	observe().ObserveRelease(m.area)
	logging.Debug("Released %s", path)
	return nil
}

// Sweep removes entries older than maxAge. It catches files orphaned by a
// crash, a killed worker, or a token that expired outside this process.
func (m *Manager) Sweep(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return 0, fmt.Errorf("sweep %s: %w", m.area, err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	var errs []error

	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(m.dir, entry.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}

	if removed > 0 {
		observe().ObserveSweep(removed)
		logging.Info("Swept %d orphaned %s entries older than %v", removed, m.area, maxAge)
	}
	return removed, errors.Join(errs...)
}

// Scope collects paths that must be released when a unit of work ends,
// unless ownership is handed to someone else with Keep.
//
//	scope := filesystem.NewScope()
//	defer scope.Close()
//	out, err := scope.Allocate(converted, ".gif")
//	...
//	scope.Keep(out) // token store owns it now
type Scope struct {
	mu    sync.Mutex
	owned map[string]*Manager
	order []string
}

// NewScope returns an empty Scope.
func NewScope() *Scope {
	return &Scope{owned: make(map[string]*Manager)}
}

// Allocate allocates through m and tracks the new path.
func (s *Scope) Allocate(m *Manager, suffix string) (string, error) {
	path, err := m.Allocate(suffix)
	if err != nil {
		return "", err
	}
	s.Track(m, path)
	return path, nil
}

// AllocateDir allocates a scratch directory through m and tracks it.
func (s *Scope) AllocateDir(m *Manager, suffix string) (string, error) {
	path, err := m.AllocateDir(suffix)
	if err != nil {
		return "", err
	}
	s.Track(m, path)
	return path, nil
}

// Track adds an existing path owned by m to the scope.
func (s *Scope) Track(m *Manager, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.owned[path]; !ok {
		s.order = append(s.order, path)
	}
	s.owned[path] = m
}

// Keep hands path off; Close will not release it.
func (s *Scope) Keep(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.owned, path)
}

// Close releases every path still owned by the scope, newest first.
// It is safe to call more than once.
func (s *Scope) Close() {
	s.mu.Lock()
	order := s.order
	owned := s.owned
	s.order = nil
	s.owned = make(map[string]*Manager)
	s.mu.Unlock()

	for i := len(order) - 1; i >= 0; i-- {
		m, ok := owned[order[i]]
		if !ok {
			continue
		}
		_ = m.Release(order[i])
	}
}
