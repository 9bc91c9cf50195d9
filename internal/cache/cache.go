package cache

import (
	"log/slog"
	"sync"
	"time"

	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/log"
)

// Cache is a keyed store of T with bounded lifetime.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, data T)
	Delete(key string)
	// DeletePrefix drops every key starting with prefix and returns how
	// many were removed.
	DeletePrefix(prefix string) int
	Size() int
}

// Cleaner is implemented by caches that can drop expired items on demand.
type Cleaner interface {
	CleanExpired() int
}

// Manager sweeps expired items from registered caches on an interval.
type Manager struct {
	mu       sync.Mutex
	caches   []Cleaner
	started  bool
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewManager() *Manager {
	return &Manager{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

func (m *Manager) Register(c Cleaner) {
	m.mu.Lock()
	m.caches = append(m.caches, c)
	m.mu.Unlock()
}

// StartCleanup begins periodic cleanup of all registered caches
func (m *Manager) StartCleanup(interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	go m.cleanup(interval)
}

// Sweep cleans every registered cache once and returns the number of
// expired items removed.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	caches := append([]Cleaner(nil), m.caches...)
	m.mu.Unlock()

	total := 0
	for _, c := range caches {
		total += c.CleanExpired()
	}
	return total
}

func (m *Manager) cleanup(interval time.Duration) {
	defer close(m.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				slog.Debug("Expired cache items removed", log.FieldComponent, log.ComponentCache, "count", n)
			}
		case <-m.stop:
			return
		}
	}
}

// Stop ends the cleanup goroutine started by StartCleanup. It is safe to
// call more than once, and a no-op when cleanup never started.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		started := m.started
		m.mu.Unlock()
		close(m.stop)
		if started {
			<-m.done
		}
	})
}
