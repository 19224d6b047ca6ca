package delay

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store backed by timers. Used in tests and
// for single-node development without Redis. Semantics match RedisStore:
// rewriting a key re-arms its timer, and expiry delivers the key name.
type MemoryStore struct {
	mu      sync.Mutex
	timers  map[string]*time.Timer
	values  map[string]string
	expired chan string
	closed  bool
}

// NewMemoryStore creates an empty in-memory delay store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		timers:  make(map[string]*time.Timer),
		values:  make(map[string]string),
		expired: make(chan string, 64),
	}
}

// SetWithTTL implements Store.
func (s *MemoryStore) SetWithTTL(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}

	if t, ok := s.timers[key]; ok {
		t.Stop()
	}
	s.values[key] = value
	s.timers[key] = time.AfterFunc(ttl, func() { s.fire(key) })
	return nil
}

func (s *MemoryStore) fire(key string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	delete(s.timers, key)
	delete(s.values, key)
	s.mu.Unlock()

	s.expired <- key
}

// SubscribeExpirations implements Store.
func (s *MemoryStore) SubscribeExpirations(ctx context.Context) (<-chan string, error) {
	out := make(chan string)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case key, ok := <-s.expired:
				if !ok {
					return
				}
				select {
				case out <- key:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Get returns a pending key's value, for inspection before expiry.
func (s *MemoryStore) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// PendingKeys returns the number of armed keys.
func (s *MemoryStore) PendingKeys() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, t := range s.timers {
		t.Stop()
	}
	return nil
}
