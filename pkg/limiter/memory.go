package limiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// visitor tracks the limiter and last seen time for a key.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryStore keeps one rate.Limiter per key in process memory.
// Entries idle for longer than the idle timeout are evicted.
type MemoryStore struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	idle     time.Duration
	now      func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemoryStore creates a store and starts its cleanup loop.
// Call Close to stop the loop.
func NewMemoryStore(idle time.Duration) *MemoryStore {
	if idle <= 0 {
		idle = 3 * time.Minute
	}
	s := &MemoryStore{
		visitors: make(map[string]*visitor),
		idle:     idle,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	go s.cleanupLoop(time.Minute)
	return s
}

// Allow implements Store.
func (s *MemoryStore) Allow(_ context.Context, key string, policy Policy) (bool, error) {
	if !policy.Enabled() {
		return true, nil
	}
	now := s.now()
	return s.limiterFor(key, policy, now).AllowN(now, 1), nil
}

func (s *MemoryStore) limiterFor(key string, policy Policy, now time.Time) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(policy.RPS), policy.Burst)}
		s.visitors[key] = v
	} else {
		if v.limiter.Limit() != rate.Limit(policy.RPS) {
			v.limiter.SetLimitAt(now, rate.Limit(policy.RPS))
		}
		if v.limiter.Burst() != policy.Burst {
			v.limiter.SetBurstAt(now, policy.Burst)
		}
	}
	v.lastSeen = now
	return v.limiter
}

// Len returns the number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.visitors)
}

// Sweep evicts keys idle for longer than the idle timeout.
func (s *MemoryStore) Sweep() {
	cutoff := s.now().Add(-s.idle)
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, v := range s.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(s.visitors, key)
		}
	}
}

// Close stops the cleanup loop.
func (s *MemoryStore) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *MemoryStore) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-s.stop:
			return
		}
	}
}
