package pool

import (
	"sync"
	"time"
)

// DefaultMaxIdlePerPool caps how many idle streams a single endpoint's pool
// keeps warm; beyond this, checked-in streams are closed instead of queued.
const DefaultMaxIdlePerPool = 16

// DefaultReapInterval is how often the registry's reaper goroutine sweeps
// every pool for idle streams older than DefaultMaxIdleAge.
const DefaultReapInterval = 30 * time.Second

// DefaultMaxIdleAge is how long a checked-in stream may sit idle before the
// reaper closes it.
const DefaultMaxIdleAge = 90 * time.Second

// Registry interns one Pool per endpoint key under a single mutex, per
// §4.1's "process-wide registry" and §5's shared-resource policy.
type Registry struct {
	mu    sync.Mutex
	pools map[string]*Pool

	reapInterval time.Duration
	maxIdleAge   time.Duration
	stopReaper   chan struct{}
	reaperOnce   sync.Once
}

// NewRegistry returns an empty Registry and starts its idle-stream reaper.
func NewRegistry() *Registry {
	r := &Registry{
		pools:        make(map[string]*Pool),
		reapInterval: DefaultReapInterval,
		maxIdleAge:   DefaultMaxIdleAge,
		stopReaper:   make(chan struct{}),
	}
	go r.reapLoop()
	return r
}

// Acquire returns a shared handle to the pool for endpointKey, creating it
// on first use. dial is nil for a Publisher's reverse pool (init=false);
// every other caller passes a real Dialer. Acquire increments the pool's
// reference count; callers must call Release exactly once when done sharing
// the key (e.g. when the owning Provider is torn down on config reload).
func (r *Registry) Acquire(endpointKey string, dial Dialer) *Pool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pools[endpointKey]
	if !ok {
		p = newPool(endpointKey, dial, DefaultMaxIdlePerPool)
		r.pools[endpointKey] = p
	}
	p.mu.Lock()
	p.acquisitions++
	p.mu.Unlock()
	return p
}

// Release drops one share of the pool for endpointKey. When the share count
// reaches zero, the pool is removed from the registry and its idle streams
// are closed - §4.1's "acquisition_count == 0 ⇒ pool may be destroyed".
func (r *Registry) Release(endpointKey string) {
	r.mu.Lock()
	p, ok := r.pools[endpointKey]
	if !ok {
		r.mu.Unlock()
		return
	}
	p.mu.Lock()
	p.acquisitions--
	dead := p.acquisitions <= 0
	p.mu.Unlock()
	if dead {
		delete(r.pools, endpointKey)
	}
	r.mu.Unlock()

	if dead {
		p.Close()
	}
}

// Snapshot returns a Stats entry for every live pool, for /debug/pools.
func (r *Registry) Snapshot() []Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Stats, 0, len(r.pools))
	for _, p := range r.pools {
		out = append(out, p.Stats())
	}
	return out
}

func (r *Registry) reapLoop() {
	ticker := time.NewTicker(r.reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.mu.Lock()
			pools := make([]*Pool, 0, len(r.pools))
			for _, p := range r.pools {
				pools = append(pools, p)
			}
			r.mu.Unlock()
			for _, p := range pools {
				p.reapIdleOlderThan(r.maxIdleAge)
			}
		case <-r.stopReaper:
			return
		}
	}
}

// Shutdown stops the reaper goroutine and closes every pool's idle streams.
func (r *Registry) Shutdown() {
	r.reaperOnce.Do(func() { close(r.stopReaper) })
	r.mu.Lock()
	pools := make([]*Pool, 0, len(r.pools))
	for k, p := range r.pools {
		pools = append(pools, p)
		delete(r.pools, k)
	}
	r.mu.Unlock()
	for _, p := range pools {
		p.Close()
	}
}
