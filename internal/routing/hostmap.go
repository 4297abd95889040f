// Package routing implements the gateway's two-stage request routing:
// HostMap resolves a request's Host header (with wildcard support) to a
// Host, and Host resolves a request's URI path to a Provider by longest
// registered prefix. See spec §4.2-4.3.
package routing

import (
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// HostMap maps hostnames - exact or wildcard ("*.example.com") - to Hosts.
// It is built once per config (re)load and is effectively immutable
// afterwards except for its lookup cache, which only ever adds entries.
type HostMap struct {
	mu sync.RWMutex

	exact map[string]*Host

	// wildcards is keyed by the reversed remainder after stripping the
	// leading "*.", e.g. "*.example.com" is stored under "moc.elpmaxe".
	// Reversing turns a suffix match into a prefix match.
	wildcards map[string]*Host

	// cache remembers a previously resolved hostname (positive or
	// negative) so repeat lookups skip the wildcard probe. It is an
	// unbounded map by design (§4.2: "bounded implicitly by the set of
	// hostnames actually seen").
	cache map[string]*Host

	// group collapses concurrent cache misses for the same hostname into a
	// single wildcard probe, so a burst of requests for one unknown host
	// doesn't each walk the full wildcard index.
	group singleflight.Group
}

// NewHostMap returns an empty HostMap ready for Insert calls.
func NewHostMap() *HostMap {
	return &HostMap{
		exact:     make(map[string]*Host),
		wildcards: make(map[string]*Host),
		cache:     make(map[string]*Host),
	}
}

// Insert registers a Host under hostname, which may be an exact name or a
// "*.suffix" wildcard pattern.
func (m *HostMap) Insert(hostname string, h *Host) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if strings.HasPrefix(hostname, "*.") {
		suffix := hostname[2:]
		m.wildcards[reverseString(suffix)] = h
		return
	}
	m.exact[hostname] = h
}

// Lookup resolves hostname to a Host. Exact match wins over wildcard; among
// wildcards, the longest reversed-prefix ending on a '.'-boundary wins
// (§4.2, §8). The caller is expected to have already stripped any ":port"
// suffix (util.StripPort) - HostMap itself never strips ports, to keep the
// policy decision in one place per spec's resolved Open Question.
func (m *HostMap) Lookup(hostname string) *Host {
	m.mu.RLock()
	if h, ok := m.exact[hostname]; ok {
		m.mu.RUnlock()
		return h
	}
	if h, ok := m.cache[hostname]; ok {
		m.mu.RUnlock()
		return h
	}
	m.mu.RUnlock()

	// Cache miss: probe wildcards and insert, per §4.2's double-checked
	// upgrade path. singleflight collapses every concurrent miss for the
	// same hostname into the one goroutine that actually runs this probe;
	// the rest just wait for its result.
	v, _, _ := m.group.Do(hostname, func() (any, error) {
		m.mu.RLock()
		if existing, ok := m.cache[hostname]; ok {
			m.mu.RUnlock()
			return existing, nil
		}
		m.mu.RUnlock()

		h := m.probeWildcard(hostname)

		m.mu.Lock()
		m.cache[hostname] = h
		m.mu.Unlock()
		return h, nil
	})
	return v.(*Host)
}

// probeWildcard finds the longest wildcard suffix matching hostname. It
// must be called without holding m.mu.
func (m *HostMap) probeWildcard(hostname string) *Host {
	reversed := reverseString(hostname)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *Host
	bestLen := -1
	for suffix, h := range m.wildcards {
		if !strings.HasPrefix(reversed, suffix) {
			continue
		}
		// "*.example.com" must not match the bare apex "example.com"
		// (that would require reversed == suffix exactly), and the
		// character following the matched suffix must be a '.' so that
		// "notexample.com" doesn't spuriously match "*.example.com".
		if len(suffix) == len(reversed) || reversed[len(suffix)] != '.' {
			continue
		}
		if len(suffix) > bestLen {
			best = h
			bestLen = len(suffix)
		}
	}
	return best
}

// Entries returns every registered hostname pattern paired with its Host,
// for the /debug/routes diagnostic endpoint. Wildcard patterns are
// reconstructed back into their "*.suffix" form.
func (m *HostMap) Entries() map[string]*Host {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]*Host, len(m.exact)+len(m.wildcards))
	for name, h := range m.exact {
		out[name] = h
	}
	for reversed, h := range m.wildcards {
		out["*."+reverseString(reversed)] = h
	}
	return out
}

func reverseString(s string) string {
	runes := []rune(s)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes)
}
