package routing

import (
	"sort"
	"strings"
	"sync"
)

// Provider is the subset of internal/provider.Provider that routing needs
// to know about, kept minimal here to avoid a routing -> provider import
// cycle (provider.Host references routing.Host).
type Provider interface {
	// Name identifies the provider for diagnostics (e.g. /debug/routes).
	Name() string
}

// pathBinding pairs a registered prefix with its Provider.
type pathBinding struct {
	prefix   string
	provider Provider
}

// Host owns the prefix-indexed set of Providers for one virtual host. It is
// immutable after Build is called, so concurrent Lookup calls need no lock.
type Host struct {
	mu       sync.RWMutex
	bindings []pathBinding
	built    bool
	names    []string
}

// NewHost returns a Host with the given hostnames (for diagnostics only;
// HostMap is what actually does the name-based dispatch).
func NewHost(names ...string) *Host {
	return &Host{names: names}
}

// Names returns the hostnames this Host was registered under.
func (h *Host) Names() []string {
	return h.names
}

// AddProvider binds a Provider to a path prefix. Must be called before
// Build; panics if called after (Hosts are immutable once built, per the
// data model's "immutable after build" invariant).
func (h *Host) AddProvider(path string, p Provider) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.built {
		panic("routing: AddProvider called on a built Host")
	}
	h.bindings = append(h.bindings, pathBinding{prefix: normalizePrefix(path), provider: p})
}

// Build sorts the bindings by descending prefix length so Lookup can return
// on the first folder-boundary match, which is also the longest one.
func (h *Host) Build() {
	h.mu.Lock()
	defer h.mu.Unlock()
	sort.SliceStable(h.bindings, func(i, j int) bool {
		return len(h.bindings[i].prefix) > len(h.bindings[j].prefix)
	})
	h.built = true
}

// Lookup returns the Provider bound to the longest registered prefix that is
// a folder-boundary prefix of uriPath, and the index in uriPath where that
// prefix ends (the path_info offset, §4.3) - the sub-path the Provider will
// see starts at that offset.
func (h *Host) Lookup(uriPath string) (Provider, int, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, b := range h.bindings {
		if pos, ok := folderPrefixMatch(b.prefix, uriPath); ok {
			return b.provider, pos, true
		}
	}
	return nil, 0, false
}

// Providers returns every Provider registered on this Host, without their
// prefixes; the /debug/routes diagnostic endpoint reads Bindings instead.
func (h *Host) Providers() []Provider {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Provider, len(h.bindings))
	for i, b := range h.bindings {
		out[i] = b.provider
	}
	return out
}

// Binding pairs a registered path prefix with the Provider bound to it, for
// diagnostic enumeration (/debug/routes, startup route table).
type Binding struct {
	Prefix   string
	Provider Provider
}

// Bindings returns every (prefix, Provider) pair registered on this Host, in
// the same descending-prefix-length order Lookup matches them in.
func (h *Host) Bindings() []Binding {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Binding, len(h.bindings))
	for i, b := range h.bindings {
		out[i] = Binding{Prefix: b.prefix, Provider: b.provider}
	}
	return out
}

func normalizePrefix(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}

// folderPrefixMatch reports whether prefix is a folder-boundary prefix of
// path: either an exact match, or prefix followed immediately by "/" in
// path (so "/api" matches "/api/v1" but not "/apiary"). The root prefix "/"
// matches everything.
func folderPrefixMatch(prefix, path string) (int, bool) {
	if prefix == "/" {
		return 1, true
	}
	if path == prefix {
		return len(prefix), true
	}
	if strings.HasPrefix(path, prefix) && len(path) > len(prefix) && path[len(prefix)] == '/' {
		return len(prefix), true
	}
	return 0, false
}
