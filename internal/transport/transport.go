// Package transport implements the gateway's connector-scheme registry: the
// abstraction the rest of the gateway uses to turn a connector string such
// as "tcp:0.0.0.0:8080" into a net.Listener or a dialed net.Conn without
// knowing which concrete network or TLS configuration backs it.
package transport

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/relaygate/gatewayd/internal/gwerr"
)

// Transport knows how to listen and dial for one connector scheme.
type Transport interface {
	Listen(address string) (net.Listener, error)
	Dial(ctx context.Context, address string) (net.Conn, error)
	// Secure reports whether streams produced by this transport should be
	// treated as already TLS-terminated, for Forwarded-header proto and for
	// the Subscriber's ws/wss scheme choice.
	Secure() bool
}

// Connector is a parsed connector string: "scheme:address".
type Connector struct {
	Scheme  string
	Address string
}

// String reassembles the connector string.
func (c Connector) String() string {
	return c.Scheme + ":" + c.Address
}

// ParseConnector splits "tcp:0.0.0.0:8080" into its scheme and address.
// The address itself may contain colons (IPv6, host:port), so only the
// first colon is treated as the scheme separator.
func ParseConnector(s string) (Connector, error) {
	idx := strings.IndexByte(s, ':')
	if idx <= 0 || idx == len(s)-1 {
		return Connector{}, fmt.Errorf("transport: malformed connector %q", s)
	}
	return Connector{Scheme: s[:idx], Address: s[idx+1:]}, nil
}

// Registry interns one Transport per scheme, guarded by a single mutex per
// §5's shared-resource policy for process-wide registries.
type Registry struct {
	mu         sync.RWMutex
	transports map[string]Transport
}

// NewRegistry returns a Registry pre-populated with the "tcp" scheme only.
// The "tls" scheme needs a certificate store, which is out of scope (§1);
// it is added by calling RegisterTLS.
func NewRegistry() *Registry {
	r := &Registry{transports: make(map[string]Transport)}
	r.Register("tcp", &tcpTransport{})
	return r
}

// Register installs a Transport for a scheme, overwriting any previous one.
func (r *Registry) Register(scheme string, t Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transports[scheme] = t
}

func (r *Registry) lookup(scheme string) (Transport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transports[scheme]
	if !ok {
		return nil, fmt.Errorf("%w: %q", gwerr.ErrProtocolUnregistered, scheme)
	}
	return t, nil
}

// Listen resolves the connector's scheme and opens a listener on its address.
func (r *Registry) Listen(c Connector) (net.Listener, error) {
	t, err := r.lookup(c.Scheme)
	if err != nil {
		return nil, err
	}
	return t.Listen(c.Address)
}

// Dial resolves the connector's scheme and dials its address.
func (r *Registry) Dial(ctx context.Context, c Connector) (net.Conn, error) {
	t, err := r.lookup(c.Scheme)
	if err != nil {
		return nil, err
	}
	return t.Dial(ctx, c.Address)
}

// Secure reports whether the named scheme produces already-secure streams.
func (r *Registry) Secure(scheme string) bool {
	t, err := r.lookup(scheme)
	if err != nil {
		return false
	}
	return t.Secure()
}

type tcpTransport struct{}

func (tcpTransport) Listen(address string) (net.Listener, error) {
	return net.Listen("tcp", address)
}

func (tcpTransport) Dial(ctx context.Context, address string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", address)
}

func (tcpTransport) Secure() bool { return false }
