package transport

import (
	"context"
	"crypto/tls"
	"net"
)

// CertStore is the out-of-scope collaborator (§1, §6) that resolves a
// certificate for a given listener address. The gateway never parses
// certificate stores itself; service.xml's certs/cert entries are handed to
// whatever CertStore implementation the host platform provides.
type CertStore interface {
	// ServerConfig returns the *tls.Config to use for the listener at
	// address, already populated with the resolved certificate chain.
	ServerConfig(address string) (*tls.Config, error)
	// ClientConfig returns the *tls.Config to use when dialing out, e.g.
	// for the Subscriber's wss:// controller connection.
	ClientConfig() *tls.Config
}

// tlsTransport layers TLS over the tcp transport using an injected
// CertStore; RegisterTLS installs it under the "tls" scheme.
type tlsTransport struct {
	store CertStore
}

// RegisterTLS wires a CertStore into the registry's "tls" scheme. The
// gateway's own startup does not call it, so its registries have no "tls"
// scheme unless an embedding program registers a CertStore.
func (r *Registry) RegisterTLS(store CertStore) {
	r.Register("tls", &tlsTransport{store: store})
}

func (t *tlsTransport) Listen(address string) (net.Listener, error) {
	cfg, err := t.store.ServerConfig(address)
	if err != nil {
		return nil, err
	}
	inner, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	return tls.NewListener(inner, cfg), nil
}

func (t *tlsTransport) Dial(ctx context.Context, address string) (net.Conn, error) {
	d := tls.Dialer{Config: t.store.ClientConfig()}
	return d.DialContext(ctx, "tcp", address)
}

func (t *tlsTransport) Secure() bool { return true }
