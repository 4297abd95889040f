package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaygate/gatewayd/internal/gwerr"
)

func TestParseConnector(t *testing.T) {
	c, err := ParseConnector("tcp:0.0.0.0:8080")
	require.NoError(t, err)
	assert.Equal(t, "tcp", c.Scheme)
	assert.Equal(t, "0.0.0.0:8080", c.Address)
	assert.Equal(t, "tcp:0.0.0.0:8080", c.String())
}

func TestParseConnector_IPv6AddressKeepsColons(t *testing.T) {
	c, err := ParseConnector("tcp:[::1]:8080")
	require.NoError(t, err)
	assert.Equal(t, "tcp", c.Scheme)
	assert.Equal(t, "[::1]:8080", c.Address)
}

func TestParseConnector_MalformedRejected(t *testing.T) {
	_, err := ParseConnector("no-colon-here")
	assert.Error(t, err)

	_, err = ParseConnector(":8080")
	assert.Error(t, err)

	_, err = ParseConnector("tcp:")
	assert.Error(t, err)
}

func TestRegistry_TCPListenAndDialRoundTrip(t *testing.T) {
	r := NewRegistry()

	ln, err := r.Listen(Connector{Scheme: "tcp", Address: "127.0.0.1:0"})
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	conn, err := r.Dial(context.Background(), Connector{Scheme: "tcp", Address: ln.Addr().String()})
	require.NoError(t, err)
	defer conn.Close()

	server := <-accepted
	defer server.Close()

	assert.False(t, r.Secure("tcp"))
}

func TestRegistry_UnregisteredSchemeIsRejected(t *testing.T) {
	r := NewRegistry()

	_, err := r.Listen(Connector{Scheme: "quic", Address: "127.0.0.1:0"})
	assert.True(t, errors.Is(err, gwerr.ErrProtocolUnregistered))

	_, err = r.Dial(context.Background(), Connector{Scheme: "quic", Address: "127.0.0.1:0"})
	assert.True(t, errors.Is(err, gwerr.ErrProtocolUnregistered))

	assert.False(t, r.Secure("quic"))
}

func TestRegistry_RegisterOverridesScheme(t *testing.T) {
	r := NewRegistry()
	r.Register("tcp", &tlsTransport{store: fakeCertStore{}})
	assert.True(t, r.Secure("tcp"))
}

type fakeCertStore struct{}

func (fakeCertStore) ServerConfig(string) (*tls.Config, error) { return &tls.Config{}, nil }
func (fakeCertStore) ClientConfig() *tls.Config                { return &tls.Config{} }

func TestRegisterTLS_InstallsSecureTransport(t *testing.T) {
	r := NewRegistry()
	r.RegisterTLS(fakeCertStore{})
	assert.True(t, r.Secure("tls"))
}
