package provider

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaygate/gatewayd/internal/gateway"
	"github.com/relaygate/gatewayd/internal/pool"
	"github.com/relaygate/gatewayd/internal/routing"
	"github.com/relaygate/gatewayd/internal/transport"
)

// newPublisherFixture wires a PublisherProvider and its SubscriberAcceptor
// onto one Host served by one Dispatcher, so every pipe opened against it
// in a test shares the same reverse-attach state (§4.5, §6).
func newPublisherFixture(t *testing.T) (*gateway.Dispatcher, *PublisherProvider) {
	t.Helper()

	reg := pool.NewRegistry()
	noDialPool := reg.Acquire("publisher-fixture", nil)

	pub := &PublisherProvider{PathPrefix: "/pub", Pool: noDialPool, AttachTimeout: 2 * time.Second}
	acceptor := &SubscriberAcceptor{PathPrefix: "/@subscriber", Publisher: pub}

	host := routing.NewHost("www.ex.com")
	host.AddProvider("/pub", pub)
	host.AddProvider("/@subscriber", acceptor)
	host.Build()

	hostMap := routing.NewHostMap()
	hostMap.Insert("www.ex.com", host)

	d := gateway.NewDispatcher(transport.Connector{Scheme: "tcp", Address: "test"}, nil, hostMap, testLogger(), false)
	return d, pub
}

func dialController(t *testing.T, d *gateway.Dispatcher) *websocket.Conn {
	t.Helper()
	client, server := net.Pipe()
	go d.ServeConn(server)

	dialer := &websocket.Dialer{
		NetDial:          func(string, string) (net.Conn, error) { return client, nil },
		HandshakeTimeout: 5 * time.Second,
	}
	conn, resp, err := dialer.Dial("ws://www.ex.com/@subscriber", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	return conn
}

func TestPublisherProvider_AllocateRequestsAttachAndServes(t *testing.T) {
	d, _ := newPublisherFixture(t)

	controller := dialController(t, d)
	attachSeen := make(chan struct{}, 1)
	go func() {
		_, msg, err := controller.ReadMessage()
		if err == nil && string(msg) == "attach" {
			attachSeen <- struct{}{}
		}
	}()

	reqClient, reqServer := net.Pipe()
	go d.ServeConn(reqServer)
	require.NoError(t, reqClient.SetDeadline(time.Now().Add(5*time.Second)))

	go func() {
		_, _ = io.WriteString(reqClient, "GET /pub/x HTTP/1.1\r\nHost: www.ex.com\r\nConnection: close\r\n\r\n")
	}()

	select {
	case <-attachSeen:
	case <-time.After(2 * time.Second):
		t.Fatal("controller never received attach frame")
	}

	attachReqClient, attachReqServer := net.Pipe()
	go d.ServeConn(attachReqServer)
	require.NoError(t, attachReqClient.SetDeadline(time.Now().Add(5*time.Second)))

	go func() {
		_, _ = io.WriteString(attachReqClient, "X-SUBSCRIBER-ATTACH /@subscriber HTTP/1.1\r\nHost: www.ex.com\r\n\r\n")
	}()

	go func() {
		forwarded, err := http.ReadRequest(bufio.NewReader(attachReqClient))
		if err != nil {
			return
		}
		assert.Equal(t, "/x", forwarded.URL.Path)
		_, _ = io.WriteString(attachReqClient, "HTTP/1.1 200 OK\r\nContent-Length: 4\r\nConnection: close\r\n\r\npong")
	}()

	probe, err := http.NewRequest(http.MethodGet, "http://www.ex.com/pub/x", nil)
	require.NoError(t, err)
	resp, err := http.ReadResponse(bufio.NewReader(reqClient), probe)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(body))
}

func TestPublisherProvider_NoControllerIsOriginUnavailable(t *testing.T) {
	d, _ := newPublisherFixture(t)

	reqClient, reqServer := net.Pipe()
	go d.ServeConn(reqServer)
	require.NoError(t, reqClient.SetDeadline(time.Now().Add(5*time.Second)))

	go func() {
		_, _ = io.WriteString(reqClient, "GET /pub/x HTTP/1.1\r\nHost: www.ex.com\r\nConnection: close\r\n\r\n")
	}()

	probe, err := http.NewRequest(http.MethodGet, "http://www.ex.com/pub/x", nil)
	require.NoError(t, err)
	resp, err := http.ReadResponse(bufio.NewReader(reqClient), probe)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestSubscriberAcceptor_SecondControllerGets409BeforeAnyUpgrade(t *testing.T) {
	d, _ := newPublisherFixture(t)

	_ = dialController(t, d)

	client, server := net.Pipe()
	go d.ServeConn(server)
	require.NoError(t, client.SetDeadline(time.Now().Add(5*time.Second)))

	go func() {
		_, _ = io.WriteString(client, "GET /@subscriber HTTP/1.1\r\nHost: www.ex.com\r\nUpgrade: websocket\r\nConnection: Upgrade\r\nSec-WebSocket-Version: 13\r\nSec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n\r\n")
	}()

	probe, err := http.NewRequest(http.MethodGet, "http://www.ex.com/@subscriber", nil)
	require.NoError(t, err)
	resp, err := http.ReadResponse(bufio.NewReader(client), probe)
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}
