package provider

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaygate/gatewayd/internal/gateway"
	"github.com/relaygate/gatewayd/internal/pool"
	"github.com/relaygate/gatewayd/internal/routing"
	"github.com/relaygate/gatewayd/internal/transport"
)

// fakeOriginPool builds a Pool whose Dialer hands out one side of a
// net.Pipe per dial, running handle against the other side in its own
// goroutine - a stand-in origin server.
func fakeOriginPool(handle func(net.Conn)) *pool.Pool {
	reg := pool.NewRegistry()
	return reg.Acquire("fake-origin", func(ctx context.Context) (pool.Stream, error) {
		client, server := net.Pipe()
		go handle(server)
		return client, nil
	})
}

func TestServerProvider_ForwardsAndRewrites(t *testing.T) {
	p := fakeOriginPool(func(origin net.Conn) {
		req, err := http.ReadRequest(bufio.NewReader(origin))
		require.NoError(t, err)
		assert.Equal(t, "/v1/x", req.URL.Path)
		assert.Equal(t, "backend.internal", req.Host)

		_, err = io.WriteString(origin,
			"HTTP/1.1 200 OK\r\nContent-Length: 11\r\nConnection: close\r\n\r\norigin body")
		require.NoError(t, err)
	})

	sp := &ServerProvider{
		PathPrefix:  "/api",
		NewHost:     "backend.internal",
		NewPath:     "/v1/...",
		StripPrefix: true,
		Pool:        p,
	}

	resp := dispatchOne(t, "www.ex.com", "/api", sp, false,
		"GET /api/x HTTP/1.1\r\nHost: www.ex.com\r\nConnection: close\r\n\r\n")

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "origin body", string(body))
}

func TestServerProvider_NilPoolIsOriginUnavailable(t *testing.T) {
	sp := &ServerProvider{PathPrefix: "/api"}

	resp := dispatchOne(t, "www.ex.com", "/api", sp, false,
		"GET /api/x HTTP/1.1\r\nHost: www.ex.com\r\nConnection: close\r\n\r\n")

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServerProvider_WebSocketUpgradeEscalatesToRelay(t *testing.T) {
	originDone := make(chan struct{})
	p := fakeOriginPool(func(origin net.Conn) {
		defer close(originDone)
		_, err := http.ReadRequest(bufio.NewReader(origin))
		require.NoError(t, err)

		_, err = io.WriteString(origin,
			"HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n\r\n")
		require.NoError(t, err)

		buf := make([]byte, 4)
		n, err := origin.Read(buf)
		require.NoError(t, err)
		assert.Equal(t, "ping", string(buf[:n]))

		_, err = origin.Write([]byte("pong"))
		require.NoError(t, err)
	})

	sp := &ServerProvider{PathPrefix: "/ws", Pool: p}

	host := routing.NewHost("www.ex.com")
	host.AddProvider("/ws", sp)
	host.Build()

	hostMap := routing.NewHostMap()
	hostMap.Insert("www.ex.com", host)

	d := gateway.NewDispatcher(transport.Connector{Scheme: "tcp", Address: "test"}, nil, hostMap, testLogger(), false)

	client, server := net.Pipe()
	go d.ServeConn(server)
	require.NoError(t, client.SetDeadline(time.Now().Add(5*time.Second)))

	_, err := io.WriteString(client, "GET /ws HTTP/1.1\r\nHost: www.ex.com\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n\r\n")
	require.NoError(t, err)

	reader := bufio.NewReader(client)
	statusLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, statusLine, "101")

	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if line == "\r\n" {
			break
		}
	}

	_, err = client.Write([]byte("ping"))
	require.NoError(t, err)

	buf := make([]byte, 4)
	_, err = io.ReadFull(reader, buf)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(buf))

	_ = client.Close()
	<-originDone
}
