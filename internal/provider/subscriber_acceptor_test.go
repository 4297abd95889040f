package provider

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaygate/gatewayd/internal/gateway"
	"github.com/relaygate/gatewayd/internal/pool"
	"github.com/relaygate/gatewayd/internal/routing"
	"github.com/relaygate/gatewayd/internal/transport"
)

func TestPublisherProvider_ClearControllerFailsPendingWaitersFast(t *testing.T) {
	reg := pool.NewRegistry()
	noDialPool := reg.Acquire("clear-controller-fixture", nil)
	pub := &PublisherProvider{PathPrefix: "/pub", Pool: noDialPool}

	require.True(t, pub.reserveController())
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	// installController needs a *websocket.Conn; exercising clearController's
	// fail-fast behaviour only needs the pending queue and a sentinel
	// controller value, so drive the queue machinery directly rather than
	// performing a full handshake here (that path is covered by
	// TestSubscriberAcceptor_SecondControllerGets409BeforeAnyUpgrade).
	waiter := make(chan pool.Stream, 1)
	pub.mu.Lock()
	pub.pending = append(pub.pending, waiter)
	pub.mu.Unlock()

	pub.clearController(nil)

	select {
	case s := <-waiter:
		assert.Nil(t, s)
	case <-time.After(time.Second):
		t.Fatal("clearController did not fail the pending waiter")
	}

	pub.mu.Lock()
	pending := len(pub.pending)
	pub.mu.Unlock()
	assert.Zero(t, pending)
}

func TestSubscriberAcceptor_AttachWithoutWaiterFeedsPool(t *testing.T) {
	reg := pool.NewRegistry()
	noDialPool := reg.Acquire("attach-no-waiter-fixture", nil)
	pub := &PublisherProvider{PathPrefix: "/pub", Pool: noDialPool}
	acceptor := &SubscriberAcceptor{PathPrefix: "/@subscriber", Publisher: pub}

	host := routing.NewHost("www.ex.com")
	host.AddProvider("/pub", pub)
	host.AddProvider("/@subscriber", acceptor)
	host.Build()

	hostMap := routing.NewHostMap()
	hostMap.Insert("www.ex.com", host)

	d := gateway.NewDispatcher(transport.Connector{Scheme: "tcp", Address: "test"}, nil, hostMap, testLogger(), false)

	client, server := net.Pipe()
	go d.ServeConn(server)
	require.NoError(t, client.SetDeadline(time.Now().Add(5*time.Second)))

	go func() {
		_, _ = client.Write([]byte("X-SUBSCRIBER-ATTACH /@subscriber HTTP/1.1\r\nHost: www.ex.com\r\n\r\n"))
	}()

	stream, err := noDialPool.Checkout(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for err == nil && stream == nil && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
		stream, err = noDialPool.Checkout(context.Background())
	}
	require.NoError(t, err)
	require.NotNil(t, stream, "attach with no pending waiter should feed the pool's idle queue")
}
