package gateway

import (
	"bufio"
	"io"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaygate/gatewayd/internal/logger"
	"github.com/relaygate/gatewayd/internal/routing"
	"github.com/relaygate/gatewayd/internal/transport"
)

func testLogger() logger.StyledLogger {
	return logger.NewPlainStyledLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

type echoProvider struct {
	name       string
	lastOffset int
}

func (p *echoProvider) Name() string { return p.name }

func (p *echoProvider) Dispatch(ctx *Context, pathInfo int) {
	p.lastOffset = pathInfo
	ctx.WriteResponse(http.StatusOK, nil, []byte("hello"))
}

func newTestDispatcher(t *testing.T, host *routing.Host) (*Dispatcher, net.Conn) {
	t.Helper()
	serverConn, clientConn := net.Pipe()

	hm := routing.NewHostMap()
	hm.Insert("example.com", host)

	ln := &singleConnListener{conn: serverConn, done: make(chan struct{})}
	d := NewDispatcher(transport.Connector{Scheme: "tcp", Address: "127.0.0.1:0"}, ln, hm, testLogger(), false)
	return d, clientConn
}

// singleConnListener hands out exactly one pre-established connection, used
// to drive a Dispatcher's accept loop against a net.Pipe in tests.
type singleConnListener struct {
	conn net.Conn
	used bool
	done chan struct{}
}

func (l *singleConnListener) Accept() (net.Conn, error) {
	if l.used {
		<-l.done
		return nil, io.EOF
	}
	l.used = true
	return l.conn, nil
}
func (l *singleConnListener) Close() error {
	select {
	case <-l.done:
	default:
		close(l.done)
	}
	return nil
}
func (l *singleConnListener) Addr() net.Addr { return dummyAddr{} }

type dummyAddr struct{}

func (dummyAddr) Network() string { return "tcp" }
func (dummyAddr) String() string  { return "127.0.0.1:0" }

func TestDispatch_RoutesToProviderAndWritesResponse(t *testing.T) {
	host := routing.NewHost("example.com")
	p := &echoProvider{name: "echo"}
	host.AddProvider("/", p)
	host.Build()

	d, clientConn := newTestDispatcher(t, host)
	go func() { _ = d.Serve() }()
	defer d.Stop(time.Second)

	_, err := clientConn.Write([]byte("GET /anything HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\n\r\n"))
	require.NoError(t, err)

	resp, err := http.ReadResponse(bufio.NewReader(clientConn), nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "hello", string(body))
	assert.Equal(t, 1, p.lastOffset) // root prefix "/" -> path_info offset 1
}

func TestDispatch_UnknownHostIs400(t *testing.T) {
	host := routing.NewHost("example.com")
	host.Build()

	d, clientConn := newTestDispatcher(t, host)
	go func() { _ = d.Serve() }()
	defer d.Stop(time.Second)

	_, err := clientConn.Write([]byte("GET / HTTP/1.1\r\nHost: nope.test\r\nConnection: close\r\n\r\n"))
	require.NoError(t, err)

	resp, err := http.ReadResponse(bufio.NewReader(clientConn), nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDispatch_UnknownPathIs404(t *testing.T) {
	host := routing.NewHost("example.com")
	host.AddProvider("/api", &echoProvider{name: "api"})
	host.Build()

	d, clientConn := newTestDispatcher(t, host)
	go func() { _ = d.Serve() }()
	defer d.Stop(time.Second)

	_, err := clientConn.Write([]byte("GET /other HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\n\r\n"))
	require.NoError(t, err)

	resp, err := http.ReadResponse(bufio.NewReader(clientConn), nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDispatch_HostHeaderPortIsStripped(t *testing.T) {
	host := routing.NewHost("example.com")
	p := &echoProvider{name: "echo"}
	host.AddProvider("/", p)
	host.Build()

	d, clientConn := newTestDispatcher(t, host)
	go func() { _ = d.Serve() }()
	defer d.Stop(time.Second)

	_, err := clientConn.Write([]byte("GET / HTTP/1.1\r\nHost: example.com:8080\r\nConnection: close\r\n\r\n"))
	require.NoError(t, err)

	resp, err := http.ReadResponse(bufio.NewReader(clientConn), nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRelay_CopiesBothDirectionsAndRetiresOnBothClosed(t *testing.T) {
	clientA, clientB := net.Pipe()
	originA, originB := net.Pipe()

	d := &Dispatcher{log: testLogger(), contexts: make(map[*Context]struct{})}
	ctx := newContext(clientA, d)

	go ctx.BeginRelay(originA, bufio.NewReader(originA))

	go func() {
		_, _ = clientB.Write([]byte("ping"))
	}()
	buf := make([]byte, 4)
	n, err := io.ReadFull(originB, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))

	go func() {
		_, _ = originB.Write([]byte("pong"))
	}()
	n, err = io.ReadFull(clientB, buf)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(buf[:n]))

	_ = clientB.Close()
	_ = originB.Close()
}
