// Package gateway implements the per-connection request-dispatch engine
// (§4.4): the Context state machine with its keep-alive loop, the bidirectional
// relay used for WebSocket upgrades (§4.6), and the Dispatcher accept loop
// (§4.7). The HTTP codec named as an out-of-scope "consumed" collaborator in
// spec.md §6 is realised here with net/http's own request/response plumbing
// (http.ReadRequest, http.Response) operating directly on the accepted
// net.Conn, which keeps the per-connection state machine in full control of
// keep-alive and relay escalation instead of delegating that to net/http's
// own server loop.
package gateway

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relaygate/gatewayd/internal/gwerr"
	"github.com/relaygate/gatewayd/internal/logger"
	"github.com/relaygate/gatewayd/internal/routing"
	"github.com/relaygate/gatewayd/internal/util"
)

// Provider is implemented by every provider variant. It is the dispatch
// contract invoked once Host/path routing has matched a request; providers
// live in internal/provider and depend on this package, so the interface is
// declared here rather than there to avoid a cycle.
type Provider interface {
	routing.Provider
	Dispatch(ctx *Context, pathInfo int)
}

// state names the Context's position in the §4.4 state machine.
type state int

const (
	stateIdle state = iota
	stateReceiving
	stateDispatching
	stateSending
	stateRelaying
	stateClosed
)

// Context is the per-connection object described in §3/§4.4: it holds the
// client stream, the current request, and - while forwarding - the paired
// origin stream. Exactly one request is in flight at a time; after a relay
// escalation no further keep-alive iteration runs.
type Context struct {
	conn   net.Conn
	reader *bufio.Reader

	dispatcher *Dispatcher
	log        logger.StyledLogger

	mu           sync.Mutex
	state        state
	originStream net.Conn // recorded while receive_response is in flight, or while relaying
	relayActive  bool
	keepAlive    bool

	req *http.Request

	bytesIn  atomic.Int64
	bytesOut atomic.Int64

	correlationID string
}

// newContext wraps an accepted connection. Call Run to drive its lifecycle.
func newContext(conn net.Conn, d *Dispatcher) *Context {
	return &Context{
		conn:          conn,
		reader:        bufio.NewReader(conn),
		dispatcher:    d,
		log:           d.log,
		state:         stateIdle,
		correlationID: util.NewCorrelationID(),
	}
}

// CorrelationID identifies this connection's Context across every log line
// it produces, for tying a keep-alive loop's requests together in the
// gateway's own log output.
func (c *Context) CorrelationID() string { return c.correlationID }

// Run drives the keep-alive loop until the connection is discarded or
// escalates to a relay, at which point the relay loops own the lifecycle and
// Run returns once they finish.
func (c *Context) Run() {
	defer c.dispatcher.retire(c)

	for {
		if !c.receiveRequest() {
			c.discard()
			return
		}

		keepAlive := c.dispatch()

		c.mu.Lock()
		relaying := c.relayActive
		c.mu.Unlock()

		if relaying {
			// the relay loops (started from begin_relay) own discard now.
			return
		}
		if !keepAlive {
			c.discard()
			return
		}
	}
}

// receiveRequest parses one full HTTP request off the client stream (§4.4
// receive_request). Failure means the client closed or sent garbage; the
// caller discards silently per the client-I/O-error rule (§7).
func (c *Context) receiveRequest() bool {
	c.setState(stateReceiving)

	_ = c.conn.SetReadDeadline(time.Now().Add(c.dispatcher.idleTimeout()))
	req, err := http.ReadRequest(c.reader)
	if err != nil {
		return false
	}
	_ = c.conn.SetReadDeadline(time.Time{})

	req.RemoteAddr = c.conn.RemoteAddr().String()
	c.mu.Lock()
	c.req = req
	c.mu.Unlock()
	return true
}

// dispatch performs host+path resolution (§4.4 dispatch) and hands off to
// the matched Provider, or writes the appropriate error status itself. It
// returns whether the connection should loop back to receive_request.
func (c *Context) dispatch() bool {
	c.setState(stateDispatching)

	req := c.Request()
	if req.URL.Path == "" {
		return c.sendError(gwerr.ErrEmptyPath)
	}

	host := util.StripPort(req.Host)
	if host == "" {
		host = util.StripPort(req.URL.Host)
	}

	hostEntry := c.dispatcher.lookupHost(host)
	if hostEntry == nil {
		return c.sendError(gwerr.ErrHostNotFound)
	}

	routed, pathInfo, ok := hostEntry.Lookup(req.URL.Path)
	if !ok {
		return c.sendError(gwerr.ErrPathNotFound)
	}

	provider, ok := routed.(Provider)
	if !ok {
		return c.sendError(gwerr.ErrPathNotFound)
	}

	c.setState(stateSending)
	provider.Dispatch(c, pathInfo)

	return c.postSendKeepAlive()
}

// postSendKeepAlive implements the send_response completion rule (§4.4): if
// the Context escalated to a relay, do nothing further; otherwise decide
// keep-alive as recorded by the last WriteResponse/WriteStream call.
func (c *Context) postSendKeepAlive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.relayActive {
		return false
	}
	return c.keepAlive
}

// Request returns the currently in-flight request.
func (c *Context) Request() *http.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.req
}

// Conn exposes the raw client stream, used by providers that need the peer
// address (Forwarded header) or that escalate to a relay.
func (c *Context) Conn() net.Conn { return c.conn }

// Secure reports whether the client stream arrived over a TLS-terminated
// listener, per the connector's registered transport.
func (c *Context) Secure() bool { return c.dispatcher.secure }

// Detach marks the connection as handed off to something other than this
// Context's own keep-alive loop (the Subscriber-acceptor's raw-stream
// detach, §6 reverse-attach step 3-4) without starting relay copy loops.
// Run returns without closing the client stream once Detach has been
// called, mirroring the relay-active short-circuit.
func (c *Context) Detach() {
	c.mu.Lock()
	c.relayActive = true
	c.mu.Unlock()
}

// Hijack takes over the raw client connection and its buffered reader,
// satisfying the same contract as net/http.Hijacker so gorilla/websocket's
// Upgrader can perform the controller-socket handshake (§4.5 Publisher)
// directly against this Context's stream. Calling Hijack implies Detach.
func (c *Context) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	c.Detach()
	rw := bufio.NewReadWriter(c.reader, bufio.NewWriter(c.conn))
	return c.conn, rw, nil
}

// BaseContext returns a context.Context bound to nothing in particular yet;
// providers use it to carry deadlines into pool checkouts and origin I/O.
func (c *Context) BaseContext() context.Context { return context.Background() }

func (c *Context) setState(s state) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// RecordOriginStream stores the origin stream while a provider's I/O with it
// is in flight, so a concurrent close() tears down both ends (§4.4
// receive_response). Providers call this around their origin read/write.
func (c *Context) RecordOriginStream(conn net.Conn) {
	c.mu.Lock()
	c.originStream = conn
	c.mu.Unlock()
}

// ClearOriginStream drops the recorded origin stream once a provider's I/O
// with it has completed (successfully or not).
func (c *Context) ClearOriginStream() {
	c.mu.Lock()
	c.originStream = nil
	c.mu.Unlock()
}

// BeginRelay installs the relay buffers and starts the two copy loops
// (§4.6), setting relayActive so send_response / postSendKeepAlive stop the
// keep-alive loop. originReader is the bufio.Reader the caller used to read
// the 101 response off origin; reusing it (rather than reading origin
// directly) picks up any bytes the origin coalesced into the same segment as
// the switch. Blocks until both relay halves finish.
func (c *Context) BeginRelay(origin net.Conn, originReader *bufio.Reader) {
	c.mu.Lock()
	c.relayActive = true
	c.originStream = origin
	c.mu.Unlock()

	c.setState(stateRelaying)
	startRelay(c, origin, originReader)
}

// close is the sole cancellation primitive (§5): idempotent, safe from any
// goroutine. If a relay is active, closes both halves; else closes any
// recorded origin stream then the client stream.
func (c *Context) close() {
	c.mu.Lock()
	origin := c.originStream
	c.originStream = nil
	client := c.conn
	c.state = stateClosed
	c.mu.Unlock()

	if origin != nil {
		_ = origin.Close()
	}
	if client != nil {
		_ = client.Close()
	}
}

// discard retires this Context: all streams are closed, and the Dispatcher
// drops it from its active set (handled by the deferred retire in Run).
func (c *Context) discard() {
	c.close()
}

// BytesTransferred returns the client->origin and origin->client byte
// counts accumulated by the relay loops (SPEC_FULL §4.6 supplement).
func (c *Context) BytesTransferred() (in, out int64) {
	return c.bytesIn.Load(), c.bytesOut.Load()
}
