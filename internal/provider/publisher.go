package provider

import (
	"bufio"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaygate/gatewayd/internal/auth"
	"github.com/relaygate/gatewayd/internal/gateway"
	"github.com/relaygate/gatewayd/internal/gwerr"
	"github.com/relaygate/gatewayd/internal/pool"
)

// DefaultAttachTimeout bounds how long a waiting client request sits before
// the Publisher gives up on the controller producing an attached
// connection and surfaces 503 (§9 Open Question: fail-fast, not wait).
const DefaultAttachTimeout = 15 * time.Second

// PublisherProvider is the Server variant whose pool never dials (§4.5): it
// holds at most one controller WebSocket connection and a pending-request
// queue serviced by connections the SubscriberAcceptor detaches in.
type PublisherProvider struct {
	PathPrefix string

	NewHost  string
	NewPath  string
	NewQuery string

	Pool          *pool.Pool // must be a pool built with init=false
	Realm         *auth.Realm
	Authenticator auth.Authenticator
	AttachTimeout time.Duration

	mu         sync.Mutex
	controller *websocket.Conn
	reserved   bool
	pending    []chan pool.Stream
}

func (p *PublisherProvider) Name() string { return "publisher:" + p.PathPrefix }

func (p *PublisherProvider) Dispatch(ctx *gateway.Context, pathInfo int) {
	if !checkAuth(ctx, p.Realm, p.Authenticator) {
		return
	}

	req := ctx.Request()
	subPath := req.URL.Path[pathInfo:]
	if subPath == "" {
		subPath = "/"
	}

	outReq := req.Clone(ctx.BaseContext())
	outReq.Host = substitute(p.NewHost, req.Host)
	outReq.URL.Host = outReq.Host
	outReq.URL.Path = substitutePath(p.NewPath, subPath)
	outReq.URL.RawQuery = substitute(p.NewQuery, req.URL.RawQuery)
	outReq.RequestURI = ""
	outReq.Header.Set("Forwarded", forwardedHeader(ctx))

	stream, err := p.allocate(ctx)
	if err != nil {
		ctx.SendError(err)
		return
	}

	ctx.RecordOriginStream(stream)
	if err := outReq.Write(stream); err != nil {
		ctx.ClearOriginStream()
		_ = stream.Close()
		ctx.SendError(gwerr.ErrOriginUnavailable)
		return
	}

	streamReader := bufio.NewReader(stream)
	resp, err := http.ReadResponse(streamReader, outReq)
	ctx.ClearOriginStream()
	if err != nil {
		_ = stream.Close()
		ctx.SendError(gwerr.ErrOriginUnavailable)
		return
	}

	if isWebSocketUpgrade(resp) {
		escalateToRelay(ctx, resp, stream, streamReader)
		return
	}

	ctx.WriteStream(resp)
	p.Pool.Checkin(stream)
}

// allocate implements §4.5's allocate_connection for the Publisher: a
// Checkout from a no-dial pool either returns an idle reverse-dialed
// stream immediately, or (when empty) enqueues the caller and asks the
// controller to attach one.
func (p *PublisherProvider) allocate(ctx *gateway.Context) (pool.Stream, error) {
	stream, err := p.Pool.Checkout(ctx.BaseContext())
	if err != nil {
		return nil, gwerr.ErrOriginUnavailable
	}
	if stream != nil {
		return stream, nil
	}

	p.mu.Lock()
	controller := p.controller
	if controller == nil {
		p.mu.Unlock()
		return nil, gwerr.ErrOriginUnavailable
	}
	waiter := make(chan pool.Stream, 1)
	p.pending = append(p.pending, waiter)
	p.mu.Unlock()

	if err := controller.WriteMessage(websocket.TextMessage, []byte("attach")); err != nil {
		p.removeWaiter(waiter)
		return nil, gwerr.ErrOriginUnavailable
	}

	timeout := p.AttachTimeout
	if timeout == 0 {
		timeout = DefaultAttachTimeout
	}

	select {
	case s := <-waiter:
		if s == nil {
			return nil, gwerr.ErrOriginUnavailable
		}
		return s, nil
	case <-time.After(timeout):
		p.removeWaiter(waiter)
		return nil, gwerr.ErrOriginUnavailable
	}
}

func (p *PublisherProvider) removeWaiter(target chan pool.Stream) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range p.pending {
		if w == target {
			p.pending = append(p.pending[:i], p.pending[i+1:]...)
			return
		}
	}
}

// popPending returns the oldest waiting request, for the SubscriberAcceptor
// to resume when a fresh connection arrives.
func (p *PublisherProvider) popPending() (chan pool.Stream, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) == 0 {
		return nil, false
	}
	w := p.pending[0]
	p.pending = p.pending[1:]
	return w, true
}

// reserveController claims the controller slot before the WebSocket
// handshake runs, so a second Subscriber sees 409 before any 101 is sent.
func (p *PublisherProvider) reserveController() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.controller != nil || p.reserved {
		return false
	}
	p.reserved = true
	return true
}

func (p *PublisherProvider) releaseReservation() {
	p.mu.Lock()
	p.reserved = false
	p.mu.Unlock()
}

func (p *PublisherProvider) installController(conn *websocket.Conn) {
	p.mu.Lock()
	p.controller = conn
	p.reserved = false
	p.mu.Unlock()
}

// clearController drops the controller if it is still the one that closed,
// and fails every pending waiter fast (§9: fail-fast, not wait-for-reconnect).
func (p *PublisherProvider) clearController(conn *websocket.Conn) {
	p.mu.Lock()
	if p.controller == conn {
		p.controller = nil
	}
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, w := range pending {
		w <- nil
	}
}
