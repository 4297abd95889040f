package provider

import (
	"bufio"
	"net"
	"net/http"

	"github.com/relaygate/gatewayd/internal/gateway"
)

// hijackAdapter satisfies http.ResponseWriter plus http.Hijacker so
// gorilla/websocket's Upgrader - built for net/http's server loop - can
// perform the controller-socket handshake directly against a raw
// gateway.Context stream, which never runs an http.Server (§4.5 Publisher).
type hijackAdapter struct {
	ctx    *gateway.Context
	header http.Header
	status int
}

func newHijackAdapter(ctx *gateway.Context) *hijackAdapter {
	return &hijackAdapter{ctx: ctx, header: make(http.Header)}
}

func (a *hijackAdapter) Header() http.Header { return a.header }

func (a *hijackAdapter) Write(b []byte) (int, error) {
	// gorilla only writes through this path on handshake failure, which the
	// Upgrader itself turns into an error return; the bytes never reach a
	// client that expects ordinary HTTP framing in the success path.
	return len(b), nil
}

func (a *hijackAdapter) WriteHeader(status int) { a.status = status }

func (a *hijackAdapter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return a.ctx.Hijack()
}
