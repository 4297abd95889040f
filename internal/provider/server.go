package provider

import (
	"bufio"
	"fmt"
	"net/http"
	"strings"

	"github.com/relaygate/gatewayd/internal/auth"
	"github.com/relaygate/gatewayd/internal/gateway"
	"github.com/relaygate/gatewayd/internal/gwerr"
	"github.com/relaygate/gatewayd/internal/pool"
	"github.com/relaygate/gatewayd/internal/util"
)

// ServerProvider implements origin forwarding (§4.5 Server), including the
// optional host/path/query rewrite and WebSocket-upgrade escalation to a
// bidirectional relay.
type ServerProvider struct {
	PathPrefix string
	TargetName string // human-readable origin label for diagnostics

	NewHost  string
	NewPath  string
	NewQuery string

	// StripPrefix controls whether the matched URI prefix is stripped
	// before NewPath substitution runs. It is false unless hosts.xml sets
	// strip-prefix="true"; while false, NewPath substitution consumes the
	// full request path, matched prefix included.
	StripPrefix bool

	Pool *pool.Pool

	Realm         *auth.Realm
	Authenticator auth.Authenticator
}

func (p *ServerProvider) Name() string { return "server:" + p.PathPrefix }

func (p *ServerProvider) Dispatch(ctx *gateway.Context, pathInfo int) {
	if !checkAuth(ctx, p.Realm, p.Authenticator) {
		return
	}

	req := ctx.Request()
	subPath := req.URL.Path
	if p.StripPrefix {
		subPath = req.URL.Path[pathInfo:]
		if subPath == "" {
			subPath = "/"
		}
	}

	outReq := req.Clone(ctx.BaseContext())
	outReq.Host = substitute(p.NewHost, req.Host)
	outReq.URL.Host = outReq.Host
	outReq.URL.Path = substitutePath(p.NewPath, subPath)
	outReq.URL.RawQuery = substitute(p.NewQuery, req.URL.RawQuery)
	outReq.RequestURI = ""
	outReq.Header.Set("Forwarded", forwardedHeader(ctx))

	p.sendToServer(ctx, outReq)
}

// forwardedHeader builds the Forwarded header (§4.5 step 1) from the client
// stream's peer/local addresses, the request Host, and stream security.
func forwardedHeader(ctx *gateway.Context) string {
	req := ctx.Request()
	forAddr := util.StripPortAddr(ctx.Conn().RemoteAddr())
	byAddr := util.StripPortAddr(ctx.Conn().LocalAddr())
	return fmt.Sprintf("for=%s;by=%s;host=%s;proto=%s", forAddr, byAddr, req.Host, requestScheme(ctx))
}

// sendToServer implements §4.5 step 3-5: allocate a connection, write the
// request, read the response, forward it, and either escalate to a relay
// or return the origin stream to the pool.
func (p *ServerProvider) sendToServer(ctx *gateway.Context, outReq *http.Request) {
	if p.Pool == nil {
		ctx.SendError(gwerr.ErrOriginUnavailable)
		return
	}

	stream, err := p.Pool.Checkout(ctx.BaseContext())
	if err != nil || stream == nil {
		// A nil, nil result only comes from a no-dial pool. PublisherProvider
		// never calls sendToServer (its Dispatch obtains streams through its
		// own allocate), so here it is treated as an unavailable origin.
		ctx.SendError(gwerr.ErrOriginUnavailable)
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

// isWebSocketUpgrade reports whether resp is a 101 Switching Protocols
// accepting a WebSocket upgrade (§4.5 step 4).
func isWebSocketUpgrade(resp *http.Response) bool {
	return resp.StatusCode == http.StatusSwitchingProtocols &&
		strings.EqualFold(resp.Header.Get("Upgrade"), "websocket") &&
		strings.EqualFold(resp.Header.Get("Connection"), "upgrade")
}

// escalateToRelay forwards the 101 response as-is, then hands both streams
// to the bidirectional relay (§4.6). originReader is the buffered reader the
// caller read the 101 off; passing it into BeginRelay preserves any bytes
// the origin piggy-backed onto the same segment as the switch.
func escalateToRelay(ctx *gateway.Context, resp *http.Response, origin pool.Stream, originReader *bufio.Reader) {
	_ = resp.Write(ctx.Conn())
	ctx.BeginRelay(origin, originReader)
}
