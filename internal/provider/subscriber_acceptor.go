package provider

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/relaygate/gatewayd/internal/gateway"
	"github.com/relaygate/gatewayd/internal/gwerr"
)

// subscriberAttachMethod is the custom HTTP method a Subscriber issues to
// deliver a fresh reverse-dialed stream (§6 reverse-attach step 3).
const subscriberAttachMethod = "X-SUBSCRIBER-ATTACH"

// SubscriberAcceptor is installed at a well-known path
// ("/@subscriber{target}") alongside its Publisher on the same Host (§4.5).
// It handles both halves of the reverse-attach protocol on that one path:
// the initial WebSocket handshake that becomes the controller socket, and
// every subsequent X-SUBSCRIBER-ATTACH request that delivers a free
// connection.
type SubscriberAcceptor struct {
	PathPrefix string
	Publisher  *PublisherProvider
	Upgrader   websocket.Upgrader
}

func (a *SubscriberAcceptor) Name() string { return "subscriber-acceptor:" + a.PathPrefix }

func (a *SubscriberAcceptor) Dispatch(ctx *gateway.Context, pathInfo int) {
	req := ctx.Request()

	if req.Method == subscriberAttachMethod {
		a.acceptAttach(ctx)
		return
	}

	a.acceptController(ctx, req)
}

// acceptAttach detaches the inbound stream and hands it to the Publisher's
// pool via FreeConnection-equivalent delivery to whichever request has been
// waiting longest (§6 step 4).
func (a *SubscriberAcceptor) acceptAttach(ctx *gateway.Context) {
	conn, _, _ := ctx.Hijack()

	waiter, ok := a.Publisher.popPending()
	if !ok {
		// Nobody is waiting; feed it straight into the pool's idle queue so
		// the next allocate() finds it without a further attach round trip.
		a.Publisher.Pool.FreeConnection(conn)
		return
	}
	waiter <- conn
}

// acceptController performs the controller-socket WebSocket handshake and
// then blocks reading frames purely to detect the socket closing, at which
// point the controller slot is released and every pending request fails
// fast (§9 Open Question resolution).
func (a *SubscriberAcceptor) acceptController(ctx *gateway.Context, req *http.Request) {
	if !a.Publisher.reserveController() {
		ctx.SendError(gwerr.ErrSubscriberConflict)
		return
	}

	adapter := newHijackAdapter(ctx)
	conn, err := a.Upgrader.Upgrade(adapter, req, nil)
	if err != nil {
		a.Publisher.releaseReservation()
		return
	}
	a.Publisher.installController(conn)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			a.Publisher.clearController(conn)
			return
		}
	}
}
