package gateway

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relaygate/gatewayd/internal/logger"
	"github.com/relaygate/gatewayd/internal/routing"
	"github.com/relaygate/gatewayd/internal/transport"
)

// DefaultIdleTimeout bounds how long a Context waits for a request on an
// idle keep-alive connection before it is force-closed.
const DefaultIdleTimeout = 90 * time.Second

// Dispatcher owns one listener endpoint (§4.7): it accepts connections,
// creates a Context per accepted stream, and exposes host lookup against
// whatever HostMap is currently installed.
type Dispatcher struct {
	connector transport.Connector
	ln        net.Listener
	log       logger.StyledLogger
	secure    bool

	hostMap atomic.Pointer[routing.HostMap]

	mu       sync.Mutex
	contexts map[*Context]struct{}
	stopping bool

	idle   time.Duration
	events *Events
}

// NewDispatcher wraps an already-bound listener for connector, with an
// initial HostMap. secure marks whether streams from this listener are
// already TLS-terminated (connector scheme "tls"), consumed by providers
// that need to know the incoming stream's security (Redirect's inherited
// scheme, Server's Forwarded proto).
func NewDispatcher(connector transport.Connector, ln net.Listener, hostMap *routing.HostMap, log logger.StyledLogger, secure bool) *Dispatcher {
	d := &Dispatcher{
		connector: connector,
		ln:        ln,
		log:       log,
		secure:    secure,
		contexts:  make(map[*Context]struct{}),
		idle:      DefaultIdleTimeout,
	}
	d.hostMap.Store(hostMap)
	return d
}

// WithEvents attaches the shared lifecycle bus connects/closes are published
// to; omitted, the Dispatcher simply doesn't publish (Subscriber's private
// per-attach Dispatcher has no Events and needs none).
func (d *Dispatcher) WithEvents(events *Events) *Dispatcher {
	d.events = events
	return d
}

// Addr backs the startup table and /debug/listeners diagnostic endpoint.
func (d *Dispatcher) Addr() net.Addr { return d.ln.Addr() }

// Connector backs the same diagnostics with the configured connector string.
func (d *Dispatcher) Connector() transport.Connector { return d.connector }

// SetHostMap atomically swaps the active routing table (§4.7, §5 reload). In
// flight Contexts keep resolving against whichever map they already loaded;
// both are valid per the ordering guarantee.
func (d *Dispatcher) SetHostMap(m *routing.HostMap) {
	d.hostMap.Store(m)
}

func (d *Dispatcher) lookupHost(name string) *routing.Host {
	m := d.hostMap.Load()
	if m == nil {
		return nil
	}
	return m.Lookup(name)
}

// HostMap exposes the currently active routing table, for the /debug/routes
// diagnostic endpoint.
func (d *Dispatcher) HostMap() *routing.HostMap {
	return d.hostMap.Load()
}

func (d *Dispatcher) idleTimeout() time.Duration { return d.idle }

// Serve runs the accept loop until the listener is closed or Stop is
// called. It blocks; callers run it in its own goroutine.
func (d *Dispatcher) Serve() error {
	for {
		conn, err := d.ln.Accept()
		if err != nil {
			d.mu.Lock()
			stopping := d.stopping
			d.mu.Unlock()
			if stopping {
				return nil
			}
			return err
		}

		ctx := newContext(conn, d)
		d.mu.Lock()
		d.contexts[ctx] = struct{}{}
		d.mu.Unlock()
		d.publish("connect")

		go ctx.Run()
	}
}

// ServeConn drives a single already-established connection through this
// Dispatcher's Context state machine exactly as Serve does for an accepted
// one. Used by the Subscriber provider (§4.5, §6 reverse-attach step 4) to
// feed a detached, reverse-dialed stream back into ordinary request
// processing. Blocks until that Context retires.
func (d *Dispatcher) ServeConn(conn net.Conn) {
	ctx := newContext(conn, d)
	d.mu.Lock()
	d.contexts[ctx] = struct{}{}
	d.mu.Unlock()
	ctx.Run()
}

func (d *Dispatcher) retire(ctx *Context) {
	d.mu.Lock()
	delete(d.contexts, ctx)
	d.mu.Unlock()
	d.publish("close")
}

// Stop refuses new accepts and joins outstanding Contexts with a deadline
// (§4.7); Contexts that do not retire in time are force-closed.
func (d *Dispatcher) Stop(timeout time.Duration) {
	d.mu.Lock()
	d.stopping = true
	d.mu.Unlock()
	_ = d.ln.Close()

	deadline := time.After(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if d.activeCount() == 0 {
			return
		}
		select {
		case <-deadline:
			d.forceCloseAll()
			return
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) activeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.contexts)
}

func (d *Dispatcher) forceCloseAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for ctx := range d.contexts {
		ctx.close()
	}
}
