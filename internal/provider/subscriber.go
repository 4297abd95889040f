package provider

import (
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaygate/gatewayd/internal/gateway"
	"github.com/relaygate/gatewayd/internal/logger"
	"github.com/relaygate/gatewayd/internal/routing"
	"github.com/relaygate/gatewayd/internal/transport"
	"github.com/relaygate/gatewayd/internal/util"
)

// DefaultReconnectDelay is the base of the reconnect loop's exponential
// backoff after a dropped controller socket (§4.5, §6): the first retry
// waits this long, doubling on each further consecutive failure up to
// maxReconnectDelay.
const DefaultReconnectDelay = 2 * time.Second

// maxReconnectDelay caps the backoff so a long-downed Publisher still gets
// retried at a bounded interval rather than backing off indefinitely.
const maxReconnectDelay = 60 * time.Second

// reconnectJitter smooths the thundering-herd effect of many Subscribers
// backing off in lockstep after a shared Publisher restarts.
const reconnectJitter = 0.2

// SubscriberProvider is the reverse-attach protocol's dialing side: it runs
// outside any Host's normal request path, opening a controller WebSocket to
// a remote Publisher and, on every "attach" frame, dialing a fresh
// connection and handing it to a privately owned Dispatcher pinned to a
// single Host so the Publisher can drive an ordinary request over it.
//
// Unlike Redirect/File/Server/Publisher it is never looked up by
// routing.Host.Lookup - it is started and stopped directly by the Service
// App alongside the Host it feeds (§4.5).
type SubscriberProvider struct {
	// PublisherURL is the controller endpoint, e.g.
	// "wss://origin.example.com/@subscriber/target".
	PublisherURL string

	// AttachPath is the sibling HTTPS path the X-SUBSCRIBER-ATTACH request
	// is sent to; defaults to PublisherURL's path when empty.
	AttachPath string

	// Host is the single routing.Host this Subscriber's private Dispatcher
	// serves every attached connection against.
	Host *routing.Host

	// TLSConfig is used both for the wss:// controller dial and for the
	// X-SUBSCRIBER-ATTACH connections, whenever PublisherURL is wss://.
	TLSConfig *tls.Config

	ReconnectDelay time.Duration

	Log logger.StyledLogger

	mu      sync.Mutex
	active  bool
	stopped chan struct{}
}

// Start begins the reconnect-forever loop in a background goroutine. It
// returns immediately; call Stop to end it.
func (s *SubscriberProvider) Start() {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return
	}
	s.active = true
	s.stopped = make(chan struct{})
	stopped := s.stopped
	s.mu.Unlock()

	go s.run(stopped)
}

// Stop ends the reconnect loop; an in-flight controller connection is
// closed so the current dial/read unblocks promptly.
func (s *SubscriberProvider) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	s.active = false
	close(s.stopped)
}

func (s *SubscriberProvider) isActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// run is the serialized reconnect loop (§4.5, §6): one controller
// connection at a time, retried forever while the provider is active. Each
// consecutive failed attempt backs off further, up to maxReconnectDelay; a
// connection that lasts at least the base retry delay counts as healthy and
// resets the attempt counter, so a Publisher that comes back up
// and stays up quickly returns Subscriber to its base retry delay.
func (s *SubscriberProvider) run(stopped chan struct{}) {
	base := s.ReconnectDelay
	if base == 0 {
		base = DefaultReconnectDelay
	}

	attempt := 0
	for s.isActive() {
		connectedAt := time.Now()
		err := s.connectAndServe(stopped)
		if err != nil && s.Log != nil {
			s.Log.Warn("subscriber controller connection ended", "error", err, "target", s.PublisherURL)
		}
		if !s.isActive() {
			return
		}

		if time.Since(connectedAt) >= base {
			attempt = 0
		}
		attempt++

		delay := util.ExponentialBackoff(attempt, base, maxReconnectDelay, reconnectJitter)
		select {
		case <-stopped:
			return
		case <-time.After(delay):
		}
	}
}

// connectAndServe dials the controller WebSocket and processes attach
// frames until it closes or Stop is called.
func (s *SubscriberProvider) connectAndServe(stopped chan struct{}) error {
	dialer := &websocket.Dialer{
		TLSClientConfig:  s.TLSConfig,
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.Dial(s.PublisherURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		select {
		case <-stopped:
			_ = conn.Close()
		case <-done:
		}
	}()
	defer close(done)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if string(msg) != "attach" {
			continue
		}
		s.handleAttach()
	}
}

// handleAttach implements §6 reverse-attach step 3: dial the sibling
// attach endpoint, detach the resulting stream from its HTTP codec, and
// feed it into a private Dispatcher pinned to Host so the Publisher's next
// request over that connection gets processed normally.
//
// The attach request is issued over a raw dialed net.Conn rather than
// http.Client, since the connection must be detached and reused for
// further request/response cycles afterward - something http.Client's
// connection pooling does not expose a way to do.
func (s *SubscriberProvider) handleAttach() {
	target, err := s.attachURL()
	if err != nil {
		if s.Log != nil {
			s.Log.Warn("subscriber attach target invalid", "error", err)
		}
		return
	}

	conn, err := s.dialAttach(target)
	if err != nil {
		if s.Log != nil {
			s.Log.Warn("subscriber attach dial failed", "error", err, "target", target.Host)
		}
		return
	}

	req, err := http.NewRequest(subscriberAttachMethod, target.String(), nil)
	if err != nil {
		_ = conn.Close()
		return
	}
	req.Host = target.Host

	if err := req.Write(conn); err != nil {
		_ = conn.Close()
		if s.Log != nil {
			s.Log.Warn("subscriber attach write failed", "error", err)
		}
		return
	}

	s.serveAttached(conn)
}

func (s *SubscriberProvider) dialAttach(target *url.URL) (net.Conn, error) {
	addr := target.Host
	if !strings.Contains(addr, ":") {
		if target.Scheme == "https" || target.Scheme == "wss" {
			addr = addr + ":443"
		} else {
			addr = addr + ":80"
		}
	}

	if target.Scheme == "https" || target.Scheme == "wss" {
		return tls.Dial("tcp", addr, s.TLSConfig)
	}
	return net.Dial("tcp", addr)
}

// attachURL derives the sibling HTTPS/HTTP attach URL from PublisherURL,
// swapping the ws(s):// scheme for http(s):// and substituting AttachPath
// when one is configured.
func (s *SubscriberProvider) attachURL() (*url.URL, error) {
	u, err := url.Parse(s.PublisherURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	case "ws":
		u.Scheme = "http"
	}
	if s.AttachPath != "" {
		u.Path = s.AttachPath
	}
	return u, nil
}

// serveAttached feeds the already-written-request connection into a
// private Dispatcher scoped to a single Host, so the Context state machine
// processes the Publisher's forthcoming request/response exchange exactly
// as it would for any accepted connection. Host's own registered names
// (rather than a wildcard) are what route the reply, since the attached
// request always carries one of them as its Host header.
func (s *SubscriberProvider) serveAttached(conn net.Conn) {
	hostMap := routing.NewHostMap()
	for _, name := range s.Host.Names() {
		hostMap.Insert(name, s.Host)
	}

	d := gateway.NewDispatcher(transport.Connector{Scheme: "attached"}, nil, hostMap, s.Log, s.TLSConfig != nil)
	d.ServeConn(conn)
}
