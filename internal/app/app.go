// Package app wires together every other package into the running Service
// App (SPEC_FULL §5): it owns the set of accepting Dispatchers (one per
// hosts.xml listener), the admin diagnostics registry, the outbound
// Subscriber providers, and the fsnotify-driven config watcher, and
// implements the hot-reload semantics a bad config must not disturb. It is
// adapted from the teacher's internal/app.Application, which owns the one
// http.Server, RouteRegistry and discovery service its web API needs;
// here the single listener becomes a map of connector string to Dispatcher
// because hosts.xml can name many listeners, and the single web-route
// registry becomes the routing.HostMap rebuild triggered by config.Watch.
package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/relaygate/gatewayd/internal/admin"
	"github.com/relaygate/gatewayd/internal/auth"
	"github.com/relaygate/gatewayd/internal/config"
	"github.com/relaygate/gatewayd/internal/gateway"
	"github.com/relaygate/gatewayd/internal/logger"
	"github.com/relaygate/gatewayd/internal/pool"
	"github.com/relaygate/gatewayd/internal/provider"
	"github.com/relaygate/gatewayd/internal/transport"
	"github.com/relaygate/gatewayd/pkg/container"
	"github.com/relaygate/gatewayd/pkg/eventbus"
	"github.com/relaygate/gatewayd/pkg/format"
	"github.com/relaygate/gatewayd/pkg/nerdstats"
)

// DefaultShutdownTimeout bounds how long Stop waits for in-flight Contexts
// to retire on every Dispatcher before force-closing them.
const DefaultShutdownTimeout = 10 * time.Second

// listenerState pairs a running Dispatcher with the net.Listener it owns,
// so Stop can close both in the right order.
type listenerState struct {
	dispatcher *gateway.Dispatcher
	listener   net.Listener
}

// App is the Service App: one process, many listeners, one shared routing
// configuration reloaded in place.
type App struct {
	log   logger.StyledLogger
	files config.Files

	pools      *pool.Registry
	transports *transport.Registry
	admin      *admin.Registry
	events     *gateway.Events

	authenticator auth.Authenticator

	mu          sync.Mutex
	listeners   map[string]*listenerState // connector string -> state
	subscribers []*provider.SubscriberProvider
	adminLn     net.Listener
	adminSrv    *http.Server

	watcher *config.Watcher

	startTime time.Time
}

// New builds an App ready for Run. authenticator may be nil (falls back to
// auth.NoopAuthenticator for every empty-password user table entry).
func New(log logger.StyledLogger, authenticator auth.Authenticator) *App {
	transports := transport.NewRegistry()
	pools := pool.NewRegistry()
	events := eventbus.New[gateway.LifecycleEvent]()
	return &App{
		log:           log,
		pools:         pools,
		transports:    transports,
		admin:         admin.NewRegistry(log, pools, events),
		events:        events,
		authenticator: authenticator,
		listeners:     make(map[string]*listenerState),
		startTime:     time.Now(),
	}
}

// Run loads files, brings up every configured listener and the admin
// surface, starts the config watcher, then blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context, files config.Files) error {
	a.files = files

	a.log.Info("Starting", "containerised", container.IsContainerised())

	docs, err := config.Load(files)
	if err != nil {
		return fmt.Errorf("app: initial config load: %w", err)
	}

	if err := a.applyService(&docs.Service); err != nil {
		return fmt.Errorf("app: applying service.xml: %w", err)
	}

	built, err := config.Build(&docs.Hosts, a.buildDeps())
	if err != nil {
		return fmt.Errorf("app: building initial hosts.xml: %w", err)
	}
	if err := a.apply(built); err != nil {
		return fmt.Errorf("app: starting initial listeners: %w", err)
	}

	a.admin.LogStartupTable()

	watcher, err := config.Watch(files, a.onConfigChange)
	if err != nil {
		return fmt.Errorf("app: starting config watcher: %w", err)
	}
	a.watcher = watcher

	<-ctx.Done()
	return a.Stop(context.Background())
}

func (a *App) buildDeps() config.BuildDeps {
	return config.BuildDeps{
		Pools:         a.pools,
		Transports:    a.transports,
		Authenticator: a.authenticator,
		Log:           a.log,
	}
}

// onConfigChange is the fsnotify.Watcher callback (§6 reload semantics): a
// parse failure or a build failure both leave the previously applied
// listeners untouched, logging a warning instead of disturbing traffic.
func (a *App) onConfigChange(docs *config.Documents, err error) {
	if err != nil {
		a.log.Warn("Config reload failed, keeping previous configuration", "error", err)
		return
	}

	if err := a.applyService(&docs.Service); err != nil {
		a.log.Warn("service.xml reload failed, keeping previous configuration", "error", err)
		return
	}

	built, err := config.Build(&docs.Hosts, a.buildDeps())
	if err != nil {
		a.log.Warn("hosts.xml reload failed, keeping previous configuration", "error", err)
		return
	}

	oldCount := a.hostCount()
	if err := a.apply(built); err != nil {
		a.log.Warn("hosts.xml reload failed while starting listeners, configuration may be partially applied", "error", err)
		return
	}
	a.log.InfoConfigChange(oldCount, a.hostCount())
}

func (a *App) hostCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	total := 0
	for _, st := range a.listeners {
		if hm := st.dispatcher.HostMap(); hm != nil {
			total += len(hm.Entries())
		}
	}
	return total
}

// applyService reacts to service.xml changes; certificate-store opening is
// delegated to a platform CertStore outside this module's scope (§1), so
// this only reconciles the admin listener.
func (a *App) applyService(doc *config.ServiceDocument) error {
	a.admin.SetProfiling(doc.Admin.Profiler)

	a.mu.Lock()
	want := doc.Admin.Listener
	have := a.adminLn != nil
	current := ""
	if have {
		current = a.adminLn.Addr().String()
	}
	a.mu.Unlock()

	if want == "" {
		if have {
			a.mu.Lock()
			_ = a.adminSrv.Close()
			a.adminLn = nil
			a.adminSrv = nil
			a.mu.Unlock()
		}
		return nil
	}

	connector, err := transport.ParseConnector(want)
	if err != nil {
		return fmt.Errorf("malformed admin listener %q: %w", want, err)
	}
	if have && current == connector.Address {
		return nil
	}

	ln, err := a.transports.Listen(connector)
	if err != nil {
		return fmt.Errorf("listening on admin connector %q: %w", want, err)
	}
	srv := &http.Server{Handler: a.admin.Mux()}

	a.mu.Lock()
	oldSrv := a.adminSrv
	a.adminLn = ln
	a.adminSrv = srv
	a.mu.Unlock()
	if oldSrv != nil {
		_ = oldSrv.Close()
	}

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			a.log.Warn("admin listener stopped", "error", err)
		}
	}()

	a.log.Info("Admin diagnostics listening", "addr", want)
	return nil
}

// apply reconciles the running listener set with built.Listeners: existing
// connectors get a hot HostMap swap, new ones get a fresh Dispatcher, and
// connectors no longer present are stopped. Outbound subscriber-source
// providers are restarted wholesale, since they are cheap to recreate and
// carry no client-facing state.
func (a *App) apply(built *config.Built) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	seen := make(map[string]struct{}, len(built.Listeners))
	for connectorStr, hostMap := range built.Listeners {
		seen[connectorStr] = struct{}{}

		if st, ok := a.listeners[connectorStr]; ok {
			st.dispatcher.SetHostMap(hostMap)
			continue
		}

		connector, err := transport.ParseConnector(connectorStr)
		if err != nil {
			return fmt.Errorf("malformed listener %q: %w", connectorStr, err)
		}
		ln, err := a.transports.Listen(connector)
		if err != nil {
			return fmt.Errorf("listening on %q: %w", connectorStr, err)
		}
		d := gateway.NewDispatcher(connector, ln, hostMap, a.log, a.transports.Secure(connector.Scheme)).WithEvents(a.events)
		a.listeners[connectorStr] = &listenerState{dispatcher: d, listener: ln}
		a.admin.AddDispatcher(d)

		go func(connectorStr string, d *gateway.Dispatcher) {
			if err := d.Serve(); err != nil {
				a.log.Warn("listener stopped", "connector", connectorStr, "error", err)
			}
		}(connectorStr, d)
	}

	for connectorStr, st := range a.listeners {
		if _, ok := seen[connectorStr]; ok {
			continue
		}
		st.dispatcher.Stop(DefaultShutdownTimeout)
		delete(a.listeners, connectorStr)
	}

	for _, sp := range a.subscribers {
		sp.Stop()
	}
	a.subscribers = built.Subscribers
	for _, sp := range a.subscribers {
		sp.Start()
	}

	return nil
}

// Stop joins every Dispatcher and Subscriber and closes the admin listener.
func (a *App) Stop(ctx context.Context) error {
	if a.watcher != nil {
		_ = a.watcher.Close()
	}

	a.mu.Lock()
	listeners := make([]*listenerState, 0, len(a.listeners))
	for _, st := range a.listeners {
		listeners = append(listeners, st)
	}
	subscribers := a.subscribers
	adminSrv := a.adminSrv
	a.mu.Unlock()

	for _, sp := range subscribers {
		sp.Stop()
	}

	timeout := DefaultShutdownTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	var wg sync.WaitGroup
	for _, st := range listeners {
		wg.Add(1)
		go func(st *listenerState) {
			defer wg.Done()
			st.dispatcher.Stop(timeout)
		}(st)
	}
	wg.Wait()

	if adminSrv != nil {
		_ = adminSrv.Close()
	}

	a.events.Shutdown()

	a.reportShutdownStats()
	return nil
}

// reportShutdownStats logs a final runtime snapshot the way the teacher's
// main.go does after its own application.Stop returns, adapted into the
// App itself so both the CLI's "run" command and its tests observe the
// same shutdown behaviour.
func (a *App) reportShutdownStats() {
	runtime.GC()
	stats := nerdstats.Snapshot(a.startTime)

	a.log.Info("Process memory at shutdown",
		"heap_alloc", format.Bytes(stats.HeapAlloc),
		"heap_sys", format.Bytes(stats.HeapSys),
		"total_alloc", format.Bytes(stats.TotalAlloc),
	)
	a.log.Info("Runtime at shutdown",
		"uptime", format.Duration(stats.Uptime),
		"num_goroutines", stats.NumGoroutines,
		"num_gc_cycles", stats.NumGC,
	)
}
