// Package admin implements the gateway's diagnostic HTTP surface (SPEC_FULL
// §DOMAIN/Admin): /debug/routes, /debug/pools and /debug/listeners. It is
// adapted from the route-table bookkeeping the teacher's web API layer
// keeps for its own admin endpoints, trimmed to a read-only diagnostics mux
// served on its own listener rather than wired into the client-facing
// request path.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/pprof"
	"sort"
	"sync/atomic"

	"github.com/pterm/pterm"

	"github.com/relaygate/gatewayd/internal/gateway"
	"github.com/relaygate/gatewayd/internal/logger"
	"github.com/relaygate/gatewayd/internal/pool"
)

// Registry owns the live references needed to answer diagnostic queries: the
// set of accepting Dispatchers (one per configured listener) and the shared
// connection pool registry.
type Registry struct {
	log         logger.StyledLogger
	dispatchers []*gateway.Dispatcher
	pools       *pool.Registry
	profiling   bool

	events         *gateway.Events
	connectCount   atomic.Uint64
	closeCount     atomic.Uint64
	cancelConsumer context.CancelFunc
}

// NewRegistry builds a diagnostics Registry. events may be nil (no
// /debug/events counters, the rest of the mux is unaffected).
func NewRegistry(log logger.StyledLogger, pools *pool.Registry, events *gateway.Events) *Registry {
	r := &Registry{log: log, pools: pools, events: events}
	if events != nil {
		r.consumeEvents()
	}
	return r
}

// consumeEvents runs for the Registry's lifetime, keeping connectCount and
// closeCount current for handleEvents. It never blocks a Dispatcher:
// PublishAsync drops events to slow/absent subscribers rather than waiting.
func (r *Registry) consumeEvents() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancelConsumer = cancel
	ch, _ := r.events.Subscribe(ctx)
	go func() {
		for ev := range ch {
			switch ev.Kind {
			case "connect":
				r.connectCount.Add(1)
			case "close":
				r.closeCount.Add(1)
			}
		}
	}()
}

// SetProfiling toggles whether Mux exposes net/http/pprof's handlers under
// /debug/pprof/, per service.xml's <admin profiler="true">. Takes effect the
// next time the admin listener is (re)built.
func (r *Registry) SetProfiling(enabled bool) {
	r.profiling = enabled
}

// AddDispatcher registers a listener's Dispatcher for diagnostics. Called
// once per service.xml/hosts.xml listener at startup or reload.
func (r *Registry) AddDispatcher(d *gateway.Dispatcher) {
	r.dispatchers = append(r.dispatchers, d)
}

// Mux builds the diagnostic handler tree. Callers serve it on its own
// net.Listener, separate from the gateway's client-facing connectors.
func (r *Registry) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/routes", r.handleRoutes)
	mux.HandleFunc("/debug/pools", r.handlePools)
	mux.HandleFunc("/debug/listeners", r.handleListeners)
	mux.HandleFunc("/debug/events", r.handleEvents)
	if r.profiling {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

type routeEntry struct {
	Host     string `json:"host"`
	Path     string `json:"path"`
	Provider string `json:"provider"`
}

func (r *Registry) handleRoutes(w http.ResponseWriter, _ *http.Request) {
	var entries []routeEntry
	for _, d := range r.dispatchers {
		hostMap := d.HostMap()
		if hostMap == nil {
			continue
		}
		for name, host := range hostMap.Entries() {
			for _, b := range host.Bindings() {
				entries = append(entries, routeEntry{Host: name, Path: b.Prefix, Provider: b.Provider.Name()})
			}
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Host != entries[j].Host {
			return entries[i].Host < entries[j].Host
		}
		return entries[i].Provider < entries[j].Provider
	})
	writeJSON(w, entries)
}

func (r *Registry) handlePools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, r.pools.Snapshot())
}

type eventCounts struct {
	Connects uint64 `json:"connects"`
	Closes   uint64 `json:"closes"`
}

func (r *Registry) handleEvents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, eventCounts{Connects: r.connectCount.Load(), Closes: r.closeCount.Load()})
}

type listenerEntry struct {
	Connector string `json:"connector"`
	Addr      string `json:"addr"`
}

func (r *Registry) handleListeners(w http.ResponseWriter, _ *http.Request) {
	entries := make([]listenerEntry, 0, len(r.dispatchers))
	for _, d := range r.dispatchers {
		entries = append(entries, listenerEntry{
			Connector: d.Connector().String(),
			Addr:      d.Addr().String(),
		})
	}
	writeJSON(w, entries)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// LogStartupTable prints the configured listener/host/provider table at
// startup, the way the teacher's RouteRegistry prints its web route table
// with pterm before the server starts accepting connections.
func (r *Registry) LogStartupTable() {
	tableData := [][]string{{"LISTENER", "HOST", "PATH", "PROVIDER"}}
	for _, d := range r.dispatchers {
		hostMap := d.HostMap()
		if hostMap == nil {
			continue
		}
		names := make([]string, 0)
		entries := hostMap.Entries()
		for name := range entries {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			for _, b := range entries[name].Bindings() {
				tableData = append(tableData, []string{d.Connector().String(), name, b.Prefix, b.Provider.Name()})
			}
		}
	}

	if len(tableData) == 1 {
		return
	}

	r.log.InfoWithCount("Registered listener routes", len(tableData)-1)
	tableString, err := pterm.DefaultTable.WithHasHeader().WithData(tableData).Srender()
	if err == nil {
		fmt.Print(tableString)
	}
}
