package config

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaygate/gatewayd/internal/auth"
	"github.com/relaygate/gatewayd/internal/fileserve"
	"github.com/relaygate/gatewayd/internal/logger"
	"github.com/relaygate/gatewayd/internal/pool"
	"github.com/relaygate/gatewayd/internal/provider"
	"github.com/relaygate/gatewayd/internal/routing"
	"github.com/relaygate/gatewayd/internal/transport"
)

// BuildDeps carries every out-of-band collaborator the build pass needs to
// turn parsed XML into live routing/provider objects: the shared
// connection-pool registry, the connector-scheme registry (for dialing
// Server origins and Subscriber controllers), the platform Authenticator
// consulted on empty-password user entries, and the logger handed to every
// SubscriberProvider it starts.
type BuildDeps struct {
	Pools         *pool.Registry
	Transports    *transport.Registry
	Authenticator auth.Authenticator
	Log           logger.StyledLogger
	ClientTLS     *tls.Config // SubscriberProviders' controller and attach dials; nil means crypto/tls defaults, and App.buildDeps leaves it nil
}

// Built is the result of one successful Build pass: a per-listener routing
// table ready to hand a Dispatcher, plus the SubscriberProviders that need
// to be Start()ed (and Stop()ed on the next reload) separately from the
// Dispatcher's accept loop.
type Built struct {
	Listeners   map[string]*routing.HostMap
	Subscribers []*provider.SubscriberProvider
}

// Build turns a parsed hosts.xml document into routing tables. It never
// mutates doc; a failure midway returns an error and no partial Built, so
// callers can retain whatever configuration is already running (spec.md §6
// reload semantics: "bad configs are rejected ... running configuration is
// retained").
func Build(doc *HostsDocument, deps BuildDeps) (*Built, error) {
	out := &Built{Listeners: make(map[string]*routing.HostMap)}

	for _, he := range doc.Hosts {
		names := splitList(he.Name)
		if len(names) == 0 {
			return nil, fmt.Errorf("config: host element missing name attribute")
		}
		listeners := splitList(he.Listener)
		if len(listeners) == 0 {
			return nil, fmt.Errorf("config: host %q missing listener attribute", he.Name)
		}

		hostRealm, err := buildRealm(he.Auth)
		if err != nil {
			return nil, fmt.Errorf("config: host %q: %w", he.Name, err)
		}

		host := routing.NewHost(names...)

		for _, re := range he.Redirects {
			p, err := buildRedirect(re, hostRealm, deps)
			if err != nil {
				return nil, fmt.Errorf("config: host %q redirect %q: %w", he.Name, re.URI, err)
			}
			host.AddProvider(re.URI, p)
		}
		for _, fe := range he.Files {
			p, err := buildFile(fe, hostRealm, deps)
			if err != nil {
				return nil, fmt.Errorf("config: host %q file %q: %w", he.Name, fe.URI, err)
			}
			host.AddProvider(fe.URI, p)
		}
		for _, se := range he.Servers {
			p, err := buildServer(se, hostRealm, deps)
			if err != nil {
				return nil, fmt.Errorf("config: host %q server %q: %w", he.Name, se.URI, err)
			}
			host.AddProvider(se.URI, p)
		}
		for _, pe := range he.Publishers {
			pub, acceptor, err := buildPublisher(names, pe, hostRealm, deps)
			if err != nil {
				return nil, fmt.Errorf("config: host %q publisher %q: %w", he.Name, pe.URI, err)
			}
			host.AddProvider(pe.URI, pub)
			host.AddProvider(acceptor.PathPrefix, acceptor)
		}

		host.Build()

		for _, listener := range listeners {
			hm, ok := out.Listeners[listener]
			if !ok {
				hm = routing.NewHostMap()
				out.Listeners[listener] = hm
			}
			for _, name := range names {
				hm.Insert(name, host)
			}
		}

		for _, sse := range he.SubscriberSources {
			sp, err := buildSubscriberSource(sse, host, deps)
			if err != nil {
				return nil, fmt.Errorf("config: host %q subscriber-source: %w", he.Name, err)
			}
			out.Subscribers = append(out.Subscribers, sp)
		}
	}

	return out, nil
}

// splitList parses a semicolon-separated attribute value, trimming
// whitespace around each element and dropping empty ones, the way
// hosts.xml's name and listener attributes pack multiple values into one
// string (spec.md §6).
func splitList(s string) []string {
	parts := strings.Split(s, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func buildRealm(a *AuthElement) (*auth.Realm, error) {
	if a == nil {
		return nil, nil
	}
	if a.Type != "" && a.Type != "basic" {
		return nil, fmt.Errorf("unsupported auth type %q", a.Type)
	}
	users := make(map[string]string, len(a.Users))
	for _, u := range a.Users {
		users[u.Name] = u.Password
	}
	return &auth.Realm{Name: a.Realm, Users: users}, nil
}

// resolveRealm applies attribute inheritance: a provider-local <auth>
// overrides the host's, an absent one inherits the host's realm unchanged.
func resolveRealm(hostRealm *auth.Realm, local *AuthElement) (*auth.Realm, error) {
	if local == nil {
		return hostRealm, nil
	}
	return buildRealm(local)
}

func buildRedirect(re RedirectElement, hostRealm *auth.Realm, deps BuildDeps) (*provider.RedirectProvider, error) {
	realm, err := resolveRealm(hostRealm, re.Auth)
	if err != nil {
		return nil, err
	}
	scheme, host, path, query, err := splitTemplate(re.Target)
	if err != nil {
		return nil, err
	}
	return &provider.RedirectProvider{
		PathPrefix:    re.URI,
		Scheme:        scheme,
		Host:          host,
		Path:          path,
		Query:         query,
		Permanent:     re.Permanent,
		Realm:         realm,
		Authenticator: deps.Authenticator,
	}, nil
}

// splitTemplate decomposes a redirect target into its four substitutable
// components. net/url.Parse happily accepts "..." as a literal hostname or
// path segment, which is exactly the inherit-everything shorthand spec.md
// §6 describes ("https://.../...").
func splitTemplate(target string) (scheme, host, path, query string, err error) {
	if target == "" {
		return "", "", "", "", nil
	}
	u, parseErr := url.Parse(target)
	if parseErr != nil {
		return "", "", "", "", fmt.Errorf("malformed target %q: %w", target, parseErr)
	}
	return u.Scheme, u.Host, u.Path, u.RawQuery, nil
}

func buildFile(fe FileElement, hostRealm *auth.Realm, deps BuildDeps) (*provider.FileProvider, error) {
	realm, err := resolveRealm(hostRealm, fe.Auth)
	if err != nil {
		return nil, err
	}
	headers := make(map[string]string, len(fe.Options.Headers))
	for _, h := range fe.Options.Headers {
		headers[h.Name] = h.Value
	}
	return &provider.FileProvider{
		PathPrefix: fe.URI,
		Root:       fe.Target,
		Options: fileserve.Options{
			DefaultFile: fe.Options.DefaultFile,
			DefaultExt:  fe.Options.DefaultExt,
			Listing:     fe.Options.Listing,
		},
		ResponseHeaders: headers,
		Realm:           realm,
		Authenticator:   deps.Authenticator,
	}, nil
}

func buildServer(se ServerElement, hostRealm *auth.Realm, deps BuildDeps) (*provider.ServerProvider, error) {
	realm, err := resolveRealm(hostRealm, se.Auth)
	if err != nil {
		return nil, err
	}
	connector, err := transport.ParseConnector(se.Target)
	if err != nil {
		return nil, fmt.Errorf("malformed origin target %q: %w", se.Target, err)
	}

	newPath, newQuery := splitPathTemplate(se.Options.NewURI)

	p := deps.Pools.Acquire(se.Target, func(ctx context.Context) (pool.Stream, error) {
		return deps.Transports.Dial(ctx, connector)
	})

	return &provider.ServerProvider{
		PathPrefix:  se.URI,
		TargetName:  se.Target,
		NewHost:     se.Options.NewHost,
		NewPath:     newPath,
		NewQuery:    newQuery,
		StripPrefix: se.Options.StripPrefix,
		Pool:          p,
		Realm:         realm,
		Authenticator: deps.Authenticator,
	}, nil
}

// splitPathTemplate separates hosts.xml's packed "new-uri" attribute
// ("/v1/...?token=...") into its path and query halves.
func splitPathTemplate(newURI string) (path, query string) {
	if idx := strings.IndexByte(newURI, '?'); idx >= 0 {
		return newURI[:idx], newURI[idx+1:]
	}
	return newURI, ""
}

func buildPublisher(names []string, pe PublisherElement, hostRealm *auth.Realm, deps BuildDeps) (*provider.PublisherProvider, *provider.SubscriberAcceptor, error) {
	realm, err := resolveRealm(hostRealm, pe.Auth)
	if err != nil {
		return nil, nil, err
	}

	attachTimeout := provider.DefaultAttachTimeout
	if pe.Options.AttachTimeout != "" {
		d, parseErr := time.ParseDuration(pe.Options.AttachTimeout)
		if parseErr != nil {
			return nil, nil, fmt.Errorf("malformed attach-timeout %q: %w", pe.Options.AttachTimeout, parseErr)
		}
		attachTimeout = d
	}

	key := strings.Join(names, ",") + pe.URI
	p := deps.Pools.Acquire(key, nil)

	newPath, newQuery := splitPathTemplate(pe.Options.NewURI)

	pub := &provider.PublisherProvider{
		PathPrefix:    pe.URI,
		NewHost:       pe.Options.NewHost,
		NewPath:       newPath,
		NewQuery:      newQuery,
		Pool:          p,
		Realm:         realm,
		Authenticator: deps.Authenticator,
		AttachTimeout: attachTimeout,
	}
	subscriberURI := pe.SubscriberURI
	if subscriberURI == "" {
		subscriberURI = "/@subscriber" + pe.URI
	}
	if subscriberURI == "" || subscriberURI == "/" {
		return nil, nil, fmt.Errorf("publisher %q: subscriber-uri resolves to %q, which would shadow every route on this host", pe.URI, subscriberURI)
	}

	acceptor := &provider.SubscriberAcceptor{
		PathPrefix: subscriberURI,
		Publisher:  pub,
		Upgrader:   websocket.Upgrader{},
	}
	return pub, acceptor, nil
}

func buildSubscriberSource(sse SubscriberSourceElement, host *routing.Host, deps BuildDeps) (*provider.SubscriberProvider, error) {
	if sse.Publisher == "" {
		return nil, fmt.Errorf("subscriber-source missing publisher attribute")
	}
	delay := provider.DefaultReconnectDelay
	if sse.ReconnectDelay != "" {
		d, err := time.ParseDuration(sse.ReconnectDelay)
		if err != nil {
			return nil, fmt.Errorf("malformed reconnect-delay %q: %w", sse.ReconnectDelay, err)
		}
		delay = d
	}
	return &provider.SubscriberProvider{
		PublisherURL:   sse.Publisher,
		AttachPath:     sse.AttachPath,
		Host:           host,
		TLSConfig:      deps.ClientTLS,
		ReconnectDelay: delay,
		Log:            deps.Log,
	}, nil
}
