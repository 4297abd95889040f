package config

import "encoding/xml"

// ServiceDocument is the root element of service.xml (SPEC_FULL
// §AMBIENT/Config): service-wide knobs that don't belong to any one
// listener or virtual host.
type ServiceDocument struct {
	XMLName xml.Name     `xml:"service"`
	Certs   CertsElement `xml:"certs"`
	Admin   AdminElement `xml:"admin"`
}

// CertsElement names the machine certificate stores a CertStore
// implementation should open before any "tls:" listener is started.
type CertsElement struct {
	Certs []CertElement `xml:"cert"`
}

type CertElement struct {
	Store string `xml:"store,attr"`
	Name  string `xml:"name,attr"`
}

// AdminElement configures the optional /debug/* diagnostic listener. An
// empty Listener disables the admin surface entirely. Profiler additionally
// exposes net/http/pprof's handlers on that same listener under
// /debug/pprof/ - never on a client-facing connector.
type AdminElement struct {
	Listener string `xml:"listener,attr"`
	Profiler bool   `xml:"profiler,attr"`
}

// HostsDocument is the root element of hosts.xml: the routing table.
type HostsDocument struct {
	XMLName xml.Name      `xml:"hosts"`
	Hosts   []HostElement `xml:"host"`
}

// HostElement is one virtual host: a semicolon-separated set of hostnames
// (each optionally "*.suffix") bound to a semicolon-separated set of
// listener connector strings, plus the providers dispatched on it.
type HostElement struct {
	Name     string `xml:"name,attr"`
	Listener string `xml:"listener,attr"`

	Auth *AuthElement `xml:"auth"`

	Redirects         []RedirectElement         `xml:"redirect"`
	Files             []FileElement             `xml:"file"`
	Servers           []ServerElement           `xml:"server"`
	Publishers        []PublisherElement        `xml:"publisher"`
	SubscriberSources []SubscriberSourceElement `xml:"subscriber-source"`
}

// AuthElement is a Basic-Auth user table. It may appear on a host element
// (applies to every provider on that host) or on an individual provider
// element, which overrides the host's table for that provider only -
// attributes inherit from parent elements, child attributes override
// parent, per spec.md §6.
type AuthElement struct {
	Type  string        `xml:"type,attr"`
	Realm string        `xml:"realm,attr"`
	Users []UserElement `xml:"user"`
}

type UserElement struct {
	Name     string `xml:"name,attr"`
	Password string `xml:"password,attr"`
}

// RedirectElement's Target is itself a URL template: net/url.Parse'd, with
// each of scheme/host/path/query independently inheriting the incoming
// request's corresponding component when left empty (DESIGN.md resolves
// spec.md §6's target/options ambiguity this way - a redirect needs no
// separate <options> child, the template lives entirely in Target).
type RedirectElement struct {
	URI       string       `xml:"uri,attr"`
	Target    string       `xml:"target,attr"`
	Permanent bool         `xml:"permanent,attr"`
	Auth      *AuthElement `xml:"auth"`
}

type FileElement struct {
	URI     string       `xml:"uri,attr"`
	Target  string       `xml:"target,attr"`
	Auth    *AuthElement `xml:"auth"`
	Options FileOptions  `xml:"options"`
}

type FileOptions struct {
	DefaultFile string                  `xml:"def-file,attr"`
	DefaultExt  string                  `xml:"def-ext,attr"`
	Listing     bool                    `xml:"listing,attr"`
	Headers     []ResponseHeaderElement `xml:"response-headers>header"`
}

type ResponseHeaderElement struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type ServerElement struct {
	URI     string        `xml:"uri,attr"`
	Target  string        `xml:"target,attr"` // origin connector string, e.g. "tcp:backend:8080"
	Auth    *AuthElement  `xml:"auth"`
	Options ServerOptions `xml:"options"`
}

// ServerOptions.NewURI packs path and optional query in one template
// string ("/v1/...?...") mirroring spec.md §6's "new-uri (path and
// optional query, each allowing ... substitution)".
type ServerOptions struct {
	NewHost     string `xml:"new-host,attr"`
	NewURI      string `xml:"new-uri,attr"`
	StripPrefix bool   `xml:"strip-prefix,attr"`
}

// PublisherElement declares one reverse-attach rendezvous (§4.5, §6): URI
// is where Server-style client requests land once an origin has attached,
// SubscriberURI is the paired well-known path a Subscriber's controller
// dials ("/@subscriber<target-path>").
type PublisherElement struct {
	URI           string           `xml:"uri,attr"`
	SubscriberURI string           `xml:"subscriber-uri,attr"`
	Auth          *AuthElement     `xml:"auth"`
	Options       PublisherOptions `xml:"options"`
}

type PublisherOptions struct {
	NewHost       string `xml:"new-host,attr"`
	NewURI        string `xml:"new-uri,attr"`
	AttachTimeout string `xml:"attach-timeout,attr"` // time.ParseDuration syntax, e.g. "15s"
}

// SubscriberSourceElement is the dialing half of the reverse-attach
// protocol (§4.5 Subscriber, §6 steps 1 and 3): it reaches out to a remote
// Publisher's controller endpoint and feeds every attached connection into
// this host's own routing.
type SubscriberSourceElement struct {
	Publisher      string `xml:"publisher,attr"`      // wss|ws://host/@subscriber<target-path>
	AttachPath     string `xml:"attach-path,attr"`     // override for the attach request's path template
	ReconnectDelay string `xml:"reconnect-delay,attr"` // time.ParseDuration syntax, e.g. "2s"
}
