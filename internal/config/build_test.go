package config

import (
	"encoding/xml"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaygate/gatewayd/internal/pool"
	"github.com/relaygate/gatewayd/internal/provider"
	"github.com/relaygate/gatewayd/internal/transport"
)

const sampleHostsXML = `
<hosts>
  <host name="example.com;*.example.com" listener="tcp:0.0.0.0:80">
    <auth type="basic" realm="site">
      <user name="bob" password="secret"/>
    </auth>
    <redirect uri="/old" target="https://.../new/..."/>
    <file uri="/static" target="/var/www">
      <options def-file="index.html" def-ext=".html" listing="true">
        <response-headers>
          <header name="X-Served-By" value="gatewayd"/>
        </response-headers>
      </options>
    </file>
    <server uri="/api" target="tcp:backend:8080">
      <options new-host="backend.internal" new-uri="/v1/..." strip-prefix="true"/>
    </server>
    <publisher uri="/pub" subscriber-uri="/@subscriber">
      <options attach-timeout="5s"/>
    </publisher>
  </host>
</hosts>
`

func buildTestDeps() BuildDeps {
	return BuildDeps{
		Pools:      pool.NewRegistry(),
		Transports: transport.NewRegistry(),
	}
}

func TestBuild_ParsesEveryProviderVariant(t *testing.T) {
	var doc HostsDocument
	require.NoError(t, xml.Unmarshal([]byte(sampleHostsXML), &doc))
	require.Len(t, doc.Hosts, 1)

	built, err := Build(&doc, buildTestDeps())
	require.NoError(t, err)

	hm, ok := built.Listeners["tcp:0.0.0.0:80"]
	require.True(t, ok)

	host := hm.Lookup("example.com")
	require.NotNil(t, host)
	assert.Same(t, host, hm.Lookup("sub.example.com"))

	names := make([]string, 0)
	for _, b := range host.Bindings() {
		names = append(names, b.Provider.Name())
	}
	assert.ElementsMatch(t, []string{
		"redirect:/old", "file:/static", "server:/api",
		"publisher:/pub", "subscriber-acceptor:/@subscriber",
	}, names)
}

func TestBuild_RedirectTemplateDecomposed(t *testing.T) {
	var doc HostsDocument
	require.NoError(t, xml.Unmarshal([]byte(sampleHostsXML), &doc))

	built, err := Build(&doc, buildTestDeps())
	require.NoError(t, err)

	host := built.Listeners["tcp:0.0.0.0:80"].Lookup("example.com")
	redirectProvider, _, ok := host.Lookup("/old")
	require.True(t, ok)
	rp := redirectProvider.(*provider.RedirectProvider)
	assert.Equal(t, "...", rp.Host)
	assert.Equal(t, "/new/...", rp.Path)
}

func TestBuild_ServerOptionsWired(t *testing.T) {
	var doc HostsDocument
	require.NoError(t, xml.Unmarshal([]byte(sampleHostsXML), &doc))

	built, err := Build(&doc, buildTestDeps())
	require.NoError(t, err)

	host := built.Listeners["tcp:0.0.0.0:80"].Lookup("example.com")
	p, _, ok := host.Lookup("/api")
	require.True(t, ok)
	sp := p.(*provider.ServerProvider)
	assert.Equal(t, "backend.internal", sp.NewHost)
	assert.Equal(t, "/v1/...", sp.NewPath)
	assert.True(t, sp.StripPrefix)
	assert.NotNil(t, sp.Pool)
}

func TestBuild_PublisherPairsWithAcceptor(t *testing.T) {
	var doc HostsDocument
	require.NoError(t, xml.Unmarshal([]byte(sampleHostsXML), &doc))

	built, err := Build(&doc, buildTestDeps())
	require.NoError(t, err)

	host := built.Listeners["tcp:0.0.0.0:80"].Lookup("example.com")
	pubAny, _, ok := host.Lookup("/pub")
	require.True(t, ok)
	pub := pubAny.(*provider.PublisherProvider)

	accAny, _, ok := host.Lookup("/@subscriber")
	require.True(t, ok)
	acc := accAny.(*provider.SubscriberAcceptor)

	assert.Same(t, pub, acc.Publisher)
}

func TestBuild_MissingHostNameRejected(t *testing.T) {
	doc := HostsDocument{Hosts: []HostElement{{Listener: "tcp:0.0.0.0:80"}}}
	_, err := Build(&doc, buildTestDeps())
	assert.Error(t, err)
}

func TestBuild_MalformedServerTargetRejected(t *testing.T) {
	doc := HostsDocument{Hosts: []HostElement{{
		Name:     "example.com",
		Listener: "tcp:0.0.0.0:80",
		Servers:  []ServerElement{{URI: "/api", Target: "not-a-connector"}},
	}}}
	_, err := Build(&doc, buildTestDeps())
	assert.Error(t, err)
}

func TestSplitList_TrimsAndDropsEmpty(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a ; ;b"))
}
