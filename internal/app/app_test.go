package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaygate/gatewayd/internal/auth"
	"github.com/relaygate/gatewayd/internal/config"
	"github.com/relaygate/gatewayd/internal/logger"
)

func testLogger() logger.StyledLogger {
	return logger.NewPlainStyledLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func writeConfig(t *testing.T, dir string, hostsXML string) config.Files {
	t.Helper()
	return config.Files{
		ServiceXML: writeFile(t, dir, "service.xml", `<service></service>`),
		HostsXML:   writeFile(t, dir, "hosts.xml", hostsXML),
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestApp_RunStartsListenerAndStopsCleanly(t *testing.T) {
	dir := t.TempDir()
	hostsXML := `<hosts><host name="example.com" listener="tcp:127.0.0.1:0">
		<redirect uri="/old" target="https://.../new"/>
	</host></hosts>`
	files := writeConfig(t, dir, hostsXML)

	a := New(testLogger(), auth.NoopAuthenticator{})

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- a.Run(ctx, files) }()

	require.Eventually(t, func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		return len(a.listeners) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()

	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestApp_OnConfigChangeKeepsPreviousOnParseError(t *testing.T) {
	a := New(testLogger(), auth.NoopAuthenticator{})
	a.onConfigChange(nil, assertError{})
	assert.Equal(t, 0, a.hostCount())
}

func TestApp_ApplyServiceOpensAndClosesAdminListener(t *testing.T) {
	a := New(testLogger(), auth.NoopAuthenticator{})

	require.NoError(t, a.applyService(&config.ServiceDocument{
		Admin: config.AdminElement{Listener: "tcp:127.0.0.1:0"},
	}))
	a.mu.Lock()
	ln := a.adminLn
	a.mu.Unlock()
	require.NotNil(t, ln)

	resp, err := http.Get("http://" + ln.Addr().String() + "/debug/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, a.applyService(&config.ServiceDocument{}))
	a.mu.Lock()
	closed := a.adminLn == nil
	a.mu.Unlock()
	assert.True(t, closed)
}

type assertError struct{}

func (assertError) Error() string { return "boom" }
