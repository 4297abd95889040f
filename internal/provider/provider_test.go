package provider

import (
	"bufio"
	"io"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/relaygate/gatewayd/internal/gateway"
	"github.com/relaygate/gatewayd/internal/logger"
	"github.com/relaygate/gatewayd/internal/routing"
	"github.com/relaygate/gatewayd/internal/transport"
)

func testLogger() logger.StyledLogger {
	return logger.NewPlainStyledLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// dispatchOne builds a single-Host Dispatcher bound to p at pathPrefix,
// feeds req down a net.Pipe, and returns the parsed response. secure marks
// the simulated listener as TLS-terminated (ctx.Secure()).
func dispatchOne(t *testing.T, hostname, pathPrefix string, p routing.Provider, secure bool, raw string) *http.Response {
	t.Helper()

	host := routing.NewHost(hostname)
	host.AddProvider(pathPrefix, p)
	host.Build()

	hostMap := routing.NewHostMap()
	hostMap.Insert(hostname, host)

	d := gateway.NewDispatcher(transport.Connector{Scheme: "tcp", Address: "test"}, nil, hostMap, testLogger(), secure)

	client, server := net.Pipe()
	go d.ServeConn(server)

	if err := client.SetDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("set deadline: %v", err)
	}

	if _, err := io.WriteString(client, raw); err != nil {
		t.Fatalf("write request: %v", err)
	}

	req, err := http.NewRequest(http.MethodGet, "http://"+hostname+"/", nil)
	if err != nil {
		t.Fatalf("build probe request: %v", err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(client), req)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp
}
