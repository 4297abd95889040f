package provider

import (
	"bytes"
	"io"
	"net/http"

	"github.com/relaygate/gatewayd/internal/auth"
	"github.com/relaygate/gatewayd/internal/fileserve"
	"github.com/relaygate/gatewayd/internal/gateway"
)

// FileProvider implements the File provider variant (§4.5): it delegates to
// the opaque file handler with its target as the root directory and the
// provider-local path_info as the requested sub-path.
type FileProvider struct {
	PathPrefix string
	Root       string
	Options    fileserve.Options

	// ResponseHeaders are merged onto a successful (2xx) response only, per
	// §4.5's "optional configured response headers are merged onto a
	// successful response".
	ResponseHeaders map[string]string

	Realm         *auth.Realm
	Authenticator auth.Authenticator
}

func (p *FileProvider) Name() string { return "file:" + p.PathPrefix }

func (p *FileProvider) Dispatch(ctx *gateway.Context, pathInfo int) {
	if !checkAuth(ctx, p.Realm, p.Authenticator) {
		return
	}

	req := ctx.Request()
	subPath := req.URL.Path[pathInfo:]

	rec := newResponseBuffer()
	fileserve.Retrieve(rec, req, p.Root, subPath, p.Options)

	resp := rec.result(req)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		for k, v := range p.ResponseHeaders {
			resp.Header.Set(k, v)
		}
	}

	ctx.WriteStream(resp)
}

// responseBuffer is a minimal http.ResponseWriter that buffers the status,
// headers and body fileserve.Retrieve writes, so they can be replayed onto
// the Context's client stream as a single *http.Response.
type responseBuffer struct {
	header     http.Header
	statusCode int
	body       bytes.Buffer
}

func newResponseBuffer() *responseBuffer {
	return &responseBuffer{header: make(http.Header), statusCode: http.StatusOK}
}

func (r *responseBuffer) Header() http.Header { return r.header }

func (r *responseBuffer) Write(b []byte) (int, error) { return r.body.Write(b) }

func (r *responseBuffer) WriteHeader(status int) { r.statusCode = status }

func (r *responseBuffer) result(req *http.Request) *http.Response {
	return &http.Response{
		StatusCode:    r.statusCode,
		Status:        http.StatusText(r.statusCode),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        r.header,
		ContentLength: int64(r.body.Len()),
		Body:          io.NopCloser(bytes.NewReader(r.body.Bytes())),
		Request:       req,
	}
}
