package gateway

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/relaygate/gatewayd/internal/gwerr"
)

// WriteResponse sends a fully-built response to the client stream (§4.4
// send_response). hdr may be nil. It decides keep-alive from the effective
// Connection header and HTTP version, recording it for Run's loop decision.
func (c *Context) WriteResponse(status int, hdr http.Header, body []byte) {
	req := c.Request()

	resp := &http.Response{
		StatusCode:    status,
		Status:        http.StatusText(status),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        hdr,
		ContentLength: int64(len(body)),
		Body:          io.NopCloser(bytes.NewReader(body)),
		Close:         false,
	}
	if resp.Header == nil {
		resp.Header = make(http.Header)
	}

	keepAlive := isKeepAlive(req, resp)
	if !keepAlive {
		resp.Close = true
		resp.Header.Set("Connection", "close")
	} else if resp.Header.Get("Connection") == "" {
		resp.Header.Set("Connection", "keep-alive")
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.dispatcher.idleTimeout()))
	_ = resp.Write(c.conn)
	_ = c.conn.SetWriteDeadline(time.Time{})

	c.mu.Lock()
	c.keepAlive = keepAlive
	c.mu.Unlock()
}

// WriteStream sends status/hdr followed by streaming body (used by the File
// and Server providers, where the body is a file or an origin response
// rather than an in-memory []byte).
func (c *Context) WriteStream(resp *http.Response) {
	req := c.Request()
	keepAlive := isKeepAlive(req, resp)
	if !keepAlive {
		resp.Close = true
		resp.Header.Set("Connection", "close")
	} else if resp.Header.Get("Connection") == "" {
		resp.Header.Set("Connection", "keep-alive")
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.dispatcher.idleTimeout()))
	_ = resp.Write(c.conn)
	_ = c.conn.SetWriteDeadline(time.Time{})

	c.mu.Lock()
	c.keepAlive = keepAlive
	c.mu.Unlock()
}

// sendError translates a gwerr sentinel into the single HTTP status mapping
// point named in §7, and writes it as the response.
func (c *Context) sendError(err error) bool {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && c.log != nil {
		c.log.Warn("request failed", "correlation_id", c.correlationID, "status", status, "error", err)
	}
	c.WriteResponse(status, nil, nil)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keepAlive
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, gwerr.ErrEmptyPath):
		return http.StatusBadRequest
	case errors.Is(err, gwerr.ErrHostNotFound):
		return http.StatusBadRequest
	case errors.Is(err, gwerr.ErrPathNotFound):
		return http.StatusNotFound
	case errors.Is(err, gwerr.ErrOriginUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, gwerr.ErrAuthDenied):
		return http.StatusUnauthorized
	case errors.Is(err, gwerr.ErrBadRedirect):
		return http.StatusBadRequest
	case errors.Is(err, gwerr.ErrSubscriberConflict):
		return http.StatusConflict
	case errors.Is(err, gwerr.ErrProtocolUnregistered):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// SendError is the exported entry point providers use to surface a gwerr
// sentinel as a response, per the error-handling design in §7.
func (c *Context) SendError(err error) {
	c.sendError(err)
}

// isKeepAlive derives the keep-alive decision from request/response
// Connection headers and protocol version (§4.4's "effective Connection
// header" rule).
func isKeepAlive(req *http.Request, resp *http.Response) bool {
	if resp.Header != nil && strings.EqualFold(resp.Header.Get("Connection"), "close") {
		return false
	}
	if req != nil && req.Close {
		return false
	}
	if req != nil && strings.EqualFold(req.Header.Get("Connection"), "close") {
		return false
	}
	if req != nil && !req.ProtoAtLeast(1, 1) {
		// HTTP/1.0 defaults to close unless Connection: keep-alive is present
		if req.Header.Get("Connection") != "keep-alive" {
			return false
		}
	}
	return true
}
