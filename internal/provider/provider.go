// Package provider implements the five Provider variants dispatched by a
// matched (host, path-prefix) pair (§4.5): Redirect, File, Server,
// Publisher and Subscriber. Every variant shares the Basic-Auth
// pre-dispatch step and the ellipsis-token template substitution used by
// Redirect's Location template and Server's host/path rewrite.
package provider

import (
	"net/http"
	"strings"

	"github.com/relaygate/gatewayd/internal/auth"
	"github.com/relaygate/gatewayd/internal/gateway"
)

// ellipsisToken is the literal substituted with the corresponding request
// component inside a rewrite template (§6, GLOSSARY).
const ellipsisToken = "..."

// checkAuth runs the shared pre-dispatch Basic-Auth step (§4.5). It writes
// a 401 with a WWW-Authenticate challenge and returns false on failure;
// callers must return immediately.
func checkAuth(ctx *gateway.Context, realm *auth.Realm, authenticator auth.Authenticator) bool {
	if realm == nil {
		return true
	}
	if err := auth.Check(ctx.Request(), realm, authenticator); err != nil {
		hdr := make(http.Header)
		auth.WriteChallenge(headerOnlyWriter{h: hdr}, realm)
		ctx.WriteResponse(http.StatusUnauthorized, hdr, nil)
		return false
	}
	return true
}

// headerOnlyWriter adapts a bare http.Header into the minimal
// http.ResponseWriter surface auth.WriteChallenge needs.
type headerOnlyWriter struct{ h http.Header }

func (h headerOnlyWriter) Header() http.Header       { return h.h }
func (h headerOnlyWriter) Write([]byte) (int, error) { return 0, nil }
func (h headerOnlyWriter) WriteHeader(int)           {}

// substitute performs the generic ellipsis-token replacement used for
// scheme/host/query components (§4.5, §6): an empty template inherits
// actual verbatim; a template containing the token has every occurrence
// replaced by actual; any other literal template is used as-is.
func substitute(template, actual string) string {
	if template == "" {
		return actual
	}
	if strings.Contains(template, ellipsisToken) {
		return strings.ReplaceAll(template, ellipsisToken, actual)
	}
	return template
}

// substitutePath performs the same substitution for path components, but
// collapses the join seam when the template's literal prefix before the
// token already supplies the slash that actual's leading slash would
// otherwise duplicate (so "/new/..." + "/old" yields "/new/old", matching
// spec.md §8 scenario 2, not "/new//old").
func substitutePath(template, actual string) string {
	if template == "" {
		return actual
	}
	idx := strings.Index(template, ellipsisToken)
	if idx < 0 {
		return template
	}
	prefix := template[:idx]
	suffix := template[idx+len(ellipsisToken):]
	value := actual
	if strings.HasSuffix(prefix, "/") && strings.HasPrefix(value, "/") {
		value = value[1:]
	}
	return prefix + value + suffix
}

// requestScheme reports "https" or "http" for the incoming client stream,
// used as the inherited value for Redirect's scheme component and Server's
// Forwarded proto.
func requestScheme(ctx *gateway.Context) string {
	if ctx.Secure() {
		return "https"
	}
	return "http"
}
