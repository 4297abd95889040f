// Package auth implements the Basic-Auth pre-dispatch step shared by every
// Provider variant (§4.5): an optional user table compared against the
// request's Authorization header, falling back to an external Authenticator
// when the configured password is empty.
package auth

import (
	"net/http"

	"github.com/relaygate/gatewayd/internal/gwerr"
)

// Authenticator is the out-of-scope collaborator (§6) consulted when a
// configured user has an empty password - "defer to the OS".
type Authenticator interface {
	AuthenticateUser(name, password string) bool
}

// NoopAuthenticator always denies, used when no platform authenticator was
// wired in; an empty-password user table entry is then unsatisfiable.
type NoopAuthenticator struct{}

func (NoopAuthenticator) AuthenticateUser(string, string) bool { return false }

// User is one entry of a provider's Basic-Auth user table.
type User struct {
	Name     string
	Password string
}

// Realm holds a provider's Basic-Auth configuration: a realm name and user
// table. A nil *Realm means the provider requires no authentication.
type Realm struct {
	Name  string
	Users map[string]string // name -> password, empty password means "ask Authenticator"
}

// Check runs the pre-dispatch auth step for r against realm. A nil realm
// always passes. Returns gwerr.ErrAuthDenied on any failure, matching §4.5
// and §7's single auth-failure error kind (surfaced as 401).
func Check(r *http.Request, realm *Realm, authenticator Authenticator) error {
	if realm == nil {
		return nil
	}
	if authenticator == nil {
		authenticator = NoopAuthenticator{}
	}

	user, pass, ok := r.BasicAuth()
	if !ok {
		return gwerr.ErrAuthDenied
	}

	configured, known := realm.Users[user]
	if !known {
		return gwerr.ErrAuthDenied
	}

	if configured == "" {
		if !authenticator.AuthenticateUser(user, pass) {
			return gwerr.ErrAuthDenied
		}
		return nil
	}

	if configured != pass {
		return gwerr.ErrAuthDenied
	}
	return nil
}

// WriteChallenge sets the response headers for a 401 challenge naming
// realm's configured name.
func WriteChallenge(w http.ResponseWriter, realm *Realm) {
	name := "restricted"
	if realm != nil && realm.Name != "" {
		name = realm.Name
	}
	w.Header().Set("WWW-Authenticate", `Basic realm="`+name+`"`)
}
