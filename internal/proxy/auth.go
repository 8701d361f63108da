package proxy

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/guillaumemeyer/maegashira/internal/domain"
)

// Challenge describes the 401 the engine must emit when authentication fails.
type Challenge struct {
	// WWWAuthenticate is empty for strategies that do not challenge.
	WWWAuthenticate string
}

// Authenticate gates a matched route. It runs after pre-processing so that
// middlewares may inject or rewrite credentials. A nil return means dispatch
// continues; a non-nil Challenge means the request is rejected with 401.
func Authenticate(route *domain.Route, r *http.Request) *Challenge {
	auth := route.Authentication
	if auth == nil || auth.Type == domain.AuthAnonymous {
		return nil
	}

	switch auth.Type {
	case domain.AuthBasic:
		user, pass, ok := r.BasicAuth()
		if ok &&
			subtle.ConstantTimeCompare([]byte(user), []byte(auth.Username)) == 1 &&
			subtle.ConstantTimeCompare([]byte(pass), []byte(auth.Password)) == 1 {
			return nil
		}
		realm := auth.Realm
		if realm == "" {
			realm = requestHost(r)
		}
		return &Challenge{WWWAuthenticate: `Basic realm="` + realm + `"`}
	default:
		// Validation rejects unknown strategies; an unknown value here means
		// the table predates this binary. Fail closed.
		return &Challenge{}
	}
}

func requestHost(r *http.Request) string {
	host := r.Host
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	return host
}
