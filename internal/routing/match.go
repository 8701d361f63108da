package routing

import (
	"strings"

	"github.com/guillaumemeyer/maegashira/internal/domain"
)

// Match returns the first route whose hostname equals the request host
// (case-insensitive, port ignored) and whose path is a prefix of the request
// path. An empty route path matches every path under the host. Table order
// breaks ties; nil means no route matched.
func Match(host, path string, table domain.RoutingTable) *domain.Route {
	h := strings.ToLower(hostOnly(host))
	for i := range table {
		r := &table[i]
		if strings.ToLower(r.Hostname) != h {
			continue
		}
		if matchPrefix(path, r.Path) {
			return r
		}
	}
	return nil
}

// matchPrefix reports whether prefix matches path on a segment boundary:
// "/api" matches "/api", "/api/" and "/api/v1" but not "/apix".
func matchPrefix(path, prefix string) bool {
	if prefix == "" {
		return true
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || strings.HasSuffix(prefix, "/") || path[len(prefix)] == '/'
}

func hostOnly(h string) string {
	if i := strings.IndexByte(h, ':'); i >= 0 {
		return h[:i]
	}
	return h
}
