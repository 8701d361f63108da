package redact

import "github.com/guillaumemeyer/maegashira/internal/domain"

// Mask replaces credential values in log output.
const Mask = "***"

// Table returns a copy of the routing table safe to log: basic-auth
// passwords are masked, everything else is untouched. The copy is deep
// enough that masking cannot leak into the installed snapshot.
func Table(table domain.RoutingTable) domain.RoutingTable {
	out := make(domain.RoutingTable, len(table))
	copy(out, table)
	for i := range out {
		auth := out[i].Authentication
		if auth == nil || auth.Password == "" {
			continue
		}
		masked := *auth
		masked.Password = Mask
		out[i].Authentication = &masked
	}
	return out
}

// Key masks an API key for logging, keeping nothing of the value; an empty
// key stays empty so "unset" remains distinguishable.
func Key(key string) string {
	if key == "" {
		return ""
	}
	return Mask
}
