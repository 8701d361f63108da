package routing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"

	"github.com/guillaumemeyer/maegashira/internal/domain"
)

// FieldError is one structured validation failure of a candidate table.
type FieldError struct {
	Route   int    `json:"route"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("route[%d].%s: %s", e.Route, e.Field, e.Message)
}

// ValidationError aggregates the failures of one Validate pass.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		msgs[i] = fe.Error()
	}
	return "invalid routing table: " + strings.Join(msgs, "; ")
}

var hostnameRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?(\.[a-z0-9]([a-z0-9-]*[a-z0-9])?)*$`)

// Decode parses a candidate routing table from JSON. The schema is
// closed-world: unknown keys anywhere in the document are rejected.
func Decode(r io.Reader) (domain.RoutingTable, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var table domain.RoutingTable
	if err := dec.Decode(&table); err != nil {
		return nil, domain.Wrap(domain.KindInvalidRoutingTable, "routing table does not parse", err)
	}
	return table, nil
}

// DecodeBytes is Decode over a byte slice.
func DecodeBytes(b []byte) (domain.RoutingTable, error) {
	return Decode(bytes.NewReader(b))
}

// Validate checks a candidate table against the route schema. An empty result
// means the candidate may be installed.
func Validate(table domain.RoutingTable) []FieldError {
	var errs []FieldError
	add := func(i int, field, msg string) {
		errs = append(errs, FieldError{Route: i, Field: field, Message: msg})
	}

	for i, route := range table {
		host := strings.ToLower(strings.TrimSpace(route.Hostname))
		if host == "" {
			add(i, "hostname", "must not be empty")
		} else if !hostnameRe.MatchString(host) {
			add(i, "hostname", "must be a lowercase DNS-valid name")
		}

		if len(route.Targets) == 0 {
			add(i, "targets", "must contain at least one target")
		}
		for j, target := range route.Targets {
			field := fmt.Sprintf("targets[%d]", j)
			// Variants are closed-world: fields of another variant are
			// rejected, not ignored.
			switch target.Type {
			case domain.TargetForward:
				if err := validateTargetURL(target.URL); err != nil {
					add(i, field+".url", err.Error())
				}
				if target.Directory != "" {
					add(i, field+".directory", "not a forward target field")
				}
				if target.Index != "" {
					add(i, field+".index", "not a forward target field")
				}
			case domain.TargetStatic:
				if strings.TrimSpace(target.Directory) == "" {
					add(i, field+".directory", "must not be empty")
				}
				if target.URL != "" {
					add(i, field+".url", "not a static target field")
				}
			case domain.TargetRedirect:
				if err := validateTargetURL(target.URL); err != nil {
					add(i, field+".url", err.Error())
				}
				if target.Directory != "" {
					add(i, field+".directory", "not a redirect target field")
				}
				if target.Index != "" {
					add(i, field+".index", "not a redirect target field")
				}
			default:
				add(i, field+".type", fmt.Sprintf("unknown target type %q", target.Type))
			}
		}

		if route.TimeoutMs < 0 {
			add(i, "timeout_ms", "must not be negative")
		}
		if lb := route.LoadBalancing; lb != nil && strings.TrimSpace(lb.Type) == "" {
			add(i, "load_balancing.type", "must not be empty")
		}
		if auth := route.Authentication; auth != nil {
			switch auth.Type {
			case domain.AuthAnonymous:
			case domain.AuthBasic:
				if auth.Username == "" {
					add(i, "authentication.username", "required for basic authentication")
				}
				if auth.Password == "" {
					add(i, "authentication.password", "required for basic authentication")
				}
			default:
				add(i, "authentication.type", fmt.Sprintf("unknown authentication type %q", auth.Type))
			}
		}
		if cache := route.Cache; cache != nil {
			switch cache.Type {
			case domain.CacheNone:
			case domain.CacheBasic:
				if cache.TTLMs <= 0 {
					add(i, "cache.ttl_ms", "required for basic cache")
				}
			default:
				add(i, "cache.type", fmt.Sprintf("unknown cache type %q", cache.Type))
			}
		}
	}
	return errs
}

func validateTargetURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("does not parse as a URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("must be an absolute URL")
	}
	return nil
}
