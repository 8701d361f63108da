package middleware

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/guillaumemeyer/maegashira/internal/domain"
)

// Actions a handler can return on its state.
const (
	ActionNext   = "next"
	ActionCancel = "cancel"
)

// State is the value threaded through a middleware chain. In the
// pre-processing phase Headers and Body are the request's; in the
// post-processing phase they are the response's. A handler returns an updated
// state; the output of handler i feeds handler i+1.
type State struct {
	Transaction *domain.Transaction
	Headers     http.Header
	Body        []byte
	Action      string
	// CancellationReason overrides the default middleware_cancelled:<key>
	// reason when a handler cancels.
	CancellationReason string
}

// Handler transforms a state. Handlers may suspend on the context.
type Handler func(ctx context.Context, s *State) *State

// Middleware is a named pair of phase handlers. Either phase may be nil when
// the middleware only participates in the other.
type Middleware struct {
	Key  string
	Pre  Handler
	Post Handler
}

// Registry holds the middlewares available to a worker. It is populated once
// at startup and immutable afterwards; routes opt in by key.
type Registry struct {
	byKey map[string]Middleware
}

func NewRegistry(mws ...Middleware) *Registry {
	r := &Registry{byKey: make(map[string]Middleware, len(mws))}
	for _, mw := range mws {
		r.byKey[mw.Key] = mw
	}
	return r
}

func (r *Registry) Lookup(key string) (Middleware, bool) {
	mw, ok := r.byKey[key]
	return mw, ok
}

// Result is the outcome of one pipeline phase.
type Result struct {
	State     *State
	Cancelled bool
	Reason    string
}

// Pipeline runs the registered middlewares a route lists, in listed order.
type Pipeline struct {
	registry *Registry
	logger   *zerolog.Logger
}

func NewPipeline(registry *Registry, logger *zerolog.Logger) *Pipeline {
	return &Pipeline{registry: registry, logger: logger}
}

// RunPre executes the pre-processing handlers for the listed keys.
func (p *Pipeline) RunPre(ctx context.Context, keys []string, s *State) Result {
	return p.run(ctx, keys, s, func(mw Middleware) Handler { return mw.Pre })
}

// RunPost executes the post-processing handlers for the listed keys.
func (p *Pipeline) RunPost(ctx context.Context, keys []string, s *State) Result {
	return p.run(ctx, keys, s, func(mw Middleware) Handler { return mw.Post })
}

func (p *Pipeline) run(ctx context.Context, keys []string, s *State, phase func(Middleware) Handler) Result {
	s.Action = ActionNext
	for _, key := range keys {
		mw, ok := p.registry.Lookup(key)
		if !ok {
			// Unknown keys are an operator mistake, not a request failure.
			p.logger.Warn().Str("middleware", key).Msg("unknown middleware key, skipping")
			continue
		}
		handler := phase(mw)
		if handler == nil {
			continue
		}
		next := handler(ctx, s)
		if next != nil {
			s = next
		}
		if s.Action == ActionCancel {
			reason := s.CancellationReason
			if reason == "" {
				reason = domain.CancelMiddlewarePrefix + key
			}
			return Result{State: s, Cancelled: true, Reason: reason}
		}
		s.Action = ActionNext
	}
	return Result{State: s}
}
