package middleware

import (
	"context"
	"net/http"
	"testing"

	"github.com/rs/zerolog"

	"github.com/guillaumemeyer/maegashira/internal/domain"
)

func newTestPipeline(mws ...Middleware) *Pipeline {
	logger := zerolog.Nop()
	return NewPipeline(NewRegistry(mws...), &logger)
}

func TestPipelineRunsInListedOrder(t *testing.T) {
	var calls []string
	mw := func(key string) Middleware {
		return Middleware{Key: key, Pre: func(ctx context.Context, s *State) *State {
			calls = append(calls, key)
			s.Headers.Set("X-Seen-"+key, "1")
			return s
		}}
	}
	p := newTestPipeline(mw("a"), mw("b"), mw("c"))
	state := &State{Transaction: &domain.Transaction{}, Headers: http.Header{}}
	res := p.RunPre(context.Background(), []string{"b", "a", "c"}, state)
	if res.Cancelled {
		t.Fatalf("unexpected cancel")
	}
	if len(calls) != 3 || calls[0] != "b" || calls[1] != "a" || calls[2] != "c" {
		t.Fatalf("wrong order: %v", calls)
	}
	for _, k := range []string{"a", "b", "c"} {
		if res.State.Headers.Get("X-Seen-"+k) != "1" {
			t.Fatalf("state of %s not threaded through", k)
		}
	}
}

func TestPipelineCancelStopsChain(t *testing.T) {
	var ranAfter bool
	p := newTestPipeline(
		Middleware{Key: "deny", Pre: func(ctx context.Context, s *State) *State {
			s.Action = ActionCancel
			return s
		}},
		Middleware{Key: "later", Pre: func(ctx context.Context, s *State) *State {
			ranAfter = true
			return s
		}},
	)
	res := p.RunPre(context.Background(), []string{"deny", "later"}, &State{Headers: http.Header{}})
	if !res.Cancelled {
		t.Fatalf("expected cancellation")
	}
	if res.Reason != domain.CancelMiddlewarePrefix+"deny" {
		t.Fatalf("unexpected reason %q", res.Reason)
	}
	if ranAfter {
		t.Fatalf("chain must stop at the cancelling handler")
	}
}

func TestPipelineCancelCustomReason(t *testing.T) {
	p := newTestPipeline(Middleware{Key: "deny", Pre: func(ctx context.Context, s *State) *State {
		s.Action = ActionCancel
		s.CancellationReason = "middleware_cancelled:quota"
		return s
	}})
	res := p.RunPre(context.Background(), []string{"deny"}, &State{Headers: http.Header{}})
	if res.Reason != "middleware_cancelled:quota" {
		t.Fatalf("handler-supplied reason must win, got %q", res.Reason)
	}
}

func TestPipelineSkipsUnknownKeys(t *testing.T) {
	var ran bool
	p := newTestPipeline(Middleware{Key: "known", Pre: func(ctx context.Context, s *State) *State {
		ran = true
		return s
	}})
	res := p.RunPre(context.Background(), []string{"ghost", "known"}, &State{Headers: http.Header{}})
	if res.Cancelled {
		t.Fatalf("unknown keys must not cancel")
	}
	if !ran {
		t.Fatalf("known middleware must still run")
	}
}

func TestPipelinePostPhase(t *testing.T) {
	p := newTestPipeline(Middleware{
		Key: "stamp",
		Post: func(ctx context.Context, s *State) *State {
			s.Headers.Set("X-Post", "done")
			s.Body = append(s.Body, []byte(" tail")...)
			return s
		},
	})
	state := &State{Headers: http.Header{}, Body: []byte("body")}
	res := p.RunPost(context.Background(), []string{"stamp"}, state)
	if res.State.Headers.Get("X-Post") != "done" || string(res.State.Body) != "body tail" {
		t.Fatalf("post phase must mutate headers and body: %+v", res.State)
	}
}

func TestPipelinePreOnlyMiddlewareInPostPhase(t *testing.T) {
	p := newTestPipeline(Middleware{Key: "preonly", Pre: func(ctx context.Context, s *State) *State { return s }})
	res := p.RunPost(context.Background(), []string{"preonly"}, &State{Headers: http.Header{}})
	if res.Cancelled {
		t.Fatalf("nil post handler must be a no-op")
	}
}
