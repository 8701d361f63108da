package mgmtapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/guillaumemeyer/maegashira/internal/domain"
	"github.com/guillaumemeyer/maegashira/internal/infrastructure/config"
	obs "github.com/guillaumemeyer/maegashira/internal/infrastructure/observability"
	"github.com/guillaumemeyer/maegashira/internal/routing"
)

func newTestAPI(t *testing.T) (http.Handler, *routing.Store) {
	t.Helper()
	logger := zerolog.Nop()
	store := routing.NewStore(&logger)
	cfg := config.Config{API: config.APIConfig{Key: "secret"}}
	handler := NewRouter(&Deps{
		Cfg:     cfg,
		Logger:  &logger,
		Metrics: obs.NewMetrics(),
		Store:   store,
		Monitor: NewMonitorHub(),
	})
	return handler, store
}

func TestHealth(t *testing.T) {
	h, _ := newTestAPI(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != `{"status":"ok"}` {
		t.Fatalf("unexpected health response: %d %q", rec.Code, rec.Body.String())
	}
}

func TestRoutesRequiresAuthorizationHeader(t *testing.T) {
	h, _ := newTestAPI(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/routes", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != `Not authorized. Missing "Authorization" header` {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestRoutesMissingAPIKey(t *testing.T) {
	h, _ := newTestAPI(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/routes", nil)
	req.Header.Set("Authorization", "Bearer")
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized || strings.TrimSpace(rec.Body.String()) != "Missing API key" {
		t.Fatalf("unexpected response: %d %q", rec.Code, rec.Body.String())
	}
}

func TestRoutesInvalidAPIKey(t *testing.T) {
	h, _ := newTestAPI(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/routes", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized || strings.TrimSpace(rec.Body.String()) != "API key invalid" {
		t.Fatalf("unexpected response: %d %q", rec.Code, rec.Body.String())
	}
}

func TestRoutesReplaceAndFetch(t *testing.T) {
	h, store := newTestAPI(t)
	body := `[{"hostname":"localhost","path":"","targets":[{"type":"static","directory":"./fixtures"}]}]`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/routes", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret")
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("expected 200 OK, got %d %q", rec.Code, rec.Body.String())
	}
	if got := store.Get(); len(got) != 1 || got[0].Hostname != "localhost" {
		t.Fatalf("store not updated: %+v", got)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/routes", nil)
	req.Header.Set("Authorization", "Bearer secret")
	h.ServeHTTP(rec, req)
	var table domain.RoutingTable
	if err := json.Unmarshal(rec.Body.Bytes(), &table); err != nil {
		t.Fatalf("routes response does not parse: %v", err)
	}
	if len(table) != 1 || table[0].Targets[0].Directory != "./fixtures" {
		t.Fatalf("unexpected table: %+v", table)
	}
}

func TestRoutesReplaceRejectsInvalid(t *testing.T) {
	h, store := newTestAPI(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/routes", strings.NewReader(`[{"hostname":"","targets":[]}]`))
	req.Header.Set("Authorization", "Bearer secret")
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body struct {
		Error struct {
			Code    string            `json:"code"`
			Details []json.RawMessage `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body does not parse: %v", err)
	}
	if body.Error.Code != "INVALID_ROUTING_TABLE" || len(body.Error.Details) == 0 {
		t.Fatalf("expected structured error list, got %s", rec.Body.String())
	}
	if len(store.Get()) != 0 {
		t.Fatalf("store must stay unchanged after rejection")
	}
}

func TestRoutesReplaceRejectsUnknownKeys(t *testing.T) {
	h, _ := newTestAPI(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/routes", strings.NewReader(`[{"hostname":"localhost","nope":1,"targets":[{"type":"static","directory":"./x"}]}]`))
	req.Header.Set("Authorization", "Bearer secret")
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown keys must be rejected, got %d", rec.Code)
	}
}

func TestMetricsExposition(t *testing.T) {
	h, _ := newTestAPI(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Fatalf("runtime metrics missing from exposition")
	}
}

func TestOpenAPIDocument(t *testing.T) {
	h, _ := newTestAPI(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	var doc map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("openapi document does not parse: %v", err)
	}
	paths, ok := doc["paths"].(map[string]any)
	if !ok || paths["/routes"] == nil || paths["/health"] == nil {
		t.Fatalf("document must describe the endpoints: %v", doc["paths"])
	}
}

func TestExplorerServesHTML(t *testing.T) {
	h, _ := newTestAPI(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/explorer", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "<html") {
		t.Fatalf("expected explorer page, got %d", rec.Code)
	}
}

func TestMonitorBroadcastToSubscriber(t *testing.T) {
	hub := NewMonitorHub()
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	hub.BroadcastTransaction(domain.Transaction{ID: "tx-1", Method: "GET", Status: 200})
	select {
	case ev := <-ch:
		if ev.ID != "tx-1" || ev.Status != 200 {
			t.Fatalf("unexpected event %+v", ev)
		}
	default:
		t.Fatalf("event not delivered")
	}
}
