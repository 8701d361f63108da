package mgmtapi

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/guillaumemeyer/maegashira/internal/infrastructure/config"
	obs "github.com/guillaumemeyer/maegashira/internal/infrastructure/observability"
	"github.com/guillaumemeyer/maegashira/internal/routing"
)

// Deps carries what the management handlers need. One instance serves the
// whole API listener.
type Deps struct {
	Cfg     config.Config
	Logger  *zerolog.Logger
	Metrics *obs.Metrics
	Store   *routing.Store
	Monitor *MonitorHub
}

// NewRouter builds the management mux: health, OpenAPI document, explorer,
// metrics, the routing-table endpoints and the live transaction monitor.
func NewRouter(d *Deps) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		d.handleOpenAPI(w, r)
	})
	mux.HandleFunc("/explorer", d.handleExplorer)

	mux.Handle("/metrics", promhttp.HandlerFor(d.Metrics.Registry(), promhttp.HandlerOpts{}))

	mux.HandleFunc("/routes", d.requireKey(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			d.handleGetRoutes(w, r)
		case http.MethodPost:
			d.handlePostRoutes(w, r)
		default:
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		}
	}))

	mux.HandleFunc("/monitor/ws", d.Monitor.HandleWS)

	return mux
}

// requireKey enforces the bearer token of the management API. The error
// bodies are part of the operational contract.
func (d *Deps) requireKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			http.Error(w, `Not authorized. Missing "Authorization" header`, http.StatusUnauthorized)
			return
		}
		parts := strings.Fields(header)
		if len(parts) < 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			http.Error(w, "Missing API key", http.StatusUnauthorized)
			return
		}
		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(d.Cfg.API.Key)) != 1 {
			http.Error(w, "API key invalid", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

type apiErrorBody struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code string, message string, details interface{}) {
	if code == "" {
		code = http.StatusText(status)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiErrorBody{Error: apiError{Code: code, Message: message, Details: details}})
}
