package mgmtapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/guillaumemeyer/maegashira/internal/routing"
	"github.com/guillaumemeyer/maegashira/pkg/shared/redact"
)

func (d *Deps) handleGetRoutes(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(d.Store.Get())
}

// handlePostRoutes replaces the routing table. The body is a candidate table;
// schema failures come back as a structured error list, success installs the
// table and broadcasts it to every worker.
func (d *Deps) handlePostRoutes(w http.ResponseWriter, r *http.Request) {
	candidate, err := routing.Decode(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ROUTING_TABLE", "routing table does not parse", err.Error())
		return
	}
	if err := d.Store.Set(candidate); err != nil {
		var verr *routing.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, "INVALID_ROUTING_TABLE", "routing table rejected", verr.Errors)
			return
		}
		d.Logger.Error().Err(err).Msg("routing table replacement failed")
		writeError(w, http.StatusInternalServerError, "", "routing table replacement failed", nil)
		return
	}

	if payload, err := json.Marshal(redact.Table(candidate)); err == nil {
		d.Logger.Info().RawJSON("table", payload).Msg("routing table replaced via api")
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("OK"))
}
