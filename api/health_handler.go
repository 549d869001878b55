package api

import (
	"log/slog"
	"net/http"
)

// health reports readiness. A failing store ping degrades the status
// but is still a well-formed response, never a bare 500.
func (a *API) health(w http.ResponseWriter, r *http.Request) {
	if err := a.eng.Store().Ping(r.Context()); err != nil {
		a.logger.Warn("health check: store ping failed", slog.String("error", err.Error()))
		a.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
