package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zakops/gatekeep"
	"github.com/zakops/gatekeep/audit"
	"github.com/zakops/gatekeep/id"
)

func (a *API) threadState(w http.ResponseWriter, r *http.Request) {
	runID, err := id.ParseRunID(chi.URLParam(r, "threadID"))
	if err != nil {
		a.writeError(w, r, fmt.Errorf("%w: invalid thread id", gatekeep.ErrValidation))
		return
	}

	state, err := a.eng.Orchestrator().RunState(r.Context(), runID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, state)
}

func (a *API) queryAudit(w http.ResponseWriter, r *http.Request) {
	f := audit.Filter{
		Type:    audit.EventType(r.URL.Query().Get("type")),
		ActorID: r.URL.Query().Get("actor_id"),
		Limit:   queryInt(r, "limit", 100),
		Offset:  queryInt(r, "offset", 0),
	}
	if v := r.URL.Query().Get("thread_id"); v != "" {
		runID, err := id.ParseRunID(v)
		if err != nil {
			a.writeError(w, r, fmt.Errorf("%w: invalid thread id", gatekeep.ErrValidation))
			return
		}
		f.RunID = runID
	}
	if v := r.URL.Query().Get("approval_id"); v != "" {
		apvID, err := id.ParseApprovalID(v)
		if err != nil {
			a.writeError(w, r, fmt.Errorf("%w: invalid approval id", gatekeep.ErrValidation))
			return
		}
		f.ApprovalID = apvID
	}
	if v := r.URL.Query().Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			a.writeError(w, r, fmt.Errorf("%w: invalid since timestamp", gatekeep.ErrValidation))
			return
		}
		f.Since = since
	}

	events, err := a.eng.Store().QueryEvents(r.Context(), f)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if events == nil {
		events = []*audit.Event{}
	}
	a.writeJSON(w, http.StatusOK, events)
}
