package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zakops/gatekeep"
	"github.com/zakops/gatekeep/dlq"
	"github.com/zakops/gatekeep/id"
)

func (a *API) listDLQ(w http.ResponseWriter, r *http.Request) {
	entries, err := a.eng.DLQService().List(r.Context(), dlq.ListOpts{
		Limit:    queryInt(r, "limit", 50),
		Offset:   queryInt(r, "offset", 0),
		TaskType: r.URL.Query().Get("task_type"),
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*dlq.Entry{}
	}
	a.writeJSON(w, http.StatusOK, entries)
}

func (a *API) getDLQ(w http.ResponseWriter, r *http.Request) {
	entryID, err := id.ParseDLQID(chi.URLParam(r, "entryID"))
	if err != nil {
		a.writeError(w, r, fmt.Errorf("%w: invalid dlq entry id", gatekeep.ErrValidation))
		return
	}

	entry, err := a.eng.DLQService().Get(r.Context(), entryID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, entry)
}

func (a *API) replayDLQ(w http.ResponseWriter, r *http.Request) {
	entryID, err := id.ParseDLQID(chi.URLParam(r, "entryID"))
	if err != nil {
		a.writeError(w, r, fmt.Errorf("%w: invalid dlq entry id", gatekeep.ErrValidation))
		return
	}

	t, err := a.eng.DLQService().Replay(r.Context(), entryID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, t)
}

func (a *API) dlqCount(w http.ResponseWriter, r *http.Request) {
	count, err := a.eng.DLQService().Count(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]int64{"count": count})
}
