package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zakops/gatekeep"
	"github.com/zakops/gatekeep/approval"
	"github.com/zakops/gatekeep/id"
)

// decideRequest is the wire shape of approve and reject calls.
type decideRequest struct {
	ActorID string `json:"actor_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func (a *API) listApprovals(w http.ResponseWriter, r *http.Request) {
	opts := approval.ListOpts{
		Status: approval.Status(r.URL.Query().Get("status")),
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}
	if v := r.URL.Query().Get("thread_id"); v != "" {
		runID, err := id.ParseRunID(v)
		if err != nil {
			a.writeError(w, r, fmt.Errorf("%w: invalid thread id", gatekeep.ErrValidation))
			return
		}
		opts.RunID = runID
	}

	approvals, err := a.eng.Approvals().List(r.Context(), opts)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if approvals == nil {
		approvals = []*approval.Approval{}
	}
	a.writeJSON(w, http.StatusOK, approvals)
}

func (a *API) getApproval(w http.ResponseWriter, r *http.Request) {
	approvalID, err := id.ParseApprovalID(chi.URLParam(r, "approvalID"))
	if err != nil {
		a.writeError(w, r, fmt.Errorf("%w: invalid approval id", gatekeep.ErrValidation))
		return
	}

	apv, err := a.eng.Approvals().Get(r.Context(), approvalID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, apv)
}

func (a *API) approve(w http.ResponseWriter, r *http.Request) {
	a.decide(w, r, approval.Approve)
}

func (a *API) reject(w http.ResponseWriter, r *http.Request) {
	a.decide(w, r, approval.Reject)
}

// decide authorizes the caller against the approval's tier, claims the
// decision, then resumes the run. Authorization is an explicit call at
// the top of the handler: the required role depends on the approval
// being decided, which no route-level middleware can know.
func (a *API) decide(w http.ResponseWriter, r *http.Request, decision approval.Decision) {
	approvalID, err := id.ParseApprovalID(chi.URLParam(r, "approvalID"))
	if err != nil {
		a.writeError(w, r, fmt.Errorf("%w: invalid approval id", gatekeep.ErrValidation))
		return
	}

	apv, err := a.eng.Approvals().Get(r.Context(), approvalID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	var body decideRequest
	if r.ContentLength != 0 {
		if err = decodeBody(r, &body); err != nil {
			a.writeError(w, r, err)
			return
		}
	}

	actorID := body.ActorID
	if gate := a.eng.Gate(); gate != nil {
		required := a.eng.TierPolicy().RoleForTier(apv.Tier)
		actor, authErr := gate.Authorize(bearerToken(r), required)
		if authErr != nil {
			a.writeError(w, r, authErr)
			return
		}
		// The token subject is the decider of record; a body actor_id
		// cannot override it.
		actorID = actor.ID
	}
	if actorID == "" {
		a.writeError(w, r, fmt.Errorf("%w: actor_id required", gatekeep.ErrValidation))
		return
	}

	decided, err := a.eng.Approvals().Claim(r.Context(), approvalID, actorID, decision, body.Reason)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	// The decision is durable at this point. Resume schedules the
	// approved action (or records the rejection outcome); a duplicate
	// resume is harmless because the execution journal dedupes.
	if err = a.eng.Orchestrator().Resume(r.Context(), decided); err != nil {
		a.writeError(w, r, err)
		return
	}

	a.writeJSON(w, http.StatusOK, decided)
}
