package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/zakops/gatekeep"
	"github.com/zakops/gatekeep/approval"
	"github.com/zakops/gatekeep/id"
	"github.com/zakops/gatekeep/orchestrator"
)

// invokeRequest is the wire shape of POST /v1/invoke.
type invokeRequest struct {
	ThreadID string `json:"thread_id,omitempty"`
	Message  string `json:"message"`
	ActorID  string `json:"actor_id"`
}

// invokeResponse is the wire shape of a completed or suspended turn.
type invokeResponse struct {
	ThreadID        string                 `json:"thread_id"`
	Status          string                 `json:"status"`
	Content         string                 `json:"content,omitempty"`
	PendingApproval *approval.Approval     `json:"pending_approval,omitempty"`
	ActionsTaken    []orchestrator.Outcome `json:"actions_taken,omitempty"`
}

func (r invokeRequest) toOrchestrator() (orchestrator.InvokeRequest, error) {
	req := orchestrator.InvokeRequest{
		Message: r.Message,
		ActorID: r.ActorID,
	}
	if r.ThreadID != "" {
		runID, err := id.ParseRunID(r.ThreadID)
		if err != nil {
			return req, fmt.Errorf("%w: invalid thread id", gatekeep.ErrValidation)
		}
		req.RunID = runID
	}
	if r.ActorID == "" {
		return req, fmt.Errorf("%w: actor_id required", gatekeep.ErrValidation)
	}
	return req, nil
}

func toInvokeResponse(res *orchestrator.InvokeResult) invokeResponse {
	return invokeResponse{
		ThreadID:        res.RunID.String(),
		Status:          string(res.Status),
		Content:         res.Content,
		PendingApproval: res.PendingApproval,
		ActionsTaken:    res.Outcomes,
	}
}

func (a *API) invoke(w http.ResponseWriter, r *http.Request) {
	var body invokeRequest
	if err := decodeBody(r, &body); err != nil {
		a.writeError(w, r, err)
		return
	}
	req, err := body.toOrchestrator()
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	res, err := a.eng.Orchestrator().Invoke(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, toInvokeResponse(res))
}

// sseEvent writes one server-sent event and flushes it.
func sseEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, raw)
	flusher.Flush()
}

// invokeStream drives one turn over server-sent events: a start event,
// zero or more content chunks, then exactly one terminal event — done,
// awaiting_approval, or error.
func (a *API) invokeStream(w http.ResponseWriter, r *http.Request) {
	var body invokeRequest
	if err := decodeBody(r, &body); err != nil {
		a.writeError(w, r, err)
		return
	}
	req, err := body.toOrchestrator()
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		a.writeError(w, r, fmt.Errorf("%w: streaming unsupported", gatekeep.ErrValidation))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	runID := req.RunID
	if runID.IsNil() {
		runID = id.NewRunID()
		req.RunID = runID
	}
	sseEvent(w, flusher, "start", map[string]string{"thread_id": runID.String()})

	sink := orchestrator.SinkFunc(func(_ context.Context, chunk string) {
		sseEvent(w, flusher, "content", map[string]string{"delta": chunk})
	})

	res, err := a.eng.Orchestrator().InvokeStream(r.Context(), req, sink)
	if err != nil {
		_, code := classify(err)
		sseEvent(w, flusher, "error", errorDetail{Code: code, Message: err.Error()})
		return
	}

	switch res.Status {
	case orchestrator.StatusAwaitingApproval:
		sseEvent(w, flusher, "awaiting_approval", toInvokeResponse(res))
	default:
		sseEvent(w, flusher, "done", toInvokeResponse(res))
	}
}
