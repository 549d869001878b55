// Package api exposes the engine over HTTP. Routing uses chi; every
// error maps through the gatekeep taxonomy to a structured JSON body,
// never an unannotated 500.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zakops/gatekeep"
	"github.com/zakops/gatekeep/engine"
)

// API wires all HTTP handlers over an Engine.
type API struct {
	eng    *engine.Engine
	logger *slog.Logger
}

// Option configures the API.
type Option func(*API)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// New creates an API from an Engine.
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{eng: eng, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", a.health)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/invoke", a.invoke)
		r.Post("/invoke/stream", a.invokeStream)

		r.Get("/approvals", a.listApprovals)
		r.Get("/approvals/{approvalID}", a.getApproval)
		r.Post("/approvals/{approvalID}:approve", a.approve)
		r.Post("/approvals/{approvalID}:reject", a.reject)

		r.Get("/threads/{threadID}/state", a.threadState)

		r.Get("/audit", a.queryAudit)

		r.Get("/dlq", a.listDLQ)
		r.Get("/dlq/count", a.dlqCount)
		r.Get("/dlq/{entryID}", a.getDLQ)
		r.Post("/dlq/{entryID}/replay", a.replayDLQ)
	})

	return r
}

// errorBody is the wire shape of every error response.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError maps an error through the taxonomy to a status code and a
// structured body. Unclassified errors become a generic internal error;
// the detail stays in the log, not on the wire.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		a.logger.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", msg),
		)
		msg = "internal error"
	}
	a.writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: msg}})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, gatekeep.ErrValidation):
		return http.StatusBadRequest, "validation_failed"
	case errors.Is(err, gatekeep.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, gatekeep.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, gatekeep.ErrApprovalNotFound),
		errors.Is(err, gatekeep.ErrRunNotFound),
		errors.Is(err, gatekeep.ErrCheckpointNotFound),
		errors.Is(err, gatekeep.ErrTaskNotFound),
		errors.Is(err, gatekeep.ErrDLQNotFound),
		errors.Is(err, gatekeep.ErrExecutionNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, gatekeep.ErrAlreadyDecided):
		return http.StatusConflict, "already_decided"
	case errors.Is(err, gatekeep.ErrApprovalExpired):
		return http.StatusConflict, "approval_expired"
	case errors.Is(err, gatekeep.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, gatekeep.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "storage_unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("write response", slog.String("error", err.Error()))
	}
}

// decodeBody decodes a JSON request body, rejecting unknown fields.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return gatekeep.ErrValidation
	}
	return nil
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
