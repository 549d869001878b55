package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/zakops/gatekeep/task"
)

// Recover returns middleware that recovers from panics in the handler chain.
// Panics are converted to errors and logged with a stack trace plus the
// gated action the task was executing, so an operator can tell which tool
// call blew up without decoding the payload by hand.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, t *task.Task, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				attrs := []any{
					slog.String("task_type", t.Type),
					slog.String("task_id", t.ID.String()),
					slog.Int("attempt", t.Attempts+1),
					slog.Any("panic", r),
					slog.String("stack", stack),
				}
				if action := gatedAction(t.Payload); action != "" {
					attrs = append(attrs, slog.String("action", action))
				}
				logger.Error("task handler panicked", attrs...)
				retErr = fmt.Errorf("panic in task %s: %v", t.Type, r)
			}
		}()
		return next(ctx)
	}
}

// gatedAction pulls the action name out of an execution payload. Tasks
// carry the orchestrator's execute payload as opaque JSON; only the
// action_name field matters here, so anything else is ignored. Returns
// "" when the payload has no such field or is not JSON.
func gatedAction(payload []byte) string {
	var p struct {
		ActionName string `json:"action_name"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return ""
	}
	return p.ActionName
}
