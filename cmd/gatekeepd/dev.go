package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zakops/gatekeep/orchestrator"
)

// devAgent is a scripted stand-in for an LLM adapter. A message that is
// a JSON object {"action": "...", "args": {...}} becomes a proposal;
// anything else is echoed back as final content. Outcomes from earlier
// gates are summarized into the reply so resumed turns are observable.
type devAgent struct{}

type devProposal struct {
	Action string          `json:"action"`
	Args   json.RawMessage `json:"args"`
}

func (devAgent) Step(ctx context.Context, in orchestrator.StepInput, sink orchestrator.Sink) (*orchestrator.StepResult, error) {
	var summary strings.Builder
	for _, out := range in.Outcomes {
		fmt.Fprintf(&summary, "[%s %s] ", out.Action, out.Status)
	}

	trimmed := strings.TrimSpace(in.Message)
	if strings.HasPrefix(trimmed, "{") {
		var p devProposal
		if err := json.Unmarshal([]byte(trimmed), &p); err == nil && p.Action != "" {
			content := summary.String() + "proposing " + p.Action
			sink.Content(ctx, content)
			return &orchestrator.StepResult{
				Content:  content,
				Proposal: &orchestrator.Proposal{Action: p.Action, Args: p.Args},
				State:    in.State,
			}, nil
		}
	}

	content := summary.String() + "echo: " + in.Message
	sink.Content(ctx, content)
	return &orchestrator.StepResult{Content: content, State: in.State}, nil
}

// devRunner acknowledges every action instead of calling a business
// backend.
type devRunner struct {
	logger *slog.Logger
}

func (r *devRunner) Execute(_ context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	r.logger.Info("dev runner executing action",
		slog.String("action", name),
		slog.String("args", string(args)),
	)
	result, err := json.Marshal(map[string]any{"ok": true, "action": name})
	if err != nil {
		return nil, err
	}
	return result, nil
}
