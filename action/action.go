// Package action defines the closed set of gated actions an agent may
// propose. Each action kind has its own strictly-validated argument
// schema: unknown kinds and unknown fields are rejected up front,
// before any state mutation, rather than silently ignored.
package action

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zakops/gatekeep"
	"github.com/zakops/gatekeep/approval"
)

// Action is one member of the tagged union of gated action kinds.
type Action interface {
	// Name returns the action kind, e.g. "transition_deal".
	Name() string
	// Tier returns the permission tier this kind is classified at.
	Tier() approval.Tier
	// Validate checks required fields and value constraints.
	Validate() error
}

// ──────────────────────────────────────────────────
// transition_deal
// ──────────────────────────────────────────────────

// Deal pipeline stages. Must match the backend's stage enum.
var validStages = map[string]struct{}{
	"inbound": {}, "screening": {}, "qualified": {}, "loi": {},
	"diligence": {}, "closing": {}, "portfolio": {}, "junk": {}, "archived": {},
}

// validTransitions is the stage transition matrix. archived is terminal.
var validTransitions = map[string][]string{
	"inbound":   {"screening", "junk", "archived"},
	"screening": {"qualified", "junk", "archived"},
	"qualified": {"loi", "junk", "archived"},
	"loi":       {"diligence", "junk", "archived"},
	"diligence": {"closing", "junk", "archived"},
	"closing":   {"portfolio", "junk", "archived"},
	"portfolio": {"archived"},
	"junk":      {"archived"},
	"archived":  {},
}

// TransitionDeal moves a business deal to a new pipeline stage.
// Critical tier: always requires a human decision.
type TransitionDeal struct {
	DealID string `json:"deal_id"`
	// FromStage is advisory; the executor fetches the actual current
	// stage as ground truth before applying the transition.
	FromStage string `json:"from_stage"`
	ToStage   string `json:"to_stage"`
}

// Name implements Action.
func (TransitionDeal) Name() string { return "transition_deal" }

// Tier implements Action.
func (TransitionDeal) Tier() approval.Tier { return approval.TierCritical }

// Validate implements Action.
func (a TransitionDeal) Validate() error {
	if strings.TrimSpace(a.DealID) == "" {
		return fmt.Errorf("%w: transition_deal: deal_id required", gatekeep.ErrValidation)
	}
	from := strings.ToLower(strings.TrimSpace(a.FromStage))
	to := strings.ToLower(strings.TrimSpace(a.ToStage))
	if _, ok := validStages[from]; !ok {
		return fmt.Errorf("%w: transition_deal: unknown stage %q", gatekeep.ErrValidation, a.FromStage)
	}
	if _, ok := validStages[to]; !ok {
		return fmt.Errorf("%w: transition_deal: unknown stage %q", gatekeep.ErrValidation, a.ToStage)
	}
	for _, allowed := range validTransitions[from] {
		if to == allowed {
			return nil
		}
	}
	return fmt.Errorf("%w: transition_deal: invalid transition %s -> %s",
		gatekeep.ErrValidation, from, to)
}

// ──────────────────────────────────────────────────
// create_deal
// ──────────────────────────────────────────────────

// CreateDeal registers a new deal in the pipeline. Write tier.
type CreateDeal struct {
	DealName string `json:"name"`
	Stage    string `json:"stage,omitempty"`
}

// Name implements Action.
func (CreateDeal) Name() string { return "create_deal" }

// Tier implements Action.
func (CreateDeal) Tier() approval.Tier { return approval.TierWrite }

// Validate implements Action.
func (a CreateDeal) Validate() error {
	if strings.TrimSpace(a.DealName) == "" {
		return fmt.Errorf("%w: create_deal: name required", gatekeep.ErrValidation)
	}
	if a.Stage != "" {
		if _, ok := validStages[strings.ToLower(a.Stage)]; !ok {
			return fmt.Errorf("%w: create_deal: unknown stage %q", gatekeep.ErrValidation, a.Stage)
		}
	}
	return nil
}

// ──────────────────────────────────────────────────
// search_deals
// ──────────────────────────────────────────────────

// SearchDeals queries the deal index. Read tier, no side effects.
type SearchDeals struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// Name implements Action.
func (SearchDeals) Name() string { return "search_deals" }

// Tier implements Action.
func (SearchDeals) Tier() approval.Tier { return approval.TierRead }

// Validate implements Action.
func (a SearchDeals) Validate() error {
	if strings.TrimSpace(a.Query) == "" {
		return fmt.Errorf("%w: search_deals: query required", gatekeep.ErrValidation)
	}
	if a.Limit < 0 || a.Limit > 100 {
		return fmt.Errorf("%w: search_deals: limit out of range", gatekeep.ErrValidation)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Decoding
// ──────────────────────────────────────────────────

// Decode parses arguments for the named action kind, rejecting unknown
// kinds and unknown fields, then validates the result.
func Decode(name string, args json.RawMessage) (Action, error) {
	var a Action
	switch name {
	case "transition_deal":
		a = &TransitionDeal{}
	case "create_deal":
		a = &CreateDeal{}
	case "search_deals":
		a = &SearchDeals{}
	default:
		return nil, fmt.Errorf("%w: unknown action %q", gatekeep.ErrValidation, name)
	}

	dec := json.NewDecoder(bytes.NewReader(args))
	dec.DisallowUnknownFields()
	if err := dec.Decode(a); err != nil {
		return nil, fmt.Errorf("%w: decode %s args: %v", gatekeep.ErrValidation, name, err)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return deref(a), nil
}

// deref returns the value form so callers compare concrete types.
func deref(a Action) Action {
	switch v := a.(type) {
	case *TransitionDeal:
		return *v
	case *CreateDeal:
		return *v
	case *SearchDeals:
		return *v
	default:
		return a
	}
}

// TierFor returns the permission tier for a known action name, or
// critical for unknown names so nothing slips past the gate.
func TierFor(name string) approval.Tier {
	switch name {
	case "transition_deal":
		return approval.TierCritical
	case "create_deal":
		return approval.TierWrite
	case "search_deals":
		return approval.TierRead
	default:
		return approval.TierCritical
	}
}
