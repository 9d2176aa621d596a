package agent

import (
	"context"

	"github.com/hackgods/clinic-appointment-agent/internal/tools"
)

type DecisionKind string

const (
	DecisionFinal         DecisionKind = "final"
	DecisionActionRequest DecisionKind = "action_request"
	// DecisionOther covers anything else the decision-maker can stop on,
	// e.g. running out of output tokens.
	DecisionOther DecisionKind = "other"
)

type Decision struct {
	Kind    DecisionKind
	Text    string
	Actions []ActionRequest
}

type DecisionInput struct {
	System  string
	Turns   []Turn
	Catalog []tools.Spec
}

// DecisionMaker chooses the next step of a conversation: answer, or ask for
// actions to be run first.
type DecisionMaker interface {
	Decide(ctx context.Context, in DecisionInput) (Decision, error)
}
