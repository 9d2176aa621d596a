package agent

import (
	"encoding/json"
	"strings"

	"github.com/hackgods/clinic-appointment-agent/internal/tools"
)

// Role says which side of the conversation a turn belongs to.
type Role string

const (
	RolePatient Role = "patient"
	RoleAgent   Role = "agent"
)

// ActionRequest is one action the decision-maker asked for. ID ties the
// request to its result on the way back.
type ActionRequest struct {
	ID     string
	Name   string
	Params json.RawMessage
}

type ActionResult struct {
	RequestID string
	Name      string
	Result    tools.Result
}

// Turn is one message in the state handed to the decision-maker. An agent
// turn may carry action requests; the patient-side turn that follows it
// carries their results.
type Turn struct {
	Role     Role
	Text     string
	Requests []ActionRequest
	Results  []ActionResult
}

// NormalizeHistory keeps the most recent limit turns and repairs them into
// strict alternation starting with the patient: consecutive turns of the
// same role are merged with a line break, blank turns are skipped, and a
// leading agent turn is dropped. A limit of zero or less keeps everything.
func NormalizeHistory(turns []Turn, limit int) []Turn {
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}

	out := make([]Turn, 0, len(turns))
	for _, t := range turns {
		text := strings.TrimSpace(t.Text)
		if text == "" {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == t.Role {
			out[n-1].Text += "\n" + text
			continue
		}
		out = append(out, Turn{Role: t.Role, Text: text})
	}

	if len(out) > 0 && out[0].Role != RolePatient {
		out = out[1:]
	}
	return out
}
