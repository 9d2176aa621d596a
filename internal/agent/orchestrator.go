package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/hackgods/clinic-appointment-agent/internal/observability"
	"github.com/hackgods/clinic-appointment-agent/internal/tools"
)

var tracer = otel.Tracer("clinic.internal.agent")

// MaxRounds caps decision-maker calls per turn.
const MaxRounds = 5

// Patient-facing texts for turns that end without a usable answer.
const (
	EmptyAnswerText = "Lo siento, tuve un problema. Escribe \"hablar con humano\" para asistencia."
	FallbackText    = "Disculpa, tuve un problema técnico. Intenta de nuevo o escribe \"hablar con humano\"."
	ExhaustedText   = "Disculpa, estoy teniendo dificultades. Escribe \"hablar con humano\" y alguien del consultorio te ayudará."
	// FailureText is what the caller sends when a turn fails outright.
	FailureText = "Disculpa, tuve un problema técnico. Intenta de nuevo en unos minutos o escribe \"hablar con humano\"."
)

// Turn outcomes, also used as metric labels.
const (
	OutcomeFinal     = "final"
	OutcomeFallback  = "fallback"
	OutcomeExhausted = "exhausted"
	OutcomeError     = "error"
)

// Executor runs actions for the orchestrator.
type Executor interface {
	Execute(ctx context.Context, name string, params json.RawMessage, t tools.Tenant) tools.Result
	Catalog() []tools.Spec
}

type Request struct {
	Text    string
	History []Turn
	Tenant  tools.Tenant
	Prompt  PromptContext
}

type Response struct {
	Text        string
	ActionsUsed []string
	Rounds      int
	Outcome     string
}

// Escalated reports whether escalate_to_human ran during the turn.
func (r *Response) Escalated() bool {
	for _, a := range r.ActionsUsed {
		if a == tools.ActionEscalateToHuman {
			return true
		}
	}
	return false
}

type state int

const (
	stateAwaitingDecision state = iota
	stateExecutingActions
	stateTerminated
)

type Orchestrator struct {
	dm           DecisionMaker
	exec         Executor
	logger       zerolog.Logger
	metrics      *observability.Metrics
	historyLimit int
	maxRounds    int
}

func NewOrchestrator(dm DecisionMaker, exec Executor, historyLimit int, logger zerolog.Logger, metrics *observability.Metrics) *Orchestrator {
	return &Orchestrator{
		dm:           dm,
		exec:         exec,
		logger:       logger.With().Str("component", "agent").Logger(),
		metrics:      metrics,
		historyLimit: historyLimit,
		maxRounds:    MaxRounds,
	}
}

func plain(t Turn) bool {
	return len(t.Requests) == 0 && len(t.Results) == 0
}

// appendTurn keeps alternation when the new turn has the same role as the
// last one.
func appendTurn(turns []Turn, t Turn) []Turn {
	if n := len(turns); n > 0 && turns[n-1].Role == t.Role && plain(turns[n-1]) && plain(t) {
		turns[n-1].Text += "\n" + t.Text
		return turns
	}
	return append(turns, t)
}

// Run answers one inbound message. The decision-maker is called at most
// MaxRounds times; a decision-maker error fails the whole turn and is not
// retried here.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Response, error) {
	ctx, span := tracer.Start(ctx, "agent.Run")
	defer span.End()
	span.SetAttributes(attribute.String("clinic_id", req.Tenant.Clinic.ID.String()))

	log := observability.LoggerFromContext(ctx, o.logger).With().
		Str("clinic_id", req.Tenant.Clinic.ID.String()).
		Logger()

	turns := NormalizeHistory(req.History, o.historyLimit)
	turns = appendTurn(turns, Turn{Role: RolePatient, Text: strings.TrimSpace(req.Text)})

	in := DecisionInput{
		System:  BuildSystemPrompt(req.Prompt),
		Catalog: o.exec.Catalog(),
	}

	resp := &Response{ActionsUsed: []string{}}
	var decision Decision

	for st := stateAwaitingDecision; st != stateTerminated; {
		switch st {
		case stateAwaitingDecision:
			if resp.Rounds == o.maxRounds {
				resp.Text, resp.Outcome = ExhaustedText, OutcomeExhausted
				st = stateTerminated
				continue
			}
			resp.Rounds++

			in.Turns = append([]Turn(nil), turns...)
			d, err := o.decide(ctx, in, resp.Rounds)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				o.metrics.ObserveTurn(OutcomeError, resp.Rounds)
				return nil, fmt.Errorf("decision round %d: %w", resp.Rounds, err)
			}
			decision = d

			switch {
			case d.Kind == DecisionFinal:
				resp.Text, resp.Outcome = strings.TrimSpace(d.Text), OutcomeFinal
				if resp.Text == "" {
					resp.Text = EmptyAnswerText
				}
				st = stateTerminated
			case d.Kind == DecisionActionRequest && len(d.Actions) > 0:
				st = stateExecutingActions
			default:
				resp.Text, resp.Outcome = strings.TrimSpace(d.Text), OutcomeFallback
				if resp.Text == "" {
					resp.Text = FallbackText
				}
				st = stateTerminated
			}

		case stateExecutingActions:
			results := make([]ActionResult, 0, len(decision.Actions))
			for _, a := range decision.Actions {
				resp.ActionsUsed = append(resp.ActionsUsed, a.Name)
				res := o.exec.Execute(ctx, a.Name, a.Params, req.Tenant)
				log.Debug().Str("action", a.Name).Bool("success", res.Success).Str("code", res.Code).Msg("action executed")
				results = append(results, ActionResult{RequestID: a.ID, Name: a.Name, Result: res})
			}

			turns = append(turns,
				Turn{Role: RoleAgent, Text: strings.TrimSpace(decision.Text), Requests: decision.Actions},
				Turn{Role: RolePatient, Results: results},
			)
			st = stateAwaitingDecision
		}
	}

	span.SetAttributes(
		attribute.String("outcome", resp.Outcome),
		attribute.Int("rounds", resp.Rounds),
	)
	o.metrics.ObserveTurn(resp.Outcome, resp.Rounds)
	log.Info().
		Str("outcome", resp.Outcome).
		Int("rounds", resp.Rounds).
		Strs("actions", resp.ActionsUsed).
		Msg("turn completed")

	return resp, nil
}

func (o *Orchestrator) decide(ctx context.Context, in DecisionInput, round int) (Decision, error) {
	ctx, span := tracer.Start(ctx, "agent.decide")
	defer span.End()
	span.SetAttributes(attribute.Int("round", round))

	d, err := o.dm.Decide(ctx, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Decision{}, err
	}
	span.SetAttributes(
		attribute.String("kind", string(d.Kind)),
		attribute.Int("actions", len(d.Actions)),
	)
	return d, nil
}
