package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/hackgods/clinic-appointment-agent/internal/observability"
	"github.com/hackgods/clinic-appointment-agent/internal/scheduling"
)

var tracer = otel.Tracer("clinic.internal.tools")

// Tenant scopes every action to one clinic and the patient talking to it.
type Tenant struct {
	Clinic       scheduling.Clinic
	Doctor       scheduling.Doctor
	PatientPhone string
}

// Result is the envelope handed back to the decision-maker.
type Result struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// Spec describes an action to the decision-maker.
type Spec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// Scheduler is what the actions need from the scheduling service.
type Scheduler interface {
	Now() time.Time
	Availability(ctx context.Context, clinic scheduling.Clinic, doctorID uuid.UUID, date time.Time) (*scheduling.Availability, error)
	Book(ctx context.Context, req scheduling.BookingRequest) (*scheduling.Booking, error)
	UpcomingForPatient(ctx context.Context, clinicID uuid.UUID, phone string) ([]scheduling.Appointment, error)
	Cancel(ctx context.Context, clinic scheduling.Clinic, id uuid.UUID, reason string) (*scheduling.Appointment, error)
	Reschedule(ctx context.Context, clinic scheduling.Clinic, id uuid.UUID, newStart time.Time) (*scheduling.RescheduleResult, error)
	JoinWaitlist(ctx context.Context, req scheduling.WaitlistRequest) (*scheduling.WaitlistEntry, bool, error)
	Escalate(ctx context.Context, clinicID uuid.UUID, reason, urgency string)
}

type handler func(ctx context.Context, t Tenant, raw json.RawMessage) (any, error)

// Executor dispatches named actions to typed handlers.
type Executor struct {
	handlers map[string]handler
	specs    map[string]Spec
	logger   zerolog.Logger
	metrics  *observability.Metrics
}

func newExecutor(logger zerolog.Logger, metrics *observability.Metrics) *Executor {
	return &Executor{
		handlers: map[string]handler{},
		specs:    map[string]Spec{},
		logger:   logger.With().Str("component", "tools").Logger(),
		metrics:  metrics,
	}
}

// NewExecutor builds an executor with the full action catalog wired to svc.
func NewExecutor(svc Scheduler, logger zerolog.Logger, metrics *observability.Metrics) *Executor {
	e := newExecutor(logger, metrics)
	a := &actions{svc: svc}

	Register(e, checkAvailabilitySpec, a.checkAvailability)
	Register(e, createAppointmentSpec, a.createAppointment)
	Register(e, getPatientAppointmentsSpec, a.getPatientAppointments)
	Register(e, cancelAppointmentSpec, a.cancelAppointment)
	Register(e, rescheduleAppointmentSpec, a.rescheduleAppointment)
	Register(e, escalateToHumanSpec, a.escalateToHuman)
	Register(e, addToWaitlistSpec, a.addToWaitlist)

	return e
}

// Register binds an action name to a handler taking decoded parameters of
// type P. Parameters implementing Validate() are validated before the call.
func Register[P any](e *Executor, spec Spec, fn func(ctx context.Context, t Tenant, p P) (any, error)) {
	e.specs[spec.Name] = spec
	e.handlers[spec.Name] = func(ctx context.Context, t Tenant, raw json.RawMessage) (any, error) {
		var p P
		if len(bytes.TrimSpace(raw)) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, invalidParams("parámetros con formato inválido: %v", err)
			}
		}
		if v, ok := any(&p).(interface{ Validate() error }); ok {
			if err := v.Validate(); err != nil {
				return nil, err
			}
		}
		return fn(ctx, t, p)
	}
}

// Catalog lists registered actions sorted by name.
func (e *Executor) Catalog() []Spec {
	out := make([]Spec, 0, len(e.specs))
	for _, s := range e.specs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute runs one action. It never returns an error: failures become a
// Result the decision-maker can read, and internal details stay in the log.
func (e *Executor) Execute(ctx context.Context, name string, params json.RawMessage, t Tenant) (res Result) {
	ctx, span := tracer.Start(ctx, "tools."+name)
	defer span.End()
	span.SetAttributes(
		attribute.String("action", name),
		attribute.String("clinic_id", t.Clinic.ID.String()),
	)

	log := e.logger.With().
		Str("action", name).
		Str("clinic_id", t.Clinic.ID.String()).
		Logger()

	h, ok := e.handlers[name]
	if !ok {
		e.metrics.ObserveToolExecution(name, CodeUnknownAction)
		span.SetAttributes(attribute.String("outcome", CodeUnknownAction))
		return Result{Success: false, Code: CodeUnknownAction, Error: fmt.Sprintf("Acción %q no reconocida", name)}
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("action panicked")
			span.SetStatus(codes.Error, "panic")
			e.metrics.ObserveToolExecution(name, CodeInternal)
			res = Result{Success: false, Code: CodeInternal, Error: internalMessage}
		}
	}()

	data, err := h(ctx, t, params)
	if err == nil {
		e.metrics.ObserveToolExecution(name, "success")
		span.SetAttributes(attribute.String("outcome", "success"))
		return Result{Success: true, Data: data}
	}

	var ae *ActionError
	if errors.As(err, &ae) {
		e.metrics.ObserveToolExecution(name, ae.Code)
		span.SetAttributes(attribute.String("outcome", ae.Code))
		log.Info().Str("code", ae.Code).Msg(ae.Message)
		return Result{Success: false, Code: ae.Code, Error: ae.Message}
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	e.metrics.ObserveToolExecution(name, CodeInternal)
	log.Error().Err(err).Msg("action failed")
	return Result{Success: false, Code: CodeInternal, Error: internalMessage}
}
