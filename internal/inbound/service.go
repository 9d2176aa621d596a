package inbound

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/hackgods/clinic-appointment-agent/internal/agent"
	"github.com/hackgods/clinic-appointment-agent/internal/scheduling"
	"github.com/hackgods/clinic-appointment-agent/internal/tools"
)

var tracer = otel.Tracer("clinic.internal.inbound")

var ErrInvalidSender = errors.New("sender is not a valid phone number")

const AuditMessageProcessed = "message_processed"

const (
	ReminderConfirmedText = "✅ ¡Perfecto, tu cita está confirmada! Te esperamos. Si necesitas algo más, escríbeme."
	ReminderDeclinedText  = "😔 Entendido. ¿Te gustaría reagendar tu cita para otro día? Escríbeme la fecha que prefieras."
)

// Runner runs one conversational turn.
type Runner interface {
	Run(ctx context.Context, req agent.Request) (*agent.Response, error)
}

type Deduper interface {
	FirstSeen(ctx context.Context, id string) (bool, error)
	Release(ctx context.Context, id string) error
}

type Options struct {
	HistoryLimit int
	TurnTimeout  time.Duration
}

type Service struct {
	sched    *scheduling.Service
	runner   Runner
	store    Store
	dedupe   Deduper
	notifier scheduling.Notifier
	logger   zerolog.Logger
	opts     Options
}

func NewService(sched *scheduling.Service, runner Runner, store Store, dedupe Deduper, notifier scheduling.Notifier, logger zerolog.Logger, opts Options) *Service {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 20
	}
	return &Service{
		sched:    sched,
		runner:   runner,
		store:    store,
		dedupe:   dedupe,
		notifier: notifier,
		logger:   logger.With().Str("component", "inbound").Logger(),
		opts:     opts,
	}
}

// Handle processes one patient message end to end and delivers the reply.
func (s *Service) Handle(ctx context.Context, msg InboundMessage) (outcome Outcome, err error) {
	ctx, span := tracer.Start(ctx, "inbound.Handle")
	defer func() {
		span.SetAttributes(attribute.String("inbound.outcome", string(outcome)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if s.dedupe != nil {
		first, derr := s.dedupe.FirstSeen(ctx, msg.MessageID)
		switch {
		case derr != nil:
			// processing twice beats dropping a patient message
			s.logger.Warn().Err(derr).Str("message_id", msg.MessageID).Msg("dedupe unavailable, processing anyway")
		case !first:
			s.logger.Debug().Str("message_id", msg.MessageID).Msg("duplicate inbound message ignored")
			return OutcomeDuplicate, nil
		}
	}

	// once the decision-maker has run, a redelivery must not repeat its actions
	settled := false
	defer func() {
		if err == nil || settled || s.dedupe == nil {
			return
		}
		if rerr := s.dedupe.Release(context.WithoutCancel(ctx), msg.MessageID); rerr != nil {
			s.logger.Warn().Err(rerr).Str("message_id", msg.MessageID).Msg("failed to release dedupe key")
		}
	}()

	clinic, err := s.sched.ClinicByChannel(ctx, msg.ChannelID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("resolve clinic: %w", err)
	}
	doctor, err := s.sched.MainDoctor(ctx, clinic.ID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("resolve main doctor: %w", err)
	}

	phone, err := tools.NormalizePhone(msg.From)
	if err != nil {
		return OutcomeFailed, ErrInvalidSender
	}

	log := s.logger.With().
		Str("clinic_id", clinic.ID.String()).
		Str("message_id", msg.MessageID).
		Logger()

	if !supportedType(msg.Type) {
		s.send(ctx, log, msg.From, UnsupportedTypeText(msg.Type))
		return OutcomeUnsupported, nil
	}

	text := Sanitize(msg.Text)
	if text == "" {
		return OutcomeEmpty, nil
	}

	defer func() {
		if err != nil && !settled {
			s.send(context.WithoutCancel(ctx), log, msg.From, agent.FailureText)
		}
	}()

	patient, _, err := s.sched.FindOrCreatePatient(ctx, clinic.ID, phone, msg.ProfileName)
	if err != nil {
		return OutcomeFailed, err
	}

	conv, err := s.store.OpenConversation(ctx, clinic.ID, patient.ID, phone)
	if err != nil {
		return OutcomeFailed, err
	}
	log = log.With().Str("conversation_id", conv.ID.String()).Logger()

	// history is read before the inbound message is stored so it is not
	// fed to the decision-maker twice
	history, err := s.store.RecentMessages(ctx, conv.ID, s.opts.HistoryLimit)
	if err != nil {
		return OutcomeFailed, err
	}

	inbound := Message{ConversationID: conv.ID, Role: MessagePatient, Content: text}
	if msg.MessageID != "" {
		inbound.ChannelMessageID = &msg.MessageID
	}
	if err := s.store.SaveMessage(ctx, inbound); err != nil {
		return OutcomeFailed, err
	}
	if err := s.store.TouchConversation(ctx, conv.ID, s.sched.Now()); err != nil {
		log.Warn().Err(err).Msg("failed to touch conversation")
	}

	if conv.Status == ConversationEscalated {
		log.Info().Msg("conversation escalated, leaving reply to staff")
		return OutcomeEscalated, nil
	}

	handled, err := s.handleReminderReply(ctx, log, *clinic, patient.ID, conv.ID, msg.From, text)
	if err != nil {
		return OutcomeFailed, err
	}
	if handled {
		return OutcomeReminderReply, nil
	}

	if patient.DataConsentAt == nil {
		if err := s.firstContact(ctx, log, *clinic, patient.ID, conv.ID, msg.From); err != nil {
			return OutcomeFailed, err
		}
		return OutcomeFirstContact, nil
	}

	turnCtx := ctx
	if s.opts.TurnTimeout > 0 {
		var cancel context.CancelFunc
		turnCtx, cancel = context.WithTimeout(ctx, s.opts.TurnTimeout)
		defer cancel()
	}

	settled = true
	resp, err := s.runner.Run(turnCtx, agent.Request{
		Text:    text,
		History: toTurns(history),
		Tenant:  tools.Tenant{Clinic: *clinic, Doctor: *doctor, PatientPhone: phone},
		Prompt: agent.PromptContext{
			Clinic:            *clinic,
			Doctor:            *doctor,
			PatientPhone:      phone,
			PatientName:       patient.Name,
			NoShowProbability: patient.NoShowProbability,
			Now:               s.sched.Now(),
		},
	})
	if err != nil {
		s.reply(ctx, log, conv.ID, msg.From, agent.FailureText)
		return OutcomeFailed, fmt.Errorf("run conversation turn: %w", err)
	}

	s.reply(ctx, log, conv.ID, msg.From, resp.Text)

	if resp.Escalated() {
		if err := s.store.MarkEscalated(ctx, conv.ID, s.sched.Now()); err != nil {
			log.Error().Err(err).Msg("failed to mark conversation escalated")
		}
	}

	s.sched.Audit(ctx, clinic.ID, AuditMessageProcessed, scheduling.ActorAgent, "conversation", &conv.ID, map[string]any{
		"actions_used": resp.ActionsUsed,
		"rounds":       resp.Rounds,
		"outcome":      resp.Outcome,
	})

	log.Info().
		Strs("actions_used", resp.ActionsUsed).
		Int("rounds", resp.Rounds).
		Str("outcome", resp.Outcome).
		Msg("message processed")

	return OutcomeReplied, nil
}

func (s *Service) handleReminderReply(ctx context.Context, log zerolog.Logger, clinic scheduling.Clinic, patientID, convID uuid.UUID, to, text string) (bool, error) {
	kind := classifyReply(text)
	if kind == replyNone {
		return false, nil
	}

	appt, err := s.sched.AwaitingReminderReply(ctx, clinic.ID, patientID)
	if err != nil {
		return false, fmt.Errorf("find reminder awaiting reply: %w", err)
	}
	if appt == nil {
		return false, nil
	}

	confirmed := kind == replyConfirm
	if _, err := s.sched.RecordReminderResponse(ctx, clinic.ID, *appt, confirmed); err != nil {
		return false, err
	}

	text = ReminderDeclinedText
	if confirmed {
		text = ReminderConfirmedText
	}
	s.reply(ctx, log, convID, to, text)

	log.Info().
		Str("appointment_id", appt.ID.String()).
		Bool("confirmed", confirmed).
		Msg("reminder answered")
	return true, nil
}

// firstContact sends the data-processing notice and the welcome. Continuing
// the conversation counts as consent.
func (s *Service) firstContact(ctx context.Context, log zerolog.Logger, clinic scheduling.Clinic, patientID, convID uuid.UUID, to string) error {
	s.reply(ctx, log, convID, to, agent.PrivacyNotice(clinic.Name))

	if err := s.sched.RecordConsent(ctx, clinic.ID, patientID); err != nil {
		return fmt.Errorf("record consent: %w", err)
	}

	s.reply(ctx, log, convID, to, WelcomeText(clinic))
	return nil
}

func WelcomeText(c scheduling.Clinic) string {
	if c.WelcomeMessage != nil && *c.WelcomeMessage != "" {
		return *c.WelcomeMessage
	}
	name := c.AgentName
	if name == "" {
		name = "el asistente"
	}
	return fmt.Sprintf("¡Hola! 👋 Soy %s, asistente virtual de %s. ¿En qué te puedo ayudar?", name, c.Name)
}

// reply stores an agent message and delivers it. A failed delivery is
// logged; the stored copy stays for staff to see.
func (s *Service) reply(ctx context.Context, log zerolog.Logger, convID uuid.UUID, to, text string) {
	if err := s.store.SaveMessage(ctx, Message{ConversationID: convID, Role: MessageAgent, Content: text}); err != nil {
		log.Error().Err(err).Msg("failed to store agent message")
	}
	s.send(ctx, log, to, text)
}

func (s *Service) send(ctx context.Context, log zerolog.Logger, to, text string) {
	if _, err := s.notifier.Send(ctx, to, text); err != nil {
		log.Error().Err(err).Msg("failed to deliver reply, patient did not receive it")
	}
}

func toTurns(msgs []Message) []agent.Turn {
	turns := make([]agent.Turn, 0, len(msgs))
	for _, m := range msgs {
		role := agent.RoleAgent
		if m.Role == MessagePatient {
			role = agent.RolePatient
		}
		turns = append(turns, agent.Turn{Role: role, Text: m.Content})
	}
	return turns
}
