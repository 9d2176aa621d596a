package inbound

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-appointment-agent/internal/agent"
	redisclient "github.com/hackgods/clinic-appointment-agent/internal/redis"
	"github.com/hackgods/clinic-appointment-agent/internal/scheduling"
	"github.com/hackgods/clinic-appointment-agent/internal/scheduling/schedulingtest"
	"github.com/hackgods/clinic-appointment-agent/internal/tools"
)

var bogota, _ = time.LoadLocation("America/Bogota")

type memStore struct {
	mu            sync.Mutex
	conversations map[uuid.UUID]*Conversation
	messages      []Message
	readErr       error
}

func newMemStore() *memStore {
	return &memStore{conversations: map[uuid.UUID]*Conversation{}}
}

func (m *memStore) OpenConversation(_ context.Context, clinicID, patientID uuid.UUID, address string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.conversations {
		if c.ClinicID == clinicID && c.PatientID == patientID && c.Status != ConversationResolved {
			cp := *c
			return &cp, nil
		}
	}
	c := &Conversation{ID: uuid.New(), ClinicID: clinicID, PatientID: patientID, ChannelAddress: address, Status: ConversationActive}
	m.conversations[c.ID] = c
	cp := *c
	return &cp, nil
}

func (m *memStore) RecentMessages(_ context.Context, conversationID uuid.UUID, limit int) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	var out []Message
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *memStore) SaveMessage(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

func (m *memStore) TouchConversation(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conversations[id]; ok {
		c.LastMessageAt = at
	}
	return nil
}

func (m *memStore) MarkEscalated(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conversations[id]; ok {
		c.Status = ConversationEscalated
		c.EscalatedAt = &at
	}
	return nil
}

func (m *memStore) roles() []MessageRole {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MessageRole, 0, len(m.messages))
	for _, msg := range m.messages {
		out = append(out, msg.Role)
	}
	return out
}

type fakeRunner struct {
	resp     *agent.Response
	err      error
	requests []agent.Request
}

func (f *fakeRunner) Run(_ context.Context, req agent.Request) (*agent.Response, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

type harness struct {
	repo    *schedulingtest.MemRepository
	outbox  *schedulingtest.Outbox
	store   *memStore
	runner  *fakeRunner
	svc     *Service
	clinic  *scheduling.Clinic
	redis   *miniredis.Miniredis
	now     time.Time
	channel string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	repo := schedulingtest.NewMemRepository()
	channel := "pn-100"
	clinic := repo.AddClinic(scheduling.Clinic{
		Name:      "Consultorio Norte",
		ChannelID: &channel,
		Timezone:  "America/Bogota",
		AgentName: "Sofía",
	})
	repo.AddDoctor(scheduling.Doctor{ClinicID: clinic.ID, Name: "Dra. Rojas", IsActive: true})

	now := time.Date(2026, 2, 16, 9, 0, 0, 0, bogota)
	outbox := &schedulingtest.Outbox{}
	sched := scheduling.NewService(repo, schedulingtest.NewLocalLocker(), outbox, zerolog.Nop(), nil).
		WithClock(func() time.Time { return now })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := newMemStore()
	runner := &fakeRunner{resp: &agent.Response{Text: "¡Hola Ana! ¿En qué te ayudo?", Rounds: 1, Outcome: agent.OutcomeFinal}}
	svc := NewService(sched, runner, store, redisclient.NewDeduper(client, time.Hour), outbox, zerolog.Nop(),
		Options{HistoryLimit: 20, TurnTimeout: time.Second})

	return &harness{
		repo: repo, outbox: outbox, store: store, runner: runner, svc: svc,
		clinic: clinic, redis: mr, now: now, channel: channel,
	}
}

func (h *harness) consentingPatient() *scheduling.Patient {
	consent := h.now.Add(-48 * time.Hour)
	return h.repo.AddPatient(scheduling.Patient{
		ClinicID:      h.clinic.ID,
		Name:          "Ana",
		Phone:         "+573101112233",
		DataConsentAt: &consent,
	})
}

func (h *harness) message(id, text string) InboundMessage {
	return InboundMessage{ChannelID: h.channel, From: "573101112233", ProfileName: "Ana", Text: text, MessageID: id}
}

func TestHandleFirstContact(t *testing.T) {
	h := newHarness(t)

	out, err := h.svc.Handle(context.Background(), h.message("wamid.1", "hola"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFirstContact, out)

	sent := h.outbox.Messages()
	require.Len(t, sent, 2)
	assert.Equal(t, agent.PrivacyNotice("Consultorio Norte"), sent[0].Text)
	assert.Contains(t, sent[1].Text, "Soy Sofía, asistente virtual de Consultorio Norte")
	assert.Equal(t, "573101112233", sent[0].To)

	assert.Empty(t, h.runner.requests)
	assert.Equal(t, []MessageRole{MessagePatient, MessageAgent, MessageAgent}, h.store.roles())

	p, err := h.repo.FindPatientByPhone(context.Background(), h.clinic.ID, "+573101112233")
	require.NoError(t, err)
	assert.NotNil(t, p.DataConsentAt)
	assert.Contains(t, h.repo.AuditActions(), scheduling.AuditPatientRegistered)
}

func TestHandleRunsConversation(t *testing.T) {
	h := newHarness(t)
	patient := h.consentingPatient()
	h.repo.Patients[patient.ID].NoShowProbability = 55

	ctx := context.Background()
	conv, err := h.store.OpenConversation(ctx, h.clinic.ID, patient.ID, patient.Phone)
	require.NoError(t, err)
	require.NoError(t, h.store.SaveMessage(ctx, Message{ConversationID: conv.ID, Role: MessagePatient, Content: "hola"}))
	require.NoError(t, h.store.SaveMessage(ctx, Message{ConversationID: conv.ID, Role: MessageAgent, Content: "¡Hola!"}))

	h.runner.resp.ActionsUsed = []string{tools.ActionCheckAvailability}

	out, err := h.svc.Handle(ctx, h.message("wamid.2", "<b>¿tienen cupo mañana?</b>"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplied, out)

	require.Len(t, h.runner.requests, 1)
	req := h.runner.requests[0]
	assert.Equal(t, "¿tienen cupo mañana?", req.Text)
	assert.Equal(t, []agent.Turn{
		{Role: agent.RolePatient, Text: "hola"},
		{Role: agent.RoleAgent, Text: "¡Hola!"},
	}, req.History)
	assert.Equal(t, "+573101112233", req.Tenant.PatientPhone)
	assert.Equal(t, "Dra. Rojas", req.Tenant.Doctor.Name)
	assert.Equal(t, "Ana", req.Prompt.PatientName)
	assert.InDelta(t, 55, req.Prompt.NoShowProbability, 0.001)

	sent := h.outbox.Messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "¡Hola Ana! ¿En qué te ayudo?", sent[0].Text)
	assert.Contains(t, h.repo.AuditActions(), AuditMessageProcessed)
}

func TestHandleIgnoresDuplicates(t *testing.T) {
	h := newHarness(t)
	h.consentingPatient()

	out, err := h.svc.Handle(context.Background(), h.message("wamid.dup", "hola"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplied, out)

	out, err = h.svc.Handle(context.Background(), h.message("wamid.dup", "hola"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, out)

	assert.Len(t, h.runner.requests, 1)
	assert.Len(t, h.outbox.Messages(), 1)
}

func TestHandleProcessesWhenDedupeUnavailable(t *testing.T) {
	h := newHarness(t)
	h.consentingPatient()
	h.redis.SetError("LOADING")

	out, err := h.svc.Handle(context.Background(), h.message("wamid.3", "hola"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplied, out)
}

func TestHandleEscalatedConversationIsSilent(t *testing.T) {
	h := newHarness(t)
	patient := h.consentingPatient()

	ctx := context.Background()
	conv, err := h.store.OpenConversation(ctx, h.clinic.ID, patient.ID, patient.Phone)
	require.NoError(t, err)
	require.NoError(t, h.store.MarkEscalated(ctx, conv.ID, h.now))

	out, err := h.svc.Handle(ctx, h.message("wamid.4", "¿hola?"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeEscalated, out)
	assert.Empty(t, h.outbox.Messages())
	assert.Empty(t, h.runner.requests)
	assert.Equal(t, []MessageRole{MessagePatient}, h.store.roles())
}

func TestHandleMarksEscalation(t *testing.T) {
	h := newHarness(t)
	h.consentingPatient()
	h.runner.resp = &agent.Response{
		Text:        "Te comunico con el consultorio.",
		ActionsUsed: []string{tools.ActionEscalateToHuman},
		Rounds:      2,
		Outcome:     agent.OutcomeFinal,
	}

	out, err := h.svc.Handle(context.Background(), h.message("wamid.5", "quiero hablar con humano"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplied, out)

	for _, c := range h.store.conversations {
		assert.Equal(t, ConversationEscalated, c.Status)
		assert.NotNil(t, c.EscalatedAt)
	}
}

func TestHandleReminderReplies(t *testing.T) {
	tests := []struct {
		text      string
		confirmed bool
		reply     string
	}{
		{"Sí", true, ReminderConfirmedText},
		{"dale!", true, ReminderConfirmedText},
		{"no puedo", false, ReminderDeclinedText},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			h := newHarness(t)
			patient := h.consentingPatient()
			start := h.now.Add(24 * time.Hour)
			sentAt := h.now.Add(-time.Hour)
			appt := h.repo.AddAppointment(scheduling.Appointment{
				ClinicID:       h.clinic.ID,
				DoctorID:       uuid.New(),
				PatientID:      patient.ID,
				StartsAt:       start,
				EndsAt:         start.Add(30 * time.Minute),
				ReminderSent:   true,
				ReminderSentAt: &sentAt,
			})

			out, err := h.svc.Handle(context.Background(), h.message("wamid.r", tt.text))
			require.NoError(t, err)
			assert.Equal(t, OutcomeReminderReply, out)

			require.NotNil(t, h.repo.Appointments[appt.ID].ReminderConfirmed)
			assert.Equal(t, tt.confirmed, *h.repo.Appointments[appt.ID].ReminderConfirmed)

			sent := h.outbox.Messages()
			require.Len(t, sent, 1)
			assert.Equal(t, tt.reply, sent[0].Text)
			assert.Empty(t, h.runner.requests)
		})
	}
}

func TestHandleBareYesWithoutReminderGoesToConversation(t *testing.T) {
	h := newHarness(t)
	h.consentingPatient()

	out, err := h.svc.Handle(context.Background(), h.message("wamid.6", "sí"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplied, out)
	assert.Len(t, h.runner.requests, 1)
}

func TestHandleTurnFailureSendsApology(t *testing.T) {
	h := newHarness(t)
	h.consentingPatient()
	boom := errors.New("bedrock unavailable")
	h.runner.err = boom

	out, err := h.svc.Handle(context.Background(), h.message("wamid.7", "hola"))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, OutcomeFailed, out)

	sent := h.outbox.Messages()
	require.Len(t, sent, 1)
	assert.Equal(t, agent.FailureText, sent[0].Text)
}

func TestHandleStorageFailureSendsApologyAndAllowsRedelivery(t *testing.T) {
	h := newHarness(t)
	h.consentingPatient()
	down := errors.New("connection reset")
	h.store.readErr = down

	out, err := h.svc.Handle(context.Background(), h.message("wamid.11", "hola"))
	assert.ErrorIs(t, err, down)
	assert.Equal(t, OutcomeFailed, out)
	assert.Empty(t, h.runner.requests)

	sent := h.outbox.Messages()
	require.Len(t, sent, 1)
	assert.Equal(t, agent.FailureText, sent[0].Text)

	h.store.readErr = nil
	out, err = h.svc.Handle(context.Background(), h.message("wamid.11", "hola"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplied, out)
	assert.Len(t, h.runner.requests, 1)
}

func TestHandleTurnFailureKeepsDedupeClaim(t *testing.T) {
	h := newHarness(t)
	h.consentingPatient()
	h.runner.err = errors.New("bedrock unavailable")

	_, err := h.svc.Handle(context.Background(), h.message("wamid.12", "hola"))
	require.Error(t, err)

	out, err := h.svc.Handle(context.Background(), h.message("wamid.12", "hola"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, out)
	assert.Len(t, h.outbox.Messages(), 1)
}

func TestHandleUnsupportedType(t *testing.T) {
	h := newHarness(t)

	msg := h.message("wamid.8", "")
	msg.Type = "audio"
	out, err := h.svc.Handle(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnsupported, out)

	sent := h.outbox.Messages()
	require.Len(t, sent, 1)
	assert.Equal(t, UnsupportedTypeText("audio"), sent[0].Text)
}

func TestHandleRejectsUnknownChannelAndSender(t *testing.T) {
	h := newHarness(t)

	msg := h.message("wamid.9", "hola")
	msg.ChannelID = "unknown"
	_, err := h.svc.Handle(context.Background(), msg)
	assert.ErrorIs(t, err, scheduling.ErrClinicNotFound)

	msg = h.message("wamid.10", "hola")
	msg.From = "12"
	_, err = h.svc.Handle(context.Background(), msg)
	assert.ErrorIs(t, err, ErrInvalidSender)

	assert.Empty(t, h.outbox.Messages())
}

func TestWelcomeTextPrefersClinicMessage(t *testing.T) {
	custom := "Bienvenido al consultorio"
	assert.Equal(t, custom, WelcomeText(scheduling.Clinic{Name: "X", WelcomeMessage: &custom}))
	assert.Contains(t, WelcomeText(scheduling.Clinic{Name: "X"}), "asistente virtual de X")
}
