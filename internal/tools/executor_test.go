package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-appointment-agent/internal/observability"
	"github.com/hackgods/clinic-appointment-agent/internal/scheduling"
	"github.com/hackgods/clinic-appointment-agent/internal/scheduling/schedulingtest"
)

var bogota, _ = time.LoadLocation("America/Bogota")

type harness struct {
	repo     *schedulingtest.MemRepository
	outbox   *schedulingtest.Outbox
	exec     *Executor
	tenant   Tenant
	registry *prometheus.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	repo := schedulingtest.NewMemRepository()
	day := scheduling.WorkingDay{Start: "08:00", End: "12:00", Active: true}
	clinic := repo.AddClinic(scheduling.Clinic{
		Name:               "Consultorio Norte",
		Timezone:           "America/Bogota",
		AppointmentMinutes: 30,
		WorkingHours: scheduling.WorkingHours{
			"monday": day, "tuesday": day, "wednesday": day, "thursday": day, "friday": day,
			"saturday": {Start: "08:00", End: "12:00", Active: false},
		},
	})
	doctor := repo.AddDoctor(scheduling.Doctor{ClinicID: clinic.ID, Name: "Dra. Rojas", IsActive: true})

	outbox := &schedulingtest.Outbox{}
	now := time.Date(2026, 2, 14, 12, 0, 0, 0, bogota) // a Saturday
	svc := scheduling.NewService(repo, schedulingtest.NewLocalLocker(), outbox, zerolog.Nop(), nil).
		WithClock(func() time.Time { return now })

	reg := prometheus.NewRegistry()
	return &harness{
		repo:     repo,
		outbox:   outbox,
		exec:     NewExecutor(svc, zerolog.Nop(), observability.NewMetrics(reg)),
		tenant:   Tenant{Clinic: *clinic, Doctor: *doctor, PatientPhone: "+573101112233"},
		registry: reg,
	}
}

func (h *harness) run(t *testing.T, action string, params any) Result {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	return h.exec.Execute(context.Background(), action, raw, h.tenant)
}

func (h *harness) createParams(start string) map[string]any {
	return map[string]any{
		"doctor_id":       h.tenant.Doctor.ID.String(),
		"patient_name":    "Ana Gómez",
		"patient_phone":   "3101112233",
		"starts_at":       start,
		"date_of_birth":   "1990-03-15",
		"document_type":   "cc",
		"document_number": "1020304050",
		"reason":          "control",
	}
}

func TestExecuteUnknownAction(t *testing.T) {
	h := newHarness(t)

	res := h.run(t, "delete_everything", map[string]any{})
	assert.False(t, res.Success)
	assert.Equal(t, CodeUnknownAction, res.Code)
	assert.Contains(t, res.Error, "delete_everything")
}

func TestExecuteMalformedParameters(t *testing.T) {
	h := newHarness(t)

	res := h.exec.Execute(context.Background(), ActionCancelAppointment, json.RawMessage(`{"appointment_id": 12`), h.tenant)
	assert.False(t, res.Success)
	assert.Equal(t, CodeInvalidParameters, res.Code)
}

func TestCheckAvailabilityOpenDay(t *testing.T) {
	h := newHarness(t)
	h.repo.AddAppointment(scheduling.Appointment{
		ClinicID: h.tenant.Clinic.ID,
		DoctorID: h.tenant.Doctor.ID,
		StartsAt: time.Date(2026, 2, 16, 9, 0, 0, 0, bogota).UTC(),
		EndsAt:   time.Date(2026, 2, 16, 9, 30, 0, 0, bogota).UTC(),
	})

	res := h.run(t, ActionCheckAvailability, map[string]any{"preferred_date": "2026-02-16"})
	require.True(t, res.Success, res.Error)

	view := res.Data.(availabilityView)
	assert.True(t, view.Available)
	assert.Equal(t, "2026-02-16", view.Date)
	assert.Equal(t, "Dra. Rojas", view.DoctorName)
	assert.Equal(t, 7, view.TotalAvailable)
	assert.Equal(t, "8:00 AM", view.Slots[0].Time)
	assert.Equal(t, "2026-02-16T08:00:00-05:00", view.Slots[0].StartsAt)
	for _, s := range view.Slots {
		assert.NotEqual(t, "9:00 AM", s.Time)
	}
}

func TestCheckAvailabilityPreferredTime(t *testing.T) {
	h := newHarness(t)

	res := h.run(t, ActionCheckAvailability, map[string]any{"preferred_date": "2026-02-16", "preferred_time": "10:00"})
	require.True(t, res.Success)
	view := res.Data.(availabilityView)
	assert.Equal(t, 4, view.TotalAvailable)
	assert.Equal(t, "10:00 AM", view.Slots[0].Time)

	res = h.run(t, ActionCheckAvailability, map[string]any{"preferred_date": "2026-02-16", "preferred_time": "afternoon"})
	require.True(t, res.Success)
	view = res.Data.(availabilityView)
	assert.False(t, view.Available)
	assert.NotEmpty(t, view.Suggestion)

	res = h.run(t, ActionCheckAvailability, map[string]any{"preferred_date": "2026-02-16", "preferred_time": "tarde"})
	assert.Equal(t, CodeInvalidParameters, res.Code)
}

func TestCheckAvailabilityClosedDay(t *testing.T) {
	h := newHarness(t)

	// no date given: today is Saturday in the clinic's zone
	res := h.run(t, ActionCheckAvailability, map[string]any{})
	require.True(t, res.Success)

	view := res.Data.(availabilityView)
	assert.False(t, view.Available)
	assert.Equal(t, "2026-02-14", view.Date)
	assert.Equal(t, "El consultorio no atiende los sábados", view.Reason)
	assert.NotEmpty(t, view.WorkingHours)
}

func TestCheckAvailabilityInvalidInput(t *testing.T) {
	h := newHarness(t)

	res := h.run(t, ActionCheckAvailability, map[string]any{"preferred_date": "16/02/2026"})
	assert.Equal(t, CodeInvalidDate, res.Code)

	res = h.run(t, ActionCheckAvailability, map[string]any{"doctor_id": "dr-1"})
	assert.Equal(t, CodeInvalidParameters, res.Code)

	res = h.run(t, ActionCheckAvailability, map[string]any{"doctor_id": uuid.NewString(), "preferred_date": "2026-02-16"})
	assert.Equal(t, CodeNotFound, res.Code)
}

func TestCreateAppointmentThenConflict(t *testing.T) {
	h := newHarness(t)

	res := h.run(t, ActionCreateAppointment, h.createParams("2026-02-16T10:00:00-05:00"))
	require.True(t, res.Success, res.Error)

	created := res.Data.(createdView)
	assert.Equal(t, "Cita creada exitosamente", created.Message)
	assert.Equal(t, "lunes 16 de febrero, 10:00 AM", created.FormattedDate)
	assert.Equal(t, 30*time.Minute, created.EndsAt.Sub(created.StartsAt))

	appt := h.repo.Appointments[created.AppointmentID]
	require.NotNil(t, appt)
	patient := h.repo.Patients[appt.PatientID]
	assert.Equal(t, "+573101112233", patient.Phone)
	require.NotNil(t, patient.DocumentType)
	assert.Equal(t, "CC", *patient.DocumentType)

	// offset-less times are read in the clinic's zone and overlap the first booking
	res = h.run(t, ActionCreateAppointment, h.createParams("2026-02-16T10:15"))
	assert.False(t, res.Success)
	assert.Equal(t, CodeSlotConflict, res.Code)
	assert.Equal(t, "Ese horario ya está ocupado. Por favor ofrece otro horario al paciente.", res.Error)
}

func TestCreateAppointmentValidation(t *testing.T) {
	h := newHarness(t)

	params := h.createParams("2026-02-16T10:00:00-05:00")
	delete(params, "date_of_birth")
	delete(params, "document_number")
	res := h.run(t, ActionCreateAppointment, params)
	assert.Equal(t, CodeInvalidParameters, res.Code)
	assert.Contains(t, res.Error, "date_of_birth")
	assert.Contains(t, res.Error, "document_number")

	params = h.createParams("2026-02-16T10:00:00-05:00")
	params["document_type"] = "NIT"
	assert.Equal(t, CodeInvalidParameters, h.run(t, ActionCreateAppointment, params).Code)

	params = h.createParams("2026-02-16T10:00:00-05:00")
	params["patient_phone"] = "12"
	assert.Equal(t, CodeInvalidPhone, h.run(t, ActionCreateAppointment, params).Code)

	params = h.createParams("mañana a las 10")
	assert.Equal(t, CodeInvalidDate, h.run(t, ActionCreateAppointment, params).Code)

	params = h.createParams("2026-02-13T10:00:00-05:00")
	assert.Equal(t, CodeInvalidDate, h.run(t, ActionCreateAppointment, params).Code)

	assert.Empty(t, h.repo.Appointments)
}

func TestGetPatientAppointments(t *testing.T) {
	h := newHarness(t)

	res := h.run(t, ActionGetPatientAppointments, map[string]any{"patient_phone": "+573009998877"})
	require.True(t, res.Success)
	view := res.Data.(appointmentsView)
	assert.Empty(t, view.Appointments)
	assert.NotNil(t, view.Appointments)

	require.True(t, h.run(t, ActionCreateAppointment, h.createParams("2026-02-17T11:00:00-05:00")).Success)
	require.True(t, h.run(t, ActionCreateAppointment, h.createParams("2026-02-16T08:30:00-05:00")).Success)

	// the sender's phone is used when none is given
	res = h.run(t, ActionGetPatientAppointments, map[string]any{})
	require.True(t, res.Success)
	view = res.Data.(appointmentsView)
	require.Equal(t, 2, view.Total)
	assert.Equal(t, "lunes 16 de febrero", view.Appointments[0].Date)
	assert.Equal(t, "8:30 AM", view.Appointments[0].Time)
	assert.Equal(t, "martes 17 de febrero", view.Appointments[1].Date)
}

func TestCancelAppointment(t *testing.T) {
	h := newHarness(t)
	created := h.run(t, ActionCreateAppointment, h.createParams("2026-02-16T10:00:00-05:00")).Data.(createdView)

	res := h.run(t, ActionCancelAppointment, map[string]any{"appointment_id": created.AppointmentID.String(), "reason": "viaje"})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, scheduling.StatusCancelled, h.repo.Appointments[created.AppointmentID].Status)

	res = h.run(t, ActionCancelAppointment, map[string]any{"appointment_id": created.AppointmentID.String(), "reason": "viaje"})
	assert.Equal(t, CodeAlreadyCancelled, res.Code)

	res = h.run(t, ActionCancelAppointment, map[string]any{"appointment_id": uuid.NewString(), "reason": "viaje"})
	assert.Equal(t, CodeNotFound, res.Code)

	res = h.run(t, ActionCancelAppointment, map[string]any{"appointment_id": "abc", "reason": "viaje"})
	assert.Equal(t, CodeNotFound, res.Code)

	res = h.run(t, ActionCancelAppointment, map[string]any{"appointment_id": created.AppointmentID.String()})
	assert.Equal(t, CodeInvalidParameters, res.Code)
}

func TestCancelAppointmentOtherClinic(t *testing.T) {
	h := newHarness(t)
	other := h.repo.AddClinic(scheduling.Clinic{Name: "Otra", Timezone: "America/Bogota", AppointmentMinutes: 30})
	foreign := h.repo.AddAppointment(scheduling.Appointment{
		ClinicID: other.ID,
		DoctorID: uuid.New(),
		StartsAt: time.Date(2026, 2, 16, 15, 0, 0, 0, time.UTC),
		EndsAt:   time.Date(2026, 2, 16, 15, 30, 0, 0, time.UTC),
	})

	res := h.run(t, ActionCancelAppointment, map[string]any{"appointment_id": foreign.ID.String(), "reason": "x"})
	assert.Equal(t, CodeNotFound, res.Code)
	assert.Equal(t, scheduling.StatusConfirmed, h.repo.Appointments[foreign.ID].Status)
}

func TestRescheduleAppointment(t *testing.T) {
	h := newHarness(t)
	first := h.run(t, ActionCreateAppointment, h.createParams("2026-02-16T10:00:00-05:00")).Data.(createdView)
	other := h.createParams("2026-02-16T11:00:00-05:00")
	other["patient_phone"] = "3005556677"
	require.True(t, h.run(t, ActionCreateAppointment, other).Success)

	res := h.run(t, ActionRescheduleAppointment, map[string]any{
		"appointment_id": first.AppointmentID.String(),
		"new_starts_at":  "2026-02-16T11:00:00-05:00",
	})
	assert.Equal(t, CodeSlotConflict, res.Code)
	assert.Equal(t, "El nuevo horario ya está ocupado. Ofrece otro horario.", res.Error)

	res = h.run(t, ActionRescheduleAppointment, map[string]any{
		"appointment_id": first.AppointmentID.String(),
		"new_starts_at":  "2026-02-17T09:00:00-05:00",
	})
	require.True(t, res.Success, res.Error)
	moved := res.Data.(rescheduledView)
	assert.Equal(t, "martes 17 de febrero, 9:00 AM", moved.NewDate)

	original := h.repo.Appointments[first.AppointmentID]
	assert.Equal(t, scheduling.StatusRescheduled, original.Status)
	require.NotNil(t, original.SupersededBy)
	assert.Equal(t, moved.NewAppointmentID, *original.SupersededBy)

	// the superseded row can no longer be moved
	res = h.run(t, ActionRescheduleAppointment, map[string]any{
		"appointment_id": first.AppointmentID.String(),
		"new_starts_at":  "2026-02-18T09:00:00-05:00",
	})
	assert.Equal(t, CodeAppointmentInactive, res.Code)
}

func TestEscalateToHuman(t *testing.T) {
	h := newHarness(t)

	res := h.run(t, ActionEscalateToHuman, map[string]any{"reason": "dolor en el pecho", "urgency": "emergency"})
	require.True(t, res.Success)
	view := res.Data.(escalatedView)
	assert.Equal(t, "emergency", view.Urgency)
	assert.Contains(t, view.Message, "EMERGENCIA")

	res = h.run(t, ActionEscalateToHuman, map[string]any{"reason": "quiere hablar con alguien", "urgency": "whenever"})
	require.True(t, res.Success)
	assert.Equal(t, "medium", res.Data.(escalatedView).Urgency)

	assert.Equal(t, []string{scheduling.AuditConversationEscalated, scheduling.AuditConversationEscalated}, h.repo.AuditActions())
}

func TestAddToWaitlist(t *testing.T) {
	h := newHarness(t)

	res := h.run(t, ActionAddToWaitlist, map[string]any{"patient_phone": "3101112233"})
	assert.Equal(t, CodePatientNotFound, res.Code)

	h.repo.AddPatient(scheduling.Patient{ClinicID: h.tenant.Clinic.ID, Name: "Ana", Phone: "+573101112233"})

	res = h.run(t, ActionAddToWaitlist, map[string]any{"preferred_dates": []string{"2026-02-16"}, "preferred_time": "morning"})
	require.True(t, res.Success, res.Error)
	assert.True(t, res.Data.(waitlistView).Added)

	res = h.run(t, ActionAddToWaitlist, map[string]any{})
	require.True(t, res.Success)
	assert.True(t, res.Data.(waitlistView).AlreadyWaiting)
	assert.Len(t, h.repo.Waitlist, 1)

	res = h.run(t, ActionAddToWaitlist, map[string]any{"preferred_dates": []string{"lunes"}})
	assert.Equal(t, CodeInvalidDate, res.Code)

	res = h.run(t, ActionAddToWaitlist, map[string]any{"preferred_time": "noche"})
	assert.Equal(t, CodeInvalidParameters, res.Code)
}

func TestCancelNotifiesWaitlist(t *testing.T) {
	h := newHarness(t)
	created := h.run(t, ActionCreateAppointment, h.createParams("2026-02-16T10:00:00-05:00")).Data.(createdView)

	waiting := h.repo.AddPatient(scheduling.Patient{ClinicID: h.tenant.Clinic.ID, Name: "Luis", Phone: "+573005556677"})
	h.repo.AddWaitlistEntry(scheduling.WaitlistEntry{ClinicID: h.tenant.Clinic.ID, PatientID: waiting.ID, DoctorID: h.tenant.Doctor.ID})

	res := h.run(t, ActionCancelAppointment, map[string]any{"appointment_id": created.AppointmentID.String(), "reason": "viaje"})
	require.True(t, res.Success)

	sent := h.outbox.Messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "573005556677", sent[0].To)
	assert.Contains(t, sent[0].Text, "lunes 16 de febrero, 10:00 AM")
}

type failingScheduler struct {
	Scheduler
	err   error
	panic bool
}

func (f failingScheduler) UpcomingForPatient(context.Context, uuid.UUID, string) ([]scheduling.Appointment, error) {
	if f.panic {
		panic("boom")
	}
	return nil, f.err
}

func TestExecuteHidesInternalErrors(t *testing.T) {
	h := newHarness(t)

	exec := NewExecutor(failingScheduler{err: errors.New("connection refused")}, zerolog.Nop(), nil)
	res := exec.Execute(context.Background(), ActionGetPatientAppointments, nil, h.tenant)
	assert.False(t, res.Success)
	assert.Equal(t, CodeInternal, res.Code)
	assert.Equal(t, internalMessage, res.Error)
	assert.NotContains(t, res.Error, "connection refused")

	exec = NewExecutor(failingScheduler{panic: true}, zerolog.Nop(), nil)
	res = exec.Execute(context.Background(), ActionGetPatientAppointments, nil, h.tenant)
	assert.Equal(t, CodeInternal, res.Code)
}

func TestExecuteRecordsOutcomes(t *testing.T) {
	h := newHarness(t)

	h.run(t, ActionEscalateToHuman, map[string]any{"reason": "x", "urgency": "low"})
	h.run(t, "nope", nil)

	n, err := testutil.GatherAndCount(h.registry, "clinic_agent_tool_executions_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCatalog(t *testing.T) {
	h := newHarness(t)

	specs := h.exec.Catalog()
	require.Len(t, specs, 7)

	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = s.Name
		assert.NotEmpty(t, s.Description)
		assert.Equal(t, "object", s.Schema["type"])
		assert.NotEmpty(t, s.Schema["required"])
	}
	assert.Equal(t, []string{
		ActionAddToWaitlist, ActionCancelAppointment, ActionCheckAvailability, ActionCreateAppointment,
		ActionEscalateToHuman, ActionGetPatientAppointments, ActionRescheduleAppointment,
	}, names)
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
		err  bool
	}{
		{"3101112233", "+573101112233", false},
		{"310 111 2233", "+573101112233", false},
		{"573101112233", "+573101112233", false},
		{"+57 310-111-2233", "+573101112233", false},
		{"+1 (415) 555-0100", "+14155550100", false},
		{"12345", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizePhone(tt.in)
			if tt.err {
				var ae *ActionError
				require.ErrorAs(t, err, &ae)
				assert.Equal(t, CodeInvalidPhone, ae.Code)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
