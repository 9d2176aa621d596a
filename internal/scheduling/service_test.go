package scheduling_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisclient "github.com/hackgods/clinic-appointment-agent/internal/redis"
	"github.com/hackgods/clinic-appointment-agent/internal/scheduling"
	"github.com/hackgods/clinic-appointment-agent/internal/scheduling/schedulingtest"
)

var bogota, _ = time.LoadLocation("America/Bogota")

// passthroughLocker runs fn without any mutual exclusion, leaving the
// repository as the only guard against double booking.
type passthroughLocker struct{}

func (passthroughLocker) WithDoctorLock(ctx context.Context, _, _ uuid.UUID, fn func(context.Context) error) error {
	return fn(ctx)
}

type fixture struct {
	repo   *schedulingtest.MemRepository
	outbox *schedulingtest.Outbox
	svc    *scheduling.Service
	clinic scheduling.Clinic
	doctor scheduling.Doctor
	now    time.Time
}

func weekdayHours() scheduling.WorkingHours {
	day := scheduling.WorkingDay{Start: "08:00", End: "12:00", Active: true}
	return scheduling.WorkingHours{
		"monday": day, "tuesday": day, "wednesday": day, "thursday": day, "friday": day,
		"saturday": {Start: "08:00", End: "12:00", Active: false},
	}
}

func newFixture(t *testing.T, locker redisclient.Locker) *fixture {
	t.Helper()

	repo := schedulingtest.NewMemRepository()
	clinic := repo.AddClinic(scheduling.Clinic{
		Name:               "Consultorio Norte",
		Timezone:           "America/Bogota",
		AppointmentMinutes: 30,
		WorkingHours:       weekdayHours(),
	})
	doctor := repo.AddDoctor(scheduling.Doctor{ClinicID: clinic.ID, Name: "Dra. Rojas", IsActive: true})

	outbox := &schedulingtest.Outbox{}
	now := time.Date(2026, 2, 14, 12, 0, 0, 0, bogota)
	svc := scheduling.NewService(repo, locker, outbox, zerolog.Nop(), nil).
		WithClock(func() time.Time { return now })

	return &fixture{repo: repo, outbox: outbox, svc: svc, clinic: *clinic, doctor: *doctor, now: now}
}

// monday returns 2026-02-16 at the given clinic-local time.
func monday(hour, min int) time.Time {
	return time.Date(2026, 2, 16, hour, min, 0, 0, bogota)
}

func (f *fixture) book(t *testing.T, phone string, start time.Time) (*scheduling.Booking, error) {
	t.Helper()
	return f.svc.Book(context.Background(), scheduling.BookingRequest{
		Clinic:   f.clinic,
		DoctorID: f.doctor.ID,
		Patient:  scheduling.PatientIdentity{Name: "Ana Gómez", Phone: phone, DocumentType: "CC", DocumentNumber: "1020"},
		StartsAt: start,
	})
}

func TestAvailabilityListsFreeSlots(t *testing.T) {
	f := newFixture(t, schedulingtest.NewLocalLocker())
	_, err := f.book(t, "+573001112233", monday(9, 0))
	require.NoError(t, err)

	avail, err := f.svc.Availability(context.Background(), f.clinic, f.doctor.ID, monday(0, 0))
	require.NoError(t, err)

	require.True(t, avail.Open)
	assert.Len(t, avail.Slots, 7)
	for _, s := range avail.Slots {
		assert.NotEqual(t, monday(9, 0), s.Start)
	}
	assert.Equal(t, monday(8, 0), avail.Slots[0].Start)
}

func TestAvailabilityClosedDay(t *testing.T) {
	f := newFixture(t, schedulingtest.NewLocalLocker())

	saturday := time.Date(2026, 2, 21, 0, 0, 0, 0, bogota)
	avail, err := f.svc.Availability(context.Background(), f.clinic, f.doctor.ID, saturday)
	require.NoError(t, err)
	assert.False(t, avail.Open)
	assert.Empty(t, avail.Slots)

	sunday := saturday.AddDate(0, 0, 1)
	avail, err = f.svc.Availability(context.Background(), f.clinic, f.doctor.ID, sunday)
	require.NoError(t, err)
	assert.False(t, avail.Open)
}

func TestAvailabilityUsesDoctorOverride(t *testing.T) {
	f := newFixture(t, schedulingtest.NewLocalLocker())
	doc := f.repo.AddDoctor(scheduling.Doctor{
		ClinicID: f.clinic.ID,
		Name:     "Dr. Pérez",
		IsActive: true,
		WorkingHours: scheduling.WorkingHours{
			"monday": {Start: "14:00", End: "15:00", Active: true},
		},
	})

	avail, err := f.svc.Availability(context.Background(), f.clinic, doc.ID, monday(0, 0))
	require.NoError(t, err)
	require.Len(t, avail.Slots, 2)
	assert.Equal(t, monday(14, 0), avail.Slots[0].Start)
}

func TestAvailabilityRejectsForeignOrInactiveDoctor(t *testing.T) {
	f := newFixture(t, schedulingtest.NewLocalLocker())
	other := f.repo.AddClinic(scheduling.Clinic{Name: "Otra", Timezone: "America/Bogota", WorkingHours: weekdayHours()})
	foreign := f.repo.AddDoctor(scheduling.Doctor{ClinicID: other.ID, Name: "Dr. Ajeno", IsActive: true})
	inactive := f.repo.AddDoctor(scheduling.Doctor{ClinicID: f.clinic.ID, Name: "Dr. Retirado"})

	_, err := f.svc.Availability(context.Background(), f.clinic, foreign.ID, monday(0, 0))
	assert.ErrorIs(t, err, scheduling.ErrDoctorNotFound)

	_, err = f.svc.Availability(context.Background(), f.clinic, inactive.ID, monday(0, 0))
	assert.ErrorIs(t, err, scheduling.ErrDoctorNotFound)
}

func TestBookRejectsOverlapAndAcceptsAdjacent(t *testing.T) {
	f := newFixture(t, schedulingtest.NewLocalLocker())

	first, err := f.book(t, "+573001112233", monday(9, 0))
	require.NoError(t, err)
	assert.Equal(t, monday(9, 30).UTC(), first.Appointment.EndsAt)
	assert.Equal(t, scheduling.SourceAgent, first.Appointment.Source)

	_, err = f.book(t, "+573004445566", monday(9, 0))
	assert.ErrorIs(t, err, scheduling.ErrSlotConflict)

	_, err = f.book(t, "+573004445566", monday(9, 15))
	assert.ErrorIs(t, err, scheduling.ErrSlotConflict)

	_, err = f.book(t, "+573004445566", monday(9, 30))
	assert.NoError(t, err)

	assert.Equal(t, []string{scheduling.AuditAppointmentCreated, scheduling.AuditAppointmentCreated}, f.repo.AuditActions())
}

func TestBookConflictDoesNotRegisterPatient(t *testing.T) {
	f := newFixture(t, schedulingtest.NewLocalLocker())
	_, err := f.book(t, "+573001112233", monday(9, 0))
	require.NoError(t, err)

	_, err = f.book(t, "+573009990000", monday(9, 0))
	require.ErrorIs(t, err, scheduling.ErrSlotConflict)

	_, err = f.repo.FindPatientByPhone(context.Background(), f.clinic.ID, "+573009990000")
	assert.ErrorIs(t, err, scheduling.ErrPatientNotFound)
}

func TestBookUpdatesExistingPatientIdentity(t *testing.T) {
	f := newFixture(t, schedulingtest.NewLocalLocker())
	existing := f.repo.AddPatient(scheduling.Patient{ClinicID: f.clinic.ID, Name: "Ana", Phone: "+573001112233"})

	booking, err := f.book(t, "+573001112233", monday(10, 0))
	require.NoError(t, err)

	assert.Equal(t, existing.ID, booking.Patient.ID)
	assert.Equal(t, "Ana Gómez", booking.Patient.Name)
	require.NotNil(t, booking.Patient.DocumentNumber)
	assert.Equal(t, "1020", *booking.Patient.DocumentNumber)
	assert.Len(t, f.repo.Patients, 1)
	assert.Equal(t, 1, f.repo.Patients[existing.ID].TotalAppointments)
}

func TestBookRejectsPastSlot(t *testing.T) {
	f := newFixture(t, schedulingtest.NewLocalLocker())

	_, err := f.book(t, "+573001112233", f.now.Add(-time.Hour))
	assert.ErrorIs(t, err, scheduling.ErrSlotInPast)
}

func TestBookReportsBusySchedule(t *testing.T) {
	locker := schedulingtest.NewLocalLocker()
	locker.Busy = redisclient.ErrLockNotAcquired
	f := newFixture(t, locker)

	_, err := f.book(t, "+573001112233", monday(9, 0))
	assert.ErrorIs(t, err, scheduling.ErrScheduleBusy)
}

func TestBookFallsBackToStorageGuardWhenLockUnavailable(t *testing.T) {
	locker := schedulingtest.NewLocalLocker()
	locker.Busy = fmt.Errorf("%w: connection refused", redisclient.ErrLockUnavailable)
	f := newFixture(t, locker)

	booking, err := f.book(t, "+573001112233", monday(9, 0))
	require.NoError(t, err)
	assert.Equal(t, monday(9, 0).UTC(), booking.Appointment.StartsAt.UTC())

	_, err = f.book(t, "+573004445566", monday(9, 15))
	assert.ErrorIs(t, err, scheduling.ErrSlotConflict)
}

func TestBookSucceedsWhenAuditFails(t *testing.T) {
	f := newFixture(t, schedulingtest.NewLocalLocker())
	f.repo.FailAudit = errors.New("audit table locked")

	_, err := f.book(t, "+573001112233", monday(9, 0))
	assert.NoError(t, err)
}

func TestConcurrentBookingsHaveOneWinnerWithoutLock(t *testing.T) {
	f := newFixture(t, passthroughLocker{})

	const attempts = 12
	var wg sync.WaitGroup
	errs := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// every attempt overlaps 9:00-9:30 by at least 15 minutes
			start := monday(9, 0)
			if i%2 == 1 {
				start = monday(9, 15)
			}
			_, err := f.svc.Book(context.Background(), scheduling.BookingRequest{
				Clinic:   f.clinic,
				DoctorID: f.doctor.ID,
				Patient:  scheduling.PatientIdentity{Name: "P", Phone: uuid.NewString()},
				StartsAt: start,
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, scheduling.ErrSlotConflict)
	}
	assert.Equal(t, 1, wins)
}

func TestCancelNotifiesOldestWaitingEntryOnce(t *testing.T) {
	f := newFixture(t, schedulingtest.NewLocalLocker())
	booking, err := f.book(t, "+573001112233", monday(9, 0))
	require.NoError(t, err)

	first := f.repo.AddPatient(scheduling.Patient{ClinicID: f.clinic.ID, Name: "Luis", Phone: "+573110000001"})
	second := f.repo.AddPatient(scheduling.Patient{ClinicID: f.clinic.ID, Name: "Marta", Phone: "+573110000002"})
	oldest := f.repo.AddWaitlistEntry(scheduling.WaitlistEntry{ClinicID: f.clinic.ID, PatientID: first.ID, DoctorID: f.doctor.ID})
	newer := f.repo.AddWaitlistEntry(scheduling.WaitlistEntry{ClinicID: f.clinic.ID, PatientID: second.ID, DoctorID: f.doctor.ID})

	cancelled, err := f.svc.Cancel(context.Background(), f.clinic, booking.Appointment.ID, "viaje")
	require.NoError(t, err)
	assert.Equal(t, scheduling.StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancellationReason)
	assert.Equal(t, "viaje", *cancelled.CancellationReason)

	assert.Equal(t, scheduling.WaitlistNotified, f.repo.Waitlist[oldest.ID].Status)
	assert.NotNil(t, f.repo.Waitlist[oldest.ID].NotifiedAt)
	assert.Equal(t, scheduling.WaitlistWaiting, f.repo.Waitlist[newer.ID].Status)

	msgs := f.outbox.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "573110000001", msgs[0].To)
	assert.Contains(t, msgs[0].Text, "Luis")
	assert.Contains(t, msgs[0].Text, "lunes 16 de febrero, 9:00 AM")

	_, err = f.svc.Cancel(context.Background(), f.clinic, booking.Appointment.ID, "otra vez")
	assert.ErrorIs(t, err, scheduling.ErrAlreadyCancelled)
	assert.Len(t, f.outbox.Messages(), 1)

	// the freed interval is bookable again
	_, err = f.book(t, "+573110000001", monday(9, 0))
	assert.NoError(t, err)
}

func TestCancelPastAppointmentNotifiesNobody(t *testing.T) {
	f := newFixture(t, schedulingtest.NewLocalLocker())
	patient := f.repo.AddPatient(scheduling.Patient{ClinicID: f.clinic.ID, Name: "Ana", Phone: "+573001112233"})
	past := f.repo.AddAppointment(scheduling.Appointment{ClinicID: f.clinic.ID, DoctorID: f.doctor.ID, PatientID: patient.ID,
		StartsAt: f.now.Add(-24 * time.Hour), EndsAt: f.now.Add(-23*time.Hour - 30*time.Minute)})

	waiting := f.repo.AddPatient(scheduling.Patient{ClinicID: f.clinic.ID, Name: "Luis", Phone: "+573110000001"})
	entry := f.repo.AddWaitlistEntry(scheduling.WaitlistEntry{ClinicID: f.clinic.ID, PatientID: waiting.ID, DoctorID: f.doctor.ID})

	_, err := f.svc.Cancel(context.Background(), f.clinic, past.ID, "registro tardío")
	require.NoError(t, err)

	assert.Empty(t, f.outbox.Messages())
	assert.Equal(t, scheduling.WaitlistWaiting, f.repo.Waitlist[entry.ID].Status)
}

func TestCancelKeepsEntryNotifiedWhenDeliveryFails(t *testing.T) {
	f := newFixture(t, schedulingtest.NewLocalLocker())
	f.outbox.Fail = errors.New("provider down")
	booking, err := f.book(t, "+573001112233", monday(9, 0))
	require.NoError(t, err)

	p := f.repo.AddPatient(scheduling.Patient{ClinicID: f.clinic.ID, Name: "Luis", Phone: "+573110000001"})
	entry := f.repo.AddWaitlistEntry(scheduling.WaitlistEntry{ClinicID: f.clinic.ID, PatientID: p.ID, DoctorID: f.doctor.ID})

	_, err = f.svc.Cancel(context.Background(), f.clinic, booking.Appointment.ID, "enfermedad")
	require.NoError(t, err)
	assert.Equal(t, scheduling.WaitlistNotified, f.repo.Waitlist[entry.ID].Status)
}

func TestCancelIsTenantScoped(t *testing.T) {
	f := newFixture(t, schedulingtest.NewLocalLocker())
	booking, err := f.book(t, "+573001112233", monday(9, 0))
	require.NoError(t, err)

	other := f.repo.AddClinic(scheduling.Clinic{Name: "Otra", Timezone: "America/Bogota"})
	_, err = f.svc.Cancel(context.Background(), *other, booking.Appointment.ID, "x")
	assert.ErrorIs(t, err, scheduling.ErrAppointmentNotFound)

	_, err = f.svc.Cancel(context.Background(), f.clinic, uuid.New(), "x")
	assert.ErrorIs(t, err, scheduling.ErrAppointmentNotFound)
}

func TestRescheduleSupersedesOriginalAndFreesItsInterval(t *testing.T) {
	f := newFixture(t, schedulingtest.NewLocalLocker())
	booking, err := f.book(t, "+573001112233", monday(9, 0))
	require.NoError(t, err)

	waiter := f.repo.AddPatient(scheduling.Patient{ClinicID: f.clinic.ID, Name: "Luis", Phone: "+573110000001"})
	f.repo.AddWaitlistEntry(scheduling.WaitlistEntry{ClinicID: f.clinic.ID, PatientID: waiter.ID, DoctorID: f.doctor.ID})

	// overlaps only the appointment being moved
	res, err := f.svc.Reschedule(context.Background(), f.clinic, booking.Appointment.ID, monday(9, 15))
	require.NoError(t, err)

	assert.Equal(t, monday(9, 15).UTC(), res.Replacement.StartsAt)
	assert.Equal(t, booking.Patient.ID, res.Replacement.PatientID)
	assert.Equal(t, scheduling.StatusConfirmed, res.Replacement.Status)

	stored := f.repo.Appointments[booking.Appointment.ID]
	assert.Equal(t, scheduling.StatusRescheduled, stored.Status)
	require.NotNil(t, stored.SupersededBy)
	assert.Equal(t, res.Replacement.ID, *stored.SupersededBy)

	msgs := f.outbox.Messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "9:00 AM")

	upcoming, err := f.svc.UpcomingForPatient(context.Background(), f.clinic.ID, "+573001112233")
	require.NoError(t, err)
	require.Len(t, upcoming, 1)
	assert.Equal(t, res.Replacement.ID, upcoming[0].ID)
}

func TestRescheduleConflictsWithOtherAppointments(t *testing.T) {
	f := newFixture(t, schedulingtest.NewLocalLocker())
	moving, err := f.book(t, "+573001112233", monday(9, 0))
	require.NoError(t, err)
	_, err = f.book(t, "+573004445566", monday(10, 0))
	require.NoError(t, err)

	_, err = f.svc.Reschedule(context.Background(), f.clinic, moving.Appointment.ID, monday(10, 15))
	assert.ErrorIs(t, err, scheduling.ErrSlotConflict)

	stored := f.repo.Appointments[moving.Appointment.ID]
	assert.Equal(t, scheduling.StatusConfirmed, stored.Status)
	assert.Nil(t, stored.SupersededBy)
}

func TestRescheduleRejectsMissingCancelledAndSuperseded(t *testing.T) {
	f := newFixture(t, schedulingtest.NewLocalLocker())
	ctx := context.Background()

	_, err := f.svc.Reschedule(ctx, f.clinic, uuid.New(), monday(11, 0))
	assert.ErrorIs(t, err, scheduling.ErrAppointmentNotFound)

	booking, err := f.book(t, "+573001112233", monday(9, 0))
	require.NoError(t, err)
	_, err = f.svc.Reschedule(ctx, f.clinic, booking.Appointment.ID, monday(10, 0))
	require.NoError(t, err)

	_, err = f.svc.Reschedule(ctx, f.clinic, booking.Appointment.ID, monday(11, 0))
	assert.ErrorIs(t, err, scheduling.ErrAppointmentInactive)

	_, err = f.svc.Cancel(ctx, f.clinic, booking.Appointment.ID, "x")
	assert.ErrorIs(t, err, scheduling.ErrAppointmentInactive)

	other, err := f.book(t, "+573004445566", monday(11, 30))
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, f.clinic, other.Appointment.ID, "x")
	require.NoError(t, err)
	_, err = f.svc.Reschedule(ctx, f.clinic, other.Appointment.ID, monday(8, 0))
	assert.ErrorIs(t, err, scheduling.ErrAlreadyCancelled)
}

func TestUpcomingForPatient(t *testing.T) {
	f := newFixture(t, schedulingtest.NewLocalLocker())

	none, err := f.svc.UpcomingForPatient(context.Background(), f.clinic.ID, "+573999999999")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)

	_, err = f.book(t, "+573001112233", monday(11, 0))
	require.NoError(t, err)
	_, err = f.book(t, "+573001112233", monday(8, 0))
	require.NoError(t, err)

	got, err := f.svc.UpcomingForPatient(context.Background(), f.clinic.ID, "+573001112233")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].StartsAt.Before(got[1].StartsAt))
}

func TestJoinWaitlist(t *testing.T) {
	f := newFixture(t, schedulingtest.NewLocalLocker())
	ctx := context.Background()
	req := scheduling.WaitlistRequest{ClinicID: f.clinic.ID, DoctorID: f.doctor.ID, Phone: "+573001112233"}

	_, _, err := f.svc.JoinWaitlist(ctx, req)
	assert.ErrorIs(t, err, scheduling.ErrPatientNotFound)

	f.repo.AddPatient(scheduling.Patient{ClinicID: f.clinic.ID, Name: "Ana", Phone: "+573001112233"})

	entry, already, err := f.svc.JoinWaitlist(ctx, req)
	require.NoError(t, err)
	assert.False(t, already)
	assert.Equal(t, "any", entry.PreferredTime)
	assert.Equal(t, scheduling.WaitlistWaiting, entry.Status)

	again, already, err := f.svc.JoinWaitlist(ctx, req)
	require.NoError(t, err)
	assert.True(t, already)
	assert.Equal(t, entry.ID, again.ID)
	assert.Len(t, f.repo.Waitlist, 1)
}

func TestRecomputeRisk(t *testing.T) {
	f := newFixture(t, schedulingtest.NewLocalLocker())
	p := f.repo.AddPatient(scheduling.Patient{ClinicID: f.clinic.ID, Name: "Ana", Phone: "+573001112233"})

	past := f.now.AddDate(0, -1, 0)
	for i := 0; i < 10; i++ {
		status := scheduling.StatusCompleted
		if i < 2 {
			status = scheduling.StatusNoShow
		}
		start := past.Add(time.Duration(i) * time.Hour)
		f.repo.AddAppointment(scheduling.Appointment{
			ClinicID: f.clinic.ID, DoctorID: f.doctor.ID, PatientID: p.ID,
			StartsAt: start, EndsAt: start.Add(30 * time.Minute), Status: status,
		})
	}

	snap, err := f.svc.RecomputeRisk(context.Background(), f.clinic.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 20.0, snap.Probability)

	declined := false
	f.repo.AddAppointment(scheduling.Appointment{
		ClinicID: f.clinic.ID, DoctorID: f.doctor.ID, PatientID: p.ID,
		StartsAt: monday(9, 0), EndsAt: monday(9, 30), ReminderSent: true, ReminderConfirmed: &declined,
	})

	snap, err = f.svc.RecomputeRisk(context.Background(), f.clinic.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 50.0, snap.Probability)
	assert.Equal(t, 2, snap.NoShows)
	assert.Equal(t, 10, snap.TotalPast)

	stored := f.repo.Patients[p.ID]
	assert.Equal(t, 50.0, stored.NoShowProbability)
	assert.Equal(t, 2, stored.NoShowCount)
	assert.Equal(t, 10, stored.TotalAppointments)
}

func TestRecomputeRiskWithoutHistoryIsZero(t *testing.T) {
	f := newFixture(t, schedulingtest.NewLocalLocker())
	p := f.repo.AddPatient(scheduling.Patient{ClinicID: f.clinic.ID, Name: "Ana", Phone: "+573001112233"})

	snap, err := f.svc.RecomputeRisk(context.Background(), f.clinic.ID, p.ID)
	require.NoError(t, err)
	assert.Zero(t, snap.Probability)
}

func TestRecordReminderResponse(t *testing.T) {
	f := newFixture(t, schedulingtest.NewLocalLocker())
	booking, err := f.book(t, "+573001112233", monday(9, 0))
	require.NoError(t, err)
	f.repo.Appointments[booking.Appointment.ID].ReminderSent = true

	awaiting, err := f.svc.AwaitingReminderReply(context.Background(), f.clinic.ID, booking.Patient.ID)
	require.NoError(t, err)
	require.NotNil(t, awaiting)

	snap, err := f.svc.RecordReminderResponse(context.Background(), f.clinic.ID, *awaiting, false)
	require.NoError(t, err)
	assert.Equal(t, 30.0, snap.Probability)

	awaiting, err = f.svc.AwaitingReminderReply(context.Background(), f.clinic.ID, booking.Patient.ID)
	require.NoError(t, err)
	assert.Nil(t, awaiting)
}

func TestDailyRisk(t *testing.T) {
	f := newFixture(t, schedulingtest.NewLocalLocker())
	risky := f.repo.AddPatient(scheduling.Patient{ClinicID: f.clinic.ID, Name: "Ana", Phone: "+573001", NoShowProbability: 60})
	medium := f.repo.AddPatient(scheduling.Patient{ClinicID: f.clinic.ID, Name: "Luis", Phone: "+573002", NoShowProbability: 50})

	f.repo.AddAppointment(scheduling.Appointment{ClinicID: f.clinic.ID, DoctorID: f.doctor.ID, PatientID: medium.ID,
		StartsAt: monday(10, 0), EndsAt: monday(10, 30)})
	f.repo.AddAppointment(scheduling.Appointment{ClinicID: f.clinic.ID, DoctorID: f.doctor.ID, PatientID: risky.ID,
		StartsAt: monday(8, 0), EndsAt: monday(8, 30)})
	f.repo.AddAppointment(scheduling.Appointment{ClinicID: f.clinic.ID, DoctorID: f.doctor.ID, PatientID: risky.ID,
		StartsAt: monday(11, 0), EndsAt: monday(11, 30), Status: scheduling.StatusCancelled})
	// next day, not counted
	f.repo.AddAppointment(scheduling.Appointment{ClinicID: f.clinic.ID, DoctorID: f.doctor.ID, PatientID: risky.ID,
		StartsAt: monday(8, 0).AddDate(0, 0, 1), EndsAt: monday(8, 30).AddDate(0, 0, 1)})

	report, err := f.svc.DailyRisk(context.Background(), f.clinic, monday(0, 0))
	require.NoError(t, err)

	assert.Equal(t, "2026-02-16", report.Date)
	assert.Equal(t, 2, report.TotalAppointments)
	assert.Equal(t, 1.1, report.ExpectedNoShows)
	assert.True(t, report.RecommendOverbooking)
	assert.Equal(t, "Ana", report.Patients[0].Name)

	empty, err := f.svc.DailyRisk(context.Background(), f.clinic, monday(0, 0).AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.Zero(t, empty.ExpectedNoShows)
	assert.False(t, empty.RecommendOverbooking)
}

func TestFindOrCreatePatient(t *testing.T) {
	f := newFixture(t, schedulingtest.NewLocalLocker())

	p, created, err := f.svc.FindOrCreatePatient(context.Background(), f.clinic.ID, "+573001112233", "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "Paciente", p.Name)

	again, created, err := f.svc.FindOrCreatePatient(context.Background(), f.clinic.ID, "+573001112233", "Ana")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, p.ID, again.ID)
	assert.Equal(t, []string{scheduling.AuditPatientRegistered}, f.repo.AuditActions())
}

func TestAvailabilityListsPartiallyOverlappedSlotThatBookingRejects(t *testing.T) {
	f := newFixture(t, schedulingtest.NewLocalLocker())
	other := f.repo.AddPatient(scheduling.Patient{ClinicID: f.clinic.ID, Name: "Luis", Phone: "+573009998877"})
	f.repo.AddAppointment(scheduling.Appointment{ClinicID: f.clinic.ID, DoctorID: f.doctor.ID, PatientID: other.ID,
		StartsAt: monday(9, 15), EndsAt: monday(9, 45)})

	avail, err := f.svc.Availability(context.Background(), f.clinic, f.doctor.ID, monday(0, 0))
	require.NoError(t, err)

	var starts []time.Time
	for _, s := range avail.Slots {
		starts = append(starts, s.Start)
	}
	assert.Contains(t, starts, monday(9, 0))

	_, err = f.book(t, "+573001112233", monday(9, 0))
	assert.ErrorIs(t, err, scheduling.ErrSlotConflict)
}
