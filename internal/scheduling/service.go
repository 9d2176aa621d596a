package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-agent/internal/observability"
	redisclient "github.com/hackgods/clinic-appointment-agent/internal/redis"
)

const (
	AuditAppointmentCreated     = "appointment_created"
	AuditAppointmentCancelled   = "appointment_cancelled"
	AuditAppointmentRescheduled = "appointment_rescheduled"
	AuditConversationEscalated  = "conversation_escalated"
	AuditWaitlistJoined         = "waitlist_joined"
	AuditWaitlistNotified       = "waitlist_notified"
	AuditPatientRegistered      = "patient_registered"
	AuditReminderAnswered       = "reminder_answered"

	ActorAgent  = "agent"
	ActorSystem = "system"
)

var (
	ErrAlreadyCancelled    = errors.New("appointment is already cancelled")
	ErrAppointmentInactive = errors.New("appointment is no longer active")
	ErrScheduleBusy        = errors.New("doctor schedule is being modified, please retry")
	ErrSlotInPast          = errors.New("slot starts in the past")
)

// Notifier delivers a text to a patient's channel address and returns the
// provider message id.
type Notifier interface {
	Send(ctx context.Context, to, text string) (string, error)
}

type Service struct {
	repo     Repository
	locker   redisclient.Locker
	notifier Notifier
	logger   zerolog.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, notifier Notifier, logger zerolog.Logger, metrics *observability.Metrics) *Service {
	return &Service{
		repo:     repo,
		locker:   locker,
		notifier: notifier,
		logger:   logger.With().Str("component", "scheduling").Logger(),
		metrics:  metrics,
		now:      time.Now,
	}
}

// WithClock replaces the service's time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Now is the service's current time.
func (s *Service) Now() time.Time {
	return s.now()
}

// Availability is the outcome of looking at one doctor's calendar day.
type Availability struct {
	Date   time.Time
	Doctor Doctor
	Open   bool
	Hours  WorkingHours
	Slots  []Interval
}

type BookingRequest struct {
	Clinic   Clinic
	DoctorID uuid.UUID
	Patient  PatientIdentity
	StartsAt time.Time
	Reason   string
}

type Booking struct {
	Appointment Appointment
	Patient     Patient
}

type RescheduleResult struct {
	Original    Appointment
	Replacement Appointment
}

type WaitlistRequest struct {
	ClinicID       uuid.UUID
	DoctorID       uuid.UUID
	Phone          string
	PreferredDates []string
	PreferredTime  string
	Reason         string
}

func (s *Service) Clinic(ctx context.Context, id uuid.UUID) (*Clinic, error) {
	return s.repo.GetClinic(ctx, id)
}

func (s *Service) ClinicByChannel(ctx context.Context, channelID string) (*Clinic, error) {
	return s.repo.GetClinicByChannel(ctx, channelID)
}

// MainDoctor is the clinic's oldest active doctor.
func (s *Service) MainDoctor(ctx context.Context, clinicID uuid.UUID) (*Doctor, error) {
	return s.repo.GetMainDoctor(ctx, clinicID)
}

func (s *Service) activeDoctor(ctx context.Context, clinicID, doctorID uuid.UUID) (*Doctor, error) {
	doc, err := s.repo.GetDoctor(ctx, clinicID, doctorID)
	if err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	if !doc.IsActive {
		return nil, ErrDoctorNotFound
	}
	return doc, nil
}

// Availability lists the free slots of a doctor on the calendar day of date
// in the clinic's zone. Booked slots are removed by exact start instant.
func (s *Service) Availability(ctx context.Context, clinic Clinic, doctorID uuid.UUID, date time.Time) (*Availability, error) {
	doc, err := s.activeDoctor(ctx, clinic.ID, doctorID)
	if err != nil {
		return nil, err
	}

	loc := clinic.Location()
	day := DayBounds(date, loc).Start
	hours := doc.Schedule(clinic)

	result := &Availability{Date: day, Doctor: *doc, Hours: hours}

	wd, ok := hours.For(day.Weekday())
	if !ok || !wd.Active {
		return result, nil
	}

	window, err := DayWindow(wd, day, loc)
	if err != nil {
		return nil, err
	}

	booked, err := s.repo.ListBlockingStarts(ctx, clinic.ID, doc.ID, window)
	if err != nil {
		return nil, fmt.Errorf("list booked intervals: %w", err)
	}

	result.Open = true
	result.Slots = FilterBookedStarts(GenerateSlots(window, clinic.AppointmentDuration()), booked)
	return result, nil
}

// Book creates a confirmed appointment. The overlap pre-check keeps a
// conflicting request from registering a patient; the conditional insert is
// what actually guarantees no double booking.
func (s *Service) Book(ctx context.Context, req BookingRequest) (*Booking, error) {
	if _, err := s.activeDoctor(ctx, req.Clinic.ID, req.DoctorID); err != nil {
		return nil, err
	}

	slot := Interval{Start: req.StartsAt.UTC(), End: req.StartsAt.UTC().Add(req.Clinic.AppointmentDuration())}
	if slot.Start.Before(s.now()) {
		return nil, ErrSlotInPast
	}

	var booking Booking

	err := s.withDoctorLock(ctx, req.Clinic.ID, req.DoctorID, func(lockCtx context.Context) error {
		taken, err := s.repo.HasOverlap(lockCtx, req.Clinic.ID, req.DoctorID, slot, uuid.Nil)
		if err != nil {
			return err
		}
		if taken {
			return ErrSlotConflict
		}

		patient, err := s.upsertPatient(lockCtx, req.Clinic.ID, req.Patient)
		if err != nil {
			return err
		}

		appt, err := s.repo.InsertAppointmentIfFree(lockCtx, NewAppointment{
			ClinicID:  req.Clinic.ID,
			DoctorID:  req.DoctorID,
			PatientID: patient.ID,
			Slot:      slot,
			Source:    SourceAgent,
			Reason:    optional(req.Reason),
		})
		if err != nil {
			return err
		}

		booking = Booking{Appointment: *appt, Patient: *patient}
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrScheduleBusy
		}
		return nil, err
	}

	if err := s.repo.IncrementPatientAppointments(ctx, req.Clinic.ID, booking.Patient.ID); err != nil {
		s.logger.Warn().Err(err).Str("patient_id", booking.Patient.ID.String()).Msg("failed to bump appointment counter")
	}

	apptID := booking.Appointment.ID
	s.audit(ctx, req.Clinic.ID, AuditAppointmentCreated, ActorAgent, "appointment", &apptID, map[string]any{
		"patient_phone": booking.Patient.Phone,
		"starts_at":     slot.Start,
	})

	return &booking, nil
}

// withDoctorLock runs fn under the doctor's schedule lock. When Redis cannot
// be reached fn runs unlocked; the conditional insert and the exclusion
// constraint still reject overlaps.
func (s *Service) withDoctorLock(ctx context.Context, clinicID, doctorID uuid.UUID, fn func(ctx context.Context) error) error {
	err := s.locker.WithDoctorLock(ctx, clinicID, doctorID, fn)
	if !errors.Is(err, redisclient.ErrLockUnavailable) {
		return err
	}
	s.logger.Warn().Err(err).Str("doctor_id", doctorID.String()).Msg("schedule lock unavailable, relying on storage constraint")
	return fn(ctx)
}

// upsertPatient finds the patient by phone within the clinic or registers
// one; an existing patient gets the booking's identity fields.
func (s *Service) upsertPatient(ctx context.Context, clinicID uuid.UUID, identity PatientIdentity) (*Patient, error) {
	existing, err := s.repo.FindPatientByPhone(ctx, clinicID, identity.Phone)
	switch {
	case errors.Is(err, ErrPatientNotFound):
		created, err := s.repo.CreatePatient(ctx, clinicID, identity)
		if err != nil {
			return nil, fmt.Errorf("create patient: %w", err)
		}
		return created, nil
	case err != nil:
		return nil, fmt.Errorf("find patient: %w", err)
	}

	updated, err := s.repo.UpdatePatientIdentity(ctx, clinicID, existing.ID, identity)
	if err != nil {
		return nil, fmt.Errorf("update patient identity: %w", err)
	}
	return updated, nil
}

// Cancel marks an appointment cancelled and offers its interval to the
// waitlist.
func (s *Service) Cancel(ctx context.Context, clinic Clinic, id uuid.UUID, reason string) (*Appointment, error) {
	appt, err := s.repo.GetAppointment(ctx, clinic.ID, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	if appt.Status == StatusCancelled {
		return nil, ErrAlreadyCancelled
	}
	if appt.SupersededBy != nil {
		return nil, ErrAppointmentInactive
	}

	now := s.now()
	cancelled, err := s.repo.CancelAppointment(ctx, clinic.ID, id, reason, now)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// lost a race with another cancellation
			return nil, ErrAlreadyCancelled
		}
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}

	s.audit(ctx, clinic.ID, AuditAppointmentCancelled, ActorAgent, "appointment", &cancelled.ID, map[string]any{
		"reason": reason,
	})

	if appt.Blocking() && appt.StartsAt.After(now) {
		s.NotifyWaitlist(ctx, clinic, appt.DoctorID, appt.StartsAt)
	}

	return cancelled, nil
}

// Reschedule moves a blocking appointment to newStart. The original row is
// kept as rescheduled and points at its replacement.
func (s *Service) Reschedule(ctx context.Context, clinic Clinic, id uuid.UUID, newStart time.Time) (*RescheduleResult, error) {
	appt, err := s.repo.GetAppointment(ctx, clinic.ID, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	switch {
	case appt.Status == StatusCancelled:
		return nil, ErrAlreadyCancelled
	case !appt.Blocking():
		return nil, ErrAppointmentInactive
	}

	slot := Interval{Start: newStart.UTC(), End: newStart.UTC().Add(clinic.AppointmentDuration())}
	if slot.Start.Before(s.now()) {
		return nil, ErrSlotInPast
	}

	var replacement *Appointment

	err = s.withDoctorLock(ctx, clinic.ID, appt.DoctorID, func(lockCtx context.Context) error {
		taken, err := s.repo.HasOverlap(lockCtx, clinic.ID, appt.DoctorID, slot, appt.ID)
		if err != nil {
			return err
		}
		if taken {
			return ErrSlotConflict
		}

		replacement, err = s.repo.RescheduleAppointment(lockCtx, clinic.ID, appt.ID, slot)
		if errors.Is(err, ErrAppointmentNotFound) {
			return ErrAppointmentInactive
		}
		return err
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrScheduleBusy
		}
		return nil, err
	}

	s.audit(ctx, clinic.ID, AuditAppointmentRescheduled, ActorAgent, "appointment", &replacement.ID, map[string]any{
		"old_appointment_id": appt.ID,
		"old_starts_at":      appt.StartsAt,
		"new_starts_at":      slot.Start,
	})

	s.NotifyWaitlist(ctx, clinic, appt.DoctorID, appt.StartsAt)

	original := *appt
	original.Status = StatusRescheduled
	original.SupersededBy = &replacement.ID

	return &RescheduleResult{Original: original, Replacement: *replacement}, nil
}

// UpcomingForPatient lists future blocking appointments of the patient with
// the given phone. An unknown phone yields an empty list.
func (s *Service) UpcomingForPatient(ctx context.Context, clinicID uuid.UUID, phone string) ([]Appointment, error) {
	patient, err := s.repo.FindPatientByPhone(ctx, clinicID, phone)
	if err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return []Appointment{}, nil
		}
		return nil, fmt.Errorf("find patient: %w", err)
	}

	appts, err := s.repo.ListUpcomingForPatient(ctx, clinicID, patient.ID, s.now())
	if err != nil {
		return nil, fmt.Errorf("list upcoming appointments: %w", err)
	}
	if appts == nil {
		appts = []Appointment{}
	}
	return appts, nil
}

// JoinWaitlist adds the patient to the doctor's waitlist. The bool reports
// that a waiting entry already existed, in which case nothing is inserted.
func (s *Service) JoinWaitlist(ctx context.Context, req WaitlistRequest) (*WaitlistEntry, bool, error) {
	patient, err := s.repo.FindPatientByPhone(ctx, req.ClinicID, req.Phone)
	if err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, false, err
		}
		return nil, false, fmt.Errorf("find patient: %w", err)
	}

	if _, err := s.activeDoctor(ctx, req.ClinicID, req.DoctorID); err != nil {
		return nil, false, err
	}

	existing, err := s.repo.FindWaitingEntry(ctx, req.ClinicID, patient.ID)
	if err == nil {
		return existing, true, nil
	}
	if !errors.Is(err, ErrWaitlistEntryNotFound) {
		return nil, false, fmt.Errorf("find waitlist entry: %w", err)
	}

	preferredTime := req.PreferredTime
	if preferredTime == "" {
		preferredTime = "any"
	}

	entry, err := s.repo.InsertWaitlistEntry(ctx, WaitlistEntry{
		ClinicID:       req.ClinicID,
		PatientID:      patient.ID,
		DoctorID:       req.DoctorID,
		PreferredDates: req.PreferredDates,
		PreferredTime:  preferredTime,
		Reason:         optional(req.Reason),
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyWaiting) {
			existing, findErr := s.repo.FindWaitingEntry(ctx, req.ClinicID, patient.ID)
			if findErr != nil {
				return nil, false, fmt.Errorf("find waitlist entry: %w", findErr)
			}
			return existing, true, nil
		}
		return nil, false, err
	}

	s.audit(ctx, req.ClinicID, AuditWaitlistJoined, ActorAgent, "waitlist", &entry.ID, map[string]any{
		"doctor_id":       req.DoctorID,
		"preferred_dates": entry.PreferredDates,
		"preferred_time":  entry.PreferredTime,
	})

	return entry, false, nil
}

// Escalate records that a conversation was handed to clinic staff.
func (s *Service) Escalate(ctx context.Context, clinicID uuid.UUID, reason, urgency string) {
	s.audit(ctx, clinicID, AuditConversationEscalated, ActorAgent, "", nil, map[string]any{
		"reason":  reason,
		"urgency": urgency,
	})
}

// FindOrCreatePatient resolves a channel sender into a patient, registering
// them on first contact. The bool reports a new registration.
func (s *Service) FindOrCreatePatient(ctx context.Context, clinicID uuid.UUID, phone, name string) (*Patient, bool, error) {
	p, err := s.repo.FindPatientByPhone(ctx, clinicID, phone)
	if err == nil {
		return p, false, nil
	}
	if !errors.Is(err, ErrPatientNotFound) {
		return nil, false, fmt.Errorf("find patient: %w", err)
	}

	if name == "" {
		name = "Paciente"
	}
	p, err = s.repo.CreatePatient(ctx, clinicID, PatientIdentity{Name: name, Phone: phone})
	if err != nil {
		return nil, false, fmt.Errorf("create patient: %w", err)
	}

	s.audit(ctx, clinicID, AuditPatientRegistered, ActorSystem, "patient", &p.ID, map[string]any{
		"phone": phone,
	})
	return p, true, nil
}

func (s *Service) RecordConsent(ctx context.Context, clinicID, patientID uuid.UUID) error {
	return s.repo.RecordConsent(ctx, clinicID, patientID, s.now())
}

// Audit records an entry on behalf of another component, e.g. the inbound
// pipeline.
func (s *Service) Audit(ctx context.Context, clinicID uuid.UUID, action, actor, targetType string, targetID *uuid.UUID, details map[string]any) {
	s.audit(ctx, clinicID, action, actor, targetType, targetID, details)
}

// audit is best effort: failures are logged and swallowed.
func (s *Service) audit(ctx context.Context, clinicID uuid.UUID, action, actor, targetType string, targetID *uuid.UUID, details map[string]any) {
	data, err := json.Marshal(details)
	if err != nil {
		s.logger.Warn().Err(err).Str("action", action).Msg("failed to marshal audit details")
		data = nil
	}

	entry := AuditEntry{
		ClinicID:   clinicID,
		Action:     action,
		ActorType:  actor,
		TargetType: targetType,
		TargetID:   targetID,
		Details:    data,
		CreatedAt:  s.now(),
	}

	if err := s.repo.InsertAudit(ctx, entry); err != nil {
		s.logger.Warn().Err(err).
			Str("action", action).
			Str("clinic_id", clinicID.String()).
			Msg("failed to insert audit entry")
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
