package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrClinicNotFound        = errors.New("clinic not found")
	ErrDoctorNotFound        = errors.New("doctor not found")
	ErrPatientNotFound       = errors.New("patient not found")
	ErrAppointmentNotFound   = errors.New("appointment not found")
	ErrWaitlistEntryNotFound = errors.New("waitlist entry not found")
	ErrSlotConflict          = errors.New("slot overlaps an existing appointment")
	ErrAlreadyWaiting        = errors.New("patient already has a waiting waitlist entry")
)

// Repository contains all DB interactions needed by the service. Every
// method that touches tenant data takes the clinic id and filters by it.
type Repository interface {
	// Tenants
	GetClinic(ctx context.Context, id uuid.UUID) (*Clinic, error)
	GetClinicByChannel(ctx context.Context, channelID string) (*Clinic, error)
	ListActiveClinics(ctx context.Context) ([]Clinic, error)
	GetDoctor(ctx context.Context, clinicID, doctorID uuid.UUID) (*Doctor, error)
	GetMainDoctor(ctx context.Context, clinicID uuid.UUID) (*Doctor, error)

	// Patients
	GetPatient(ctx context.Context, clinicID, patientID uuid.UUID) (*Patient, error)
	FindPatientByPhone(ctx context.Context, clinicID uuid.UUID, phone string) (*Patient, error)
	// CreatePatient returns the existing row when the phone is already
	// registered for the clinic.
	CreatePatient(ctx context.Context, clinicID uuid.UUID, identity PatientIdentity) (*Patient, error)
	UpdatePatientIdentity(ctx context.Context, clinicID, patientID uuid.UUID, identity PatientIdentity) (*Patient, error)
	IncrementPatientAppointments(ctx context.Context, clinicID, patientID uuid.UUID) error
	RecordConsent(ctx context.Context, clinicID, patientID uuid.UUID, at time.Time) error
	UpdatePatientRisk(ctx context.Context, clinicID, patientID uuid.UUID, snap RiskSnapshot) error

	// Appointments
	GetAppointment(ctx context.Context, clinicID, id uuid.UUID) (*Appointment, error)
	// ListBlockingStarts returns intervals of blocking appointments of the
	// doctor whose start falls within window.
	ListBlockingStarts(ctx context.Context, clinicID, doctorID uuid.UUID, window Interval) ([]Interval, error)
	// HasOverlap checks for a blocking appointment overlapping slot, ignoring
	// the appointment with id exclude (uuid.Nil ignores nothing).
	HasOverlap(ctx context.Context, clinicID, doctorID uuid.UUID, slot Interval, exclude uuid.UUID) (bool, error)
	// InsertAppointmentIfFree inserts a confirmed appointment only if no
	// blocking appointment overlaps it; otherwise ErrSlotConflict.
	InsertAppointmentIfFree(ctx context.Context, a NewAppointment) (*Appointment, error)
	// CancelAppointment moves a non-cancelled appointment to cancelled;
	// ErrAppointmentNotFound when no such row was updated.
	CancelAppointment(ctx context.Context, clinicID, id uuid.UUID, reason string, at time.Time) (*Appointment, error)
	// RescheduleAppointment supersedes the blocking appointment id with a new
	// one at slot in one transaction. It returns the new row.
	RescheduleAppointment(ctx context.Context, clinicID, id uuid.UUID, slot Interval) (*Appointment, error)
	ListUpcomingForPatient(ctx context.Context, clinicID, patientID uuid.UUID, now time.Time) ([]Appointment, error)
	ListDayVisits(ctx context.Context, clinicID uuid.UUID, day Interval) ([]ScheduledVisit, error)

	// Reminders
	ListDueReminders(ctx context.Context, window Interval) ([]ReminderTarget, error)
	MarkReminderSent(ctx context.Context, clinicID, id uuid.UUID, at time.Time) error
	ListUnansweredReminders(ctx context.Context, sentBefore time.Time) ([]Appointment, error)
	SetReminderConfirmation(ctx context.Context, clinicID, id uuid.UUID, confirmed bool) error
	FindAwaitingReminderReply(ctx context.Context, clinicID, patientID uuid.UUID, now time.Time) (*Appointment, error)

	// Risk inputs
	PatientOutcomes(ctx context.Context, clinicID, patientID uuid.UUID, now time.Time) (Outcomes, error)

	// Waitlist
	FindWaitingEntry(ctx context.Context, clinicID, patientID uuid.UUID) (*WaitlistEntry, error)
	InsertWaitlistEntry(ctx context.Context, e WaitlistEntry) (*WaitlistEntry, error)
	// ClaimOldestWaiting atomically marks the oldest waiting entry for the
	// doctor as notified and returns it; ErrWaitlistEntryNotFound if none.
	ClaimOldestWaiting(ctx context.Context, clinicID, doctorID uuid.UUID, at time.Time) (*WaitlistEntry, error)

	// Audit
	InsertAudit(ctx context.Context, e AuditEntry) error
}

// Outcomes are the historical facts the no-show model is computed from.
type Outcomes struct {
	NoShows   int
	TotalPast int
	// UpcomingReminderConfirmed is the reminder state of the nearest
	// upcoming confirmed appointment; nil if unknown or there is none.
	UpcomingReminderConfirmed *bool
}
