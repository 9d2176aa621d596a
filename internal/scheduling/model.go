package scheduling

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusConfirmed   AppointmentStatus = "confirmed"
	StatusRescheduled AppointmentStatus = "rescheduled"
	StatusCancelled   AppointmentStatus = "cancelled"
	StatusCompleted   AppointmentStatus = "completed"
	StatusNoShow      AppointmentStatus = "no_show"
)

// SourceAgent tags appointments created through the conversational agent.
const SourceAgent = "whatsapp_agent"

type WaitlistStatus string

const (
	WaitlistWaiting   WaitlistStatus = "waiting"
	WaitlistNotified  WaitlistStatus = "notified"
	WaitlistConverted WaitlistStatus = "converted"
	WaitlistExpired   WaitlistStatus = "expired"
)

// WorkingDay is one weekday of a schedule. Start and End are "HH:MM" in the
// clinic's time zone.
type WorkingDay struct {
	Start  string `json:"start"`
	End    string `json:"end"`
	Active bool   `json:"active"`
}

// WorkingHours is keyed by lower-case English weekday name ("monday").
type WorkingHours map[string]WorkingDay

func (h WorkingHours) For(day time.Weekday) (WorkingDay, bool) {
	wd, ok := h[strings.ToLower(day.String())]
	return wd, ok
}

type Clinic struct {
	ID                 uuid.UUID
	Name               string
	ChannelID          *string
	Timezone           string
	AppointmentMinutes int
	WorkingHours       WorkingHours
	AgentName          string
	WelcomeMessage     *string
	Address            *string
	Active             bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Location falls back to UTC when the stored zone name cannot be loaded.
func (c Clinic) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c Clinic) AppointmentDuration() time.Duration {
	if c.AppointmentMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.AppointmentMinutes) * time.Minute
}

type Doctor struct {
	ID           uuid.UUID
	ClinicID     uuid.UUID
	Name         string
	Specialty    *string
	Phone        *string
	IsActive     bool
	WorkingHours WorkingHours // nil means the clinic schedule applies
	CreatedAt    time.Time
}

// Schedule returns the doctor's own hours when set, otherwise the clinic's.
func (d Doctor) Schedule(c Clinic) WorkingHours {
	if len(d.WorkingHours) > 0 {
		return d.WorkingHours
	}
	return c.WorkingHours
}

type Patient struct {
	ID                uuid.UUID
	ClinicID          uuid.UUID
	Name              string
	Phone             string
	DateOfBirth       *time.Time
	DocumentType      *string
	DocumentNumber    *string
	NoShowCount       int
	TotalAppointments int
	NoShowProbability float64
	DataConsentAt     *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// PatientIdentity is what a booking knows about the person being booked.
// Empty optional fields never overwrite stored values.
type PatientIdentity struct {
	Name           string
	Phone          string
	DateOfBirth    *time.Time
	DocumentType   string
	DocumentNumber string
}

type Appointment struct {
	ID                 uuid.UUID
	ClinicID           uuid.UUID
	DoctorID           uuid.UUID
	PatientID          uuid.UUID
	StartsAt           time.Time
	EndsAt             time.Time
	Status             AppointmentStatus
	Source             string
	Reason             *string
	SupersededBy       *uuid.UUID
	ReminderSent       bool
	ReminderSentAt     *time.Time
	ReminderConfirmed  *bool
	CancelledAt        *time.Time
	CancellationReason *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (a Appointment) Interval() Interval {
	return Interval{Start: a.StartsAt, End: a.EndsAt}
}

// Blocking reports whether the appointment still occupies its interval.
func (a Appointment) Blocking() bool {
	return (a.Status == StatusConfirmed || a.Status == StatusRescheduled) && a.SupersededBy == nil
}

type NewAppointment struct {
	ClinicID  uuid.UUID
	DoctorID  uuid.UUID
	PatientID uuid.UUID
	Slot      Interval
	Source    string
	Reason    *string
}

type WaitlistEntry struct {
	ID             uuid.UUID
	ClinicID       uuid.UUID
	PatientID      uuid.UUID
	DoctorID       uuid.UUID
	PreferredDates []string
	PreferredTime  string
	Reason         *string
	Status         WaitlistStatus
	NotifiedAt     *time.Time
	CreatedAt      time.Time
}

// AuditEntry is an append-only record of something the agent or a worker did.
type AuditEntry struct {
	ClinicID   uuid.UUID
	Action     string
	ActorType  string
	TargetType string
	TargetID   *uuid.UUID
	Details    []byte
	CreatedAt  time.Time
}

// ReminderTarget is an appointment due for a reminder, joined with what is
// needed to word and deliver it.
type ReminderTarget struct {
	Appointment Appointment
	PatientName string
	Phone       string
	ClinicName  string
	Timezone    string
	DoctorName  string
}

// ScheduledVisit is one appointment of a day together with its patient's
// stored risk.
type ScheduledVisit struct {
	AppointmentID     uuid.UUID
	PatientID         uuid.UUID
	PatientName       string
	Phone             string
	StartsAt          time.Time
	ReminderConfirmed *bool
	Probability       float64
}
