package scheduling

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

const (
	maxNoShowProbability = 95.0
	reminderPenalty      = 30.0
)

// RiskSnapshot is the result of recomputing a patient's no-show risk.
type RiskSnapshot struct {
	Probability       float64
	NoShows           int
	TotalPast         int
	ReminderConfirmed *bool
}

// Probability is min(95, 100*noShows/totalPast + 30 if the upcoming reminder
// was declined), rounded to one decimal.
func Probability(noShows, totalPast int, reminderDeclined bool) float64 {
	var p float64
	if totalPast > 0 {
		p = 100 * float64(noShows) / float64(totalPast)
	}
	if reminderDeclined {
		p += reminderPenalty
	}
	return round1(math.Min(p, maxNoShowProbability))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// RecomputeRisk refreshes the stored probability and counters of a patient.
func (s *Service) RecomputeRisk(ctx context.Context, clinicID, patientID uuid.UUID) (RiskSnapshot, error) {
	out, err := s.repo.PatientOutcomes(ctx, clinicID, patientID, s.now())
	if err != nil {
		return RiskSnapshot{}, err
	}

	declined := out.UpcomingReminderConfirmed != nil && !*out.UpcomingReminderConfirmed
	snap := RiskSnapshot{
		Probability:       Probability(out.NoShows, out.TotalPast, declined),
		NoShows:           out.NoShows,
		TotalPast:         out.TotalPast,
		ReminderConfirmed: out.UpcomingReminderConfirmed,
	}

	if err := s.repo.UpdatePatientRisk(ctx, clinicID, patientID, snap); err != nil {
		return RiskSnapshot{}, err
	}
	return snap, nil
}

// RecordReminderResponse stores a patient's answer to a reminder and
// recomputes their risk.
func (s *Service) RecordReminderResponse(ctx context.Context, clinicID uuid.UUID, appt Appointment, confirmed bool) (RiskSnapshot, error) {
	if err := s.repo.SetReminderConfirmation(ctx, clinicID, appt.ID, confirmed); err != nil {
		return RiskSnapshot{}, fmt.Errorf("record reminder response: %w", err)
	}

	s.audit(ctx, clinicID, AuditReminderAnswered, ActorSystem, "appointment", &appt.ID, map[string]any{
		"confirmed": confirmed,
	})

	return s.RecomputeRisk(ctx, clinicID, appt.PatientID)
}

// AwaitingReminderReply is the patient's nearest upcoming appointment whose
// reminder went out without an answer yet; nil when there is none.
func (s *Service) AwaitingReminderReply(ctx context.Context, clinicID, patientID uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.FindAwaitingReminderReply(ctx, clinicID, patientID, s.now())
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return appt, nil
}

type PatientRisk struct {
	PatientID         uuid.UUID `json:"patient_id"`
	Name              string    `json:"name"`
	Phone             string    `json:"phone"`
	Probability       float64   `json:"probability"`
	StartsAt          time.Time `json:"starts_at"`
	ReminderConfirmed *bool     `json:"reminder_confirmed"`
}

// DailyRisk is the per-day operational read model.
type DailyRisk struct {
	Date                 string        `json:"date"`
	TotalAppointments    int           `json:"total_appointments"`
	ExpectedNoShows      float64       `json:"expected_no_shows"`
	RecommendOverbooking bool          `json:"recommend_overbooking"`
	Patients             []PatientRisk `json:"patients"`
}

// DailyRisk sums the stored probabilities of everyone booked on date in the
// clinic's zone. Overbooking is recommended once one no-show is expected.
func (s *Service) DailyRisk(ctx context.Context, clinic Clinic, date time.Time) (*DailyRisk, error) {
	loc := clinic.Location()
	day := DayBounds(date, loc)

	visits, err := s.repo.ListDayVisits(ctx, clinic.ID, day)
	if err != nil {
		return nil, fmt.Errorf("list day visits: %w", err)
	}

	report := &DailyRisk{
		Date:     day.Start.Format("2006-01-02"),
		Patients: make([]PatientRisk, 0, len(visits)),
	}

	var total float64
	for _, v := range visits {
		total += v.Probability / 100
		report.Patients = append(report.Patients, PatientRisk{
			PatientID:         v.PatientID,
			Name:              v.PatientName,
			Phone:             v.Phone,
			Probability:       v.Probability,
			StartsAt:          v.StartsAt,
			ReminderConfirmed: v.ReminderConfirmed,
		})
	}

	report.TotalAppointments = len(report.Patients)
	report.ExpectedNoShows = round1(total)
	report.RecommendOverbooking = report.ExpectedNoShows >= 1
	return report, nil
}
