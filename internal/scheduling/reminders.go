package scheduling

import (
	"context"
	"fmt"
	"time"
)

// reminderSlack widens the due window on both sides so an hourly worker
// never skips an appointment between ticks.
const reminderSlack = time.Hour

// ReminderService sends appointment reminders, turns unanswered ones into
// declines and keeps the daily risk picture fresh.
type ReminderService struct {
	svc   *Service
	lead  time.Duration
	grace time.Duration
}

func NewReminderService(svc *Service, lead, grace time.Duration) *ReminderService {
	return &ReminderService{svc: svc, lead: lead, grace: grace}
}

// SendDueReminders reminds every patient whose appointment starts about lead
// from now. A reminder is marked sent only after delivery succeeded.
func (r *ReminderService) SendDueReminders(ctx context.Context, now time.Time) (int, error) {
	window := Interval{
		Start: now.Add(r.lead - reminderSlack),
		End:   now.Add(r.lead + reminderSlack),
	}

	due, err := r.svc.repo.ListDueReminders(ctx, window)
	if err != nil {
		return 0, fmt.Errorf("list due reminders: %w", err)
	}

	sent := 0
	for _, t := range due {
		log := r.svc.logger.With().Str("appointment_id", t.Appointment.ID.String()).Logger()

		clinic := Clinic{Timezone: t.Timezone}
		text := ReminderText(t.PatientName, t.ClinicName, t.DoctorName, t.Appointment.StartsAt, clinic.Location())

		if _, err := r.svc.notifier.Send(ctx, channelAddress(t.Phone), text); err != nil {
			log.Warn().Err(err).Msg("reminder not delivered")
			continue
		}
		if err := r.svc.repo.MarkReminderSent(ctx, t.Appointment.ClinicID, t.Appointment.ID, now); err != nil {
			log.Error().Err(err).Msg("failed to mark reminder sent")
			continue
		}
		sent++
	}

	return sent, nil
}

// MarkUnanswered records reminders left unanswered past the grace period as
// declined and recomputes the patient's risk.
func (r *ReminderService) MarkUnanswered(ctx context.Context, now time.Time) (int, error) {
	stale, err := r.svc.repo.ListUnansweredReminders(ctx, now.Add(-r.grace))
	if err != nil {
		return 0, fmt.Errorf("list unanswered reminders: %w", err)
	}

	marked := 0
	for _, appt := range stale {
		if _, err := r.svc.RecordReminderResponse(ctx, appt.ClinicID, appt, false); err != nil {
			r.svc.logger.Error().Err(err).Str("appointment_id", appt.ID.String()).Msg("failed to mark reminder unanswered")
			continue
		}
		marked++
	}
	return marked, nil
}

// RecomputeDay refreshes the risk of every patient booked on date and
// returns the resulting daily report.
func (r *ReminderService) RecomputeDay(ctx context.Context, clinic Clinic, date time.Time) (*DailyRisk, error) {
	visits, err := r.svc.repo.ListDayVisits(ctx, clinic.ID, DayBounds(date, clinic.Location()))
	if err != nil {
		return nil, fmt.Errorf("list day visits: %w", err)
	}

	seen := make(map[string]struct{}, len(visits))
	for _, v := range visits {
		key := v.PatientID.String()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		if _, err := r.svc.RecomputeRisk(ctx, clinic.ID, v.PatientID); err != nil {
			r.svc.logger.Error().Err(err).Str("patient_id", key).Msg("risk recompute failed")
		}
	}

	return r.svc.DailyRisk(ctx, clinic, date)
}

// RunOnce is one worker tick over every active clinic.
func (r *ReminderService) RunOnce(ctx context.Context, now time.Time) error {
	sent, err := r.SendDueReminders(ctx, now)
	if err != nil {
		return err
	}
	marked, err := r.MarkUnanswered(ctx, now)
	if err != nil {
		return err
	}

	clinics, err := r.svc.repo.ListActiveClinics(ctx)
	if err != nil {
		return fmt.Errorf("list clinics: %w", err)
	}

	for _, c := range clinics {
		report, err := r.RecomputeDay(ctx, c, now.In(c.Location()))
		if err != nil {
			r.svc.logger.Error().Err(err).Str("clinic_id", c.ID.String()).Msg("daily risk failed")
			continue
		}
		r.svc.logger.Info().
			Str("clinic_id", c.ID.String()).
			Str("date", report.Date).
			Int("appointments", report.TotalAppointments).
			Float64("expected_no_shows", report.ExpectedNoShows).
			Bool("recommend_overbooking", report.RecommendOverbooking).
			Msg("daily no-show risk")
	}

	r.svc.logger.Info().Int("reminders_sent", sent).Int("reminders_unanswered", marked).Msg("reminder tick done")
	return nil
}

// ReminderText is the reminder a patient receives ahead of a visit.
func ReminderText(patient, clinic, doctor string, start time.Time, loc *time.Location) string {
	return fmt.Sprintf("Hola %s, te recordamos tu cita en %s con %s el %s. ¿Confirmas tu asistencia? Responde \"sí\" o \"no\".",
		patient, clinic, doctor, FormatLongDate(start, loc))
}
