package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgUniqueViolation    = "23505"
	pgExclusionViolation = "23P01"
)

// dbtx is the subset of pgxpool.Pool the repository uses, so tests can hand
// in a pgxmock pool.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PgRepository struct {
	db dbtx
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return newPgRepositoryWithDB(pool)
}

func newPgRepositoryWithDB(db dbtx) *PgRepository {
	return &PgRepository{db: db}
}

const (
	clinicCols = `id, name, channel_id, timezone, appointment_minutes, working_hours,
		agent_name, welcome_message, address, active, created_at, updated_at`
	doctorCols  = `id, clinic_id, name, specialty, phone, is_active, working_hours, created_at`
	patientCols = `id, clinic_id, name, phone, date_of_birth, document_type, document_number,
		no_show_count, total_appointments, no_show_probability, data_consent_at, created_at, updated_at`
	appointmentCols = `id, clinic_id, doctor_id, patient_id, starts_at, ends_at, status, source, reason,
		superseded_by, reminder_sent, reminder_sent_at, reminder_confirmed, cancelled_at,
		cancellation_reason, created_at, updated_at`
	appointmentColsA = `a.id, a.clinic_id, a.doctor_id, a.patient_id, a.starts_at, a.ends_at, a.status, a.source,
		a.reason, a.superseded_by, a.reminder_sent, a.reminder_sent_at, a.reminder_confirmed, a.cancelled_at,
		a.cancellation_reason, a.created_at, a.updated_at`
	waitlistCols = `id, clinic_id, patient_id, doctor_id, preferred_dates, preferred_time, reason,
		status, notified_at, created_at`

	// blocking is the predicate for appointments that occupy their interval.
	blocking = `status IN ('confirmed', 'rescheduled') AND superseded_by IS NULL`
)

// Helpers

func scanClinic(row pgx.Row) (*Clinic, error) {
	var c Clinic
	var hours []byte

	err := row.Scan(
		&c.ID,
		&c.Name,
		&c.ChannelID,
		&c.Timezone,
		&c.AppointmentMinutes,
		&hours,
		&c.AgentName,
		&c.WelcomeMessage,
		&c.Address,
		&c.Active,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClinicNotFound
		}
		return nil, err
	}

	if err := decodeHours(hours, &c.WorkingHours); err != nil {
		return nil, fmt.Errorf("clinic %s working hours: %w", c.ID, err)
	}
	return &c, nil
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var hours []byte

	err := row.Scan(
		&d.ID,
		&d.ClinicID,
		&d.Name,
		&d.Specialty,
		&d.Phone,
		&d.IsActive,
		&hours,
		&d.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	if err := decodeHours(hours, &d.WorkingHours); err != nil {
		return nil, fmt.Errorf("doctor %s working hours: %w", d.ID, err)
	}
	return &d, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient

	err := row.Scan(
		&p.ID,
		&p.ClinicID,
		&p.Name,
		&p.Phone,
		&p.DateOfBirth,
		&p.DocumentType,
		&p.DocumentNumber,
		&p.NoShowCount,
		&p.TotalAppointments,
		&p.NoShowProbability,
		&p.DataConsentAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func appointmentDest(a *Appointment) []any {
	return []any{
		&a.ID,
		&a.ClinicID,
		&a.DoctorID,
		&a.PatientID,
		&a.StartsAt,
		&a.EndsAt,
		&a.Status,
		&a.Source,
		&a.Reason,
		&a.SupersededBy,
		&a.ReminderSent,
		&a.ReminderSentAt,
		&a.ReminderConfirmed,
		&a.CancelledAt,
		&a.CancellationReason,
		&a.CreatedAt,
		&a.UpdatedAt,
	}
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	if err := row.Scan(appointmentDest(&a)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

func scanWaitlistEntry(row pgx.Row) (*WaitlistEntry, error) {
	var e WaitlistEntry

	err := row.Scan(
		&e.ID,
		&e.ClinicID,
		&e.PatientID,
		&e.DoctorID,
		&e.PreferredDates,
		&e.PreferredTime,
		&e.Reason,
		&e.Status,
		&e.NotifiedAt,
		&e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWaitlistEntryNotFound
		}
		return nil, err
	}
	return &e, nil
}

func decodeHours(raw []byte, dst *WorkingHours) error {
	if len(raw) == 0 || string(raw) == "null" {
		*dst = nil
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Tenants

func (r *PgRepository) GetClinic(ctx context.Context, id uuid.UUID) (*Clinic, error) {
	row := r.db.QueryRow(ctx, `SELECT `+clinicCols+` FROM clinics WHERE id = $1`, id)
	return scanClinic(row)
}

func (r *PgRepository) GetClinicByChannel(ctx context.Context, channelID string) (*Clinic, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+clinicCols+`
		FROM clinics
		WHERE channel_id = $1 AND active
	`, channelID)
	return scanClinic(row)
}

func (r *PgRepository) ListActiveClinics(ctx context.Context) ([]Clinic, error) {
	rows, err := r.db.Query(ctx, `SELECT `+clinicCols+` FROM clinics WHERE active ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Clinic
	for rows.Next() {
		c, err := scanClinic(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
	}
	return result, rows.Err()
}

func (r *PgRepository) GetDoctor(ctx context.Context, clinicID, doctorID uuid.UUID) (*Doctor, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+doctorCols+`
		FROM doctors
		WHERE clinic_id = $1 AND id = $2
	`, clinicID, doctorID)
	return scanDoctor(row)
}

func (r *PgRepository) GetMainDoctor(ctx context.Context, clinicID uuid.UUID) (*Doctor, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+doctorCols+`
		FROM doctors
		WHERE clinic_id = $1 AND is_active
		ORDER BY created_at
		LIMIT 1
	`, clinicID)
	return scanDoctor(row)
}

// Patients

func (r *PgRepository) GetPatient(ctx context.Context, clinicID, patientID uuid.UUID) (*Patient, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+patientCols+`
		FROM patients
		WHERE clinic_id = $1 AND id = $2
	`, clinicID, patientID)
	return scanPatient(row)
}

func (r *PgRepository) FindPatientByPhone(ctx context.Context, clinicID uuid.UUID, phone string) (*Patient, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+patientCols+`
		FROM patients
		WHERE clinic_id = $1 AND phone = $2
	`, clinicID, phone)
	return scanPatient(row)
}

func (r *PgRepository) CreatePatient(ctx context.Context, clinicID uuid.UUID, identity PatientIdentity) (*Patient, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO patients (id, clinic_id, name, phone, date_of_birth, document_type, document_number)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''))
		ON CONFLICT (clinic_id, phone) DO UPDATE SET updated_at = patients.updated_at
		RETURNING `+patientCols,
		uuid.New(), clinicID, identity.Name, identity.Phone, identity.DateOfBirth,
		identity.DocumentType, identity.DocumentNumber)
	return scanPatient(row)
}

func (r *PgRepository) UpdatePatientIdentity(ctx context.Context, clinicID, patientID uuid.UUID, identity PatientIdentity) (*Patient, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE patients
		SET name = COALESCE(NULLIF($3, ''), name),
		    date_of_birth = COALESCE($4, date_of_birth),
		    document_type = COALESCE(NULLIF($5, ''), document_type),
		    document_number = COALESCE(NULLIF($6, ''), document_number),
		    updated_at = now()
		WHERE clinic_id = $1 AND id = $2
		RETURNING `+patientCols,
		clinicID, patientID, identity.Name, identity.DateOfBirth, identity.DocumentType, identity.DocumentNumber)
	return scanPatient(row)
}

func (r *PgRepository) IncrementPatientAppointments(ctx context.Context, clinicID, patientID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		UPDATE patients
		SET total_appointments = total_appointments + 1, updated_at = now()
		WHERE clinic_id = $1 AND id = $2
	`, clinicID, patientID)
	if err != nil {
		return fmt.Errorf("increment patient appointments: %w", err)
	}
	return nil
}

func (r *PgRepository) RecordConsent(ctx context.Context, clinicID, patientID uuid.UUID, at time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE patients
		SET data_consent_at = COALESCE(data_consent_at, $3), updated_at = now()
		WHERE clinic_id = $1 AND id = $2
	`, clinicID, patientID, at)
	if err != nil {
		return fmt.Errorf("record consent: %w", err)
	}
	return nil
}

func (r *PgRepository) UpdatePatientRisk(ctx context.Context, clinicID, patientID uuid.UUID, snap RiskSnapshot) error {
	_, err := r.db.Exec(ctx, `
		UPDATE patients
		SET no_show_probability = $3,
		    no_show_count = $4,
		    total_appointments = $5,
		    updated_at = now()
		WHERE clinic_id = $1 AND id = $2
	`, clinicID, patientID, snap.Probability, snap.NoShows, snap.TotalPast)
	if err != nil {
		return fmt.Errorf("update patient risk: %w", err)
	}
	return nil
}

// Appointments

func (r *PgRepository) GetAppointment(ctx context.Context, clinicID, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE clinic_id = $1 AND id = $2
	`, clinicID, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListBlockingStarts(ctx context.Context, clinicID, doctorID uuid.UUID, window Interval) ([]Interval, error) {
	rows, err := r.db.Query(ctx, `
		SELECT starts_at, ends_at
		FROM appointments
		WHERE clinic_id = $1 AND doctor_id = $2
		  AND `+blocking+`
		  AND starts_at >= $3 AND starts_at <= $4
		ORDER BY starts_at
	`, clinicID, doctorID, window.Start, window.End)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Interval
	for rows.Next() {
		var iv Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return nil, err
		}
		result = append(result, iv)
	}
	return result, rows.Err()
}

func (r *PgRepository) HasOverlap(ctx context.Context, clinicID, doctorID uuid.UUID, slot Interval, exclude uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE clinic_id = $1 AND doctor_id = $2
			  AND `+blocking+`
			  AND starts_at < $4 AND ends_at > $3
			  AND id <> $5
		)
	`, clinicID, doctorID, slot.Start, slot.End, exclude).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check overlap: %w", err)
	}
	return exists, nil
}

func (r *PgRepository) InsertAppointmentIfFree(ctx context.Context, a NewAppointment) (*Appointment, error) {
	return insertIfFree(ctx, r.db, uuid.New(), a)
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// insertIfFree is a single conditional statement; the exclusion constraint
// on appointments catches the race the NOT EXISTS cannot see.
func insertIfFree(ctx context.Context, q rowQuerier, id uuid.UUID, a NewAppointment) (*Appointment, error) {
	row := q.QueryRow(ctx, `
		INSERT INTO appointments (id, clinic_id, doctor_id, patient_id, starts_at, ends_at, status, source, reason)
		SELECT $1::uuid, $2::uuid, $3::uuid, $4::uuid, $5::timestamptz, $6::timestamptz, 'confirmed', $7::text, $8::text
		WHERE NOT EXISTS (
			SELECT 1 FROM appointments
			WHERE clinic_id = $2 AND doctor_id = $3
			  AND `+blocking+`
			  AND starts_at < $6 AND ends_at > $5
		)
		RETURNING `+appointmentCols,
		id, a.ClinicID, a.DoctorID, a.PatientID, a.Slot.Start, a.Slot.End, a.Source, a.Reason)

	appt, err := scanAppointment(row)
	switch {
	case errors.Is(err, ErrAppointmentNotFound):
		return nil, ErrSlotConflict
	case pgCode(err) == pgExclusionViolation:
		return nil, ErrSlotConflict
	case err != nil:
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	return appt, nil
}

func (r *PgRepository) CancelAppointment(ctx context.Context, clinicID, id uuid.UUID, reason string, at time.Time) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'cancelled',
		    cancelled_at = $3,
		    cancellation_reason = $4,
		    updated_at = now()
		WHERE clinic_id = $1 AND id = $2
		  AND status <> 'cancelled'
		RETURNING `+appointmentCols,
		clinicID, id, at, reason)
	return scanAppointment(row)
}

func (r *PgRepository) RescheduleAppointment(ctx context.Context, clinicID, id uuid.UUID, slot Interval) (*Appointment, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin reschedule: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	replacementID := uuid.New()

	// Supersede first so the original's interval stops blocking before the
	// replacement is inserted; superseded_by is a deferred foreign key.
	original, err := scanAppointment(tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'rescheduled', superseded_by = $3, updated_at = now()
		WHERE clinic_id = $1 AND id = $2
		  AND `+blocking+`
		RETURNING `+appointmentCols,
		clinicID, id, replacementID))
	if err != nil {
		return nil, err
	}

	replacement, err := insertIfFree(ctx, tx, replacementID, NewAppointment{
		ClinicID:  original.ClinicID,
		DoctorID:  original.DoctorID,
		PatientID: original.PatientID,
		Slot:      slot,
		Source:    SourceAgent,
		Reason:    original.Reason,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		if pgCode(err) == pgExclusionViolation {
			return nil, ErrSlotConflict
		}
		return nil, fmt.Errorf("commit reschedule: %w", err)
	}
	return replacement, nil
}

func (r *PgRepository) ListUpcomingForPatient(ctx context.Context, clinicID, patientID uuid.UUID, now time.Time) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE clinic_id = $1 AND patient_id = $2
		  AND `+blocking+`
		  AND starts_at >= $3
		ORDER BY starts_at ASC
	`, clinicID, patientID, now)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListDayVisits(ctx context.Context, clinicID uuid.UUID, day Interval) ([]ScheduledVisit, error) {
	rows, err := r.db.Query(ctx, `
		SELECT a.id, a.patient_id, p.name, p.phone, a.starts_at, a.reminder_confirmed, p.no_show_probability
		FROM appointments a
		JOIN patients p ON p.id = a.patient_id AND p.clinic_id = a.clinic_id
		WHERE a.clinic_id = $1
		  AND a.status IN ('confirmed', 'rescheduled') AND a.superseded_by IS NULL
		  AND a.starts_at >= $2 AND a.starts_at < $3
		ORDER BY a.starts_at ASC
	`, clinicID, day.Start, day.End)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ScheduledVisit
	for rows.Next() {
		var v ScheduledVisit
		if err := rows.Scan(&v.AppointmentID, &v.PatientID, &v.PatientName, &v.Phone,
			&v.StartsAt, &v.ReminderConfirmed, &v.Probability); err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, rows.Err()
}

// Reminders

func (r *PgRepository) ListDueReminders(ctx context.Context, window Interval) ([]ReminderTarget, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColsA+`, p.name, p.phone, c.name, c.timezone, d.name
		FROM appointments a
		JOIN patients p ON p.id = a.patient_id
		JOIN clinics c ON c.id = a.clinic_id
		JOIN doctors d ON d.id = a.doctor_id
		WHERE a.status IN ('confirmed', 'rescheduled') AND a.superseded_by IS NULL
		  AND NOT a.reminder_sent
		  AND a.starts_at >= $1 AND a.starts_at <= $2
		  AND c.active
		ORDER BY a.starts_at ASC
	`, window.Start, window.End)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ReminderTarget
	for rows.Next() {
		var t ReminderTarget
		dest := append(appointmentDest(&t.Appointment), &t.PatientName, &t.Phone, &t.ClinicName, &t.Timezone, &t.DoctorName)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (r *PgRepository) MarkReminderSent(ctx context.Context, clinicID, id uuid.UUID, at time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE appointments
		SET reminder_sent = true, reminder_sent_at = $3, updated_at = now()
		WHERE clinic_id = $1 AND id = $2
	`, clinicID, id, at)
	if err != nil {
		return fmt.Errorf("mark reminder sent: %w", err)
	}
	return nil
}

func (r *PgRepository) ListUnansweredReminders(ctx context.Context, sentBefore time.Time) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE `+blocking+`
		  AND reminder_sent
		  AND reminder_confirmed IS NULL
		  AND reminder_sent_at < $1
		ORDER BY starts_at ASC
	`, sentBefore)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) SetReminderConfirmation(ctx context.Context, clinicID, id uuid.UUID, confirmed bool) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE appointments
		SET reminder_confirmed = $3, updated_at = now()
		WHERE clinic_id = $1 AND id = $2
	`, clinicID, id, confirmed)
	if err != nil {
		return fmt.Errorf("set reminder confirmation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) FindAwaitingReminderReply(ctx context.Context, clinicID, patientID uuid.UUID, now time.Time) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE clinic_id = $1 AND patient_id = $2
		  AND `+blocking+`
		  AND reminder_sent
		  AND reminder_confirmed IS NULL
		  AND starts_at >= $3
		ORDER BY starts_at ASC
		LIMIT 1
	`, clinicID, patientID, now)
	return scanAppointment(row)
}

// Risk inputs

func (r *PgRepository) PatientOutcomes(ctx context.Context, clinicID, patientID uuid.UUID, now time.Time) (Outcomes, error) {
	var o Outcomes
	err := r.db.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE status = 'no_show'),
			count(*) FILTER (WHERE status IN ('completed', 'no_show')),
			(SELECT reminder_confirmed
			   FROM appointments
			  WHERE clinic_id = $1 AND patient_id = $2
			    AND status = 'confirmed' AND superseded_by IS NULL
			    AND starts_at >= $3
			  ORDER BY starts_at ASC
			  LIMIT 1)
		FROM appointments
		WHERE clinic_id = $1 AND patient_id = $2
	`, clinicID, patientID, now).Scan(&o.NoShows, &o.TotalPast, &o.UpcomingReminderConfirmed)
	if err != nil {
		return Outcomes{}, fmt.Errorf("patient outcomes: %w", err)
	}
	return o, nil
}

// Waitlist

func (r *PgRepository) FindWaitingEntry(ctx context.Context, clinicID, patientID uuid.UUID) (*WaitlistEntry, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+waitlistCols+`
		FROM waitlist
		WHERE clinic_id = $1 AND patient_id = $2 AND status = 'waiting'
		LIMIT 1
	`, clinicID, patientID)
	return scanWaitlistEntry(row)
}

func (r *PgRepository) InsertWaitlistEntry(ctx context.Context, e WaitlistEntry) (*WaitlistEntry, error) {
	if e.PreferredDates == nil {
		e.PreferredDates = []string{}
	}
	row := r.db.QueryRow(ctx, `
		INSERT INTO waitlist (id, clinic_id, patient_id, doctor_id, preferred_dates, preferred_time, reason, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'waiting')
		RETURNING `+waitlistCols,
		uuid.New(), e.ClinicID, e.PatientID, e.DoctorID, e.PreferredDates, e.PreferredTime, e.Reason)

	entry, err := scanWaitlistEntry(row)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return nil, ErrAlreadyWaiting
		}
		return nil, fmt.Errorf("insert waitlist entry: %w", err)
	}
	return entry, nil
}

func (r *PgRepository) ClaimOldestWaiting(ctx context.Context, clinicID, doctorID uuid.UUID, at time.Time) (*WaitlistEntry, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE waitlist
		SET status = 'notified', notified_at = $3
		WHERE id = (
			SELECT id FROM waitlist
			WHERE clinic_id = $1 AND doctor_id = $2 AND status = 'waiting'
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+waitlistCols,
		clinicID, doctorID, at)
	return scanWaitlistEntry(row)
}

// Audit

func (r *PgRepository) InsertAudit(ctx context.Context, e AuditEntry) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO audit_log (clinic_id, action, actor_type, target_type, target_id, details, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, COALESCE($7, now()))
	`, e.ClinicID, e.Action, e.ActorType, e.TargetType, e.TargetID, e.Details, nullableTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
