package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-agent/internal/config"
	"github.com/hackgods/clinic-appointment-agent/internal/db"
	"github.com/hackgods/clinic-appointment-agent/internal/observability"
	"github.com/hackgods/clinic-appointment-agent/internal/scheduling"
)

var specialties = []string{
	"Medicina General",
	"Dermatología",
	"Pediatría",
	"Ginecología",
	"Odontología",
	"Psicología",
}

var weekday = scheduling.WorkingDay{Start: "08:00", End: "18:00", Active: true}

var defaultHours = scheduling.WorkingHours{
	"monday":    weekday,
	"tuesday":   weekday,
	"wednesday": weekday,
	"thursday":  weekday,
	"friday":    weekday,
	"saturday":  {Start: "08:00", End: "12:00", Active: true},
	"sunday":    {Start: "08:00", End: "12:00", Active: false},
}

type seedDoctor struct {
	id   uuid.UUID
	next time.Time // next free future start
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("config load error")
	}
	logger := observability.NewLogger("seed", cfg.Env, cfg.LogLevel)

	clinics := getInt("SEED_CLINICS", 2)
	patients := getInt("SEED_PATIENTS_PER_CLINIC", 200)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, cfg.PostgresMaxConn)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	loc, _ := time.LoadLocation(cfg.DefaultTimezone)

	for i := 1; i <= clinics; i++ {
		clinicID, doctors, err := seedClinic(ctx, pool, i, cfg.DefaultTimezone, loc)
		if err != nil {
			logger.Fatal().Err(err).Int("clinic", i).Msg("seed clinic")
		}
		if err := seedPatients(ctx, pool, clinicID, doctors, patients, loc); err != nil {
			logger.Fatal().Err(err).Int("clinic", i).Msg("seed patients")
		}
		logger.Info().
			Str("clinic_id", clinicID.String()).
			Str("channel_id", channelID(i)).
			Int("doctors", len(doctors)).
			Int("patients", patients).
			Msg("clinic seeded")
	}

	logger.Info().Msg("seed complete")
}

func channelID(n int) string {
	return fmt.Sprintf("seed-channel-%d", n)
}

func seedClinic(ctx context.Context, pool *pgxpool.Pool, n int, tz string, loc *time.Location) (uuid.UUID, []*seedDoctor, error) {
	hours, err := json.Marshal(defaultHours)
	if err != nil {
		return uuid.Nil, nil, err
	}

	clinicID := uuid.New()
	name := "Consultorio " + gofakeit.LastName()
	address := fmt.Sprintf("Calle %d # %d-%d", gofakeit.Number(1, 150), gofakeit.Number(1, 99), gofakeit.Number(1, 99))

	_, err = pool.Exec(ctx, `
		INSERT INTO clinics (id, name, channel_id, timezone, appointment_minutes, working_hours, agent_name, address)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, clinicID, name, channelID(n), tz, 30, hours, gofakeit.FirstName(), address)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("insert clinic: %w", err)
	}

	// future bookings start at the next opening after today
	tomorrow := time.Now().In(loc).AddDate(0, 0, 1)
	first := nextOpenStart(time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), 0, 0, 0, 0, loc), loc)

	doctors := make([]*seedDoctor, 0, 2)
	for i := 0; i < 2; i++ {
		d := &seedDoctor{id: uuid.New(), next: first}
		_, err := pool.Exec(ctx, `
			INSERT INTO doctors (id, clinic_id, name, specialty, phone, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, d.id, clinicID, "Dr. "+gofakeit.Name(), specialties[gofakeit.Number(0, len(specialties)-1)],
			colombianMobile(), time.Now().Add(time.Duration(i)*time.Second))
		if err != nil {
			return uuid.Nil, nil, fmt.Errorf("insert doctor: %w", err)
		}
		doctors = append(doctors, d)
	}

	return clinicID, doctors, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, clinicID uuid.UUID, doctors []*seedDoctor, count int, loc *time.Location) error {
	const batchSize = 100

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			for i := offset; i < end; i++ {
				if err := seedPatient(ctx, tx, clinicID, doctors, loc); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func seedPatient(ctx context.Context, tx pgx.Tx, clinicID uuid.UUID, doctors []*seedDoctor, loc *time.Location) error {
	patientID := uuid.New()
	dob := gofakeit.DateRange(time.Now().AddDate(-80, 0, 0), time.Now().AddDate(-1, 0, 0))
	consent := time.Now().AddDate(0, -gofakeit.Number(1, 12), 0)

	err := tx.QueryRow(ctx, `
		INSERT INTO patients (id, clinic_id, name, phone, date_of_birth, document_type, document_number, data_consent_at)
		VALUES ($1, $2, $3, $4, $5, 'CC', $6, $7)
		ON CONFLICT (clinic_id, phone) DO NOTHING
		RETURNING id
	`, patientID, clinicID, gofakeit.Name(), colombianMobile(), dob, gofakeit.Numerify("##########"), consent).Scan(&patientID)
	if errors.Is(err, pgx.ErrNoRows) {
		// phone collision, skip this one
		return nil
	}
	if err != nil {
		return fmt.Errorf("insert patient: %w", err)
	}

	// past visits, roughly one in six missed
	history := gofakeit.Number(0, 6)
	noShows := 0
	for h := 0; h < history; h++ {
		doc := doctors[gofakeit.Number(0, len(doctors)-1)]
		day := time.Now().In(loc).AddDate(0, 0, -gofakeit.Number(7, 365))
		start := time.Date(day.Year(), day.Month(), day.Day(), gofakeit.Number(8, 17), 0, 0, 0, loc)

		status := scheduling.StatusCompleted
		if gofakeit.Float64Range(0, 1) < 0.17 {
			status = scheduling.StatusNoShow
			noShows++
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO appointments (id, clinic_id, doctor_id, patient_id, starts_at, ends_at, status, source)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 'seed')
		`, uuid.New(), clinicID, doc.id, patientID, start.UTC(), start.Add(30*time.Minute).UTC(), string(status)); err != nil {
			return fmt.Errorf("insert past appointment: %w", err)
		}
	}

	probability := scheduling.Probability(noShows, history, false)
	if _, err := tx.Exec(ctx, `
		UPDATE patients SET no_show_count = $2, total_appointments = $3, no_show_probability = $4 WHERE id = $1
	`, patientID, noShows, history, probability); err != nil {
		return fmt.Errorf("update patient risk: %w", err)
	}

	if !gofakeit.Bool() {
		return nil
	}

	doc := doctors[gofakeit.Number(0, len(doctors)-1)]
	start := doc.next
	doc.next = nextOpenStart(start.Add(30*time.Minute), loc)

	if _, err := tx.Exec(ctx, `
		INSERT INTO appointments (id, clinic_id, doctor_id, patient_id, starts_at, ends_at, source, reason)
		VALUES ($1, $2, $3, $4, $5, $6, 'seed', $7)
	`, uuid.New(), clinicID, doc.id, patientID, start.UTC(), start.Add(30*time.Minute).UTC(), "Consulta de control"); err != nil {
		return fmt.Errorf("insert upcoming appointment: %w", err)
	}
	return nil
}

// nextOpenStart moves t into the default working hours.
func nextOpenStart(t time.Time, loc *time.Location) time.Time {
	for {
		day, ok := defaultHours.For(t.Weekday())
		if ok && day.Active {
			window, err := scheduling.DayWindow(day, t, loc)
			if err == nil {
				if t.Before(window.Start) {
					return window.Start
				}
				if !t.Add(30 * time.Minute).After(window.End) {
					return t
				}
			}
		}
		next := t.AddDate(0, 0, 1)
		t = time.Date(next.Year(), next.Month(), next.Day(), 0, 0, 0, 0, loc)
	}
}

func colombianMobile() string {
	return "+573" + gofakeit.Numerify("#########")
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
