package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-agent/internal/config"
	"github.com/hackgods/clinic-appointment-agent/internal/db"
	"github.com/hackgods/clinic-appointment-agent/internal/notify"
	"github.com/hackgods/clinic-appointment-agent/internal/observability"
	redisclient "github.com/hackgods/clinic-appointment-agent/internal/redis"
	"github.com/hackgods/clinic-appointment-agent/internal/scheduling"
)

type SimConfig struct {
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	CancelRatio  float64
	ReadRatio    float64
	Days         int
	Patients     int
}

// DataPool holds the contended slots and the appointments created so far.
type DataPool struct {
	Clinic   scheduling.Clinic
	DoctorID uuid.UUID
	Starts   []time.Time
	Phones   []string

	mu           sync.RWMutex
	appointments []uuid.UUID
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) TakeRandomAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	idx := rng.Intn(len(dp.appointments))
	id := dp.appointments[idx]
	dp.appointments = append(dp.appointments[:idx], dp.appointments[idx+1:]...)
	return id, true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Booking      OperationMetrics
	Cancel       OperationMetrics
	Availability OperationMetrics
	Upcoming     OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	svc     *scheduling.Service
	logger  zerolog.Logger
	metrics Metrics
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("config load error")
	}
	logger := observability.NewLogger("simulate", baseCfg.Env, baseCfg.LogLevel)

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid simulation config")
	}

	logger.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("booking", cfg.BookingRatio).
		Float64("cancel", cfg.CancelRatio).
		Float64("read", cfg.ReadRatio).
		Msg("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, baseCfg.PostgresDSN, baseCfg.PostgresMaxConn)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	rdb, err := redisclient.NewRedisClient(ctx, baseCfg.RedisAddr, baseCfg.RedisUsername, baseCfg.RedisPassword)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect redis")
	}
	defer rdb.Close()

	repo := scheduling.NewPgRepository(pgPool)
	// no patient should receive a message from a load test
	svc := scheduling.NewService(repo, redisclient.NewRedisDoctorLocker(rdb, baseCfg.LockTTL),
		notify.NewLogSender(zerolog.Nop()), zerolog.Nop(), nil)

	dataPool, err := loadDataPool(ctx, repo, svc, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("load data pool")
	}
	logger.Info().
		Str("clinic", dataPool.Clinic.Name).
		Int("slots", len(dataPool.Starts)).
		Int("patients", len(dataPool.Phones)).
		Msg("data pool loaded")

	sim := &Simulator{config: cfg, pool: dataPool, svc: svc, logger: logger}
	sim.Run()
	sim.PrintReport()

	overlaps, err := countOverlaps(context.Background(), pgPool, dataPool.Clinic.ID, dataPool.DoctorID)
	if err != nil {
		logger.Fatal().Err(err).Msg("overlap check")
	}
	if overlaps > 0 {
		logger.Fatal().Int("pairs", overlaps).Msg("double booking detected")
	}
	logger.Info().Msg("no overlapping active appointments")
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.5),
		CancelRatio:  getFloat("SIM_CANCEL_RATIO", 0.2),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.3),
		Days:         getInt("SIM_DAYS", 3),
		Patients:     getInt("SIM_PATIENTS", 200),
	}

	total := cfg.BookingRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.Days <= 0 || cfg.Patients <= 0 {
		return fmt.Errorf("SIM_DAYS and SIM_PATIENTS must be > 0")
	}
	return nil
}

// loadDataPool picks the first active clinic and collects the open starts of
// its main doctor over the next few days. Workers draw from the same small set
// so most bookings collide.
func loadDataPool(ctx context.Context, repo *scheduling.PgRepository, svc *scheduling.Service, cfg SimConfig) (*DataPool, error) {
	clinics, err := repo.ListActiveClinics(ctx)
	if err != nil {
		return nil, fmt.Errorf("list clinics: %w", err)
	}
	if len(clinics) == 0 {
		return nil, fmt.Errorf("no active clinics, run the seed first")
	}
	clinic := clinics[0]

	doc, err := svc.MainDoctor(ctx, clinic.ID)
	if err != nil {
		return nil, fmt.Errorf("main doctor: %w", err)
	}

	pool := &DataPool{Clinic: clinic, DoctorID: doc.ID}
	today := time.Now().In(clinic.Location())
	for d := 1; d <= cfg.Days; d++ {
		avail, err := svc.Availability(ctx, clinic, doc.ID, today.AddDate(0, 0, d))
		if err != nil {
			return nil, fmt.Errorf("availability: %w", err)
		}
		for _, slot := range avail.Slots {
			pool.Starts = append(pool.Starts, slot.Start)
		}
	}
	if len(pool.Starts) == 0 {
		return nil, fmt.Errorf("no open slots in the next %d days", cfg.Days)
	}

	for i := 0; i < cfg.Patients; i++ {
		pool.Phones = append(pool.Phones, "+573"+gofakeit.Numerify("#########"))
	}
	return pool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.logger.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.logger.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.BookingRatio:
				s.doBooking(ctx, rng)
			case r < s.config.BookingRatio+s.config.CancelRatio:
				s.doCancel(ctx, rng)
			case rng.Intn(2) == 0:
				s.doAvailability(ctx, rng)
			default:
				s.doUpcoming(ctx, rng)
			}
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	start := s.pool.Starts[rng.Intn(len(s.pool.Starts))]
	phone := s.pool.Phones[rng.Intn(len(s.pool.Phones))]

	began := time.Now()
	booking, err := s.svc.Book(ctx, scheduling.BookingRequest{
		Clinic:   s.pool.Clinic,
		DoctorID: s.pool.DoctorID,
		Patient:  scheduling.PatientIdentity{Name: gofakeit.Name(), Phone: phone},
		StartsAt: start,
		Reason:   "Simulación",
	})
	latency := time.Since(began)

	if err == nil {
		s.pool.AddAppointment(booking.Appointment.ID)
	}
	conflict := errors.Is(err, scheduling.ErrSlotConflict) || errors.Is(err, scheduling.ErrScheduleBusy)
	s.metrics.Booking.Record(latency, err == nil, conflict)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.TakeRandomAppointment(rng)
	if !ok {
		return
	}

	began := time.Now()
	_, err := s.svc.Cancel(ctx, s.pool.Clinic, id, "simulación")
	s.metrics.Cancel.Record(time.Since(began), err == nil, errors.Is(err, scheduling.ErrAlreadyCancelled))
}

func (s *Simulator) doAvailability(ctx context.Context, rng *rand.Rand) {
	day := s.pool.Starts[rng.Intn(len(s.pool.Starts))]

	began := time.Now()
	_, err := s.svc.Availability(ctx, s.pool.Clinic, s.pool.DoctorID, day)
	s.metrics.Availability.Record(time.Since(began), err == nil, false)
}

func (s *Simulator) doUpcoming(ctx context.Context, rng *rand.Rand) {
	phone := s.pool.Phones[rng.Intn(len(s.pool.Phones))]

	began := time.Now()
	_, err := s.svc.UpcomingForPatient(ctx, s.pool.Clinic.ID, phone)
	ok := err == nil || errors.Is(err, scheduling.ErrPatientNotFound)
	s.metrics.Upcoming.Record(time.Since(began), ok, false)
}

// countOverlaps counts pairs of active appointments of one doctor whose
// intervals intersect. The exclusion constraint should keep it at zero.
func countOverlaps(ctx context.Context, pool *pgxpool.Pool, clinicID, doctorID uuid.UUID) (int, error) {
	var n int
	err := pool.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments a
		JOIN appointments b
		  ON a.doctor_id = b.doctor_id
		 AND a.id < b.id
		 AND a.starts_at < b.ends_at
		 AND b.starts_at < a.ends_at
		WHERE a.clinic_id = $1 AND a.doctor_id = $2
		  AND a.status IN ('confirmed', 'rescheduled') AND a.superseded_by IS NULL
		  AND b.status IN ('confirmed', 'rescheduled') AND b.superseded_by IS NULL
	`, clinicID, doctorID).Scan(&n)
	return n, err
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Clinic: %s\n", s.pool.Clinic.Name)
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Contended slots: %d\n", len(s.pool.Starts))
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Availability", &s.metrics.Availability)
	printOperationReport("Upcoming by phone", &s.metrics.Upcoming)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
