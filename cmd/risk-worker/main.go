package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-agent/internal/config"
	"github.com/hackgods/clinic-appointment-agent/internal/db"
	"github.com/hackgods/clinic-appointment-agent/internal/notify"
	"github.com/hackgods/clinic-appointment-agent/internal/observability"
	redisclient "github.com/hackgods/clinic-appointment-agent/internal/redis"
	"github.com/hackgods/clinic-appointment-agent/internal/scheduling"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("config load error")
	}

	logger := observability.NewLogger("risk-worker", cfg.Env, cfg.LogLevel)
	logger.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.WorkerInterval).
		Dur("reminder_lead", cfg.ReminderLead).
		Dur("reminder_grace", cfg.ReminderGrace).
		Msg("risk-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.PostgresMaxConn)
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Msg("connected to Redis")

	sched := scheduling.NewService(
		scheduling.NewPgRepository(pgPool),
		redisclient.NewRedisDoctorLocker(rdb, cfg.LockTTL),
		notify.NewSender(cfg.WhatsAppAPIURL, cfg.WhatsAppToken, cfg.WhatsAppPhoneNumberID, logger),
		logger,
		nil,
	)
	reminders := scheduling.NewReminderService(sched, cfg.ReminderLead, cfg.ReminderGrace)

	runOnce(rootCtx, logger, reminders)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping risk worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, logger, reminders)
		}
	}
}

func runOnce(ctx context.Context, logger zerolog.Logger, reminders *scheduling.ReminderService) {
	runCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	start := time.Now()
	if err := reminders.RunOnce(runCtx, start); err != nil {
		logger.Error().Err(err).Msg("risk run error")
		return
	}
	logger.Info().Dur("took", time.Since(start)).Msg("risk run complete")
}
