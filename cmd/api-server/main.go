package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-agent/internal/agent"
	"github.com/hackgods/clinic-appointment-agent/internal/api"
	"github.com/hackgods/clinic-appointment-agent/internal/config"
	"github.com/hackgods/clinic-appointment-agent/internal/db"
	"github.com/hackgods/clinic-appointment-agent/internal/inbound"
	"github.com/hackgods/clinic-appointment-agent/internal/notify"
	"github.com/hackgods/clinic-appointment-agent/internal/observability"
	redisclient "github.com/hackgods/clinic-appointment-agent/internal/redis"
	"github.com/hackgods/clinic-appointment-agent/internal/scheduling"
	"github.com/hackgods/clinic-appointment-agent/internal/tools"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("config load error")
	}

	logger := observability.NewLogger("api-server", cfg.Env, cfg.LogLevel)
	logger.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Str("version", version).Msg("api-server starting up")

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

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(reg)

	notifier := notify.NewSender(cfg.WhatsAppAPIURL, cfg.WhatsAppToken, cfg.WhatsAppPhoneNumberID, logger)

	sched := scheduling.NewService(
		scheduling.NewPgRepository(pgPool),
		redisclient.NewRedisDoctorLocker(rdb, cfg.LockTTL),
		notifier,
		logger,
		metrics,
	)

	awsCfg, err := awsconfig.LoadDefaultConfig(rootCtx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		logger.Fatal().Err(err).Msg("load aws config")
	}
	dm := agent.NewBedrockDecisionMaker(bedrockruntime.NewFromConfig(awsCfg), agent.BedrockConfig{
		ModelID:     cfg.BedrockModelID,
		MaxTokens:   cfg.LLMMaxTokens,
		Temperature: cfg.LLMTemperature,
	})

	orchestrator := agent.NewOrchestrator(dm, tools.NewExecutor(sched, logger, metrics), cfg.HistoryLimit, logger, metrics)

	messages := inbound.NewService(
		sched,
		orchestrator,
		inbound.NewPgStore(pgPool),
		redisclient.NewDeduper(rdb, cfg.InboundDedupeTTL),
		notifier,
		logger,
		inbound.Options{HistoryLimit: cfg.HistoryLimit, TurnTimeout: cfg.TurnTimeout},
	)

	router := api.NewRouter(api.RouterConfig{
		Messages: messages,
		Risk:     sched,
		Limiter:  api.NewSenderLimiter(cfg.InboundRate, cfg.InboundBurst),
		Postgres: pgPool,
		Redis:    rdb,
		Gatherer: reg,
		Logger:   logger,
		Env:      cfg.Env,
		Version:  version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		// a turn may take several decision rounds
		WriteTimeout: cfg.TurnTimeout + 10*time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-rootCtx.Done()
	logger.Info().Msg("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}
