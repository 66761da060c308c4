package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicbook/scheduling-core/internal/availability"
	"github.com/clinicbook/scheduling-core/internal/config"
	"github.com/clinicbook/scheduling-core/internal/db"
	"github.com/clinicbook/scheduling-core/internal/directory"
	"github.com/clinicbook/scheduling-core/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("status-sweeper", "info", "prod").Fatal().Err(err).Msg("config load error")
	}

	log := logger.New("status-sweeper", cfg.LogLevel, cfg.Env)
	log.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.WorkerInterval).
		Msg("status-sweeper starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	dir := directory.New(directory.NewPgRepository(pgPool), cfg.DirectoryTTL)
	statuses := availability.NewStatusRegister(availability.NewPgRepository(pgPool), dir,
		availability.NewClock(cfg.Location), nil, log)

	// Run once at startup
	runOnce(rootCtx, statuses, log)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info().Msg("shutdown signal received, stopping status sweeper")
			return
		case <-ticker.C:
			runOnce(rootCtx, statuses, log)
		}
	}
}

func runOnce(ctx context.Context, statuses *availability.StatusRegister, log zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	reverted, err := statuses.SweepExpired(runCtx)
	if err != nil {
		log.Error().Err(err).Msg("sweep run error")
		return
	}
	log.Info().
		Int("reverted", reverted).
		Dur("took", time.Since(start)).
		Msg("sweep run complete")
}
