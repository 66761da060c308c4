package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/clinicbook/scheduling-core/internal/api"
	"github.com/clinicbook/scheduling-core/internal/appointment"
	"github.com/clinicbook/scheduling-core/internal/availability"
	"github.com/clinicbook/scheduling-core/internal/config"
	"github.com/clinicbook/scheduling-core/internal/db"
	"github.com/clinicbook/scheduling-core/internal/directory"
	"github.com/clinicbook/scheduling-core/internal/logger"
	"github.com/clinicbook/scheduling-core/internal/metrics"
	redisclient "github.com/clinicbook/scheduling-core/internal/redis"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("api-server", "info", "prod").Fatal().Err(err).Msg("config load error")
	}

	log := logger.New("api-server", cfg.LogLevel, cfg.Env)
	log.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Str("timezone", cfg.Location.String()).
		Msg("api-server starting up")

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

	applied, err := db.NewMigrator(pgPool).Up(rootCtx)
	if err != nil {
		log.Fatal().Err(err).Msg("migration error")
	}
	log.Info().Int("applied", applied).Msg("migrations up to date")

	// Connect Redis
	rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error().Err(err).Msg("error closing redis")
		}
	}()
	log.Info().Msg("connected to Redis")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	clock := availability.NewClock(cfg.Location)
	dir := directory.New(directory.NewPgRepository(pgPool), cfg.DirectoryTTL)

	availRepo := availability.NewPgRepository(pgPool)
	templates := availability.NewTemplateStore(availRepo, dir, log)
	statuses := availability.NewStatusRegister(availRepo, dir, clock, m, log)

	dispatcher := redisclient.NewEventDispatcher(rdb, cfg.EventChannel, cfg.EventBuffer, m, log)
	ledger := appointment.NewLedger(appointment.NewPgRepository(pgPool), dir, dispatcher, clock, m, log)
	resolver := availability.NewResolver(templates, statuses, ledger, dir, clock, m)
	coordinator := appointment.NewCoordinator(resolver, ledger, dir,
		redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL), m, log)

	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		dispatcher.Run(dispatchCtx)
	}()

	router := api.NewRouter(api.RouterConfig{
		Templates:   templates,
		Statuses:    statuses,
		Resolver:    resolver,
		Doctors:     dir,
		Ledger:      ledger,
		Coordinator: coordinator,
		Health: []api.Dependency{
			{Name: "postgres", Ping: pgPool.Ping, Critical: true},
			{Name: "redis", Ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
		},
		Gatherer:       reg,
		Logger:         log,
		CORSOrigins:    cfg.CORSOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		Env:            cfg.Env,
		Version:        version,
	})

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-rootCtx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	// Handlers are done; flush whatever events are still queued.
	stopDispatch()
	wg.Wait()

	log.Info().Msg("api-server stopped")
}
