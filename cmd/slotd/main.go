package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"courtslot/internal/api"
	"courtslot/internal/availability"
	"courtslot/internal/backend"
	"courtslot/internal/clock"
	"courtslot/internal/config"
	"courtslot/internal/database"
	"courtslot/internal/domain"
	"courtslot/internal/events"
	"courtslot/internal/logging"
	"courtslot/internal/metrics"
	"courtslot/internal/models"
	"courtslot/internal/pricing"
	"courtslot/internal/repository"
	"courtslot/internal/reservation"
	"courtslot/internal/session"
	"courtslot/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

const healthInterval = 15 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	loc, err := cfg.Booking.Location()
	if err != nil {
		return err
	}

	venues, err := loadVenues(cfg.Catalogue.Path, &logger)
	if err != nil {
		return err
	}

	clk := clock.System{}
	local, probe, closeLocal := initLocalStore(cfg, clk, &logger)
	defer closeLocal()

	redisClient := initRedis(cfg, &logger)
	if redisClient != nil {
		defer (func() { _ = repository.Close(redisClient) })()
	}

	store := initRecoveryStore(redisClient, local, clk, &logger)

	bus := events.NewEventBus()
	subscribeEventLog(bus, &logger)

	manager := session.NewManager(newBackendFactory(cfg, redisClient, &logger), session.Config{
		Prices:   pricing.NewResolver(cfg.Booking.FallbackWeekdayPrice, cfg.Booking.FallbackWeekendPrice),
		Clock:    clk,
		Location: loc,
		TTL:      cfg.Booking.SessionTTL(),
		Availability: availability.Options{
			DegradedMode: cfg.Booking.DegradedMode,
			SimulateSeed: cfg.Booking.SimulateSeed,
			Events:       bus,
		},
		Reservation: reservation.Options{
			HoldDuration: cfg.Booking.HoldDuration(),
			Store:        store,
			Events:       bus,
		},
		Venues: venues.lookup,
	}, &logger)

	httpServer := api.NewHTTPServer(cfg.API, manager, &logger)
	if probe != nil {
		httpServer.AddProbe("sqlite", probe)
	}
	if redisClient != nil {
		httpServer.AddProbe("redis", func(ctx context.Context) error { return repository.Ping(ctx, redisClient) })
	}

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		grpcServer, err = api.NewGRPCServer(cfg.API, &logger)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startMetrics(ctx, cfg, &logger)
	startSweeper(ctx, cfg, local, manager, clk, &logger)

	if grpcServer != nil && probe != nil {
		go grpcServer.MonitorHealth(ctx, healthInterval, probe)
	}

	return startServers(ctx, grpcServer, httpServer, cfg, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "slotd-main").Logger()

	return cfg, logger, closer, nil
}

// venueCatalogue maps venue ids to display data.
type venueCatalogue map[string]models.Venue

func (c venueCatalogue) lookup(id string) (models.Venue, bool) {
	v, ok := c[id]
	return v, ok
}

func loadVenues(path string, logger *zerolog.Logger) (venueCatalogue, error) {
	if path == "" {
		path = os.Getenv("VENUES_PATH")
	}
	if path == "" {
		return venueCatalogue{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn().Str("venues_path", path).Msg("venue catalogue not found, continuing without it")
			return venueCatalogue{}, nil
		}
		logger.Error().Err(err).Str("venues_path", path).Msg("read venues")
		return nil, err
	}

	var file struct {
		Venues []models.Venue `yaml:"venues"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		logger.Error().Err(err).Str("venues_path", path).Msg("parse venues")
		return nil, err
	}

	catalogue := make(venueCatalogue, len(file.Venues))
	for _, v := range file.Venues {
		if v.ID == "" {
			continue
		}
		catalogue[v.ID] = v
	}
	logger.Info().Int("venues", len(catalogue)).Msg("venue catalogue loaded")
	return catalogue, nil
}

func initRedis(cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(context.Background(), redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = redisClient.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

// localStore is the recovery store kept on this host.
type localStore interface {
	domain.RecoveryStore
	worker.Purger
}

// initLocalStore opens the sqlite recovery store, or falls back to memory
// when the database cannot be opened. probe is nil for the memory store.
func initLocalStore(cfg *config.Config, clk clock.Clock, logger *zerolog.Logger) (localStore, api.Probe, func()) {
	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Warn().Err(err).Str("db_path", cfg.Database.Path).Msg("sqlite unavailable, recovery records kept in memory")
		return repository.NewMemoryRecoveryStore(clk), nil, func() {}
	}
	return database.NewRecoveryDB(db, clk), db.PingContext, func() { _ = db.Close() }
}

// initRecoveryStore prefers Redis and keeps the local store as the fallback.
func initRecoveryStore(redisClient *redis.Client, local localStore, clk clock.Clock, logger *zerolog.Logger) domain.RecoveryStore {
	if redisClient == nil {
		return local
	}
	return repository.NewFailoverRecoveryStore(repository.NewRedisRecoveryStore(redisClient, clk), local, clk, logger)
}

func newBackendFactory(cfg *config.Config, redisClient *redis.Client, logger *zerolog.Logger) session.BackendFactory {
	client := backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.APIKey, cfg.Backend.APIExtra, cfg.Backend.Timeout(), logger)
	client.UseRateLimit(cfg.Backend.RateLimit.RPS, cfg.Backend.RateLimit.Burst)
	client.UseRetry(worker.RetryPolicy{
		MaxRetries:   cfg.Backend.Retry.MaxRetries,
		InitialDelay: time.Duration(cfg.Backend.Retry.InitialDelayMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Backend.Retry.MaxDelayMs) * time.Millisecond,
	})
	if redisClient != nil && cfg.Backend.CacheTTLSeconds > 0 {
		client.UseRedisCache(redisClient, cfg.Backend.CacheTTL())
	}

	return func(token string) domain.Backend {
		return client.WithSession(backend.Session{Token: token})
	}
}

func subscribeEventLog(bus *events.EventBus, logger *zerolog.Logger) {
	eventLogger := logging.Component(logger, "events")
	bus.SubscribeAll(func(ev *events.Event) error {
		eventLogger.Info().
			Str("event", ev.Type).
			RawJSON("payload", ev.Payload).
			Time("at", ev.CreatedAt).
			Msg("domain event")
		return nil
	})
}

func startSweeper(
	ctx context.Context,
	cfg *config.Config,
	local localStore,
	manager *session.Manager,
	clk clock.Clock,
	logger *zerolog.Logger,
) {
	sweeper := worker.NewSweeper(cfg.Booking.RecoverySweep(), worker.RetryPolicy{
		MaxRetries:   5,
		InitialDelay: time.Second,
		MaxDelay:     time.Minute,
	}, clk, logger)
	sweeper.AddPurger(local)
	sweeper.AddExpirer(manager)
	go sweeper.Start(ctx)
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
}

func startServers(
	ctx context.Context,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	cfg *config.Config,
	logger *zerolog.Logger,
) error {
	if grpcServer != nil {
		go func() {
			if err := grpcServer.Serve(); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Start()
	}()

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Bool("grpc", grpcServer != nil).Msg("slot coordinator started")

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("http server stopped")
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("slot coordinator stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
