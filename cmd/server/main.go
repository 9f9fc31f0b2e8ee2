package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"clubhall/internal/api"
	"clubhall/internal/booking"
	"clubhall/internal/cache"
	"clubhall/internal/config"
	"clubhall/internal/database"
	"clubhall/internal/events"
	"clubhall/internal/metrics"
	"clubhall/internal/report"
	"clubhall/internal/service"
	"clubhall/internal/worker"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: .env not loaded: %v\n", err)
	}

	cfg, err := config.Load(os.Getenv("CLUBHALL_CONFIG_PATH"))
	if err != nil {
		bootLogger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}
	logger := newLogger(cfg)

	policy, err := cfg.BookingPolicy()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid booking policy")
	}

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := config.WatchHalls(ctx, cfg.HallsPath(), cfg.HallsReloadInterval(), &logger, func(hc *config.HallsConfig) {
		syncCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := db.SyncHallsFromConfig(syncCtx, hc); err != nil {
			logger.Error().Err(err).Msg("failed to sync halls")
		}
	}); err != nil {
		logger.Fatal().Err(err).Str("path", cfg.HallsPath()).Msg("failed to load halls config")
	}

	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
	}
	bookedDates := cache.New(rdb, cfg.CacheTTL(), &logger)

	bus := events.NewEventBus(&logger)
	bus.SubscribeAll(func(e events.Event) error {
		logger.Debug().Str("event", e.Type).Str("booking_id", e.Booking.ID).Str("status", string(e.Booking.Status)).Msg("booking event")
		return nil
	})

	engine := booking.NewEngine(policy, nil)
	svc := service.NewBookingService(db, engine, bookedDates, bus, &logger)

	ready := func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("db not ready: %w", err)
		}
		if err := bookedDates.Ping(ctx); err != nil {
			return fmt.Errorf("redis not ready: %w", err)
		}
		return nil
	}

	go startHealthServer(ctx, cfg.HealthCheckPort(), ready, &logger)

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		go startMetricsServer(ctx, cfg.PrometheusPort(), &logger)
	}

	backups := database.NewBackupService(db, database.BackupConfig{
		Enabled:       cfg.Backup.Enabled,
		Interval:      cfg.BackupInterval(),
		StoragePath:   cfg.Backup.Path,
		RetentionDays: cfg.Backup.RetentionDays,
	}, &logger)
	go backups.Start(ctx)

	if cfg.Audit.Enabled {
		audit := report.NewAuditService(report.AuditConfig{
			Dir:           cfg.AuditPath(),
			ExportOnStart: cfg.Audit.ExportOnStart,
			Location:      policy.Location,
		}, db, nil, &logger)
		audit.Start()
		defer audit.Stop()
	}

	completion := worker.NewCompletionWorker(svc, cfg.CompletionInterval(), &logger)
	completion.Start(ctx)
	defer completion.Stop()

	rps, burst := cfg.RateLimit()
	proxies, err := cfg.TrustedProxies()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid server config")
	}
	server := api.NewHTTPServer(api.Options{
		Addr:           cfg.ServerAddr(),
		ReadTimeout:    cfg.ReadTimeout(),
		WriteTimeout:   cfg.WriteTimeout(),
		RateLimitRPS:   rps,
		RateBurst:      burst,
		TrustedProxies: proxies,
		Ready:          ready,
	}, svc, report.NewMonthlyExporter(db, nil), &logger)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("HTTP shutdown error")
		}
	}()

	logger.Info().
		Str("weekday", policy.Weekday.String()).
		Int("default_advance_days", policy.DefaultAdvanceDays).
		Bool("auto_confirm", policy.AutoConfirm).
		Str("timezone", policy.Location.String()).
		Msg("club hall booking service started")

	if err := server.Start(); err != nil {
		logger.Error().Err(err).Msg("HTTP server error")
		stop()
	}
	<-ctx.Done()
	logger.Info().Msg("shutting down")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Logging.Level))
	if err != nil || cfg.Logging.Level == "" {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if strings.EqualFold(cfg.Logging.Format, "json") {
		logger = zerolog.New(os.Stdout)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return logger.Level(level).With().Timestamp().Logger()
}

func startHealthServer(ctx context.Context, port int, ready func(context.Context) error, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := ready(ctxPing); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("health server error")
	}
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
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
