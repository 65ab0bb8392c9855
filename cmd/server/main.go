package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/iliyamo/club-event-registration/internal/auth"
	"github.com/iliyamo/club-event-registration/internal/config"
	"github.com/iliyamo/club-event-registration/internal/database"
	"github.com/iliyamo/club-event-registration/internal/handler"
	"github.com/iliyamo/club-event-registration/internal/metrics"
	"github.com/iliyamo/club-event-registration/internal/middleware"
	"github.com/iliyamo/club-event-registration/internal/queue"
	"github.com/iliyamo/club-event-registration/internal/registration"
	"github.com/iliyamo/club-event-registration/internal/repository"
	"github.com/iliyamo/club-event-registration/internal/router"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := config.NewLogger(cfg, os.Stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	// ---- Identity store (MySQL) ----
	db, err := database.Open(ctx, database.MySQLParams{
		User: cfg.DBUser, Pass: cfg.DBPass, Host: cfg.DBHost, Port: cfg.DBPort, Name: cfg.DBName,
	})
	if err != nil {
		return err
	}
	defer db.Close()
	identity := repository.NewIdentityRepo(db)

	// ---- Catalog store (MongoDB, or in memory in demo mode) ----
	mongo, catalog := openCatalog(ctx, cfg, logger)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mongo.Close(closeCtx)
	}()

	rdb := config.NewRedisClient(ctx, logger)
	if rdb != nil {
		defer rdb.Close()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// ---- Services ----
	var verifier auth.IDTokenVerifier
	if cfg.GoogleClientID != "" {
		verifier = auth.NewGoogleVerifier(cfg.GoogleClientID)
	}
	authSvc := auth.NewService(identity, verifier, auth.Options{
		Secret:     cfg.JWTSecret,
		TokenTTL:   cfg.TokenTTL,
		BcryptCost: cfg.BcryptCost,
		AdminEmail: cfg.AdminEmail,
	}, logger, m, nil)

	var publisher registration.Publisher
	if cfg.RabbitMQURL != "" {
		p := queue.NewPublisher(cfg.RabbitMQURL, logger)
		defer p.Close()
		publisher = p
		if cfg.QueueConsumerEnabled {
			consumer := queue.NewConsumer(cfg.RabbitMQURL, cfg.RegistrationLogDir, logger, m)
			go func() { _ = consumer.Run(ctx) }()
		}
	} else {
		logger.Info("RABBITMQ_URL not set; registration.created messages are not published")
	}
	regSvc := registration.NewService(catalog, identity, publisher, logger, m, nil)

	// ---- HTTP ----
	e := router.New(router.Deps{
		Auth:            handler.NewAuthHandler(authSvc),
		Catalog:         handler.NewCatalogHandler(catalog, cfg.PublicBaseURL),
		Registrations:   handler.NewRegistrationHandler(regSvc),
		Health:          &handler.HealthHandler{Mongo: mongo, HasURI: cfg.MongoURI != "", Identity: identity},
		Tokens:          authSvc,
		Cache:           middleware.NewResponseCache(cfg.Cache, rdb, logger),
		Redis:           rdb,
		StudentAuthMode: cfg.StudentAuthMode,
		CORSOrigins:     cfg.CORSAllowedOrigins,
		RateLimit:       cfg.RateLimit,
		Gatherer:        reg,
		Logger:          logger,
	})

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info("listening", slog.String("addr", addr), slog.String("student_auth", cfg.StudentAuthMode), slog.Bool("demo_mode", mongo == nil))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

// openCatalog connects to MongoDB when a URI is configured. Without one,
// or when the server cannot be reached, the catalog runs in memory with
// the demo clubs and events and the returned handle is nil.
func openCatalog(ctx context.Context, cfg config.Config, logger *slog.Logger) (*database.Mongo, repository.Catalog) {
	if !cfg.DemoMode() {
		mongo, err := database.ConnectMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err == nil {
			repo := repository.NewCatalogRepo(mongo.Database())
			idxCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err := repo.EnsureIndexes(idxCtx); err != nil {
				logger.Warn("ensure catalog indexes", slog.Any("error", err))
			}
			logger.Info("catalog connected", slog.String("database", cfg.MongoDatabase))
			return mongo, repo
		}
		logger.Warn("mongodb unreachable; serving demo catalog", slog.Any("error", err))
	} else {
		logger.Info("MONGODB_URI not set; serving demo catalog")
	}

	mem := repository.NewMemoryCatalog()
	if err := repository.SeedDemo(ctx, mem, time.Now()); err != nil {
		logger.Warn("seed demo catalog", slog.Any("error", err))
	}
	return nil, mem
}
