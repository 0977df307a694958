package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/audit"
	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/config"
	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/database"
	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/handler"
	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/janitor"
	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/obs"
	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/queue"
	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/repository"
	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/router"
	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/service"
)

const appName = "visa-auth"

func main() {
	_ = godotenv.Load() // .env is optional; real environment wins
	cfg := config.Load()
	log := obs.NewLogger(appName, cfg.LogLevel, cfg.Env)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server stopped with error")
	}
	log.Info().Msg("server stopped")
}

func run(cfg config.Config, log zerolog.Logger) error {
	displayAppname(appName)
	obs.Init()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = database.Migrate(migrateCtx, db)
	cancel()
	if err != nil {
		return err
	}

	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Warn().Msg("redis unavailable: local rate limiting, no response cache")
	} else {
		defer func() { _ = rdb.Close() }()
	}

	users := repository.NewUserRepo(db)
	sessions := repository.NewSessionRepo(db)
	audits := repository.NewAuditRepo(db)
	recorder := audit.NewRecorder(audits, log)

	opts := []service.Option{
		service.WithTokenTTL(cfg.AccessTTL(), cfg.RefreshTTL()),
		service.WithBcryptCost(cfg.BcryptCost),
		service.WithLockout(cfg.LockoutMaxAttempts, cfg.LockoutDuration),
		service.WithResetTokenTTL(cfg.ResetTokenTTL),
		service.WithClientURL(cfg.ClientURL),
		service.WithLogger(log),
	}
	if cfg.RabbitURL != "" {
		opts = append(opts, service.WithPublisher(queue.NewPublisher(cfg.RabbitURL, log)))
	} else {
		log.Warn().Msg("RABBITMQ_URL not set: security events are not published")
	}
	authSvc := service.NewAuthService(users, sessions, recorder, cfg.JWTSecret, opts...)
	sessionSvc := service.NewSessionService(sessions, recorder, log, nil)
	auditSvc := service.NewAuditService(audits)

	e := router.New(router.Deps{
		Log:           log,
		JWTSecret:     cfg.JWTSecret,
		ClientURL:     cfg.ClientURL,
		Users:         users,
		Recorder:      recorder,
		Redis:         rdb,
		RateLimit:     config.LoadRateLimitConfig(),
		AuthRateLimit: config.LoadAuthRateLimitConfig(),
		Cache:         config.LoadCacheConfig(),
		Auth:          handler.NewAuthHandler(authSvc, handler.CookieConfig{Secure: cfg.CookieSecure, Domain: cfg.CookieDomain}, log),
		Sessions:      handler.NewSessionHandler(authSvc, sessionSvc, log),
		Audit:         handler.NewAuditHandler(auditSvc, log),
		Health:        &handler.HealthHandler{DB: db, Redis: rdb},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweeper := janitor.New(sessions, audits, janitor.Config{
		Interval:       cfg.SweepInterval,
		TokenRetention: cfg.TokenRetention,
		AuditRetention: cfg.AuditRetention,
	}, log)
	go sweeper.Run(ctx)

	addr := ":" + cfg.Port
	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Str("env", cfg.Env).Msg("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	recorder.Wait()
	return nil
}

func displayAppname(name string) {
	figure.NewFigure(name, "cybermedium", true).Print()
	fmt.Println()
}
