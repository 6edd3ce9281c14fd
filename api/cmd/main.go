package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flowgrow/promo-service/internal/audit"
	"github.com/flowgrow/promo-service/internal/config"
	"github.com/flowgrow/promo-service/internal/followers"
	"github.com/flowgrow/promo-service/internal/infrastructure/postgres"
	"github.com/flowgrow/promo-service/internal/infrastructure/redis"
	"github.com/flowgrow/promo-service/internal/pkg/logger"
	"github.com/flowgrow/promo-service/internal/security"
	"github.com/flowgrow/promo-service/internal/service"
	"github.com/flowgrow/promo-service/internal/transport/rest"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	if cfg.LogLevel != "" {
		_ = os.Setenv("LOG_LEVEL", cfg.LogLevel)
	}

	logger.Init()
	log := logger.Logger.With().
		Str("service", "promo-service").
		Str("env", cfg.AppEnv).
		Logger()

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Postgres ----
	dbPool, err := pgxpool.New(rootCtx, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres pool create failed")
	}
	defer dbPool.Close()

	{
		pingCtx, cancel := context.WithTimeout(rootCtx, 5*time.Second)
		defer cancel()

		if err := dbPool.Ping(pingCtx); err != nil {
			log.Fatal().Err(err).Msg("postgres ping failed")
		}
		log.Info().Msg("postgres connected")
	}

	repo := postgres.New(dbPool)

	// ---- Redis ----
	cache := redis.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB, cfg.FollowerCacheTTL)
	{
		pingCtx, cancel := context.WithTimeout(rootCtx, 2*time.Second)
		defer cancel()

		// Best-effort; follower cache and rate limiting degrade gracefully
		if err := cache.Client.Ping(pingCtx).Err(); err != nil {
			log.Warn().Err(err).Msg("redis ping failed (continuing)")
		} else {
			log.Info().Msg("redis connected")
		}
	}

	// ---- Application services ----
	auditLog := audit.New(log)

	tgVerifier := security.NewTelegramVerifier(cfg.BotToken)
	signer := security.NewHS256Signer(cfg.JWTSecret, cfg.JWTIssuer)
	extractor := followers.New(followers.Config{
		Timeout:       cfg.ScrapeTimeout,
		MaxConcurrent: cfg.ScrapeMaxConcurrent,
	})

	authSvc := service.NewAuthService(tgVerifier, signer, repo, cfg.JWTTTL, auditLog)
	profileSvc := service.NewProfileService(repo, extractor, cache, auditLog)
	matchSvc := service.NewMatchService(repo, auditLog)

	h := rest.NewHandler(authSvc, profileSvc, matchSvc)
	verifier := security.NewHS256Verifier(cfg.JWTSecret)

	httpHandler := rest.NewRouter(rest.RouterDeps{
		Cache:     cache,
		Handler:   h,
		Verifier:  verifier,
		JWTIssuer: cfg.JWTIssuer,

		RateLimitEnabled: cfg.RLEnabled,
		RateLimitMax:     cfg.RLLimit,
		RateLimitWindow:  cfg.RLWindow,
	})

	// ---- Outbox worker (outbound user.*/account.*/order.* events) ----
	if cfg.OutboxEnabled {
		repo.StartOutboxWorker(rootCtx, cfg.RabbitURL, cfg.RabbitExchange)
		log.Info().Msg("outbox worker started")
	}

	// ---- HTTP server ----
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("http server crashed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info().Msg("shutdown complete")
}
