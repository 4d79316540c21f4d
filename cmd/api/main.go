package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/openclave/warden/internal/auth"
	"github.com/openclave/warden/internal/config"
	"github.com/openclave/warden/internal/database"
	"github.com/openclave/warden/internal/handlers"
	middlewareCustom "github.com/openclave/warden/internal/middleware"
	"github.com/openclave/warden/internal/repositories"
	"github.com/openclave/warden/internal/routes"
	"github.com/openclave/warden/internal/services"
	"github.com/openclave/warden/internal/store"
	pkglogger "github.com/openclave/warden/pkg/logger"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Ephemeral session store
	sessionStore := store.NewMemoryStore(logger, cfg.Twofa.StorePurgeInterval)

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	linkRepo := repositories.NewChannelLinkRepository(db)
	setupRepo := repositories.NewTotpSetupRepository(sessionStore, cfg.Twofa.StatusGrace)
	pendingRepo := repositories.NewPendingChangeRepository(sessionStore, cfg.Twofa.StatusGrace)
	challengeRepo := repositories.NewLoginChallengeRepository(sessionStore, cfg.Twofa.StatusGrace)

	// TOTP core
	totpManager, err := auth.NewTOTPManager(cfg.Twofa.Issuer)
	if err != nil {
		logger.Error("failed to initialize TOTP manager", slog.Any("error", err))
		os.Exit(1)
	}

	// Token verification for the user-facing tier
	tokenVerifier := auth.NewTokenVerifier(cfg.Auth.JWTSecret)

	// Audit log
	auditLogger := pkglogger.NewAuditLogger(logger)

	// AWS SES channel notifier
	notifier, err := services.NewAWSSESNotifier(cfg.Notifier.AWSRegion, cfg.Notifier.FromAddress, logger)
	if err != nil {
		logger.Error("failed to initialize notifier", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize services
	lifecycleService := services.NewLifecycleService(userRepo, setupRepo, totpManager, logger, auditLogger, services.LifecycleConfig{
		SetupTTL:     cfg.Twofa.SetupTTL,
		VerifyWindow: cfg.Twofa.VerifyWindow,
	})
	methodChangeService := services.NewMethodChangeService(userRepo, linkRepo, pendingRepo, lifecycleService, notifier, logger, auditLogger, services.MethodChangeConfig{
		PendingTTL: cfg.Twofa.PendingChangeTTL,
	})
	loginChallengeService := services.NewLoginChallengeService(userRepo, linkRepo, challengeRepo, totpManager, notifier, logger, auditLogger, services.LoginChallengeConfig{
		ChallengeTTL:      cfg.Twofa.LoginChallengeTTL,
		MaxVerifyAttempts: cfg.Twofa.MaxVerifyAttempts,
		VerifyWindow:      cfg.Twofa.VerifyWindow,
	})

	// Initialize handlers
	twofaHandler := handlers.NewTwofaHandler(lifecycleService, methodChangeService, logger)
	loginHandler := handlers.NewLoginHandler(loginChallengeService, logger)

	// Setup CORS middleware
	corsConfig := middlewareCustom.DefaultCORSConfig()
	corsConfig.AllowedOrigins = cfg.Server.AllowedOrigins

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(corsConfig))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, twofaHandler, loginHandler, tokenVerifier, cfg)

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","database":"up"}`))
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start store purge loop
	purgeCtx, purgeCancel := context.WithCancel(context.Background())
	defer purgeCancel()

	go sessionStore.Start(purgeCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	purgeCancel()
	sessionStore.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}
