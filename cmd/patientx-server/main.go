package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/patientx/patientx/internal/config"
	"github.com/patientx/patientx/internal/domain/consent"
	"github.com/patientx/patientx/internal/domain/payment"
	"github.com/patientx/patientx/internal/domain/record"
	"github.com/patientx/patientx/internal/domain/user"
	"github.com/patientx/patientx/internal/platform/auth"
	"github.com/patientx/patientx/internal/platform/db"
	"github.com/patientx/patientx/internal/platform/ledger"
	"github.com/patientx/patientx/internal/platform/middleware"
	"github.com/patientx/patientx/internal/platform/notify"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "patientx-server",
		Short: "PatientX consent and records API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Ledger oracle
	ledgerClient, err := ledger.Dial(ctx, ledger.Config{
		RPCURL:          cfg.RPCURL,
		ContractAddress: cfg.ContractAddress,
		Timeout:         cfg.LedgerTimeout,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to ledger node")
	}
	defer ledgerClient.Close()
	logger.Info().Str("rpc_url", cfg.RPCURL).Str("contract", cfg.ContractAddress).
		Msg("connected to ledger node")

	resolver := ledger.NewResolver(ledgerClient)

	// The funder only exists for local test networks where accounts start
	// empty. Typed nil must not leak into the Funder interfaces.
	var recordFunder record.Funder
	var consentFunder consent.Funder
	if cfg.FundingEnabled {
		funder, err := ledger.NewFunder(ledgerClient, cfg.FunderIndex, cfg.MinBalanceWei, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to configure account funder")
		}
		recordFunder = funder
		consentFunder = funder
		logger.Warn().Int("funder_index", cfg.FunderIndex).
			Msg("test account funding enabled")
	}

	// Sessions
	tokens := auth.TokenConfig{
		Secret:    []byte(cfg.JWTSecret),
		ExpiresIn: cfg.JWTExpiresIn,
	}
	revoked := auth.NewTokenRevocationStore()

	// Realtime notifications
	hub := notify.NewHub(logger)

	// Domain services
	userRepo := user.NewRepoPG(pool)
	userSvc := user.NewService(userRepo, tokens, revoked)
	userHandler := user.NewHandler(userSvc)

	recordRepo := record.NewRepoPG(pool)
	recordSvc := record.NewService(recordRepo, ledgerClient, resolver, recordFunder, logger)
	recordHandler := record.NewHandler(recordSvc)

	consentRepo := consent.NewRepoPG(pool)
	consentSvc := consent.NewService(consentRepo, ledgerClient, resolver, consentFunder,
		recordSvc, hub, cfg.LedgerTimeout, logger)
	consentHandler := consent.NewHandler(consentSvc)

	// Record reads consult the consent service; the consent service consults
	// records. The late setter breaks the construction cycle.
	recordSvc.SetConsentChecker(consentSvc)

	provider := payment.NewRazorpayProvider(cfg.RazorpayKeyID, cfg.RazorpaySecret)
	paymentRepo := payment.NewRepoPG(pool)
	paymentSvc := payment.NewService(paymentRepo, provider, consentSvc, recordSvc,
		cfg.RazorpaySecret, logger)
	paymentHandler := payment.NewHandler(paymentSvc)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}

	e.GET("/health", db.HealthHandler(pool))

	api := e.Group("/api")
	api.Use(middleware.RateLimit(rateLimitCfg))

	// JWT runs first so the limiter sees the authenticated user id and keys
	// per user instead of per client IP.
	protected := e.Group("/api")
	protected.Use(auth.JWTMiddleware(tokens, revoked))
	protected.Use(middleware.RateLimit(rateLimitCfg))

	userHandler.RegisterRoutes(api, protected)
	recordHandler.RegisterRoutes(protected)
	consentHandler.RegisterRoutes(protected)
	paymentHandler.RegisterRoutes(protected)

	ws := e.Group("")
	ws.Use(auth.JWTMiddleware(tokens, revoked))
	notify.NewHandler(hub).RegisterRoutes(ws)

	// Serve with graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("server listening")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
		return err
	}
	return nil
}
