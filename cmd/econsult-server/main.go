package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/econsult/econsult/internal/config"
	"github.com/econsult/econsult/internal/domain/econsult"
	"github.com/econsult/econsult/internal/domain/physician"
	"github.com/econsult/econsult/internal/platform/aiassist"
	"github.com/econsult/econsult/internal/platform/auth"
	"github.com/econsult/econsult/internal/platform/blobstore"
	"github.com/econsult/econsult/internal/platform/db"
	"github.com/econsult/econsult/internal/platform/inflight"
	"github.com/econsult/econsult/internal/platform/middleware"
	"github.com/econsult/econsult/internal/platform/notification"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "econsult-server",
		Short: "Pediatric endocrinology e-consult service",
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
		Short: "Database migration commands",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
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

			migrator := db.NewMigrator(pool, dir)
			fmt.Printf("Running migrations on schema: %s\n", schema)

			count, err := migrator.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "public", "Target schema for migrations")
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
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

			statuses, err := db.NewMigrator(pool, dir).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
			printStatuses(os.Stdout, statuses)
			return nil
		},
	}
	statusCmd.Flags().String("schema", "public", "Target schema for migrations")
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Rollback last migration (not supported)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("WARNING: migrate down is destructive and not supported by the built-in runner.")
			fmt.Println("Restore from a backup or write a forward migration instead.")
			return nil
		},
	})

	return cmd
}

func printStatuses(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// rateLimitConfig falls back to the defaults when the configured rate is unset.
func rateLimitConfig(cfg *config.Config) middleware.RateLimitConfig {
	rl := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rl.RequestsPerSecond <= 0 {
		return middleware.DefaultRateLimitConfig()
	}
	return rl
}

// emailSender picks SMTP delivery when a host is configured and logs mail otherwise.
func emailSender(cfg *config.Config, logger zerolog.Logger) notification.EmailSender {
	if cfg.SMTPHost == "" {
		return notification.LogSender{Logger: logger}
	}
	return notification.NewSMTPSender(notification.SMTPConfig{
		Host: cfg.SMTPHost,
		Port: cfg.SMTPPort,
		User: cfg.SMTPUser,
		Pass: cfg.SMTPPass,
		From: cfg.SMTPFrom,
	})
}

func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	if cfg.IsDev() {
		return auth.DevAuthMiddleware()
	}
	jwtCfg := auth.JWTConfig{
		Issuer:   cfg.AuthIssuer,
		Audience: cfg.AuthAudience,
		JWKSURL:  cfg.AuthJWKSURL,
	}
	if cfg.AuthSigningKey != "" {
		jwtCfg.SigningKey = []byte(cfg.AuthSigningKey)
	}
	return auth.JWTMiddleware(jwtCfg)
}

func runServer() error {
	logger := newLogger(os.Getenv("ENV"))

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	checks := map[string]db.Pinger{}
	var guard inflight.Guard = inflight.NewMemoryGuard(cfg.InFlightTTL)
	if cfg.RedisURL != "" {
		client, err := inflight.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer client.Close()
		rg := inflight.NewRedisGuard(client, cfg.InFlightTTL)
		guard = rg
		checks["redis"] = rg
		logger.Info().Msg("in-flight guard backed by redis")
	}

	blobs, err := blobstore.NewFSStore(cfg.AttachmentDir)
	if err != nil {
		logger.Fatal().Err(err).Str("dir", cfg.AttachmentDir).Msg("failed to open attachment store")
	}

	drafter := aiassist.New(cfg.AIServiceURL, cfg.AIServiceTimeout)
	if !drafter.Configured() {
		logger.Warn().Msg("AI_SERVICE_URL not set; draft generation is disabled")
	}

	notifyMgr := notification.NewManager(emailSender(cfg, logger), notification.NewTemplateEngine())

	physicianSvc := physician.NewService(physician.NewRepoPG(pool))
	consultSvc := econsult.NewService(econsult.Deps{
		Consults:    econsult.NewConsultRepoPG(pool),
		Attachments: econsult.NewAttachmentRepoPG(pool),
		Messages:    econsult.NewMessageRepoPG(pool),
		History:     econsult.NewHistoryRepoPG(pool),
		Tx:          db.NewTxRunner(pool),
		Guard:       guard,
		Drafter:     drafter,
		Blobs:       blobs,
		Physicians:  physicianSvc,
		Notifier:    notifyMgr,
		Logger:      logger.With().Str("component", "econsult").Logger(),
		UrgentAfter: cfg.UrgentAfter(),
	})

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.BodyLimit("1M", "25M"))

	e.GET("/health", db.HealthHandler(pool, checks))

	apiV1 := e.Group("/api/v1",
		authMiddleware(cfg),
		middleware.RateLimit(rateLimitConfig(cfg)),
		physician.ResolveSession(physicianSvc),
		middleware.Audit(logger),
	)

	physician.NewHandler(physicianSvc).RegisterRoutes(apiV1)
	econsult.NewHandler(consultSvc).RegisterRoutes(apiV1)
	notification.NewHandler(notifyMgr).RegisterRoutes(apiV1)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	consultSvc.Wait()
	logger.Info().Msg("server stopped")
	return nil
}
