package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/telecare/telecare/internal/config"
	"github.com/telecare/telecare/internal/domain/guestlink"
	"github.com/telecare/telecare/internal/domain/identity"
	"github.com/telecare/telecare/internal/domain/session"
	"github.com/telecare/telecare/internal/domain/waitingroom"
	"github.com/telecare/telecare/internal/platform/analytics"
	"github.com/telecare/telecare/internal/platform/auth"
	"github.com/telecare/telecare/internal/platform/db"
	"github.com/telecare/telecare/internal/platform/middleware"
	"github.com/telecare/telecare/internal/platform/notify"
	"github.com/telecare/telecare/internal/platform/reporting"
	"github.com/telecare/telecare/internal/platform/rtc"
	"github.com/telecare/telecare/internal/platform/webhook"
	"github.com/telecare/telecare/internal/platform/ws"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "telecare-server",
		Short: "Telehealth video session coordinator",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the telehealth API server",
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
	upCmd.Flags().String("schema", "tenant_default", "Target schema for migrations")
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

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
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
	statusCmd.Flags().String("schema", "tenant_default", "Target schema for migrations")
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new tenant schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

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

			fmt.Printf("Creating tenant schema: tenant_%s\n", name)
			if err := db.CreateTenantSchema(ctx, pool, name, ""); err != nil {
				return err
			}
			fmt.Println("Tenant created successfully.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (alphanumeric)")

	cmd.AddCommand(createCmd)
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

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID"},
	}))

	// Auth middleware goes on the authenticated group only. Guests have no
	// platform identity, so guest link validation lives on a public group
	// that still carries the tenant middleware for DB access.
	var authMW echo.MiddlewareFunc
	if cfg.IsDev() {
		authMW = auth.DevAuthMiddleware()
	} else {
		authMW = auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
		})
	}
	tenantMW := db.TenantMiddleware(pool, cfg.DefaultTenant)

	apiV1 := e.Group("/api/v1", authMW, tenantMW)
	public := e.Group("/api/v1", tenantMW)

	// Request analytics
	collector := analytics.NewCollector()
	apiV1.Use(collector.Middleware())
	collector.RegisterRoutes(apiV1)

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// Media provider: token signing and recording control plane
	issuer, err := rtc.NewIssuer(cfg.RTCAppID, cfg.RTCAppSecret)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create credential issuer")
	}
	rtcClient := rtc.NewClient(cfg.RTCAPIURL, cfg.RTCAppID, logger)

	// WebSocket hub for waiting-room fanout. The stream handler registers
	// after the session domain, whose participant check gates subscriptions.
	hub := ws.NewHub(logger)

	// Notifications. Delivery providers are pluggable; until a real email or
	// SMS gateway is configured, sends land in the dispatcher log.
	dispatcher := notify.NewDispatcher(
		logSender{logger: logger},
		logSender{logger: logger},
		notify.NewTemplateEngine(),
		logger,
	)

	// Webhooks for session lifecycle events
	webhookMgr := webhook.NewManager(logger)
	webhook.NewHandler(webhookMgr).RegisterRoutes(apiV1)

	// Identity domain
	identityRepo := identity.NewRepo(pool)
	identitySvc := identity.NewService(identityRepo, logger)
	resolver := session.NewIdentityResolver(identitySvc)

	// Session domain
	sessionRepo := session.NewRepo(pool)
	sessionSvc := session.NewService(session.ServiceConfig{
		Repo:            sessionRepo,
		Appointments:    session.NewAppointmentStore(pool),
		Usage:           session.NewUsageRecorder(pool),
		Access:          identitySvc,
		Issuer:          issuer,
		Recorder:        rtcClient,
		Notifier:        &sessionNotifier{dispatcher: dispatcher, webhooks: webhookMgr},
		TokenTTL:        cfg.RTCTokenTTL,
		RecordingBucket: cfg.RecordingBucket,
		Logger:          logger,
	})
	sessionHandler := session.NewHandler(sessionSvc, resolver)
	sessionHandler.RegisterRoutes(apiV1)

	wsHandler := ws.NewHandler(hub, func(ctx context.Context, sessionID, uid string) error {
		id, err := uuid.Parse(sessionID)
		if err != nil {
			return fmt.Errorf("invalid session id: %w", err)
		}
		return sessionSvc.AuthorizeParticipant(ctx, id, uid)
	})
	wsHandler.RegisterRoutes(apiV1)

	// Waiting room domain
	wrRepo := waitingroom.NewRepo(pool)
	wrSvc := waitingroom.NewService(wrRepo, sessionSvc, identitySvc, db.NewTxRunner(pool), hub, logger)
	wrHandler := waitingroom.NewHandler(wrSvc, resolver)
	wrHandler.RegisterRoutes(apiV1)

	// Guest link domain
	glRepo := guestlink.NewRepo(pool)
	glSvc := guestlink.NewService(guestlink.ServiceConfig{
		Repo:     glRepo,
		Sessions: sessionRepo,
		Access:   identitySvc,
		Issuer:   issuer,
		BaseURL:  cfg.GuestLinkBaseURL,
		TokenTTL: cfg.RTCTokenTTL,
		Logger:   logger,
	})
	glHandler := guestlink.NewHandler(glSvc, resolver)
	glHandler.RegisterRoutes(apiV1)
	glHandler.RegisterPublicRoutes(public)

	// Usage reporting
	reporting.NewHandler(pool).RegisterRoutes(apiV1)

	// Graceful shutdown
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
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// logSender writes outbound notifications to the log instead of a delivery
// provider.
type logSender struct {
	logger zerolog.Logger
}

func (s logSender) SendEmail(_ context.Context, to, subject, body string) error {
	s.logger.Info().Str("to", to).Str("subject", subject).Str("body", body).Msg("email notification")
	return nil
}

func (s logSender) SendSMS(_ context.Context, to, body string) error {
	s.logger.Info().Str("to", to).Str("body", body).Msg("sms notification")
	return nil
}

// sessionNotifier adapts the notification dispatcher and webhook manager to
// the session service's fire-and-forget notifier. Recipients are addressed by
// uid; the delivery provider resolves contact details.
type sessionNotifier struct {
	dispatcher *notify.Dispatcher
	webhooks   *webhook.Manager
}

func (n *sessionNotifier) SessionReady(sess *session.VideoSession) {
	if n.webhooks != nil {
		n.webhooks.Dispatch(webhook.Event{
			Type:      webhook.EventSessionReady,
			SessionID: sess.ID.String(),
			Payload:   sessionPayload(sess),
		})
	}
	if sess.PatientID == nil {
		return
	}
	n.dispatcher.SendAsync(notify.TemplateSessionReady, map[string]string{
		"provider_name": sess.ProviderID.String(),
		"join_link":     "/sessions/" + sess.ID.String(),
	}, sess.PatientID.String())
}

func (n *sessionNotifier) SessionEnded(sess *session.VideoSession, durationSeconds int) {
	if n.webhooks != nil {
		n.webhooks.Dispatch(webhook.Event{
			Type:      webhook.EventSessionEnded,
			SessionID: sess.ID.String(),
			Payload:   sessionPayload(sess),
		})
	}
	if sess.PatientID == nil {
		return
	}
	data := map[string]string{
		"provider_name": sess.ProviderID.String(),
		"duration":      strconv.Itoa(durationSeconds / 60),
	}
	if sess.EndTime != nil {
		data["date"] = sess.EndTime.Format("2006-01-02")
	}
	n.dispatcher.SendAsync(notify.TemplateSessionEnded, data, sess.PatientID.String())
}

func sessionPayload(sess *session.VideoSession) json.RawMessage {
	b, err := json.Marshal(sess)
	if err != nil {
		return nil
	}
	return b
}
