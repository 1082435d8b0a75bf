package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/driftboard/authd/internal/auth/github"
	httpapi "github.com/driftboard/authd/internal/auth/http"
	"github.com/driftboard/authd/internal/auth/service"
	"github.com/driftboard/authd/internal/auth/store"
	"github.com/driftboard/authd/internal/auth/store/drivers/sqlite"
	"github.com/driftboard/authd/pkg/jwtx"
	"github.com/driftboard/authd/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags. Later problem
	BuildVersion = "v0.1.0"
)

// Application encapsulates the auth service with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db       store.Store
	signer   jwtx.Signer
	verifier jwtx.Verifier

	sessionService      *service.SessionService
	housekeepingService *service.HousekeepingService

	server *http.Server
	router *httpapi.Router
}

// New creates a new Application instance with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "authd",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	if err := app.initDatabase(); err != nil {
		return nil, err
	}
	if err := app.initSigning(); err != nil {
		return nil, err
	}

	app.initServices()
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.housekeepingService.Start()

	app.logger.Info("authd starting", "port", app.cfg.Port, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down authd...")

	// Give outstanding requests a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeepingService.Stop()

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("authd stopped")
	return nil
}

func (app *Application) initDatabase() error {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(dsn)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	app.logger.Info("database ready", "file", app.cfg.DatabaseFile)
	return nil
}

func (app *Application) initSigning() error {
	signer, err := jwtx.NewSignerRS256(app.cfg.JWTKeyID, []byte(app.cfg.JWTPrivateKey))
	if err != nil {
		return fmt.Errorf("failed to load signing key: %w", err)
	}
	if err := signer.Validate(); err != nil {
		return fmt.Errorf("signing key invalid: %w", err)
	}
	app.signer = signer

	verifier, err := jwtx.NewVerifierRS256(signer, app.cfg.SiteOrigin, []string{"driftboard"})
	if err != nil {
		return fmt.Errorf("failed to build verifier: %w", err)
	}
	app.verifier = verifier

	return nil
}

func (app *Application) initServices() {
	gh := github.NewClient(
		app.cfg.GithubClientID,
		app.cfg.GithubClientSecret,
		app.cfg.GithubCallbackURL,
	)

	app.sessionService = service.NewSessionService(app.db, gh, app.signer, service.Config{
		Issuer:          app.cfg.SiteOrigin,
		Audience:        []string{"driftboard"},
		AccessTokenTTL:  app.cfg.AccessTokenTTL,
		RefreshTokenTTL: app.cfg.RefreshTokenTTL,
		SessionTTL:      app.cfg.SessionTTL,
		ReuseInterval:   app.cfg.ReuseInterval,
	}, app.logger)

	app.housekeepingService = service.NewHousekeepingService(
		app.db, app.logger, app.cfg.HousekeepingInterval,
	)
}

func (app *Application) initHTTP() {
	app.router = httpapi.NewRouter(
		app.verifier,
		app.cfg.SiteOrigin,
		[]byte(app.cfg.JWKS),
		app.logger,
	)
	app.router.SessionService = app.sessionService
	app.router.SharedSecret = app.cfg.AuthSharedSecret
	app.router.ApplyRoutes()

	app.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", app.cfg.Port),
		Handler: app.router,
	}
}
