package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/pressroom/cms/internal/auth/http"
	"github.com/pressroom/cms/internal/auth/metrics"
	"github.com/pressroom/cms/internal/auth/service"
	"github.com/pressroom/cms/internal/auth/session"
	"github.com/pressroom/cms/internal/auth/store"
	"github.com/pressroom/cms/internal/auth/store/drivers/postgres"
	"github.com/pressroom/cms/internal/auth/store/drivers/sqlite"
	"github.com/pressroom/cms/internal/mail"
	"github.com/pressroom/cms/internal/upload"
	"github.com/pressroom/cms/pkg/cryptox"
	"github.com/pressroom/cms/pkg/httpx"
	"github.com/pressroom/cms/pkg/jwtx"
	"github.com/pressroom/cms/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application encapsulates the CMS auth service with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db       store.Store
	cache    *session.RedisCache
	codec    *jwtx.Codec
	mailer   mail.Mailer
	uploader *upload.DiskUploader
	metrics  *metrics.Metrics

	authService         *service.AuthService
	housekeepingService *service.HousekeepingService

	server *http.Server
	router *httpapi.Router
}

// New creates a new Application instance with all dependencies initialized.
// Anything already opened is closed again if a later step fails.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "cms-auth",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	if err := app.init(); err != nil {
		_ = app.closeResources()
		return nil, err
	}
	return app, nil
}

func (app *Application) init() error {
	if err := cryptox.LoadPepper(app.cfg.PepperFile); err != nil {
		return fmt.Errorf("failed to load pepper: %w", err)
	}
	if err := app.initDatabase(); err != nil {
		return err
	}
	if err := app.initCache(); err != nil {
		return err
	}
	if err := app.initServices(); err != nil {
		return err
	}
	app.initHTTP()
	return nil
}

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run() error {
	app.housekeepingService.Start()

	app.logger.Info("cms auth service starting", "port", app.cfg.Port, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	select {
	case err := <-serverErrors:
		app.housekeepingService.Stop()
		_ = app.closeResources()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
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

// Shutdown drains the HTTP server, stops the background worker and closes
// the cache and database.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down cms auth service...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeepingService.Stop()

	if err := app.closeResources(); err != nil {
		return err
	}
	app.logger.Info("cms auth service stopped")
	return nil
}

func (app *Application) closeResources() error {
	var errs []error
	if app.cache != nil {
		if err := app.cache.Close(); err != nil {
			app.logger.Error("error closing session cache", "error", err)
			errs = append(errs, err)
		}
		app.cache = nil
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("error closing database", "error", err)
			errs = append(errs, err)
		}
		app.db = nil
	}
	return errors.Join(errs...)
}

// initDatabase opens the configured driver and applies migrations.
func (app *Application) initDatabase() error {
	var (
		db  store.Store
		err error
	)
	switch app.cfg.DatabaseDriver {
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		db, err = postgres.NewStore(ctx, app.cfg.DatabaseURL)
	default:
		db, err = sqlite.NewStore(fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", app.cfg.DatabaseFile))
	}
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully", "driver", app.cfg.DatabaseDriver)
	return nil
}

func (app *Application) initCache() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cache, err := session.Connect(ctx, session.RedisOptions{
		Addr:         app.cfg.RedisAddr,
		Password:     app.cfg.RedisPassword,
		DB:           app.cfg.RedisDB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to connect session cache: %w", err)
	}
	app.cache = cache
	app.logger.Info("session cache connected", "addr", app.cfg.RedisAddr)
	return nil
}

// initServices builds the codec, collaborators and business services.
func (app *Application) initServices() error {
	codec, err := jwtx.NewCodec(jwtx.CodecOptions{
		Secret:     []byte(app.cfg.JWTSecret),
		Issuer:     app.cfg.JWTIssuer,
		AccessTTL:  app.cfg.AccessTokenTTL,
		RefreshTTL: app.cfg.RefreshTokenTTL,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize token codec: %w", err)
	}
	app.codec = codec

	if app.cfg.SMTPAddr != "" {
		app.mailer = mail.NewSMTPMailer(mail.SMTPConfig{
			Addr:     app.cfg.SMTPAddr,
			User:     app.cfg.SMTPUser,
			Password: app.cfg.SMTPPassword,
			From:     app.cfg.SMTPFrom,
			UseTLS:   app.cfg.SMTPUseTLS,
		}, app.logger)
	} else {
		app.logger.Warn("SMTP_ADDR not set, two-factor codes will only be logged")
		app.mailer = mail.LogMailer{Logger: app.logger}
	}

	uploader, err := upload.NewDiskUploader(upload.Config{
		Dir:      app.cfg.UploadDir,
		BaseURL:  app.cfg.UploadBaseURL,
		MaxBytes: app.cfg.UploadMaxBytes,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize uploads: %w", err)
	}
	app.uploader = uploader

	if app.cfg.MetricsEnabled {
		app.metrics = metrics.New("cms")
	}

	app.authService = &service.AuthService{
		Store:    app.db,
		Sessions: session.NewRefreshSessions(app.cache, app.cfg.SessionKeyPrefix),
		Codec:    codec,
		Mailer:   app.mailer,
		Uploader: uploader,
	}
	if app.metrics != nil {
		app.authService.Events = app.metrics
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.logger,
		app.cfg.HousekeepingInterval,
	)
	return nil
}

// initHTTP initializes the HTTP router and server
func (app *Application) initHTTP() {
	router := httpapi.NewRouter(app.codec, BuildVersion, app.db, app.cache, app.logger)
	router.AuthService = app.authService
	router.Cookies = httpx.CookieConfig{
		Secure: app.cfg.CookieSecure,
		Domain: app.cfg.CookieDomain,
		Path:   app.cfg.CookiePath,
	}
	router.Uploads = app.uploader
	router.Metrics = app.metrics
	router.MaxAvatarSize = app.cfg.UploadMaxBytes
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
