// Package runtime wires configuration, storage, services and the HTTP server
// into a runnable process.
package runtime

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	_ "github.com/lib/pq"

	app "github.com/jive-live/jive-server/internal/app"
	"github.com/jive-live/jive-server/internal/app/httpapi"
	"github.com/jive-live/jive-server/internal/app/metrics"
	"github.com/jive-live/jive-server/internal/app/services/mailer"
	"github.com/jive-live/jive-server/internal/app/services/notifications"
	"github.com/jive-live/jive-server/internal/app/services/payments"
	streamssvc "github.com/jive-live/jive-server/internal/app/services/streams"
	"github.com/jive-live/jive-server/internal/app/services/uploads"
	"github.com/jive-live/jive-server/internal/app/storage/postgres"
	"github.com/jive-live/jive-server/internal/config"
	"github.com/jive-live/jive-server/internal/middleware"
	"github.com/jive-live/jive-server/pkg/logger"
)

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg        *config.Config
	log        *logger.Logger
	app        *app.Application
	httpServer *http.Server
	db         *sql.DB
}

// NewApplication constructs a fully wired application from the environment.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewApplicationWithConfig(cfg)
}

// NewApplicationWithConfig wires an application around an already loaded
// configuration.
func NewApplicationWithConfig(cfg *config.Config) (*Application, error) {
	log := logger.New(cfg.Logging)

	stores, db, err := buildStores(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("configure stores: %w", err)
	}

	opts, err := buildOptions(cfg, log)
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, err
	}

	application, err := app.New(stores, opts, log)
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, fmt.Errorf("build application: %w", err)
	}

	handler := httpapi.NewHandler(application, log)
	chain := metrics.InstrumentHandler(handler)
	if cfg.RateLimit.RequestsPerSecond > 0 {
		rl := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, log)
		rl.StartCleanup(5 * time.Minute)
		chain = rl.Handler(chain)
	}
	chain = middleware.NewCORSMiddleware(cfg.CORS).Handler(chain)

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &Application{
		cfg:        cfg,
		log:        log,
		app:        application,
		httpServer: httpSrv,
		db:         db,
	}, nil
}

// Run starts the services and the HTTP server, blocking until the context is
// cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server, the services and the database.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := a.app.Stop(shutdownCtx); err != nil {
		a.log.WithError(err).Warn("error stopping services")
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
	return nil
}

// buildStores opens the PostgreSQL store when a DSN is configured and runs
// migrations. Without a DSN every store stays nil and the application falls
// back to the in-memory implementation.
func buildStores(cfg *config.Config, log *logger.Logger) (app.Stores, *sql.DB, error) {
	if cfg.Database.DSN == "" {
		log.Warn("no database configured, using in-memory store")
		return app.Stores{}, nil, nil
	}

	db, err := openDatabase(cfg.Database)
	if err != nil {
		return app.Stores{}, nil, err
	}
	if err := postgres.Migrate(db); err != nil {
		db.Close()
		return app.Stores{}, nil, fmt.Errorf("run migrations: %w", err)
	}

	store := postgres.New(db)
	return app.Stores{
		Accounts:     store,
		Follows:      store,
		Streams:      store,
		Chat:         store,
		Transactions: store,
	}, db, nil
}

func buildOptions(cfg *config.Config, log *logger.Logger) (app.Options, error) {
	opts := app.Options{
		TokenSecret:  []byte(cfg.Auth.TokenSecret),
		TokenTTL:     time.Duration(cfg.Auth.TokenTTLHours) * time.Hour,
		ResetURL:     cfg.Site.ResetURL,
		AdminEmail:   cfg.Site.AdminEmail,
		StreamConfig: cfg.Streams,
	}

	if cfg.SMTP.Host != "" {
		opts.Mailer = mailer.NewSMTP(cfg.SMTP, log)
	}
	if cfg.Push.VAPIDPublicKey != "" && cfg.Push.VAPIDPrivateKey != "" {
		opts.Pusher = notifications.NewWebPusher(cfg.Push)
	} else {
		log.Warn("VAPID keys not configured, push notifications disabled")
	}
	if cfg.Stripe.SecretKey != "" {
		opts.Processor = payments.NewStripe(nil, cfg.Stripe, log)
	}
	if cfg.Monitor.Endpoint != "" {
		monitor, err := streamssvc.NewMonitor(nil, cfg.Monitor.Endpoint, log)
		if err != nil {
			return app.Options{}, fmt.Errorf("configure stream monitor: %w", err)
		}
		opts.Monitor = monitor
	}
	if cfg.Storage.Bucket != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		uploadSvc, err := uploads.New(ctx, cfg.Storage, log)
		if err != nil {
			return app.Options{}, fmt.Errorf("configure uploads: %w", err)
		}
		opts.Uploads = uploadSvc
	}

	return opts, nil
}

func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "postgres"
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}
