package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"

	mwecho "github.com/labstack/echo/v4/middleware"
	mwsvc "winsbygroup.com/hwidserver/internal/middleware"

	"winsbygroup.com/hwidserver/internal/activation"
	"winsbygroup.com/hwidserver/internal/audit"
	"winsbygroup.com/hwidserver/internal/backup"
	"winsbygroup.com/hwidserver/internal/config"
	"winsbygroup.com/hwidserver/internal/database"
	"winsbygroup.com/hwidserver/internal/demodata"
	"winsbygroup.com/hwidserver/internal/license"
	"winsbygroup.com/hwidserver/internal/metrics"
	"winsbygroup.com/hwidserver/internal/nonce"
	"winsbygroup.com/hwidserver/internal/notify"
	"winsbygroup.com/hwidserver/internal/pending"
	"winsbygroup.com/hwidserver/internal/signing"
	"winsbygroup.com/hwidserver/internal/subscription"
	"winsbygroup.com/hwidserver/internal/validation"

	adminhttp "winsbygroup.com/hwidserver/internal/http/admin"
	clienthttp "winsbygroup.com/hwidserver/internal/http/client"
)

// janitorInterval is how often expired nonces and pending actions are swept.
const janitorInterval = time.Minute

type Server struct {
	Echo    *echo.Echo
	HTTP    *http.Server
	DB      *sqlx.DB
	Metrics *metrics.Metrics
	Nonces  *nonce.Ledger // nil unless response.nonce_ttl > 0
	Pending *pending.Store
	Logger  *slog.Logger
}

// Options carries collaborators that are normally derived from config.
// Zero values select the defaults.
type Options struct {
	Notifier notify.Notifier
	Uploader backup.Uploader
}

func Build(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	return BuildWith(context.Background(), cfg, logger, Options{})
}

func BuildWith(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.AdminAPIKey == "" {
		return nil, errors.New("ADMIN_API_KEY environment variable is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	//
	// Response authentication (fail before touching the database)
	//
	auth, err := buildAuthenticator(&cfg.Response)
	if err != nil {
		return nil, err
	}

	//
	// Database
	//
	isNewDB := false
	if cfg.DBDriver == database.DriverSQLite {
		if _, err := os.Stat(cfg.DBPath); os.IsNotExist(err) {
			isNewDB = true
			logger.Info("creating database", "path", cfg.DBPath, "source", cfg.DBPathSource)
		} else {
			logger.Info("opening database", "path", cfg.DBPath, "source", cfg.DBPathSource)
		}
	} else {
		logger.Info("connecting to database", "driver", cfg.DBDriver)
	}

	db, err := database.Open(cfg.DBDriver, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.RunMigrations(db.DB, cfg.DBDriver); err != nil {
		db.Close()
		return nil, err
	}

	// Load demo data if requested and database is new
	if cfg.DemoMode {
		if isNewDB {
			if err := demodata.Load(ctx, db.DB); err != nil {
				db.Close()
				return nil, fmt.Errorf("failed to load demo data: %w", err)
			}
			logger.Info("demo data loaded", "keys", []string{demodata.MonthKey, demodata.WeekKey, demodata.LifetimeKey})
		} else {
			logger.Warn("demo data is only loaded into a new SQLite database")
		}
	}

	//
	// Collaborators
	//
	notifier := opts.Notifier
	if notifier == nil {
		notifier, err = notify.New(cfg.Telegram.Token, logger)
		if err != nil {
			db.Close()
			return nil, err
		}
	}

	uploader := opts.Uploader
	if uploader == nil && cfg.Backup.S3Bucket != "" {
		uploader, err = backup.NewS3Uploader(ctx, backup.S3Config{
			Bucket:    cfg.Backup.S3Bucket,
			Region:    cfg.Backup.S3Region,
			Prefix:    cfg.Backup.S3Prefix,
			Endpoint:  cfg.Backup.S3Endpoint,
			AccessKey: cfg.Backup.S3AccessKey,
			SecretKey: cfg.Backup.S3SecretKey,
		})
		if err != nil {
			db.Close()
			return nil, err
		}
		logger.Info("off-site backups enabled", "bucket", cfg.Backup.S3Bucket)
	}

	m := metrics.New()

	//
	// Domain services
	//
	keySvc := subscription.NewService(db)
	licenseSvc := license.NewService(db)
	auditSvc := audit.NewService(db, logger)

	activationSvc := activation.NewService(db, keySvc, licenseSvc, logger).WithReporter(activation.Reporters{
		auditSvc,
		m,
		notify.NewRedemptionReporter(notifier, logger),
	})
	validationSvc := validation.NewService(licenseSvc)

	var ledger *nonce.Ledger
	if cfg.Response.NonceTTL > 0 {
		ledger = nonce.NewLedger(db, cfg.Response.NonceTTL, logger)
	}
	pendingStore := pending.NewStore(cfg.PendingTTL)

	var backupSvc *backup.Service
	if cfg.DBDriver == database.DriverSQLite {
		backupSvc = backup.NewService(db, cfg.Backup.Dir, logger)
		if uploader != nil {
			backupSvc.WithUploader(uploader)
		}
	}

	//
	// Handlers
	//
	clientHandler := clienthttp.NewHandler(activationSvc, validationSvc, auth, logger).WithMetrics(m)
	if ledger != nil {
		clientHandler.WithNonceLedger(ledger)
	}

	adminSvc := adminhttp.NewService(keySvc, licenseSvc, auditSvc, pendingStore, backupSvc)
	adminHandler := adminhttp.NewHandler(adminSvc, logger)

	//
	// Echo
	//
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Health endpoints
	e.GET("/livez", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})

	e.GET("/readyz", func(c echo.Context) error {
		if err := db.PingContext(c.Request().Context()); err != nil {
			return c.String(http.StatusServiceUnavailable, "DB not ready")
		}
		return c.String(http.StatusOK, "Ready")
	})

	e.GET("/metrics", echo.WrapHandler(m.Handler()))

	// Middleware
	e.Use(mwecho.RequestIDWithConfig(mwecho.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(mwsvc.RequestLogger(logger))
	e.Use(mwecho.Recover())
	e.Use(mwsvc.Version())
	e.Use(m.Middleware())

	// Client API
	clientGroup := e.Group("/api/v1")
	clienthttp.RegisterRoutes(clientGroup, clientHandler, mwsvc.RateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst, logger))

	// Admin API
	adminGroup := e.Group("/api/admin")
	adminGroup.Use(mwsvc.AdminAPIKeyAuth(cfg.AdminAPIKey))
	adminGroup.Use(mwsvc.AdminIdentity())
	adminhttp.RegisterRoutes(adminGroup, adminHandler)

	logger.Info("response mode", "mode", auth.Mode(), "nonce_ledger", ledger != nil)

	//
	// HTTP server
	//
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      e,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &Server{
		Echo:    e,
		HTTP:    srv,
		DB:      db,
		Metrics: m,
		Nonces:  ledger,
		Pending: pendingStore,
		Logger:  logger,
	}, nil
}

// RunJanitors sweeps expired nonces and pending admin actions until ctx is
// done.
func (s *Server) RunJanitors(ctx context.Context) {
	if s.Nonces != nil {
		go s.Nonces.RunJanitor(ctx, janitorInterval)
	}
	go s.Pending.RunJanitor(ctx, janitorInterval)
}

// Close releases the database.
func (s *Server) Close() error {
	return s.DB.Close()
}

func buildAuthenticator(rc *config.ResponseConfig) (*signing.Authenticator, error) {
	mode, err := signing.ParseMode(rc.Mode)
	if err != nil {
		return nil, err
	}
	if mode == signing.ModePlain {
		return signing.NewAuthenticator(mode, nil, nil)
	}

	key, err := signing.LoadPrivateKey(rc.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load response key: %w", err)
	}
	signer := signing.NewSigner(key)

	var sealer signing.Sealer
	if mode == signing.ModeSealed {
		switch rc.Seal {
		case signing.CipherRSAPrivate:
			sealer = signing.NewRSASealer(key)
		default:
			sealer, err = signing.NewSecretboxSealer(rc.SealKey)
			if err != nil {
				return nil, err
			}
		}
	}
	return signing.NewAuthenticator(mode, signer, sealer)
}
