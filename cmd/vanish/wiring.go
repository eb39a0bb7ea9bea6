package main

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/haukened/vanish/internal/app"
	"github.com/haukened/vanish/internal/cache"
	"github.com/haukened/vanish/internal/config"
	"github.com/haukened/vanish/internal/logging"
	"github.com/haukened/vanish/internal/metrics"
	"github.com/haukened/vanish/internal/notify"
	"github.com/haukened/vanish/internal/scan"
	"github.com/haukened/vanish/internal/secret"
	"github.com/haukened/vanish/internal/store"
	"github.com/haukened/vanish/internal/store/bolt"
	"github.com/haukened/vanish/internal/store/filesystem"
	"github.com/haukened/vanish/internal/store/s3"
	"github.com/haukened/vanish/internal/store/sqlite"
)

// realClock implements app.Clock using time.Now.
type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// runtime holds every long-lived collaborator built from configuration.
type runtime struct {
	cfg        *config.Config
	logger     *slog.Logger
	db         *sql.DB
	shares     app.ShareStore
	blobs      app.BlobStore
	metrics    *metrics.Manager
	svc        *app.Service
	reconciler *store.Reconciler

	closers []io.Closer
}

// Close releases resources in reverse order of acquisition.
func (rt *runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i].Close())
	}
	return errors.Join(errs...)
}

func (rt *runtime) onClose(c io.Closer) { rt.closers = append(rt.closers, c) }

// setup builds the runtime. On error everything acquired so far is released.
func setup(ctx context.Context, cfg *config.Config) (rt *runtime, err error) {
	logger, logCloser := logging.New(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFilePath(),
	}, os.Stderr)
	slog.SetDefault(logger)

	rt = &runtime{cfg: cfg, logger: logger}
	rt.onClose(logCloser)
	defer func() {
		if err != nil {
			_ = rt.Close()
			rt = nil
		}
	}()

	if err = ensureDataDir(cfg.DataDir); err != nil {
		return nil, exitWith(3, "data directory: %w", err)
	}
	if rt.db, err = openDatabase(cfg.SQLiteDSN()); err != nil {
		return nil, exitWith(4, "open database: %w", err)
	}
	rt.onClose(rt.db)
	if rt.shares, err = openShares(cfg, rt.db, rt.onClose); err != nil {
		return nil, exitWith(4, "record store: %w", err)
	}
	if rt.blobs, err = openBlobs(ctx, cfg); err != nil {
		return nil, exitWith(5, "blob store: %w", err)
	}

	rt.metrics = metrics.New(rt.db, metrics.Config{Logger: logger})
	if err = rt.metrics.InitSchema(ctx); err != nil {
		return nil, exitWith(4, "metrics schema: %w", err)
	}

	c, err := cache.New(ctx, cache.Options{
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		MaxSize:       int(cfg.CacheSize),
	})
	if err != nil {
		return nil, exitWith(1, "otp cache: %w", err)
	}
	if closer, ok := c.(io.Closer); ok {
		rt.onClose(closer)
	}

	clock := realClock{}
	var key []byte
	if cfg.OTPKey != "" {
		key = []byte(cfg.OTPKey)
	}
	verifier, err := secret.New(c, clock, secret.Options{
		BcryptCost:     cfg.BcryptCost,
		OTPTTL:         cfg.OTPTTL,
		OTPDigits:      cfg.OTPDigits,
		OTPMaxAttempts: cfg.OTPMaxAttempts,
		Key:            key,
	})
	if err != nil {
		return nil, exitWith(1, "secret verifier: %w", err)
	}
	notifier, err := newNotifier(cfg, logger)
	if err != nil {
		return nil, exitWith(2, "notifier: %w", err)
	}

	rt.svc = &app.Service{
		Shares:         rt.shares,
		Blobs:          rt.blobs,
		Secrets:        verifier,
		Scanner:        scan.NewMIMEPolicy(cfg.ScanDenyMIME),
		Notifier:       notifier,
		Metrics:        rt.metrics,
		Clock:          clock,
		Logger:         logger,
		MaxBytes:       int64(cfg.MaxBytes),
		MinTTL:         cfg.MinTTL,
		MaxTTL:         cfg.MaxTTL,
		MaxDownloads:   cfg.MaxDownloads,
		StorageTimeout: cfg.StorageTimeout,
		StorageRetries: uint64(cfg.StorageRetries),
		PurgeGrace:     cfg.PurgeGrace,
	}
	rt.reconciler = store.NewReconciler(rt.shares, rt.blobs, clock, cfg.OrphanGrace, logger)
	return rt, nil
}

// ensureDataDir creates dir (and the blob directory beneath it) with
// owner-only permissions.
func ensureDataDir(dir string) error {
	st, err := os.Stat(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	case err != nil:
		return err
	case !st.IsDir():
		return errors.New(dir + " is not a directory")
	}
	return os.MkdirAll((&config.Config{DataDir: dir}).BlobDir(), 0o700)
}

func openDatabase(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func openShares(cfg *config.Config, db *sql.DB, onClose func(io.Closer)) (app.ShareStore, error) {
	switch cfg.IndexBackend {
	case "bolt":
		s, err := bolt.Open(cfg.BoltPath())
		if err != nil {
			return nil, err
		}
		onClose(s)
		return s, nil
	default:
		return sqlite.New(db)
	}
}

func openBlobs(ctx context.Context, cfg *config.Config) (app.BlobStore, error) {
	switch cfg.BlobBackend {
	case "s3":
		return s3.NewFromConfig(ctx, s3.Options{
			Bucket:    cfg.S3Bucket,
			Prefix:    cfg.S3Prefix,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
		})
	default:
		return filesystem.New(cfg.BlobDir())
	}
}

func newNotifier(cfg *config.Config, logger *slog.Logger) (app.Notifier, error) {
	if cfg.SMTPAddr == "" {
		logger.Warn("no smtp relay configured; otp codes are written to the log", "domain", "notify")
		return &notify.LogNotifier{Logger: logger}, nil
	}
	return notify.NewSMTP(notify.SMTPConfig{
		Addr:     cfg.SMTPAddr,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		BaseURL:  cfg.BaseURL,
		Timeout:  cfg.StorageTimeout,
	})
}

// readiness reports whether the record store and blob store are reachable.
func (rt *runtime) readiness(ctx context.Context) error {
	if err := rt.db.PingContext(ctx); err != nil {
		return err
	}
	if rt.cfg.BlobBackend == "filesystem" {
		if _, err := os.Stat(rt.cfg.BlobDir()); err != nil {
			return err
		}
	}
	return nil
}
