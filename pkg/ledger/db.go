// Package ledger persists images, jobs, detections, crops and extractions
// and answers the read and aggregate queries over them.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"boardscan/models"
	"boardscan/pkg/common"
)

// Ledger is the handle every pipeline run writes through. It is safe for
// concurrent use; each call scopes its own connection or transaction.
type Ledger struct {
	db     *gorm.DB
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New wraps an existing gorm handle.
func New(db *gorm.DB, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{db: db, logger: logger}
}

// Open connects to cfg.DSN. A DSN of the form sqlite:<path> (or
// sqlite::memory:) uses the embedded driver; anything else is treated as a
// Postgres DSN and goes through a pgx pool.
func Open(ctx context.Context, cfg common.DatabaseConfig, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DSN == "" {
		return nil, common.InvalidInput("ledger open", "DB_DSN is not set")
	}
	gcfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)}

	var l *Ledger
	if path, ok := strings.CutPrefix(cfg.DSN, "sqlite:"); ok {
		db, err := openSQLite(path, gcfg)
		if err != nil {
			logger.Error("failed to open sqlite ledger", "error", err)
			return nil, common.PersistenceFailure("ledger open", err)
		}
		l = &Ledger{db: db, logger: logger}
		logger.Info("ledger opened", "driver", "sqlite")
	} else {
		pool, db, err := openPostgres(ctx, cfg, gcfg)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			return nil, common.PersistenceFailure("ledger open", err)
		}
		l = &Ledger{db: db, pool: pool, logger: logger}
		logger.Info("ledger opened", "driver", "postgres")
	}

	if cfg.AutoMigrate {
		if err := l.Migrate(ctx); err != nil {
			l.Close()
			return nil, err
		}
	}
	return l, nil
}

func openSQLite(path string, gcfg *gorm.Config) (*gorm.DB, error) {
	if path == "" || path == ":memory:" {
		// a named shared-cache database lives as long as its connection
		path = "file:boardscan-" + uuid.NewString() + "?mode=memory&cache=shared"
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := gorm.Open(sqlite.Open(path+sep+"_pragma=foreign_keys(1)"), gcfg)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// in-memory databases vanish with their last connection
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(0)
	if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		return nil, err
	}
	return db, nil
}

func openPostgres(ctx context.Context, cfg common.DatabaseConfig, gcfg *gorm.Config) (*pgxpool.Pool, *gorm.DB, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, nil, err
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pc.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "boardscan"

	dialCtx := ctx
	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err != nil {
		return nil, nil, err
	}
	if err := pool.Ping(dialCtx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: stdlib.OpenDBFromPool(pool)}), gcfg)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return pool, db, nil
}

// Migrate creates or updates the ledger tables in dependency order. It is
// idempotent.
func (l *Ledger) Migrate(ctx context.Context) error {
	start := time.Now()
	for _, m := range models.All() {
		if err := l.db.WithContext(ctx).AutoMigrate(m); err != nil {
			return common.PersistenceFailure("migrate", fmt.Errorf("%T: %w", m, err))
		}
	}
	l.logger.Debug("ledger schema ready", "elapsed_ms", time.Since(start).Milliseconds())
	return nil
}

// Ping checks the connection, bounded by timeout when it is positive.
func (l *Ledger) Ping(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	sqlDB, err := l.db.DB()
	if err != nil {
		return common.PersistenceFailure("ping", err)
	}
	return common.PersistenceFailure("ping", sqlDB.PingContext(ctx))
}

// Close releases the database handle and the pool behind it.
func (l *Ledger) Close() {
	if l == nil || l.db == nil {
		return
	}
	if sqlDB, err := l.db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			l.logger.Error("failed to close ledger", "error", err)
		}
	}
	if l.pool != nil {
		l.pool.Close()
	}
}

// DB exposes the gorm handle for callers that need ad-hoc queries.
func (l *Ledger) DB() *gorm.DB { return l.db }

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
