// Package database opens the PostgreSQL connection and owns the schema:
// embedded SQL migrations, the migration log and the AutoMigrate model set.
package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"signbridge/internal/config"
	"signbridge/internal/middleware"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	maxOpenConns    = 25
	maxIdleConns    = 5
	connMaxLifetime = 5 * time.Minute
	slowQuery       = 200 * time.Millisecond
)

// gormLogger sends GORM's query log through slog.
type gormLogger struct {
	log   *slog.Logger
	level logger.LogLevel
	slow  time.Duration
}

func newGormLogger(l *slog.Logger) *gormLogger {
	return &gormLogger{log: l, level: logger.Warn, slow: slowQuery}
}

func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	next := *l
	next.level = level
	return &next
}

func (l *gormLogger) Info(ctx context.Context, msg string, data ...any) {
	l.printf(ctx, logger.Info, slog.LevelInfo, msg, data)
}

func (l *gormLogger) Warn(ctx context.Context, msg string, data ...any) {
	l.printf(ctx, logger.Warn, slog.LevelWarn, msg, data)
}

func (l *gormLogger) Error(ctx context.Context, msg string, data ...any) {
	l.printf(ctx, logger.Error, slog.LevelError, msg, data)
}

func (l *gormLogger) printf(ctx context.Context, threshold logger.LogLevel, level slog.Level, msg string, data []any) {
	if l.level >= threshold {
		l.log.Log(ctx, level, fmt.Sprintf(msg, data...))
	}
}

// Trace logs failed queries, then slow ones, then everything at Info.
// Missing rows are not failures.
func (l *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	sql, rows := fc()
	attrs := []any{slog.String("sql", sql), slog.Int64("rows", rows), slog.Duration("elapsed", elapsed)}

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= logger.Error:
		l.log.ErrorContext(ctx, "query failed", append(attrs, slog.String("error", err.Error()))...)
	case l.slow > 0 && elapsed > l.slow && l.level >= logger.Warn:
		l.log.WarnContext(ctx, "slow query", attrs...)
	case l.level >= logger.Info:
		l.log.InfoContext(ctx, "query", attrs...)
	}
}

// OpenOptions tunes Open. Commands that manage the schema themselves skip it.
type OpenOptions struct {
	SkipSchema bool
}

// Open connects to PostgreSQL, applies the schema per DB_SCHEMA_MODE and
// sizes the connection pool.
func Open(ctx context.Context, cfg *config.Config, opts OpenOptions) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(DSN(cfg)), &gorm.Config{
		Logger: newGormLogger(middleware.Logger),
		// foreign keys are owned by the SQL migrations
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	middleware.Logger.InfoContext(ctx, "database connected", slog.String("host", cfg.DBHost), slog.String("name", cfg.DBName))

	if !opts.SkipSchema {
		if err := ApplySchema(ctx, db, cfg); err != nil {
			return nil, fmt.Errorf("apply schema: %w", err)
		}
		middleware.Logger.InfoContext(ctx, "database schema ready", slog.String("mode", cfg.DBSchemaMode))
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
	return db, nil
}

// DSN builds the PostgreSQL connection string for cfg. SSL defaults to off.
func DSN(cfg *config.Config) string {
	sslMode := cfg.DBSSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, sslMode)
}
