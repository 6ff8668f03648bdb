package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"signbridge/internal/middleware"

	"gorm.io/gorm"
)

// MigrationStore records which migrations ran and runs them.
type MigrationStore interface {
	GetAppliedMigrations(ctx context.Context) ([]int, error)
	ApplyMigration(ctx context.Context, m Migration) error
	RemoveMigration(ctx context.Context, m Migration) error
}

type migrationStore struct {
	db *gorm.DB
}

// MigrationLog is one row of migration_logs.
type MigrationLog struct {
	Version   int       `gorm:"primaryKey;autoIncrement:false"`
	Name      string    `gorm:"size:255"`
	AppliedAt time.Time `gorm:"autoCreateTime"`
}

// TableName returns the database table name for MigrationLog.
func (MigrationLog) TableName() string {
	return "migration_logs"
}

// NewMigrationStore creates a new MigrationStore instance.
func NewMigrationStore(db *gorm.DB) MigrationStore {
	return &migrationStore{db: db}
}

func (s *migrationStore) GetAppliedMigrations(ctx context.Context) ([]int, error) {
	var versions []int
	if err := s.db.WithContext(ctx).Model(&MigrationLog{}).Order("version ASC").Pluck("version", &versions).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) || isMissingTableError(err) {
			return []int{}, nil
		}
		return nil, fmt.Errorf("read migration_logs: %w", err)
	}
	return versions, nil
}

func isMissingTableError(err error) bool {
	msg := err.Error()
	return (strings.Contains(msg, "relation") && strings.Contains(msg, "does not exist")) ||
		strings.Contains(msg, "no such table")
}

// ApplyMigration runs the up script and records it in one transaction.
func (s *migrationStore) ApplyMigration(ctx context.Context, m Migration) error {
	return s.step(ctx, m, "apply", m.UpScript, func(tx *gorm.DB) error {
		return tx.Create(&MigrationLog{Version: m.Version, Name: m.Name}).Error
	})
}

// RemoveMigration runs the down script and forgets the record in one transaction.
func (s *migrationStore) RemoveMigration(ctx context.Context, m Migration) error {
	return s.step(ctx, m, "roll back", m.DownScript, func(tx *gorm.DB) error {
		return tx.Where("version = ?", m.Version).Delete(&MigrationLog{}).Error
	})
}

func (s *migrationStore) step(ctx context.Context, m Migration, verb, script string, record func(*gorm.DB) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(script).Error; err != nil {
			return fmt.Errorf("%s migration %s: %w", verb, m.String(), err)
		}
		if err := record(tx); err != nil {
			return fmt.Errorf("%s migration %d: log: %w", verb, m.Version, err)
		}
		return nil
	})
	if err == nil {
		middleware.Logger.InfoContext(ctx, "migration step done",
			slog.String("step", verb), slog.Int("version", m.Version), slog.String("name", m.Name))
	}
	return err
}

const ensureMigrationLogTableSQL = `
CREATE TABLE IF NOT EXISTS migration_logs (
	version BIGINT PRIMARY KEY,
	name VARCHAR(255) NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

// RunMigrations applies every embedded migration not yet in migration_logs.
func RunMigrations(ctx context.Context, db *gorm.DB) error {
	return runMigrationSet(ctx, db, NewMigrationStore(db), migrations)
}

func runMigrationSet(ctx context.Context, db *gorm.DB, store MigrationStore, set []Migration) error {
	if err := db.WithContext(ctx).Exec(ensureMigrationLogTableSQL).Error; err != nil {
		return fmt.Errorf("create migration_logs: %w", err)
	}
	applied, err := store.GetAppliedMigrations(ctx)
	if err != nil {
		return err
	}
	if err := validateAppliedVersions(applied, set); err != nil {
		return err
	}

	pending := 0
	for _, m := range set {
		if slices.Contains(applied, m.Version) {
			continue
		}
		pending++
		if err := store.ApplyMigration(ctx, m); err != nil {
			return err
		}
	}
	middleware.Logger.DebugContext(ctx, "migrations checked",
		slog.Int("applied", len(applied)), slog.Int("ran", pending))
	return nil
}

// validateAppliedVersions rejects a log that names versions this build does
// not know, which means the database is ahead of the code.
func validateAppliedVersions(applied []int, registered []Migration) error {
	var unknown []int
	for _, v := range applied {
		if !slices.ContainsFunc(registered, func(m Migration) bool { return m.Version == v }) {
			unknown = append(unknown, v)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	slices.Sort(unknown)
	names := make([]string, len(unknown))
	for i, v := range unknown {
		names[i] = fmt.Sprintf("%06d", v)
	}
	return fmt.Errorf("migration_logs has versions unknown to this build: %s", strings.Join(names, ", "))
}

// RollbackMigration reverts one applied migration.
func RollbackMigration(ctx context.Context, db *gorm.DB, version int) error {
	m := GetMigrationByVersion(version)
	if m == nil {
		return fmt.Errorf("migration version %d not found", version)
	}
	store := NewMigrationStore(db)
	applied, err := store.GetAppliedMigrations(ctx)
	if err != nil {
		return err
	}
	if !slices.Contains(applied, version) {
		return fmt.Errorf("migration %d has not been applied", version)
	}
	return store.RemoveMigration(ctx, *m)
}
