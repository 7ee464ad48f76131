// Package migrations provides versioned schema migrations for rebroadcastr.
package migrations

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"gorm.io/gorm"
)

// Migration is one versioned schema change.
type Migration struct {
	Version     string
	Description string
	Up          func(tx *gorm.DB) error
	Down        func(tx *gorm.DB) error
}

// MigrationRecord tracks an applied migration.
type MigrationRecord struct {
	Version     string    `gorm:"primaryKey;size:32"`
	Description string    `gorm:"size:255"`
	AppliedAt   time.Time `gorm:"not null"`
}

// TableName returns the table name for migration records.
func (MigrationRecord) TableName() string {
	return "schema_migrations"
}

// Migrator applies registered migrations in version order.
type Migrator struct {
	db         *gorm.DB
	logger     *slog.Logger
	migrations []Migration
}

// NewMigrator creates a migrator for db.
func NewMigrator(db *gorm.DB, logger *slog.Logger) *Migrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Migrator{db: db, logger: logger}
}

// Register adds migrations to the migrator.
func (m *Migrator) Register(migrations ...Migration) {
	m.migrations = append(m.migrations, migrations...)
	sort.Slice(m.migrations, func(i, j int) bool {
		return m.migrations[i].Version < m.migrations[j].Version
	})
}

// RegisterAll registers every known migration.
func (m *Migrator) RegisterAll() {
	m.Register(AllMigrations()...)
}

// Init creates the migration tracking table.
func (m *Migrator) Init(ctx context.Context) error {
	if err := m.db.WithContext(ctx).AutoMigrate(&MigrationRecord{}); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}
	return nil
}

// Up applies all pending migrations.
func (m *Migrator) Up(ctx context.Context) error {
	if err := m.Init(ctx); err != nil {
		return err
	}

	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}

	for _, mig := range m.migrations {
		if applied[mig.Version] {
			continue
		}
		if err := m.apply(ctx, mig); err != nil {
			return err
		}
	}
	return nil
}

// Down rolls back the most recently applied migration.
func (m *Migrator) Down(ctx context.Context) error {
	if err := m.Init(ctx); err != nil {
		return err
	}

	var last MigrationRecord
	err := m.db.WithContext(ctx).Order("version DESC").First(&last).Error
	if err == gorm.ErrRecordNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("finding last migration: %w", err)
	}

	var mig *Migration
	for i := range m.migrations {
		if m.migrations[i].Version == last.Version {
			mig = &m.migrations[i]
			break
		}
	}
	if mig == nil {
		return fmt.Errorf("migration %s is applied but not registered", last.Version)
	}
	if mig.Down == nil {
		return fmt.Errorf("migration %s has no down step", mig.Version)
	}

	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := mig.Down(tx); err != nil {
			return fmt.Errorf("rolling back migration %s: %w", mig.Version, err)
		}
		if err := tx.Delete(&MigrationRecord{}, "version = ?", mig.Version).Error; err != nil {
			return fmt.Errorf("removing migration record %s: %w", mig.Version, err)
		}
		m.logger.Info("rolled back migration",
			slog.String("version", mig.Version),
			slog.String("description", mig.Description),
		)
		return nil
	})
}

// Pending returns migrations that have not been applied.
func (m *Migrator) Pending(ctx context.Context) ([]Migration, error) {
	if err := m.Init(ctx); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	var pending []Migration
	for _, mig := range m.migrations {
		if !applied[mig.Version] {
			pending = append(pending, mig)
		}
	}
	return pending, nil
}

func (m *Migrator) applied(ctx context.Context) (map[string]bool, error) {
	var records []MigrationRecord
	if err := m.db.WithContext(ctx).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("listing applied migrations: %w", err)
	}
	out := make(map[string]bool, len(records))
	for _, r := range records {
		out[r.Version] = true
	}
	return out, nil
}

func (m *Migrator) apply(ctx context.Context, mig Migration) error {
	start := time.Now()
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := mig.Up(tx); err != nil {
			return err
		}
		return tx.Create(&MigrationRecord{
			Version:     mig.Version,
			Description: mig.Description,
			AppliedAt:   time.Now(),
		}).Error
	})
	if err != nil {
		return fmt.Errorf("applying migration %s: %w", mig.Version, err)
	}

	m.logger.Info("applied migration",
		slog.String("version", mig.Version),
		slog.String("description", mig.Description),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}
