// Package repository defines data access for rebroadcastr entities.
// All database access goes through these interfaces so the engine can be
// tested against in-memory fakes.
package repository

import (
	"context"
	"time"

	"github.com/jmylchreest/rebroadcastr/internal/models"
)

// SettingRepository persists string settings keyed by (scope, key).
// The scope is normally a camera id.
type SettingRepository interface {
	// Get returns the value and whether it was present.
	Get(ctx context.Context, scope, key string) (string, bool, error)
	// Set creates or replaces a value.
	Set(ctx context.Context, scope, key, value string) error
	// Delete removes a value. Missing keys are not an error.
	Delete(ctx context.Context, scope, key string) error
	// List returns every setting stored under scope.
	List(ctx context.Context, scope string) (map[string]string, error)
}

// AlertRepository persists user-facing alerts.
type AlertRepository interface {
	// Create records a new alert.
	Create(ctx context.Context, alert *models.Alert) error
	// List returns the newest alerts first. An empty cameraID lists all cameras.
	// A limit of zero or less returns every alert.
	List(ctx context.Context, cameraID string, limit int) ([]*models.Alert, error)
	// DeleteOlderThan removes alerts created before cutoff.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
