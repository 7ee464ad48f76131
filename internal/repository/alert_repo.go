package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/jmylchreest/rebroadcastr/internal/models"
)

// alertRepository implements AlertRepository using GORM.
type alertRepository struct {
	db *gorm.DB
}

// NewAlertRepository creates a new AlertRepository.
func NewAlertRepository(db *gorm.DB) AlertRepository {
	return &alertRepository{db: db}
}

// Create records a new alert.
func (r *alertRepository) Create(ctx context.Context, alert *models.Alert) error {
	if alert.CameraID == "" || alert.Title == "" {
		return fmt.Errorf("alert requires camera id and title")
	}
	return r.db.WithContext(ctx).Create(alert).Error
}

// List retrieves alerts newest first.
func (r *alertRepository) List(ctx context.Context, cameraID string, limit int) ([]*models.Alert, error) {
	q := r.db.WithContext(ctx).Order("created_at DESC").Order("id DESC")
	if cameraID != "" {
		q = q.Where("camera_id = ?", cameraID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var alerts []*models.Alert
	if err := q.Find(&alerts).Error; err != nil {
		return nil, err
	}
	return alerts, nil
}

// DeleteOlderThan hard-deletes alerts created before cutoff.
func (r *alertRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Delete(&models.Alert{}, "created_at < ?", cutoff)
	return result.RowsAffected, result.Error
}
