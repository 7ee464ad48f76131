package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jmylchreest/rebroadcastr/internal/models"
)

// settingRepository implements SettingRepository using GORM.
type settingRepository struct {
	db *gorm.DB
}

// NewSettingRepository creates a new SettingRepository.
func NewSettingRepository(db *gorm.DB) SettingRepository {
	return &settingRepository{db: db}
}

// Get retrieves a single setting.
func (r *settingRepository) Get(ctx context.Context, scope, key string) (string, bool, error) {
	var s models.Setting
	err := r.db.WithContext(ctx).Where(settingKey(scope, key)).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("getting setting %s/%s: %w", scope, key, err)
	}
	return s.Value, true, nil
}

// Set upserts a setting on the (scope, key) unique index.
func (r *settingRepository) Set(ctx context.Context, scope, key, value string) error {
	s := &models.Setting{Scope: scope, Key: key, Value: value}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "scope"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(s).Error
	if err != nil {
		return fmt.Errorf("setting %s/%s: %w", scope, key, err)
	}
	return nil
}

// Delete hard-deletes a setting.
func (r *settingRepository) Delete(ctx context.Context, scope, key string) error {
	return r.db.WithContext(ctx).Where(settingKey(scope, key)).Delete(&models.Setting{}).Error
}

// List retrieves all settings in a scope.
func (r *settingRepository) List(ctx context.Context, scope string) (map[string]string, error) {
	var rows []models.Setting
	if err := r.db.WithContext(ctx).Where(map[string]any{"scope": scope}).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing settings for %s: %w", scope, err)
	}
	out := make(map[string]string, len(rows))
	for _, row := range rows {
		out[row.Key] = row.Value
	}
	return out, nil
}

// settingKey builds a map condition so GORM quotes the reserved "key" column.
func settingKey(scope, key string) map[string]any {
	return map[string]any{"scope": scope, "key": key}
}

// ScopedSettings binds a SettingRepository to one scope.
type ScopedSettings struct {
	repo  SettingRepository
	scope string
}

// NewScopedSettings returns a view of repo restricted to scope.
func NewScopedSettings(repo SettingRepository, scope string) *ScopedSettings {
	return &ScopedSettings{repo: repo, scope: scope}
}

// GetItem returns the stored value for key.
func (s *ScopedSettings) GetItem(ctx context.Context, key string) (string, bool, error) {
	return s.repo.Get(ctx, s.scope, key)
}

// SetItem stores value under key.
func (s *ScopedSettings) SetItem(ctx context.Context, key, value string) error {
	return s.repo.Set(ctx, s.scope, key, value)
}

// RemoveItem deletes key.
func (s *ScopedSettings) RemoveItem(ctx context.Context, key string) error {
	return s.repo.Delete(ctx, s.scope, key)
}

// Items returns every stored value in the scope.
func (s *ScopedSettings) Items(ctx context.Context) (map[string]string, error) {
	return s.repo.List(ctx, s.scope)
}
