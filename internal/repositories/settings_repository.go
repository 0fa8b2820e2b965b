package repositories

import (
	"context"

	"github.com/mroshb/clan_portal/internal/models"
	"github.com/mroshb/clan_portal/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SettingsRepository struct {
	db *gorm.DB
}

func NewSettingsRepository(db *gorm.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

func (r *SettingsRepository) ListSettings(ctx context.Context) ([]models.Setting, error) {
	var rows []models.Setting
	if err := r.db.WithContext(ctx).Order("key ASC").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to load settings")
	}
	return rows, nil
}

// SaveSettings upserts every row by key.
func (r *SettingsRepository) SaveSettings(ctx context.Context, rows []models.Setting) error {
	if len(rows) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&rows).Error
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to save settings")
	}
	return nil
}
