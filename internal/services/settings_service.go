package services

import (
	"context"
	"encoding/json"

	"github.com/mroshb/clan_portal/internal/models"
	"github.com/mroshb/clan_portal/internal/repositories"
	"github.com/mroshb/clan_portal/pkg/errors"
)

type SettingsService struct {
	store *repositories.Store
}

func NewSettingsService(store *repositories.Store) *SettingsService {
	return &SettingsService{store: store}
}

// Get loads the portal settings over their defaults.
func (s *SettingsService) Get(ctx context.Context) (models.PortalSettings, error) {
	rows, err := s.store.Settings.ListSettings(ctx)
	if err != nil {
		return models.DefaultPortalSettings(), err
	}

	settings, err := models.PortalSettingsFromRows(rows)
	if err != nil {
		return models.DefaultPortalSettings(), errors.Wrap(err, errors.ErrCodeInternalError, "stored settings are corrupt")
	}
	return settings, nil
}

// Update applies a partial update. Unknown keys, mistyped values and
// settings that fail validation are rejected without writing anything.
func (s *SettingsService) Update(ctx context.Context, patch map[string]json.RawMessage) (models.PortalSettings, error) {
	var updated models.PortalSettings
	err := s.store.Transaction(ctx, func(tx *repositories.Store) error {
		rows, err := tx.Settings.ListSettings(ctx)
		if err != nil {
			return err
		}
		current, err := models.PortalSettingsFromRows(rows)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternalError, "stored settings are corrupt")
		}

		if err := current.Patch(patch); err != nil {
			return errors.Wrap(err, errors.ErrCodeValidation, err.Error())
		}
		if err := current.Validate(); err != nil {
			return errors.Wrap(err, errors.ErrCodeValidation, err.Error())
		}

		next, err := current.Rows()
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternalError, "failed to encode settings")
		}
		if err := tx.Settings.SaveSettings(ctx, next); err != nil {
			return err
		}

		updated = current
		return nil
	})
	if err != nil {
		return models.DefaultPortalSettings(), err
	}
	return updated, nil
}
