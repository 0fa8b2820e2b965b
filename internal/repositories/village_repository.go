package repositories

import (
	"context"

	"github.com/mroshb/clan_portal/internal/models"
	"github.com/mroshb/clan_portal/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// VillageRepository owns villages and their clans.
type VillageRepository struct {
	db *gorm.DB
}

func NewVillageRepository(db *gorm.DB) *VillageRepository {
	return &VillageRepository{db: db}
}

func (r *VillageRepository) CreateVillage(ctx context.Context, village *models.Village) error {
	err := r.db.WithContext(ctx).Omit("Clans").Create(village).Error
	return writeError(err, "village name already exists", "failed to create village")
}

func (r *VillageRepository) GetVillageByID(ctx context.Context, id uint) (*models.Village, error) {
	var village models.Village
	if err := r.db.WithContext(ctx).First(&village, id).Error; err != nil {
		return nil, lookupError(err, "village not found", "failed to get village")
	}
	return &village, nil
}

// GetVillageWithClans loads the village and its clans, clans ordered by ID.
func (r *VillageRepository) GetVillageWithClans(ctx context.Context, id uint) (*models.Village, error) {
	var village models.Village
	err := r.db.WithContext(ctx).Preload("Clans", func(db *gorm.DB) *gorm.DB {
		return db.Order("id ASC")
	}).First(&village, id).Error
	if err != nil {
		return nil, lookupError(err, "village not found", "failed to get village")
	}
	return &village, nil
}

// LockVillage takes a row lock on the village for the rest of the transaction.
func (r *VillageRepository) LockVillage(ctx context.Context, id uint) (*models.Village, error) {
	var village models.Village
	err := r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).First(&village, id).Error
	if err != nil {
		return nil, lookupError(err, "village not found", "failed to lock village")
	}
	return &village, nil
}

// ListVillages returns all villages with clans, both ordered by ID.
func (r *VillageRepository) ListVillages(ctx context.Context) ([]models.Village, error) {
	var villages []models.Village
	err := r.db.WithContext(ctx).Preload("Clans", func(db *gorm.DB) *gorm.DB {
		return db.Order("id ASC")
	}).Order("id ASC").Find(&villages).Error
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to list villages")
	}
	return villages, nil
}

func (r *VillageRepository) UpdateVillage(ctx context.Context, village *models.Village) error {
	err := r.db.WithContext(ctx).Model(village).Select("name", "description", "capacity", "updated_at").Updates(village).Error
	return writeError(err, "village name already exists", "failed to update village")
}

// DeleteVillageCascade removes the village with every application and clan
// under it. Callers check the accepted-member guard first.
func (r *VillageRepository) DeleteVillageCascade(ctx context.Context, id uint) error {
	db := r.db.WithContext(ctx)

	appIDs := db.Model(&models.Application{}).Select("id").Where("village_id = ?", id)
	if err := db.Where("application_id IN (?)", appIDs).Delete(&models.Comment{}).Error; err != nil {
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to delete application comments")
	}
	if err := db.Where("village_id = ?", id).Delete(&models.Application{}).Error; err != nil {
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to delete village applications")
	}
	if err := db.Where("village_id = ?", id).Delete(&models.Clan{}).Error; err != nil {
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to delete village clans")
	}
	if err := db.Delete(&models.Village{}, id).Error; err != nil {
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to delete village")
	}
	return nil
}

func (r *VillageRepository) CreateClan(ctx context.Context, clan *models.Clan) error {
	err := r.db.WithContext(ctx).Omit("Village").Create(clan).Error
	return writeError(err, "clan already exists", "failed to create clan")
}

func (r *VillageRepository) GetClanByID(ctx context.Context, id uint) (*models.Clan, error) {
	var clan models.Clan
	if err := r.db.WithContext(ctx).First(&clan, id).Error; err != nil {
		return nil, lookupError(err, "clan not found", "failed to get clan")
	}
	return &clan, nil
}

// LockClan takes a row lock on the clan for the rest of the transaction.
func (r *VillageRepository) LockClan(ctx context.Context, id uint) (*models.Clan, error) {
	var clan models.Clan
	err := r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).First(&clan, id).Error
	if err != nil {
		return nil, lookupError(err, "clan not found", "failed to lock clan")
	}
	return &clan, nil
}

func (r *VillageRepository) UpdateClan(ctx context.Context, clan *models.Clan) error {
	err := r.db.WithContext(ctx).Model(clan).Select("name", "description", "capacity", "updated_at").Updates(clan).Error
	return writeError(err, "clan already exists", "failed to update clan")
}

// DeleteClan clears the clan from every application that referenced it,
// then removes the clan.
func (r *VillageRepository) DeleteClan(ctx context.Context, id uint) error {
	db := r.db.WithContext(ctx)

	if err := db.Model(&models.Application{}).Where("clan_id = ?", id).UpdateColumn("clan_id", nil).Error; err != nil {
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to detach clan applications")
	}
	if err := db.Delete(&models.Clan{}, id).Error; err != nil {
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to delete clan")
	}
	return nil
}

func (r *VillageRepository) CountVillages(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Village{}).Count(&count).Error; err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeInternalError, "failed to count villages")
	}
	return count, nil
}
