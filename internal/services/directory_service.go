package services

import (
	"context"

	"github.com/mroshb/clan_portal/internal/models"
	"github.com/mroshb/clan_portal/internal/repositories"
	"github.com/mroshb/clan_portal/internal/security"
	"github.com/mroshb/clan_portal/pkg/errors"
	"github.com/mroshb/clan_portal/pkg/logger"
)

// VillageFields is a partial village or clan write. Nil fields are left
// unchanged on update and defaulted on create.
type VillageFields struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Capacity    *int    `json:"capacity"`
}

// DirectoryService owns the village and clan hierarchy.
type DirectoryService struct {
	store  *repositories.Store
	census CensusCache
}

func NewDirectoryService(store *repositories.Store, census CensusCache) *DirectoryService {
	if census == nil {
		census = noopCensus{}
	}
	return &DirectoryService{store: store, census: census}
}

func (f VillageFields) apply(name, description *string, capacity *int, creating bool) error {
	if f.Name != nil {
		n := security.SanitizeName(*f.Name)
		if n == "" {
			return errors.New(errors.ErrCodeValidation, "name is required")
		}
		*name = n
	} else if creating {
		return errors.New(errors.ErrCodeValidation, "name is required")
	}

	if f.Description != nil {
		*description = security.SanitizeText(*f.Description, security.MaxBiographyLength)
	}

	if f.Capacity != nil {
		if *f.Capacity <= 0 {
			return errors.New(errors.ErrCodeValidation, "capacity must be a positive integer")
		}
		*capacity = *f.Capacity
	}
	return nil
}

func (s *DirectoryService) CreateVillage(ctx context.Context, f VillageFields) (*models.Village, error) {
	village := &models.Village{Capacity: models.DefaultVillageCapacity}
	if err := f.apply(&village.Name, &village.Description, &village.Capacity, true); err != nil {
		return nil, err
	}

	if err := s.store.Villages.CreateVillage(ctx, village); err != nil {
		return nil, err
	}
	village.Clans = []models.Clan{}

	s.census.Invalidate(ctx)
	logger.Info("Village created", "village_id", village.ID, "name", village.Name)
	return village, nil
}

func (s *DirectoryService) CreateClan(ctx context.Context, villageID uint, f VillageFields) (*models.Clan, error) {
	clan := &models.Clan{VillageID: villageID, Capacity: models.DefaultClanCapacity}
	if err := f.apply(&clan.Name, &clan.Description, &clan.Capacity, true); err != nil {
		return nil, err
	}

	err := s.store.Transaction(ctx, func(tx *repositories.Store) error {
		if _, err := tx.Villages.LockVillage(ctx, villageID); err != nil {
			return err
		}
		return tx.Villages.CreateClan(ctx, clan)
	})
	if err != nil {
		return nil, err
	}

	s.census.Invalidate(ctx)
	logger.Info("Clan created", "clan_id", clan.ID, "village_id", villageID, "name", clan.Name)
	return clan, nil
}

func (s *DirectoryService) UpdateVillage(ctx context.Context, id uint, f VillageFields) (*models.Village, error) {
	var village *models.Village
	err := s.store.Transaction(ctx, func(tx *repositories.Store) error {
		var err error
		village, err = tx.Villages.LockVillage(ctx, id)
		if err != nil {
			return err
		}
		if err := f.apply(&village.Name, &village.Description, &village.Capacity, false); err != nil {
			return err
		}
		return tx.Villages.UpdateVillage(ctx, village)
	})
	if err != nil {
		return nil, err
	}

	s.census.Invalidate(ctx)
	return s.GetVillage(ctx, village.ID)
}

// UpdateClan never moves a clan to another village.
func (s *DirectoryService) UpdateClan(ctx context.Context, id uint, f VillageFields) (*models.Clan, error) {
	var clan *models.Clan
	err := s.store.Transaction(ctx, func(tx *repositories.Store) error {
		var err error
		clan, err = tx.Villages.LockClan(ctx, id)
		if err != nil {
			return err
		}
		if err := f.apply(&clan.Name, &clan.Description, &clan.Capacity, false); err != nil {
			return err
		}
		return tx.Villages.UpdateClan(ctx, clan)
	})
	if err != nil {
		return nil, err
	}

	s.census.Invalidate(ctx)
	_, byClan, err := s.store.Applications.AcceptedCounts(ctx)
	if err != nil {
		return nil, err
	}
	clan.MemberCount = byClan[clan.ID]
	return clan, nil
}

// DeleteVillage removes a village, its clans and all its applications. It
// refuses while any application in the village is ACCEPTED.
func (s *DirectoryService) DeleteVillage(ctx context.Context, id uint) error {
	err := s.store.Transaction(ctx, func(tx *repositories.Store) error {
		if _, err := tx.Villages.LockVillage(ctx, id); err != nil {
			return err
		}

		accepted, err := tx.Applications.CountInVillage(ctx, id, []models.ApplicationStatus{models.StatusAccepted}, 0)
		if err != nil {
			return err
		}
		if accepted > 0 {
			return errors.New(errors.ErrCodeConflict, "cannot delete village with accepted members")
		}

		return tx.Villages.DeleteVillageCascade(ctx, id)
	})
	if err != nil {
		return err
	}

	s.census.Invalidate(ctx)
	logger.Info("Village deleted", "village_id", id)
	return nil
}

// DeleteClan removes a clan and clears it from every application that
// referenced it. It refuses while any application in the clan is ACCEPTED.
func (s *DirectoryService) DeleteClan(ctx context.Context, id uint) error {
	err := s.store.Transaction(ctx, func(tx *repositories.Store) error {
		if _, err := tx.Villages.LockClan(ctx, id); err != nil {
			return err
		}

		accepted, err := tx.Applications.CountInClan(ctx, id, []models.ApplicationStatus{models.StatusAccepted}, 0)
		if err != nil {
			return err
		}
		if accepted > 0 {
			return errors.New(errors.ErrCodeConflict, "cannot delete clan with accepted members")
		}

		return tx.Villages.DeleteClan(ctx, id)
	})
	if err != nil {
		return err
	}

	s.census.Invalidate(ctx)
	logger.Info("Clan deleted", "clan_id", id)
	return nil
}

// ListVillages returns every village with clans and ACCEPTED member counts.
func (s *DirectoryService) ListVillages(ctx context.Context) ([]models.Village, error) {
	villages, err := s.store.Villages.ListVillages(ctx)
	if err != nil {
		return nil, err
	}

	byVillage, byClan, err := s.store.Applications.AcceptedCounts(ctx)
	if err != nil {
		return nil, err
	}

	for i := range villages {
		fillCounts(&villages[i], byVillage, byClan)
	}
	return villages, nil
}

func (s *DirectoryService) GetVillage(ctx context.Context, id uint) (*models.Village, error) {
	village, err := s.store.Villages.GetVillageWithClans(ctx, id)
	if err != nil {
		return nil, err
	}

	byVillage, byClan, err := s.store.Applications.AcceptedCounts(ctx)
	if err != nil {
		return nil, err
	}
	fillCounts(village, byVillage, byClan)
	return village, nil
}

// Census is ListVillages served through the census cache.
func (s *DirectoryService) Census(ctx context.Context) ([]models.Village, error) {
	if villages, ok := s.census.Get(ctx); ok {
		return villages, nil
	}

	villages, err := s.ListVillages(ctx)
	if err != nil {
		return nil, err
	}
	s.census.Set(ctx, villages)
	return villages, nil
}

func fillCounts(v *models.Village, byVillage, byClan map[uint]int) {
	v.MemberCount = byVillage[v.ID]
	if v.Clans == nil {
		v.Clans = []models.Clan{}
	}
	for i := range v.Clans {
		v.Clans[i].MemberCount = byClan[v.Clans[i].ID]
	}
}
