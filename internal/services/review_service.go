package services

import (
	"context"
	"encoding/json"

	"github.com/mroshb/clan_portal/internal/models"
	"github.com/mroshb/clan_portal/internal/repositories"
	"github.com/mroshb/clan_portal/internal/security"
	"github.com/mroshb/clan_portal/pkg/errors"
)

var staffRoles = []string{models.RoleAdmin, models.RoleModerator}

// Decision is a staff review of one application.
type Decision struct {
	ApplicationID uint
	Status        string
	Comment       string
	Source        string
	RequireLive   bool
}

// ReviewService is the review authority: every staff operation passes
// through it, and the role check runs before any lookup or mutation. Web
// staff and the chat bridge use the same methods.
type ReviewService struct {
	ledger    *ApplicationService
	directory *DirectoryService
	users     *UserService
	settings  *SettingsService
}

func NewReviewService(ledger *ApplicationService, directory *DirectoryService, users *UserService, settings *SettingsService) *ReviewService {
	return &ReviewService{
		ledger:    ledger,
		directory: directory,
		users:     users,
		settings:  settings,
	}
}

// Authorize fails with UNAUTHORIZED for a nil principal and FORBIDDEN when
// the principal holds none of roles.
func Authorize(p *security.Principal, roles ...string) error {
	if p == nil {
		return errors.New(errors.ErrCodeUnauthorized, "authentication required")
	}
	if !p.HasAnyRole(roles...) {
		return errors.New(errors.ErrCodeForbidden, "insufficient role")
	}
	return nil
}

func (s *ReviewService) Review(ctx context.Context, p *security.Principal, d Decision) (*models.Application, error) {
	if err := Authorize(p, staffRoles...); err != nil {
		return nil, err
	}
	return s.ledger.Review(ctx, ReviewInput{
		ApplicationID: d.ApplicationID,
		Status:        d.Status,
		Comment:       d.Comment,
		ActorID:       p.UserID,
		Source:        d.Source,
		RequireLive:   d.RequireLive,
	})
}

func (s *ReviewService) Archive(ctx context.Context, p *security.Principal, applicationID uint) (*models.Application, error) {
	if err := Authorize(p, models.RoleAdmin); err != nil {
		return nil, err
	}
	return s.ledger.Archive(ctx, applicationID, p.UserID)
}

func (s *ReviewService) ListApplications(ctx context.Context, p *security.Principal, filter repositories.ApplicationFilter) ([]models.Application, error) {
	if err := Authorize(p, staffRoles...); err != nil {
		return nil, err
	}
	return s.ledger.ListAll(ctx, filter)
}

func (s *ReviewService) GetApplication(ctx context.Context, p *security.Principal, id uint) (*models.Application, error) {
	if err := Authorize(p, staffRoles...); err != nil {
		return nil, err
	}
	return s.ledger.Get(ctx, id)
}

func (s *ReviewService) ListVillages(ctx context.Context, p *security.Principal) ([]models.Village, error) {
	if err := Authorize(p, staffRoles...); err != nil {
		return nil, err
	}
	return s.directory.ListVillages(ctx)
}

func (s *ReviewService) GetVillage(ctx context.Context, p *security.Principal, id uint) (*models.Village, error) {
	if err := Authorize(p, staffRoles...); err != nil {
		return nil, err
	}
	return s.directory.GetVillage(ctx, id)
}

func (s *ReviewService) CreateVillage(ctx context.Context, p *security.Principal, f VillageFields) (*models.Village, error) {
	if err := Authorize(p, models.RoleAdmin); err != nil {
		return nil, err
	}
	return s.directory.CreateVillage(ctx, f)
}

func (s *ReviewService) UpdateVillage(ctx context.Context, p *security.Principal, id uint, f VillageFields) (*models.Village, error) {
	if err := Authorize(p, models.RoleAdmin); err != nil {
		return nil, err
	}
	return s.directory.UpdateVillage(ctx, id, f)
}

func (s *ReviewService) DeleteVillage(ctx context.Context, p *security.Principal, id uint) error {
	if err := Authorize(p, models.RoleAdmin); err != nil {
		return err
	}
	return s.directory.DeleteVillage(ctx, id)
}

func (s *ReviewService) CreateClan(ctx context.Context, p *security.Principal, villageID uint, f VillageFields) (*models.Clan, error) {
	if err := Authorize(p, models.RoleAdmin); err != nil {
		return nil, err
	}
	return s.directory.CreateClan(ctx, villageID, f)
}

func (s *ReviewService) UpdateClan(ctx context.Context, p *security.Principal, id uint, f VillageFields) (*models.Clan, error) {
	if err := Authorize(p, models.RoleAdmin); err != nil {
		return nil, err
	}
	return s.directory.UpdateClan(ctx, id, f)
}

func (s *ReviewService) DeleteClan(ctx context.Context, p *security.Principal, id uint) error {
	if err := Authorize(p, models.RoleAdmin); err != nil {
		return err
	}
	return s.directory.DeleteClan(ctx, id)
}

func (s *ReviewService) ListUsers(ctx context.Context, p *security.Principal) ([]models.User, error) {
	if err := Authorize(p, staffRoles...); err != nil {
		return nil, err
	}
	return s.users.ListUsers(ctx)
}

func (s *ReviewService) SetUserRoles(ctx context.Context, p *security.Principal, userID uint, roleIDs []uint) (*models.User, error) {
	if err := Authorize(p, models.RoleAdmin); err != nil {
		return nil, err
	}
	return s.users.SetRoles(ctx, userID, roleIDs)
}

func (s *ReviewService) ListRoles(ctx context.Context, p *security.Principal) ([]models.Role, error) {
	if err := Authorize(p, staffRoles...); err != nil {
		return nil, err
	}
	return s.users.ListRoles(ctx)
}

func (s *ReviewService) CreateRole(ctx context.Context, p *security.Principal, name string) (*models.Role, error) {
	if err := Authorize(p, models.RoleAdmin); err != nil {
		return nil, err
	}
	return s.users.CreateRole(ctx, name)
}

func (s *ReviewService) GetSettings(ctx context.Context, p *security.Principal) (models.PortalSettings, error) {
	if err := Authorize(p, staffRoles...); err != nil {
		return models.PortalSettings{}, err
	}
	return s.settings.Get(ctx)
}

func (s *ReviewService) UpdateSettings(ctx context.Context, p *security.Principal, patch map[string]json.RawMessage) (models.PortalSettings, error) {
	if err := Authorize(p, models.RoleAdmin); err != nil {
		return models.PortalSettings{}, err
	}
	return s.settings.Update(ctx, patch)
}
