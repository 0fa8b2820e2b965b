package repositories

import (
	"context"

	"github.com/mroshb/clan_portal/internal/models"
	"github.com/mroshb/clan_portal/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Upsert creates the user keyed by Telegram ID or refreshes its profile
// fields, then reloads it with roles.
func (r *UserRepository) Upsert(ctx context.Context, user *models.User) (*models.User, error) {
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "telegram_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "full_name", "photo_url", "updated_at"}),
	}).Omit("Roles", "GameUUID").Create(user)
	if result.Error != nil {
		return nil, writeError(result.Error, "user already exists", "failed to save user")
	}

	return r.GetUserByTelegramID(ctx, user.TelegramID)
}

// GetUserByTelegramID retrieves a user by Telegram ID
func (r *UserRepository) GetUserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Preload("Roles").Where("telegram_id = ?", telegramID).First(&user).Error
	if err != nil {
		return nil, lookupError(err, "user not found", "failed to get user")
	}
	return &user, nil
}

// GetUserByID retrieves a user by ID
func (r *UserRepository) GetUserByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Preload("Roles").First(&user, id).Error; err != nil {
		return nil, lookupError(err, "user not found", "failed to get user")
	}
	return &user, nil
}

// LockUser takes a row lock on the user for the rest of the transaction.
func (r *UserRepository) LockUser(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).First(&user, id).Error
	if err != nil {
		return nil, lookupError(err, "user not found", "failed to lock user")
	}
	return &user, nil
}

// GetUserByGameUUID returns nil when no user holds the identifier.
func (r *UserRepository) GetUserByGameUUID(ctx context.Context, gameUUID string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Where("game_uuid = ?", gameUUID).First(&user).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to get user by game id")
	}
	return &user, nil
}

func (r *UserRepository) SetGameUUID(ctx context.Context, userID uint, gameUUID string) error {
	err := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).UpdateColumn("game_uuid", gameUUID).Error
	return writeError(err, "game id is already linked to another user", "failed to update game id")
}

// ListUsers returns every user with roles, oldest first.
func (r *UserRepository) ListUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := r.db.WithContext(ctx).Preload("Roles").Order("id ASC").Find(&users).Error; err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to list users")
	}
	return users, nil
}

// ReplaceRoles swaps the user's role set for roles.
func (r *UserRepository) ReplaceRoles(ctx context.Context, user *models.User, roles []models.Role) error {
	assoc := r.db.WithContext(ctx).Model(user).Association("Roles")
	var err error
	if len(roles) == 0 {
		err = assoc.Clear()
	} else {
		err = assoc.Replace(roles)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to update user roles")
	}
	return nil
}

func (r *UserRepository) AddRole(ctx context.Context, user *models.User, role *models.Role) error {
	if err := r.db.WithContext(ctx).Model(user).Association("Roles").Append(role); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to add user role")
	}
	return nil
}

type RoleRepository struct {
	db *gorm.DB
}

func NewRoleRepository(db *gorm.DB) *RoleRepository {
	return &RoleRepository{db: db}
}

func (r *RoleRepository) CreateRole(ctx context.Context, role *models.Role) error {
	return writeError(r.db.WithContext(ctx).Create(role).Error, "role already exists", "failed to create role")
}

func (r *RoleRepository) GetRoleByName(ctx context.Context, name string) (*models.Role, error) {
	var role models.Role
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&role).Error; err != nil {
		return nil, lookupError(err, "role not found", "failed to get role")
	}
	return &role, nil
}

// GetRolesByIDs returns the roles that exist among ids.
func (r *RoleRepository) GetRolesByIDs(ctx context.Context, ids []uint) ([]models.Role, error) {
	var roles []models.Role
	if len(ids) == 0 {
		return roles, nil
	}
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&roles).Error; err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to get roles")
	}
	return roles, nil
}

func (r *RoleRepository) ListRoles(ctx context.Context) ([]models.Role, error) {
	var roles []models.Role
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&roles).Error; err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to list roles")
	}
	return roles, nil
}
