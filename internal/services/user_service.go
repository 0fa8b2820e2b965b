package services

import (
	"context"
	"net/url"
	"time"

	"github.com/mroshb/clan_portal/internal/models"
	"github.com/mroshb/clan_portal/internal/repositories"
	"github.com/mroshb/clan_portal/internal/security"
	"github.com/mroshb/clan_portal/pkg/errors"
	"github.com/mroshb/clan_portal/pkg/logger"
)

// Profile is what the messaging platform tells us about a user at sign-in.
type Profile struct {
	TelegramID int64
	Username   string
	FullName   string
	PhotoURL   string
}

type UserOptions struct {
	JWTSecret            string
	TokenTTL             time.Duration
	SuperAdminTelegramID int64
	PublicURL            string
}

type UserService struct {
	store *repositories.Store
	opts  UserOptions
}

func NewUserService(store *repositories.Store, opts UserOptions) *UserService {
	return &UserService{store: store, opts: opts}
}

// SignIn upserts the user keyed by Telegram ID and refreshes profile fields.
// The configured super admin is granted the admin role.
func (s *UserService) SignIn(ctx context.Context, p Profile) (*models.User, error) {
	if p.TelegramID == 0 {
		return nil, errors.New(errors.ErrCodeValidation, "telegram id is required")
	}

	fullName := security.SanitizeName(p.FullName)
	username := security.SanitizeString(p.Username, 64)
	if fullName == "" {
		fullName = username
	}
	if fullName == "" {
		return nil, errors.New(errors.ErrCodeValidation, "name is required")
	}

	user, err := s.store.Users.Upsert(ctx, &models.User{
		TelegramID: p.TelegramID,
		Username:   username,
		FullName:   fullName,
		PhotoURL:   security.SanitizeString(p.PhotoURL, 500),
	})
	if err != nil {
		return nil, err
	}

	if s.opts.SuperAdminTelegramID != 0 && user.TelegramID == s.opts.SuperAdminTelegramID {
		if !security.NewPrincipal(user).HasRole(models.RoleAdmin) {
			role, err := s.store.Roles.GetRoleByName(ctx, models.RoleAdmin)
			if err != nil {
				return nil, err
			}
			if err := s.store.Users.AddRole(ctx, user, role); err != nil {
				return nil, err
			}
			logger.Info("Bootstrapped super admin", "user_id", user.ID)
			return s.store.Users.GetUserByID(ctx, user.ID)
		}
	}

	return user, nil
}

func (s *UserService) IssueToken(user *models.User) (string, error) {
	token, err := security.GenerateJWT(user.ID, user.TelegramID, s.opts.JWTSecret, s.opts.TokenTTL)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInternalError, "failed to issue token")
	}
	return token, nil
}

// LoginURL returns the portal link that signs the user in.
func (s *UserService) LoginURL(user *models.User) (string, error) {
	token, err := s.IssueToken(user)
	if err != nil {
		return "", err
	}
	return s.opts.PublicURL + "/login?token=" + url.QueryEscape(token), nil
}

// Authenticate resolves a bearer token to a principal with roles read from
// the store.
func (s *UserService) Authenticate(ctx context.Context, token string) (*security.Principal, error) {
	if token == "" {
		return nil, errors.New(errors.ErrCodeUnauthorized, "authentication required")
	}

	claims, err := security.ValidateJWT(token, s.opts.JWTSecret)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeUnauthorized, "invalid token")
	}

	user, err := s.store.Users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, errors.ErrCodeNotFound) {
			return nil, errors.New(errors.ErrCodeUnauthorized, "invalid token")
		}
		return nil, err
	}
	if user.TelegramID != claims.TelegramID {
		return nil, errors.New(errors.ErrCodeUnauthorized, "invalid token")
	}

	return security.NewPrincipal(user), nil
}

func (s *UserService) GetUser(ctx context.Context, id uint) (*models.User, error) {
	return s.store.Users.GetUserByID(ctx, id)
}

func (s *UserService) GetUserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	return s.store.Users.GetUserByTelegramID(ctx, telegramID)
}

// SetGameUUID links a game account to the user. An identifier can belong to
// at most one user.
func (s *UserService) SetGameUUID(ctx context.Context, userID uint, raw string) (*models.User, error) {
	if raw == "" {
		return nil, errors.New(errors.ErrCodeValidation, "game account id is required")
	}
	gameUUID, ok := security.NormalizeGameUUID(raw)
	if !ok {
		return nil, errors.New(errors.ErrCodeValidation, "invalid game account id")
	}

	err := s.store.Transaction(ctx, func(tx *repositories.Store) error {
		if _, err := tx.Users.LockUser(ctx, userID); err != nil {
			return err
		}

		holder, err := tx.Users.GetUserByGameUUID(ctx, gameUUID)
		if err != nil {
			return err
		}
		if holder != nil && holder.ID != userID {
			return errors.New(errors.ErrCodeConflict, "game account is already linked to another user")
		}

		return tx.Users.SetGameUUID(ctx, userID, gameUUID)
	})
	if err != nil {
		return nil, err
	}

	return s.store.Users.GetUserByID(ctx, userID)
}

func (s *UserService) ListUsers(ctx context.Context) ([]models.User, error) {
	return s.store.Users.ListUsers(ctx)
}

// SetRoles replaces the user's role set. Every ID must name an existing role.
func (s *UserService) SetRoles(ctx context.Context, userID uint, roleIDs []uint) (*models.User, error) {
	unique := make([]uint, 0, len(roleIDs))
	seen := make(map[uint]bool, len(roleIDs))
	for _, id := range roleIDs {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}

	err := s.store.Transaction(ctx, func(tx *repositories.Store) error {
		user, err := tx.Users.GetUserByID(ctx, userID)
		if err != nil {
			return err
		}

		roles, err := tx.Roles.GetRolesByIDs(ctx, unique)
		if err != nil {
			return err
		}
		if len(roles) != len(unique) {
			return errors.New(errors.ErrCodeValidation, "unknown role id")
		}

		return tx.Users.ReplaceRoles(ctx, user, roles)
	})
	if err != nil {
		return nil, err
	}

	logger.Info("User roles replaced", "user_id", userID, "role_ids", unique)
	return s.store.Users.GetUserByID(ctx, userID)
}

func (s *UserService) ListRoles(ctx context.Context) ([]models.Role, error) {
	return s.store.Roles.ListRoles(ctx)
}

func (s *UserService) CreateRole(ctx context.Context, name string) (*models.Role, error) {
	name = security.SanitizeName(name)
	if name == "" {
		return nil, errors.New(errors.ErrCodeValidation, "role name is required")
	}

	role := &models.Role{Name: name}
	if err := s.store.Roles.CreateRole(ctx, role); err != nil {
		return nil, err
	}
	return role, nil
}
