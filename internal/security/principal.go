package security

import (
	"context"
	"strings"

	"github.com/mroshb/clan_portal/internal/models"
)

// Principal is the authenticated caller. Roles are read from the store on
// every request, never from the token.
type Principal struct {
	UserID     uint
	TelegramID int64
	Name       string
	Roles      []string
}

func NewPrincipal(u *models.User) *Principal {
	return &Principal{
		UserID:     u.ID,
		TelegramID: u.TelegramID,
		Name:       u.DisplayName(),
		Roles:      u.RoleNames(),
	}
}

func (p *Principal) HasRole(name string) bool {
	if p == nil {
		return false
	}
	for _, r := range p.Roles {
		if strings.EqualFold(r, name) {
			return true
		}
	}
	return false
}

func (p *Principal) HasAnyRole(names ...string) bool {
	for _, name := range names {
		if p.HasRole(name) {
			return true
		}
	}
	return false
}

func (p *Principal) IsStaff() bool {
	return p.HasAnyRole(models.RoleAdmin, models.RoleModerator)
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns nil when the request is unauthenticated.
func PrincipalFrom(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}
