package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Role names the core authorizes against. Any other role is inert here.
const (
	RoleAdmin     = "admin"
	RoleModerator = "moderator"
)

type User struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	TelegramID int64     `gorm:"uniqueIndex;not null" json:"telegramId"`
	Username   string    `gorm:"type:varchar(64)" json:"username"`
	FullName   string    `gorm:"type:varchar(255);not null" json:"fullName"`
	PhotoURL   string    `gorm:"type:varchar(500)" json:"photoUrl,omitempty"`
	GameUUID   *string   `gorm:"type:varchar(36);uniqueIndex" json:"gameUuid,omitempty"`
	Roles      []Role    `gorm:"many2many:user_roles" json:"roles"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

type Role struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(50);uniqueIndex;not null" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// RoleNames returns the names of the user's loaded roles.
func (u *User) RoleNames() []string {
	names := make([]string, 0, len(u.Roles))
	for _, r := range u.Roles {
		names = append(names, r.Name)
	}
	return names
}

// DisplayName prefers the @username, falling back to the full name.
func (u *User) DisplayName() string {
	if u.Username != "" {
		return "@" + u.Username
	}
	return u.FullName
}

// BeforeSave hook for validation
func (u *User) BeforeSave(tx *gorm.DB) error {
	if u.TelegramID == 0 {
		return gorm.ErrInvalidData
	}
	if strings.TrimSpace(u.FullName) == "" {
		return gorm.ErrInvalidData
	}
	if u.GameUUID != nil && *u.GameUUID == "" {
		return gorm.ErrInvalidData
	}
	return nil
}

// BeforeSave hook for validation
func (r *Role) BeforeSave(tx *gorm.DB) error {
	if strings.TrimSpace(r.Name) == "" {
		return gorm.ErrInvalidData
	}
	return nil
}

// TableName specifies the table name
func (User) TableName() string {
	return "users"
}

func (Role) TableName() string {
	return "roles"
}
