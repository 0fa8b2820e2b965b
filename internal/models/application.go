package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

type ApplicationStatus string

const (
	StatusPending   ApplicationStatus = "PENDING"
	StatusInterview ApplicationStatus = "INTERVIEW"
	StatusAccepted  ApplicationStatus = "ACCEPTED"
	StatusRejected  ApplicationStatus = "REJECTED"
	StatusArchived  ApplicationStatus = "ARCHIVED"
)

var (
	// LiveStatuses are the statuses a user may hold at most one application in.
	LiveStatuses = []ApplicationStatus{StatusPending, StatusInterview}
	// SeatStatuses occupy a clan seat for admission purposes.
	SeatStatuses = []ApplicationStatus{StatusPending, StatusInterview, StatusAccepted}
)

// ParseReviewStatus accepts the statuses a reviewer may set. ARCHIVED is
// reachable only through the archive action.
func ParseReviewStatus(s string) (ApplicationStatus, bool) {
	status := ApplicationStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch status {
	case StatusPending, StatusInterview, StatusAccepted, StatusRejected:
		return status, true
	}
	return "", false
}

func (s ApplicationStatus) IsLive() bool {
	return s == StatusPending || s == StatusInterview
}

func (s ApplicationStatus) HoldsSeat() bool {
	return s.IsLive() || s == StatusAccepted
}

func (s ApplicationStatus) Known() bool {
	switch s {
	case StatusPending, StatusInterview, StatusAccepted, StatusRejected, StatusArchived:
		return true
	}
	return false
}

type Application struct {
	ID        uint              `gorm:"primaryKey" json:"id"`
	UserID    uint              `gorm:"not null;index" json:"userId"`
	User      *User             `gorm:"foreignKey:UserID" json:"user,omitempty"`
	VillageID uint              `gorm:"not null;index" json:"villageId"`
	Village   *Village          `gorm:"foreignKey:VillageID" json:"village,omitempty"`
	ClanID    *uint             `gorm:"index" json:"clanId"`
	Clan      *Clan             `gorm:"foreignKey:ClanID" json:"clan,omitempty"`
	Biography string            `gorm:"type:text;not null" json:"biography"`
	Status    ApplicationStatus `gorm:"type:varchar(20);not null;default:'PENDING';index" json:"status"`
	Comments  []Comment         `gorm:"foreignKey:ApplicationID" json:"comments,omitempty"`
	CreatedAt time.Time         `gorm:"autoCreateTime;index" json:"createdAt"`
	UpdatedAt time.Time         `gorm:"autoUpdateTime" json:"updatedAt"`
}

// Comment sources
const (
	CommentSourceWeb    = "web"
	CommentSourceBot    = "bot"
	CommentSourceSystem = "system"
)

// Comment is an append-only audit entry. AuthorID is nil for system entries.
type Comment struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	ApplicationID uint      `gorm:"not null;index" json:"applicationId"`
	AuthorID      *uint     `gorm:"index" json:"authorId"`
	Author        *User     `gorm:"foreignKey:AuthorID" json:"author,omitempty"`
	Source        string    `gorm:"type:varchar(10);not null;default:'web'" json:"source"`
	Content       string    `gorm:"type:text;not null" json:"content"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"createdAt"`
}

// BeforeSave hook for validation
func (a *Application) BeforeSave(tx *gorm.DB) error {
	if a.UserID == 0 || a.VillageID == 0 {
		return gorm.ErrInvalidData
	}
	if strings.TrimSpace(a.Biography) == "" {
		return gorm.ErrInvalidData
	}
	if !a.Status.Known() {
		return gorm.ErrInvalidData
	}
	return nil
}

// BeforeSave hook for validation
func (c *Comment) BeforeSave(tx *gorm.DB) error {
	if c.ApplicationID == 0 || strings.TrimSpace(c.Content) == "" {
		return gorm.ErrInvalidData
	}
	switch c.Source {
	case CommentSourceWeb, CommentSourceBot, CommentSourceSystem:
		return nil
	}
	return gorm.ErrInvalidData
}

func (Application) TableName() string {
	return "applications"
}

func (Comment) TableName() string {
	return "application_comments"
}
