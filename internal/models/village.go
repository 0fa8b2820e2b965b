package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

const (
	DefaultVillageCapacity = 50
	DefaultClanCapacity    = 10
)

type Village struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	Capacity    int       `gorm:"default:50;not null" json:"capacity"`
	Clans       []Clan    `gorm:"foreignKey:VillageID" json:"clans"`
	MemberCount int       `gorm:"-" json:"memberCount"` // ACCEPTED applications, computed on read
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// Clan belongs to exactly one village. VillageID never changes after creation.
type Clan struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	VillageID   uint      `gorm:"not null;index" json:"villageId"`
	Village     *Village  `gorm:"foreignKey:VillageID" json:"village,omitempty"`
	Name        string    `gorm:"type:varchar(255);not null" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	Capacity    int       `gorm:"default:10;not null" json:"capacity"`
	MemberCount int       `gorm:"-" json:"memberCount"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// BeforeSave hook for validation
func (v *Village) BeforeSave(tx *gorm.DB) error {
	if strings.TrimSpace(v.Name) == "" {
		return gorm.ErrInvalidData
	}
	if v.Capacity <= 0 {
		return gorm.ErrInvalidData
	}
	return nil
}

// BeforeSave hook for validation
func (c *Clan) BeforeSave(tx *gorm.DB) error {
	if strings.TrimSpace(c.Name) == "" || c.VillageID == 0 {
		return gorm.ErrInvalidData
	}
	if c.Capacity <= 0 {
		return gorm.ErrInvalidData
	}
	return nil
}

func (Village) TableName() string {
	return "villages"
}

func (Clan) TableName() string {
	return "clans"
}
