package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ---------------- VOLUNTEERS ----------------

// Volunteer is a chef, deliverer or organizer. Deleted volunteers are
// soft-deleted and their references moved to the sentinel row.
type Volunteer struct {
	ID              int64     `gorm:"primaryKey;autoIncrement"`
	UUID            uuid.UUID `gorm:"type:uuid;uniqueIndex;not null"`
	Name            string    `gorm:"size:255;not null"`
	ShortName       string    `gorm:"size:64"`
	Email           string    `gorm:"size:255;index"`
	Phone           string    `gorm:"size:10"`
	CanReceiveTexts bool
	Address         Address  `gorm:"embedded;embeddedPrefix:address_"`
	Location        Location `gorm:"embedded;embeddedPrefix:location_"`
	Roles           TagSet[Role]

	FoodTypes             TagSet[string]
	TransportationOptions TagSet[string]
	DaysAvailable         TagSet[string]
	TotalHoursAvailable   int

	HavePPE              bool
	HaveCleaningSupplies bool
	TrainingComplete     bool

	IsSentinel bool `gorm:"index"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
	DeletedAt  gorm.DeletedAt `gorm:"index"`
}

func (v *Volunteer) BeforeCreate(tx *gorm.DB) error {
	if v.UUID == uuid.Nil {
		v.UUID = uuid.New()
	}
	return nil
}

func (v *Volunteer) HasRole(r Role) bool { return v.Roles.Has(r) }

// DisplayShortName is what recipients see: ShortName if set, else the first
// token of the name.
func (v *Volunteer) DisplayShortName() string {
	if s := strings.TrimSpace(v.ShortName); s != "" {
		return s
	}
	fields := strings.Fields(v.Name)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// ---------------- PERMISSIONS ----------------

type Group struct {
	ID          int64             `gorm:"primaryKey;autoIncrement"`
	Name        string            `gorm:"size:64;uniqueIndex;not null"`
	Permissions []GroupPermission `gorm:"foreignKey:GroupID"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type GroupPermission struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	GroupID    int64  `gorm:"index;not null"`
	Capability string `gorm:"size:64;not null"`
	CreatedAt  time.Time
}
