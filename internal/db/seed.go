package db

import (
	"log"

	"github.com/sirdesai22/mutualaid/internal/models"
	"gorm.io/gorm"
)

const sentinelEmail = "deleted-volunteer@invalid"

// Seed inserts the well-known rows the core relies on.
func Seed(db *gorm.DB) {
	v, err := SentinelVolunteer(db)
	if err != nil {
		log.Fatalf("❌ seeding sentinel volunteer failed: %v", err)
	}
	log.Printf("🌱 sentinel volunteer id=%d", v.ID)
}

// SentinelVolunteer returns the placeholder that deleted volunteers' references
// are moved to, creating it on first use.
func SentinelVolunteer(db *gorm.DB) (*models.Volunteer, error) {
	var v models.Volunteer
	res := db.Unscoped().Where("is_sentinel = ?", true).Order("id ASC").Limit(1).Find(&v)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected > 0 {
		return &v, nil
	}
	v = models.Volunteer{
		Name:       "Deleted volunteer",
		ShortName:  "A volunteer",
		Email:      sentinelEmail,
		IsSentinel: true,
	}
	if err := db.Create(&v).Error; err != nil {
		return nil, err
	}
	return &v, nil
}
