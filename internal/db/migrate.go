package db

import (
	"log"

	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/sirdesai22/mutualaid/internal/models"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) {
	if err := RunMigrations(db); err != nil {
		log.Fatalf("❌ migration failed: %v", err)
	}
	log.Println("✅ database migrated successfully")
}

func RunMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "20251017_create_core_tables",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(
					&models.Request{},
					&models.UpdateNote{},
					&models.Volunteer{},
					&models.Group{},
					&models.GroupPermission{},
					&models.Notification{},
					&models.Outbox{},
					&models.DLQ{},
				)
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("dlqs", "outboxes", "notifications", "group_permissions",
					"groups", "volunteers", "update_notes", "requests")
			},
		},
		{
			// Rows imported from the old multi-select columns hold "['a', 'b']";
			// TagSet reads that form, so re-saving writes JSON back.
			ID:      "20251024_rewrite_legacy_multiselect",
			Migrate: rewriteLegacyTags,
		},
	})
	return m.Migrate()
}

func rewriteLegacyTags(tx *gorm.DB) error {
	w := tx.Session(&gorm.Session{NewDB: true})

	var requests []models.Request
	err := tx.Model(&models.Request{}).FindInBatches(&requests, 200, func(_ *gorm.DB, _ int) error {
		for _, r := range requests {
			err := w.Model(&models.Request{}).Where("id = ?", r.ID).UpdateColumns(map[string]any{
				"demographics":          r.Demographics,
				"dietary":               r.Dietary,
				"delivery_days":         r.Delivery.Days,
				"delivery_time_periods": r.Delivery.TimePeriods,
				"grocery_vegetables":    r.Grocery.Vegetables,
				"grocery_fruits":        r.Grocery.Fruits,
				"grocery_grains":        r.Grocery.Grains,
				"grocery_condiments":    r.Grocery.Condiments,
				"grocery_protein":       r.Grocery.Protein,
				"grocery_dairy":         r.Grocery.Dairy,
			}).Error
			if err != nil {
				return err
			}
		}
		return nil
	}).Error
	if err != nil {
		return err
	}

	var volunteers []models.Volunteer
	return tx.Model(&models.Volunteer{}).FindInBatches(&volunteers, 200, func(_ *gorm.DB, _ int) error {
		for _, v := range volunteers {
			err := w.Model(&models.Volunteer{}).Where("id = ?", v.ID).UpdateColumns(map[string]any{
				"roles":                  v.Roles,
				"food_types":             v.FoodTypes,
				"transportation_options": v.TransportationOptions,
				"days_available":         v.DaysAvailable,
			}).Error
			if err != nil {
				return err
			}
		}
		return nil
	}).Error
}
