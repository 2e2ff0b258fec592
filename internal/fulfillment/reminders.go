package fulfillment

import (
	"context"
	"log"
	"time"

	"github.com/sirdesai22/mutualaid/internal/models"
	"github.com/sirdesai22/mutualaid/internal/notify"
	"gorm.io/gorm"
)

var reminderStatuses = []models.Status{models.StatusDriverAssigned, models.StatusDateConfirmed}

// SendReminders queues the day-of reminders for every scheduled delivery on
// the local calendar day of day. Each request is reminded at most once per
// delivery date; SetNewDate resets the marker.
func (s *Service) SendReminders(ctx context.Context, day time.Time) (int, error) {
	date := models.DateOf(day, s.Config.Location())

	var due []models.Request
	err := s.DB.WithContext(ctx).
		Where("status IN ? AND delivery_date = ? AND reminder_sent_at IS NULL", reminderStatuses, date).
		Order("id ASC").
		Find(&due).Error
	if err != nil {
		return 0, err
	}

	sent := 0
	for i := range due {
		r := &due[i]
		err := s.tx(ctx, func(tx *gorm.DB) error {
			res := tx.Model(&models.Request{}).
				Where("id = ? AND reminder_sent_at IS NULL", r.ID).
				UpdateColumn("reminder_sent_at", s.now().UTC())
			if res.Error != nil || res.RowsAffected == 0 {
				return res.Error
			}
			p, err := notify.LoadParties(tx, r)
			if err != nil {
				return err
			}
			if s.Machine.Notifier != nil {
				if _, err := s.Machine.Notifier.Enqueue(tx, "reminder", r, p); err != nil {
					return err
				}
			}
			sent++
			return nil
		})
		if err != nil {
			log.Printf("❌ reminder for request %s: %v", r.UUID, err)
		}
	}
	log.Printf("⏰ %d reminders queued for %s", sent, date.Format("2006-01-02"))
	return sent, nil
}
