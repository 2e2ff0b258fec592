package notify

import (
	"context"
	"fmt"
	"log"

	"github.com/sirdesai22/mutualaid/internal/models"
	"gorm.io/gorm"
)

// MassMail selects who gets a one-off message. Volunteer audiences filter by
// Role; recipient audiences by Status and Category. Empty filters match all.
type MassMail struct {
	Event    string
	Audience models.Audience
	Role     models.Role
	Status   models.Status
	Category models.Category
}

// SendMass queues event for everyone m selects and returns how many
// notifications were queued. Delivery happens through the Dispatcher.
func (o *Orchestrator) SendMass(ctx context.Context, gdb *gorm.DB, m MassMail) (int, error) {
	if !o.Catalog.Has(m.Event, m.Audience) {
		return 0, fmt.Errorf("template %q has no %s audience", m.Event, m.Audience)
	}
	var queued int
	err := gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		switch m.Audience {
		case models.AudienceVolunteer:
			var vols []models.Volunteer
			if err := tx.Where("is_sentinel = ?", false).Order("id ASC").Find(&vols).Error; err != nil {
				return err
			}
			if m.Role != "" {
				kept := vols[:0]
				for _, v := range vols {
					if v.HasRole(m.Role) {
						kept = append(kept, v)
					}
				}
				vols = kept
			}
			n, err := o.EnqueueVolunteers(tx, m.Event, vols)
			queued = n
			return err

		case models.AudienceRecipient:
			q := tx.Where("archived_at IS NULL")
			if m.Status != "" {
				q = q.Where("status = ?", m.Status)
			}
			if m.Category != "" {
				q = q.Where("category = ?", m.Category)
			}
			var reqs []models.Request
			if err := q.Order("id ASC").Find(&reqs).Error; err != nil {
				return err
			}
			for i := range reqs {
				n, err := o.Enqueue(tx, m.Event, &reqs[i], Parties{})
				if err != nil {
					return err
				}
				queued += n
			}
			return nil
		}
		return fmt.Errorf("mass mail to %s is not supported", m.Audience)
	})
	if err != nil {
		return 0, err
	}
	log.Printf("📤 mass %s to %s: %d queued", m.Event, m.Audience, queued)
	return queued, nil
}
