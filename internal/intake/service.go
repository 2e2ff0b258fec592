package intake

import (
	"context"
	"fmt"
	"log"

	"github.com/sirdesai22/mutualaid/internal/config"
	"github.com/sirdesai22/mutualaid/internal/errs"
	"github.com/sirdesai22/mutualaid/internal/geo"
	"github.com/sirdesai22/mutualaid/internal/metrics"
	"github.com/sirdesai22/mutualaid/internal/models"
	"github.com/sirdesai22/mutualaid/internal/notify"
	"github.com/sirdesai22/mutualaid/internal/services"
	"gorm.io/gorm"
)

// Service admits public submissions.
type Service struct {
	DB       *gorm.DB
	Config   config.Config
	Geocoder *geo.Geocoder
	Notifier *notify.Orchestrator
	Gate     *Gate
}

func NewService(db *gorm.DB, cfg config.Config, g *geo.Geocoder, n *notify.Orchestrator, gate *Gate) *Service {
	return &Service{DB: db, Config: cfg, Geocoder: g, Notifier: n, Gate: gate}
}

// Submit checks the gate, validates s, geocodes the address and stores the
// request as Submitted. Geocoding failures never reject a submission; the
// request is stored with a fallback pin and flagged for re-geocoding.
func (s *Service) Submit(ctx context.Context, sub Submission) (*models.Request, error) {
	if err := s.Gate.Check(sub.Category); err != nil {
		metrics.Submissions.WithLabelValues(string(sub.Category), errs.Kind(err)).Inc()
		return nil, err
	}
	r, err := Validate(sub, s.Config)
	if err != nil {
		metrics.Submissions.WithLabelValues(string(sub.Category), errs.Kind(err)).Inc()
		return nil, err
	}

	// outside the transaction: the provider call may take up to the geocode timeout
	loc, gerr := s.Geocoder.Locate(ctx, r.Address, models.Location{})
	r.Location = loc
	if gerr != nil {
		log.Printf("📍 request queued for re-geocoding: %v", gerr)
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(r).Error; err != nil {
			return fmt.Errorf("insert request: %w", err)
		}
		if err := services.AddRequestEvent(tx, r, "", "public"); err != nil {
			return err
		}
		if _, err := s.Notifier.Enqueue(tx, notify.EventFor("", models.StatusSubmitted), r, notify.Parties{}); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		metrics.Submissions.WithLabelValues(string(sub.Category), "internal").Inc()
		return nil, err
	}
	metrics.Submissions.WithLabelValues(string(sub.Category), "accepted").Inc()
	log.Printf("✅ request %s submitted (%s)", r.UUID, r.Category)
	return r, nil
}
