// Package claims lets volunteers take the chef and deliverer slots of a
// request. At most one volunteer holds each slot; claims race through a
// conditional update guarded by the slot being empty.
package claims

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/sirdesai22/mutualaid/internal/config"
	"github.com/sirdesai22/mutualaid/internal/errs"
	"github.com/sirdesai22/mutualaid/internal/fulfillment"
	"github.com/sirdesai22/mutualaid/internal/geo"
	"github.com/sirdesai22/mutualaid/internal/metrics"
	"github.com/sirdesai22/mutualaid/internal/models"
	"gorm.io/gorm"
)

type Outcome string

const (
	OK             Outcome = "ok"
	AlreadyClaimed Outcome = "already_claimed"
	NotEligible    Outcome = "not_eligible"
)

// maxAttempts bounds the re-reads after a lost conditional update that was
// not caused by a competing claim (e.g. an organizer edit in between).
const maxAttempts = 3

// ChefClaim is what a chef commits to. With AlsoDeliver the chef takes the
// deliverer slot too and must give the drop-off window.
type ChefClaim struct {
	MealDescription string
	PickupStart     time.Time
	PickupEnd       time.Time
	DeliveryDate    time.Time
	AlsoDeliver     bool
	DropoffStart    time.Time
	DropoffEnd      time.Time
}

func (c ChefClaim) validate() error {
	ve := &errs.ValidationError{}
	if strings.TrimSpace(c.MealDescription) == "" {
		ve.Add("meal_description", "is required")
	}
	if c.DeliveryDate.IsZero() {
		ve.Add("delivery_date", "is required")
	}
	if c.PickupStart.IsZero() || c.PickupEnd.IsZero() {
		ve.Add("pickup_end", "pickup start and end are required")
	} else if !c.PickupEnd.After(c.PickupStart) {
		ve.Add("pickup_end", "must be after pickup start")
	}
	if c.AlsoDeliver {
		validateDropoff(ve, c.DropoffStart, c.DropoffEnd)
	}
	return ve.OrNil()
}

// DeliveryClaim is the drop-off window a deliverer commits to.
type DeliveryClaim struct {
	DropoffStart time.Time
	DropoffEnd   time.Time
}

func validateDropoff(ve *errs.ValidationError, start, end time.Time) {
	if start.IsZero() || end.IsZero() {
		ve.Add("dropoff_end", "drop-off start and end are required")
	} else if !end.After(start) {
		ve.Add("dropoff_end", "must be after drop-off start")
	}
}

type Broker struct {
	DB      *gorm.DB
	Machine *fulfillment.Machine
	Config  config.Config
}

func NewBroker(db *gorm.DB, m *fulfillment.Machine, cfg config.Config) *Broker {
	return &Broker{DB: db, Machine: m, Config: cfg}
}

// ClaimAsChef puts volunteerID in the chef slot of a Selected meal request.
// The outcome is OK when the volunteer holds the slot afterwards, including
// a repeated claim by the same volunteer. AlreadyClaimed comes with
// errs.ErrAlreadyClaimed and NotEligible with a wrapped errs.ErrNotEligible;
// any other failure has an empty outcome.
func (b *Broker) ClaimAsChef(ctx context.Context, requestID, volunteerID int64, c ChefClaim) (Outcome, error) {
	if err := c.validate(); err != nil {
		return "", err
	}
	out, err := b.retry(ctx, func(tx *gorm.DB) (Outcome, error) {
		v, r, err := b.load(tx, requestID, volunteerID)
		if err != nil {
			return "", err
		}
		if r.Assignment.ChefID != nil {
			out, err := held(*r.Assignment.ChefID, volunteerID, c.AlsoDeliver, r.Assignment.DelivererID)
			if err != nil || !c.AlsoDeliver || r.Assignment.DelivererID != nil {
				return out, err
			}
			// The chef already holds the meal and now takes the delivery too.
			switch {
			case !v.HasRole(models.RoleDeliverer):
				return NotEligible, fmt.Errorf("%w: deliverer role required to also deliver", errs.ErrNotEligible)
			case r.Status != models.StatusChefAssigned:
				return NotEligible, fmt.Errorf("%w: request is %s", errs.ErrNotEligible, r.Status)
			}
			if err := b.takeDelivery(tx, r, v, fulfillment.Chef(v.ID), c.DropoffStart, c.DropoffEnd); err != nil {
				return "", err
			}
			return OK, nil
		}
		if err := b.chefEligible(v, r); err != nil {
			return NotEligible, err
		}
		if c.AlsoDeliver && !v.HasRole(models.RoleDeliverer) {
			return NotEligible, fmt.Errorf("%w: deliverer role required to also deliver", errs.ErrNotEligible)
		}

		date := models.DateOf(c.DeliveryDate, b.Config.Location())
		cols := map[string]any{
			"chef_id":          v.ID,
			"meal_description": strings.TrimSpace(c.MealDescription),
			"pickup_start":     c.PickupStart.UTC(),
			"pickup_end":       c.PickupEnd.UTC(),
			"delivery_date":    date,
		}
		actor := fulfillment.Chef(v.ID)
		if err := b.Machine.Advance(tx, r, models.StatusChefAssigned, actor, cols, fulfillment.SlotEmpty("chef_id")); err != nil {
			return "", err
		}
		if !c.AlsoDeliver {
			return OK, nil
		}
		if err := b.takeDelivery(tx, r, v, actor, c.DropoffStart, c.DropoffEnd); err != nil {
			return "", err
		}
		return OK, nil
	})
	record("chef", requestID, volunteerID, out, err)
	return out, err
}

// takeDelivery moves a ChefAssigned request to DriverAssigned with v in the
// deliverer slot.
func (b *Broker) takeDelivery(tx *gorm.DB, r *models.Request, v *models.Volunteer, actor fulfillment.Actor, start, end time.Time) error {
	cols := map[string]any{
		"deliverer_id":  v.ID,
		"dropoff_start": start.UTC(),
		"dropoff_end":   end.UTC(),
	}
	return b.Machine.Advance(tx, r, models.StatusDriverAssigned, actor, cols, fulfillment.SlotEmpty("deliverer_id"))
}

// held resolves a claim on a slot that is already taken.
func held(holder, volunteerID int64, wantDeliverer bool, deliverer *int64) (Outcome, error) {
	if holder != volunteerID {
		return AlreadyClaimed, errs.ErrAlreadyClaimed
	}
	if wantDeliverer && deliverer != nil && *deliverer != volunteerID {
		return AlreadyClaimed, fmt.Errorf("%w: deliverer slot", errs.ErrAlreadyClaimed)
	}
	return OK, nil
}

func (b *Broker) chefEligible(v *models.Volunteer, r *models.Request) error {
	switch {
	case !v.HasRole(models.RoleChef):
		return fmt.Errorf("%w: chef role required", errs.ErrNotEligible)
	case r.Category != models.CategoryMeal:
		return fmt.Errorf("%w: groceries are assigned by organizers", errs.ErrNotEligible)
	case r.Status != models.StatusSelected:
		return fmt.Errorf("%w: request is %s", errs.ErrNotEligible, r.Status)
	}
	vp, rp := geo.FromLocation(v.Location), geo.FromLocation(r.Location)
	if vp.IsZero() || rp.IsZero() {
		return fmt.Errorf("%w: location unknown", errs.ErrNotEligible)
	}
	if d := geo.DistanceKm(vp, rp); d > b.Config.MaxChefDistanceKm {
		return fmt.Errorf("%w: %.1f km away, limit is %.0f km", errs.ErrNotEligible, d, b.Config.MaxChefDistanceKm)
	}
	return nil
}

// ClaimAsDeliverer puts volunteerID in the deliverer slot of a ChefAssigned
// request that has a delivery date. Outcomes follow ClaimAsChef.
func (b *Broker) ClaimAsDeliverer(ctx context.Context, requestID, volunteerID int64, d DeliveryClaim) (Outcome, error) {
	ve := &errs.ValidationError{}
	validateDropoff(ve, d.DropoffStart, d.DropoffEnd)
	if err := ve.OrNil(); err != nil {
		return "", err
	}
	out, err := b.retry(ctx, func(tx *gorm.DB) (Outcome, error) {
		v, r, err := b.load(tx, requestID, volunteerID)
		if err != nil {
			return "", err
		}
		if r.Assignment.DelivererID != nil {
			return held(*r.Assignment.DelivererID, volunteerID, false, nil)
		}
		switch {
		case !v.HasRole(models.RoleDeliverer):
			return NotEligible, fmt.Errorf("%w: deliverer role required", errs.ErrNotEligible)
		case r.Status != models.StatusChefAssigned:
			return NotEligible, fmt.Errorf("%w: request is %s", errs.ErrNotEligible, r.Status)
		case r.Assignment.DeliveryDate == nil:
			return NotEligible, fmt.Errorf("%w: no delivery date yet", errs.ErrNotEligible)
		}
		if err := b.takeDelivery(tx, r, v, fulfillment.Deliverer(v.ID), d.DropoffStart, d.DropoffEnd); err != nil {
			return "", err
		}
		return OK, nil
	})
	record("deliverer", requestID, volunteerID, out, err)
	return out, err
}

func (b *Broker) load(tx *gorm.DB, requestID, volunteerID int64) (*models.Volunteer, *models.Request, error) {
	var v models.Volunteer
	if err := tx.First(&v, volunteerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, fmt.Errorf("volunteer %d: %w", volunteerID, errs.ErrNotFound)
		}
		return nil, nil, err
	}
	r, err := fulfillment.Load(tx, requestID)
	if err != nil {
		return nil, nil, err
	}
	return &v, r, nil
}

// retry runs fn in a transaction, rerunning it when the conditional update
// lost to a concurrent writer. The rerun reads the winner's row, so a
// competing claim resolves to AlreadyClaimed.
func (b *Broker) retry(ctx context.Context, fn func(tx *gorm.DB) (Outcome, error)) (Outcome, error) {
	var (
		out Outcome
		err error
	)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = b.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var ferr error
			out, ferr = fn(tx)
			return ferr
		})
		if !errors.Is(err, errs.ErrConflict) {
			return out, err
		}
	}
	return AlreadyClaimed, fmt.Errorf("%w: %v", errs.ErrAlreadyClaimed, err)
}

func record(slot string, requestID, volunteerID int64, out Outcome, err error) {
	label := string(out)
	if label == "" {
		label = errs.Kind(err)
	}
	metrics.Claims.WithLabelValues(slot, label).Inc()
	if err != nil {
		log.Printf("❌ %s claim on request %d by volunteer %d: %s (%v)", slot, requestID, volunteerID, label, err)
	}
}
