package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/sirdesai22/mutualaid/internal/config"
	"github.com/sirdesai22/mutualaid/internal/db"
	"github.com/sirdesai22/mutualaid/internal/errs"
	"github.com/sirdesai22/mutualaid/internal/intake"
	"github.com/sirdesai22/mutualaid/internal/models"
	"github.com/sirdesai22/mutualaid/internal/notify"
	"github.com/sirdesai22/mutualaid/internal/services"
	"github.com/sirdesai22/mutualaid/internal/store"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Service runs the organizer and deliverer operations. Role checks happen
// at the edge (the API resolves an Organizer actor only for organizers);
// Service enforces slot ownership and the machine's edge table.
type Service struct {
	DB      *gorm.DB
	Machine *Machine
	Config  config.Config
	Gate    *intake.Gate
}

func NewService(gdb *gorm.DB, m *Machine, cfg config.Config, gate *intake.Gate) *Service {
	return &Service{DB: gdb, Machine: m, Config: cfg, Gate: gate}
}

func (s *Service) now() time.Time { return s.Machine.Now() }

func (s *Service) tx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.DB.WithContext(ctx).Transaction(fn)
}

func requireOrganizer(a Actor) error {
	if a.Kind != ActorOrganizer {
		return fmt.Errorf("%w: organizer only", errs.ErrPermissionDenied)
	}
	return nil
}

// OverrideSelect admits a Submitted request outside the lottery. The weekly
// cap still applies unless the category's limit switch is off.
func (s *Service) OverrideSelect(ctx context.Context, id int64, actor Actor) (*models.Request, error) {
	if err := requireOrganizer(actor); err != nil {
		return nil, err
	}
	var out *models.Request
	err := s.tx(ctx, func(tx *gorm.DB) error {
		r, err := Load(tx, id)
		if err != nil {
			return err
		}
		if err := Check(r.Category, r.Status, models.StatusSelected, actor.Kind); err != nil {
			return err
		}
		cc := s.Config.Meals
		if r.Category == models.CategoryGrocery {
			cc = s.Config.Groceries
		}
		if !cc.DisableLimit {
			start := s.Gate.CycleStart(s.now())
			if err := db.AdvisoryXactLock(tx, store.SelectionLockKey(r.Category, start)); err != nil {
				return err
			}
			n, err := store.CountSelectedBetween(tx, r.Category, start, s.Gate.NextOpen(start))
			if err != nil {
				return err
			}
			if n >= int64(cc.Limit) {
				return fmt.Errorf("%w: %d of %d already selected", errs.ErrQuotaExhausted, n, cc.Limit)
			}
		}
		if err := s.Machine.Advance(tx, r, models.StatusSelected, actor, nil); err != nil {
			return err
		}
		out = r
		return addNote(tx, r.ID, actor.VolunteerID, "Selected by organizer override", nil)
	})
	return out, err
}

// Schedule is a delivery date with optional pickup and drop-off windows.
type Schedule struct {
	DeliveryDate time.Time
	PickupStart  *time.Time
	PickupEnd    *time.Time
	DropoffStart *time.Time
	DropoffEnd   *time.Time
}

func (sc Schedule) validate() error {
	ve := &errs.ValidationError{}
	if sc.DeliveryDate.IsZero() {
		ve.Add("delivery_date", "is required")
	}
	if (sc.PickupStart == nil) != (sc.PickupEnd == nil) {
		ve.Add("pickup_end", "pickup start and end go together")
	} else if sc.PickupStart != nil && !sc.PickupEnd.After(*sc.PickupStart) {
		ve.Add("pickup_end", "must be after pickup start")
	}
	if (sc.DropoffStart == nil) != (sc.DropoffEnd == nil) {
		ve.Add("dropoff_end", "drop-off start and end go together")
	} else if sc.DropoffStart != nil && !sc.DropoffEnd.After(*sc.DropoffStart) {
		ve.Add("dropoff_end", "must be after drop-off start")
	}
	return ve.OrNil()
}

// columns renders the schedule for an update. Delivery dates are stored as
// midnight UTC of the local calendar day.
func (sc Schedule) columns(loc *time.Location) map[string]any {
	date := models.DateOf(sc.DeliveryDate, loc)
	cols := map[string]any{"delivery_date": &date}
	if sc.PickupStart != nil {
		cols["pickup_start"] = utc(sc.PickupStart)
		cols["pickup_end"] = utc(sc.PickupEnd)
	}
	if sc.DropoffStart != nil {
		cols["dropoff_start"] = utc(sc.DropoffStart)
		cols["dropoff_end"] = utc(sc.DropoffEnd)
	}
	return cols
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// AssignGrocery puts a Selected grocery request on the schedule. Groceries
// have no chef; the organizer fills that step.
func (s *Service) AssignGrocery(ctx context.Context, id int64, actor Actor, sc Schedule) (*models.Request, error) {
	if err := requireOrganizer(actor); err != nil {
		return nil, err
	}
	if err := sc.validate(); err != nil {
		return nil, err
	}
	return s.advance(ctx, id, models.StatusChefAssigned, actor, func(r *models.Request) (map[string]any, error) {
		if r.Category != models.CategoryGrocery {
			return nil, &errs.TransitionError{From: string(r.Status), To: string(models.StatusChefAssigned), Reason: "meals are assigned by a chef claim"}
		}
		return sc.columns(s.Config.Location()), nil
	})
}

// ConfirmDate records that the recipient confirmed the delivery window.
func (s *Service) ConfirmDate(ctx context.Context, id int64, actor Actor) (*models.Request, error) {
	if err := requireOrganizer(actor); err != nil {
		return nil, err
	}
	return s.advance(ctx, id, models.StatusDateConfirmed, actor, func(r *models.Request) (map[string]any, error) {
		if r.Assignment.DropoffStart == nil || r.Assignment.DropoffEnd == nil {
			return nil, &errs.TransitionError{From: string(r.Status), To: string(models.StatusDateConfirmed), Reason: "drop-off window not set"}
		}
		return nil, nil
	})
}

// Reschedule marks a request whose recipient was unreachable or declined.
// Deliverers may only reschedule their own deliveries.
func (s *Service) Reschedule(ctx context.Context, id int64, actor Actor, reason string) (*models.Request, error) {
	var out *models.Request
	err := s.tx(ctx, func(tx *gorm.DB) error {
		r, err := Load(tx, id)
		if err != nil {
			return err
		}
		if actor.Kind == ActorDeliverer && !assigned(r.Assignment.DelivererID, actor.VolunteerID) {
			return fmt.Errorf("%w: not the assigned deliverer", errs.ErrPermissionDenied)
		}
		if err := s.Machine.Advance(tx, r, models.StatusRescheduled, actor, nil); err != nil {
			return err
		}
		out = r
		body := "Rescheduled"
		if reason = strings.TrimSpace(reason); reason != "" {
			body += ": " + reason
		}
		return addNote(tx, r.ID, actor.VolunteerID, body, nil)
	})
	return out, err
}

// SetNewDate moves a Rescheduled request back to ChefAssigned with a new
// date. The deliverer slot is cleared so the delivery can be claimed again.
func (s *Service) SetNewDate(ctx context.Context, id int64, actor Actor, sc Schedule) (*models.Request, error) {
	if err := requireOrganizer(actor); err != nil {
		return nil, err
	}
	if err := sc.validate(); err != nil {
		return nil, err
	}
	return s.advance(ctx, id, models.StatusChefAssigned, actor, func(r *models.Request) (map[string]any, error) {
		cols := sc.columns(s.Config.Location())
		cols["deliverer_id"] = nil
		cols["dropoff_start"] = nil
		cols["dropoff_end"] = nil
		cols["reminder_sent_at"] = nil
		return cols, nil
	})
}

// MarkDelivered closes a request. Only the assigned deliverer may do it, and
// not before the delivery date in local time.
func (s *Service) MarkDelivered(ctx context.Context, id int64, actor Actor) (*models.Request, error) {
	return s.advance(ctx, id, models.StatusDelivered, actor, func(r *models.Request) (map[string]any, error) {
		if !assigned(r.Assignment.DelivererID, actor.VolunteerID) {
			return nil, fmt.Errorf("%w: not the assigned deliverer", errs.ErrPermissionDenied)
		}
		if r.Assignment.DeliveryDate == nil {
			return nil, &errs.TransitionError{From: string(r.Status), To: string(models.StatusDelivered), Reason: "no delivery date"}
		}
		today := models.DateOf(s.now(), s.Config.Location())
		if today.Before(r.Assignment.DeliveryDate.UTC()) {
			return nil, &errs.TransitionError{From: string(r.Status), To: string(models.StatusDelivered), Reason: "delivery date is in the future"}
		}
		return nil, nil
	})
}

// advance loads the request, lets prepare veto it or add columns, and applies
// the transition, all in one transaction.
func (s *Service) advance(ctx context.Context, id int64, to models.Status, actor Actor, prepare func(*models.Request) (map[string]any, error)) (*models.Request, error) {
	var out *models.Request
	err := s.tx(ctx, func(tx *gorm.DB) error {
		r, err := Load(tx, id)
		if err != nil {
			return err
		}
		if err := Check(r.Category, r.Status, to, actor.Kind); err != nil {
			return err
		}
		var cols map[string]any
		if prepare != nil {
			if cols, err = prepare(r); err != nil {
				return err
			}
		}
		if err := s.Machine.Advance(tx, r, to, actor, cols); err != nil {
			return err
		}
		out = r
		return nil
	})
	return out, err
}

func assigned(slot *int64, volunteerID int64) bool {
	return slot != nil && volunteerID != 0 && *slot == volunteerID
}

type Slot string

const (
	SlotChef      Slot = "chef"
	SlotDeliverer Slot = "deliverer"
)

// Unclaim clears a slot and steps the request back one state: the deliverer
// slot returns DriverAssigned or DateConfirmed to ChefAssigned, the chef
// slot returns ChefAssigned to Selected. The chef slot can only be cleared
// once the deliverer slot is empty. The change is logged as an UpdateNote
// and the removed volunteer is told.
func (s *Service) Unclaim(ctx context.Context, id int64, actor Actor, slot Slot, reason string) (*models.Request, error) {
	if err := requireOrganizer(actor); err != nil {
		return nil, err
	}
	var out *models.Request
	err := s.tx(ctx, func(tx *gorm.DB) error {
		r, err := Load(tx, id)
		if err != nil {
			return err
		}
		var to models.Status
		var column string
		var removed *int64
		cols := map[string]any{}
		switch slot {
		case SlotDeliverer:
			if r.Status != models.StatusDriverAssigned && r.Status != models.StatusDateConfirmed {
				return &errs.TransitionError{From: string(r.Status), To: string(models.StatusChefAssigned), Reason: "no deliverer to remove"}
			}
			to, column, removed = models.StatusChefAssigned, "deliverer_id", r.Assignment.DelivererID
			cols["deliverer_id"] = nil
			cols["dropoff_start"] = nil
			cols["dropoff_end"] = nil
		case SlotChef:
			if r.Status != models.StatusChefAssigned {
				return &errs.TransitionError{From: string(r.Status), To: string(models.StatusSelected), Reason: "chef slot can only be cleared from chef_assigned"}
			}
			to, column, removed = models.StatusSelected, "chef_id", r.Assignment.ChefID
			cols["chef_id"] = nil
			cols["pickup_start"] = nil
			cols["pickup_end"] = nil
			cols["delivery_date"] = nil
			cols["meal_description"] = ""
		default:
			return &errs.ValidationError{Fields: map[string]string{"slot": "must be chef or deliverer"}}
		}

		if err := s.Machine.apply(tx, r, to, actor, cols); err != nil {
			return err
		}
		out = r

		meta := map[string]any{"action": "unclaim", "slot": slot, "column": column}
		if removed != nil {
			meta["volunteer_id"] = *removed
		}
		body := fmt.Sprintf("Cleared %s slot", slot)
		if reason = strings.TrimSpace(reason); reason != "" {
			body += ": " + reason
		}
		if err := addNote(tx, r.ID, actor.VolunteerID, body, meta); err != nil {
			return err
		}
		if removed == nil || s.Machine.Notifier == nil {
			return nil
		}
		var v models.Volunteer
		if err := tx.First(&v, *removed).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		_, err = s.Machine.Notifier.Enqueue(tx, "slot_cleared", r, notify.Parties{Volunteer: &v})
		return err
	})
	return out, err
}

// Copy duplicates a request for a later week: fresh id and uuid, status
// Submitted, workflow fields cleared, recipient data carried over.
func (s *Service) Copy(ctx context.Context, id int64, actor Actor) (*models.Request, error) {
	if err := requireOrganizer(actor); err != nil {
		return nil, err
	}
	var out *models.Request
	err := s.tx(ctx, func(tx *gorm.DB) error {
		src, err := Load(tx, id)
		if err != nil {
			return err
		}
		c := CopyOf(src)
		if err := tx.Create(c).Error; err != nil {
			return fmt.Errorf("insert copy: %w", err)
		}
		if err := services.AddRequestEvent(tx, c, "", actor.String()); err != nil {
			return err
		}
		meta := map[string]any{"action": "copy", "copy_uuid": c.UUID.String(), "copy_id": c.ID}
		if err := addNote(tx, src.ID, actor.VolunteerID, "Copied to "+c.UUID.String(), meta); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err == nil {
		log.Printf("📄 request %d copied to %s", id, out.UUID)
	}
	return out, err
}

// CopyOf returns the unsaved copy of r.
func CopyOf(r *models.Request) *models.Request {
	return &models.Request{
		Category:     r.Category,
		Status:       models.StatusSubmitted,
		Recipient:    r.Recipient,
		Address:      r.Address,
		Household:    r.Household,
		Demographics: append(models.TagSet[models.Demographic](nil), r.Demographics...),
		Dietary:      append(models.TagSet[models.DietaryFlag](nil), r.Dietary...),
		Allergies:    r.Allergies,
		Preferences:  r.Preferences,
		Delivery:     r.Delivery,
		Location:     r.Location,
		Grocery:      r.Grocery,
	}
}

// AddNote appends a note to a request's audit log. Organizers may note any
// request; volunteers only the ones whose chef or deliverer slot they hold.
func (s *Service) AddNote(ctx context.Context, id int64, actor Actor, body string) (*models.UpdateNote, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, &errs.ValidationError{Fields: map[string]string{"body": "is required"}}
	}
	var n *models.UpdateNote
	err := s.tx(ctx, func(tx *gorm.DB) error {
		r, err := Load(tx, id)
		if err != nil {
			return err
		}
		if actor.Kind != ActorOrganizer &&
			!assigned(r.Assignment.ChefID, actor.VolunteerID) &&
			!assigned(r.Assignment.DelivererID, actor.VolunteerID) {
			return fmt.Errorf("%w: not assigned to this request", errs.ErrPermissionDenied)
		}
		note := models.UpdateNote{RequestID: id, AuthorID: actor.VolunteerID, Body: body}
		if err := tx.Create(&note).Error; err != nil {
			return err
		}
		n = &note
		return nil
	})
	return n, err
}

func addNote(tx *gorm.DB, requestID, authorID int64, body string, meta map[string]any) error {
	note := models.UpdateNote{RequestID: requestID, AuthorID: authorID, Body: body}
	if meta != nil {
		data, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		note.Metadata = datatypes.JSON(data)
	}
	return tx.Create(&note).Error
}
