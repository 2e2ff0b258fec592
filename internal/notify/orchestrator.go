package notify

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sirdesai22/mutualaid/internal/models"
	"gorm.io/gorm"
)

// Planned is one message the orchestrator decided to send.
type Planned struct {
	Audience    models.Audience
	Template    string
	Channel     models.Channel
	Destination string
	VolunteerID *int64
}

// Orchestrator decides who hears about an event and enqueues the rendered
// messages as pending notifications in the caller's transaction. Delivery
// happens later in the Dispatcher, so transport trouble never blocks a
// transition.
type Orchestrator struct {
	Catalog        *Catalog
	Location       *time.Location
	DefaultGroup   string
	GroceriesGroup string
}

func NewOrchestrator(c *Catalog, loc *time.Location, defaultGroup, groceriesGroup string) *Orchestrator {
	return &Orchestrator{Catalog: c, Location: loc, DefaultGroup: defaultGroup, GroceriesGroup: groceriesGroup}
}

// EventFor names the catalog event for a transition, or "" when the move is
// silent (an unclaim stepping back a state).
func EventFor(from, to models.Status) string {
	switch {
	case from == "" && to == models.StatusSubmitted:
		return "request_received"
	case from == models.StatusSubmitted && to == models.StatusSelected:
		return "selected"
	case to == models.StatusNotSelected:
		return "not_selected"
	case from == models.StatusSelected && to == models.StatusChefAssigned:
		return "chef_assigned"
	case from == models.StatusRescheduled && to == models.StatusChefAssigned:
		return "new_date"
	case from == models.StatusChefAssigned && to == models.StatusDriverAssigned,
		from == models.StatusSelected && to == models.StatusDriverAssigned:
		return "driver_assigned"
	case to == models.StatusDateConfirmed:
		return "date_confirmed"
	case to == models.StatusRescheduled:
		return "rescheduled"
	case to == models.StatusDelivered:
		return "delivered"
	}
	return ""
}

// ChannelFor picks SMS when the contact opted in and has a ten-digit phone,
// otherwise email. ok is false when neither is usable.
func ChannelFor(canText bool, phone, email string) (ch models.Channel, dest string, ok bool) {
	if canText && validPhone(phone) {
		return models.ChannelSMS, phone, true
	}
	if email != "" {
		return models.ChannelEmail, email, true
	}
	return "", "", false
}

func validPhone(p string) bool {
	if len(p) != 10 {
		return false
	}
	for _, c := range p {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// Plan computes the (audience, template, channel) triples for event.
func (o *Orchestrator) Plan(event string, r *models.Request, p Parties) []Planned {
	if event == "" {
		return nil
	}
	var out []Planned
	for _, aud := range o.Catalog.Audiences(event) {
		switch aud {
		case models.AudienceRecipient:
			if ch, dest, ok := ChannelFor(r.Recipient.CanReceiveTexts, r.Recipient.Phone, r.Recipient.Email); ok {
				out = append(out, Planned{Audience: aud, Template: event, Channel: ch, Destination: dest})
			}
		case models.AudienceChef:
			// a chef who also delivers gets the deliverer message only
			if p.Chef != nil && !(p.Deliverer != nil && p.Deliverer.ID == p.Chef.ID && o.Catalog.Has(event, models.AudienceDeliverer)) {
				out = appendVolunteer(out, aud, event, p.Chef)
			}
		case models.AudienceDeliverer:
			if p.Deliverer != nil {
				out = appendVolunteer(out, aud, event, p.Deliverer)
			}
		case models.AudienceVolunteer:
			if p.Volunteer != nil {
				out = appendVolunteer(out, aud, event, p.Volunteer)
			}
		}
	}
	return out
}

// PlanTransition is Plan for the event a transition fires.
func (o *Orchestrator) PlanTransition(r *models.Request, from, to models.Status, p Parties) []Planned {
	return o.Plan(EventFor(from, to), r, p)
}

func appendVolunteer(out []Planned, aud models.Audience, event string, v *models.Volunteer) []Planned {
	ch, dest, ok := ChannelFor(v.CanReceiveTexts, v.Phone, v.Email)
	if !ok || v.IsSentinel {
		return out
	}
	id := v.ID
	return append(out, Planned{Audience: aud, Template: event, Channel: ch, Destination: dest, VolunteerID: &id})
}

// Enqueue renders and stores the messages for event. It returns how many
// notifications were queued.
func (o *Orchestrator) Enqueue(tx *gorm.DB, event string, r *models.Request, p Parties) (int, error) {
	planned := o.Plan(event, r, p)
	if len(planned) == 0 {
		return 0, nil
	}
	rows := make([]models.Notification, 0, len(planned))
	for _, pl := range planned {
		n, err := o.render(pl, r, p)
		if err != nil {
			return 0, err
		}
		rows = append(rows, n)
	}
	if err := tx.Create(&rows).Error; err != nil {
		return 0, fmt.Errorf("enqueue %s notifications: %w", event, err)
	}
	return len(rows), nil
}

// EnqueueTransition loads the request's volunteers and enqueues the event
// for from -> to.
func (o *Orchestrator) EnqueueTransition(tx *gorm.DB, r *models.Request, from, to models.Status) (int, error) {
	event := EventFor(from, to)
	if event == "" {
		return 0, nil
	}
	p, err := LoadParties(tx, r)
	if err != nil {
		return 0, err
	}
	return o.Enqueue(tx, event, r, p)
}

// EnqueueVolunteers queues a volunteer-audience event (mass mail) for each
// volunteer that has a usable contact.
func (o *Orchestrator) EnqueueVolunteers(tx *gorm.DB, event string, vols []models.Volunteer) (int, error) {
	if !o.Catalog.Has(event, models.AudienceVolunteer) {
		return 0, fmt.Errorf("template %q has no volunteer audience", event)
	}
	var rows []models.Notification
	for i := range vols {
		v := &vols[i]
		ch, dest, ok := ChannelFor(v.CanReceiveTexts, v.Phone, v.Email)
		if !ok || v.IsSentinel {
			continue
		}
		view := VolunteerView{Name: v.DisplayShortName()}
		subject, body, err := o.Catalog.Render(event, models.AudienceVolunteer, ch, view)
		if err != nil {
			return 0, err
		}
		id := v.ID
		rows = append(rows, models.Notification{
			VolunteerID: &id,
			Event:       event,
			Audience:    models.AudienceVolunteer,
			Channel:     ch,
			Destination: dest,
			GroupUUID:   o.smsGroup(ch, models.CategoryMeal),
			Subject:     subject,
			Body:        body,
			Status:      models.NotificationPending,
		})
	}
	if len(rows) == 0 {
		return 0, nil
	}
	if err := tx.Create(&rows).Error; err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (o *Orchestrator) render(pl Planned, r *models.Request, p Parties) (models.Notification, error) {
	var data any
	switch pl.Audience {
	case models.AudienceRecipient:
		data = NewRecipientView(r, p, o.Location)
	case models.AudienceChef:
		data = NewVolunteerView(r, p.Chef, pl.Audience, o.Location)
	case models.AudienceDeliverer:
		data = NewVolunteerView(r, p.Deliverer, pl.Audience, o.Location)
	default:
		data = NewVolunteerView(r, p.Volunteer, pl.Audience, o.Location)
	}
	subject, body, err := o.Catalog.Render(pl.Template, pl.Audience, pl.Channel, data)
	if err != nil {
		return models.Notification{}, err
	}
	reqID := r.ID
	return models.Notification{
		RequestID:   &reqID,
		VolunteerID: pl.VolunteerID,
		Event:       pl.Template,
		Audience:    pl.Audience,
		Channel:     pl.Channel,
		Destination: pl.Destination,
		GroupUUID:   o.smsGroup(pl.Channel, r.Category),
		Subject:     subject,
		Body:        body,
		Status:      models.NotificationPending,
	}, nil
}

func (o *Orchestrator) smsGroup(ch models.Channel, c models.Category) string {
	if ch != models.ChannelSMS {
		return ""
	}
	if c == models.CategoryGrocery {
		return o.GroceriesGroup
	}
	return o.DefaultGroup
}

// LoadParties fetches the chef and deliverer currently on r. Deleted
// volunteers have been reassigned to the sentinel, which never gets mail.
func LoadParties(tx *gorm.DB, r *models.Request) (Parties, error) {
	var p Parties
	load := func(id *int64) (*models.Volunteer, error) {
		if id == nil {
			return nil, nil
		}
		var v models.Volunteer
		if err := tx.Unscoped().First(&v, *id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				log.Printf("⚠️ volunteer %d on request %s not found", *id, r.UUID)
				return nil, nil
			}
			return nil, err
		}
		return &v, nil
	}
	var err error
	if p.Chef, err = load(r.Assignment.ChefID); err != nil {
		return p, err
	}
	if p.Deliverer, err = load(r.Assignment.DelivererID); err != nil {
		return p, err
	}
	return p, nil
}
