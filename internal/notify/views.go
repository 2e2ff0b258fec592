package notify

import (
	"strings"
	"time"

	"github.com/sirdesai22/mutualaid/internal/models"
)

// Parties are the volunteers attached to an event. Volunteer is an extra
// audience for events that concern someone no longer on the request.
type Parties struct {
	Chef      *models.Volunteer
	Deliverer *models.Volunteer
	Volunteer *models.Volunteer
}

// RecipientView is everything a recipient template may show. Volunteers
// appear by short name only.
type RecipientView struct {
	Name          string
	Category      string
	RequestUUID   string
	ChefName      string
	DelivererName string
	DeliveryDate  string
	DropoffWindow string
}

// VolunteerView is everything a volunteer template may show. Address and
// recipient contact fields are blank unless ShowAddress is set.
type VolunteerView struct {
	Name            string
	RequestUUID     string
	ShortID         string
	Category        string
	City            string
	HouseholdSize   int
	Dietary         string
	Allergies       string
	MealDescription string
	DeliveryDate    string
	PickupWindow    string
	DropoffWindow   string

	ShowAddress     bool
	Address         string
	RecipientName   string
	RecipientPhone  string
	DeliveryDetails string
}

// AddressVisible reports whether aud may see the street address at status s:
// chefs from ChefAssigned on, deliverers from DriverAssigned on.
func AddressVisible(aud models.Audience, s models.Status) bool {
	switch aud {
	case models.AudienceChef:
		return s.AtLeast(models.StatusChefAssigned)
	case models.AudienceDeliverer:
		return s.AtLeast(models.StatusDriverAssigned)
	}
	return false
}

func NewRecipientView(r *models.Request, p Parties, loc *time.Location) RecipientView {
	v := RecipientView{
		Name:          firstName(r.Recipient.Name),
		Category:      categoryLabel(r.Category),
		RequestUUID:   r.UUID.String(),
		ChefName:      "A volunteer",
		DelivererName: "A volunteer",
		DeliveryDate:  formatDate(r.Assignment.DeliveryDate),
		DropoffWindow: formatWindow(r.Assignment.DropoffStart, r.Assignment.DropoffEnd, loc),
	}
	if p.Chef != nil {
		v.ChefName = p.Chef.DisplayShortName()
	}
	if p.Deliverer != nil {
		v.DelivererName = p.Deliverer.DisplayShortName()
	}
	return v
}

func NewVolunteerView(r *models.Request, vol *models.Volunteer, aud models.Audience, loc *time.Location) VolunteerView {
	v := VolunteerView{
		Name:            vol.DisplayShortName(),
		RequestUUID:     r.UUID.String(),
		ShortID:         shortID(r),
		Category:        categoryLabel(r.Category),
		City:            r.Address.City,
		HouseholdSize:   r.Household.NumAdults + r.Household.NumChildren,
		Dietary:         strings.Join(r.Dietary.Strings(), ", "),
		Allergies:       r.Allergies,
		MealDescription: r.MealDescription,
		DeliveryDate:    formatDate(r.Assignment.DeliveryDate),
		PickupWindow:    formatWindow(r.Assignment.PickupStart, r.Assignment.PickupEnd, loc),
		DropoffWindow:   formatWindow(r.Assignment.DropoffStart, r.Assignment.DropoffEnd, loc),
	}
	if AddressVisible(aud, r.Status) {
		v.ShowAddress = true
		v.Address = streetAddress(r.Address)
		v.RecipientName = r.Recipient.Name
		v.RecipientPhone = r.Recipient.Phone
		v.DeliveryDetails = r.Delivery.Details
	}
	return v
}

func categoryLabel(c models.Category) string {
	if c == models.CategoryGrocery {
		return "grocery box"
	}
	return "meal"
}

func shortID(r *models.Request) string {
	return strings.ToUpper(r.UUID.String()[:8])
}

func firstName(name string) string {
	if f := strings.Fields(name); len(f) > 0 {
		return f[0]
	}
	return "there"
}

func streetAddress(a models.Address) string {
	parts := []string{a.Line1}
	if a.Line2 != "" {
		parts = append(parts, a.Line2)
	}
	parts = append(parts, a.City, a.PostalCode)
	return strings.Join(parts, ", ")
}

// Delivery dates are stored as midnight UTC of the local calendar day.
func formatDate(d *time.Time) string {
	if d == nil {
		return ""
	}
	return d.UTC().Format("Monday, January 2")
}

func formatWindow(start, end *time.Time, loc *time.Location) string {
	if start == nil || end == nil {
		return "times to be confirmed"
	}
	return start.In(loc).Format("3:04 PM") + " and " + end.In(loc).Format("3:04 PM")
}
