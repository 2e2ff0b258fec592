package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirdesai22/mutualaid/internal/models"
	"github.com/sirdesai22/mutualaid/internal/notify"
)

// requestView is what a volunteer sees of a request. Contact details are
// never included; the street address only once the viewer holds a slot far
// enough along.
type requestView struct {
	UUID         string   `json:"uuid"`
	Category     string   `json:"category"`
	Status       string   `json:"status"`
	Version      int      `json:"version"`
	City         string   `json:"city"`
	Bucket       string   `json:"bucket,omitempty"`
	DistanceKm   *float64 `json:"distance_km,omitempty"`
	NumAdults    int      `json:"num_adults"`
	NumChildren  int      `json:"num_children"`
	ChildrenAges string   `json:"children_ages,omitempty"`
	Dietary      []string `json:"dietary_restrictions"`
	Allergies    string   `json:"food_allergies,omitempty"`
	Preferences  string   `json:"food_preferences,omitempty"`
	Days         []string `json:"available_days"`
	TimePeriods  []string `json:"available_time_periods"`
	Availability string   `json:"availability,omitempty"`

	MealDescription string `json:"meal_description,omitempty"`
	DeliveryDate    string `json:"delivery_date,omitempty"`
	PickupWindow    string `json:"pickup_window,omitempty"`
	DropoffWindow   string `json:"dropoff_window,omitempty"`

	RecipientName string `json:"recipient_name,omitempty"`
	Address       string `json:"address,omitempty"`
	PostalCode    string `json:"postal_code,omitempty"`
	Details       string `json:"delivery_details,omitempty"`
}

func newRequestView(r *models.Request, aud models.Audience, loc *time.Location) requestView {
	v := requestView{
		UUID:            r.UUID.String(),
		Category:        string(r.Category),
		Status:          string(r.Status),
		Version:         r.Version,
		City:            r.Address.City,
		Bucket:          r.Location.Bucket,
		NumAdults:       r.Household.NumAdults,
		NumChildren:     r.Household.NumChildren,
		ChildrenAges:    r.Household.ChildrenAges,
		Dietary:         r.Dietary.Strings(),
		Allergies:       r.Allergies,
		Preferences:     r.Preferences,
		Days:            r.Delivery.Days.Strings(),
		TimePeriods:     r.Delivery.TimePeriods.Strings(),
		Availability:    r.Delivery.Availability,
		MealDescription: r.MealDescription,
		PickupWindow:    window(r.Assignment.PickupStart, r.Assignment.PickupEnd, loc),
		DropoffWindow:   window(r.Assignment.DropoffStart, r.Assignment.DropoffEnd, loc),
	}
	if d := r.Assignment.DeliveryDate; d != nil {
		v.DeliveryDate = d.UTC().Format(dateLayout)
	}
	if notify.AddressVisible(aud, r.Status) {
		if f := strings.Fields(r.Recipient.Name); len(f) > 0 {
			v.RecipientName = f[0]
		}
		v.Address = strings.TrimSpace(r.Address.Line1 + " " + r.Address.Line2)
		v.PostalCode = r.Address.PostalCode
		v.Details = r.Delivery.Details
	}
	return v
}

func window(start, end *time.Time, loc *time.Location) string {
	if start == nil || end == nil {
		return ""
	}
	return fmt.Sprintf("%s-%s", start.In(loc).Format(clockLayout), end.In(loc).Format(clockLayout))
}

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04"
)

// parseDate reads a local calendar date.
func parseDate(s string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(dateLayout, strings.TrimSpace(s), loc)
}

// parseClock reads an HH:MM wall-clock time on day.
func parseClock(day time.Time, s string, loc *time.Location) (time.Time, error) {
	c, err := time.ParseInLocation(clockLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := day.Date()
	return time.Date(y, m, d, c.Hour(), c.Minute(), 0, 0, loc), nil
}

// localDay turns a stored delivery date (midnight UTC) back into the local day.
func localDay(stored time.Time, loc *time.Location) time.Time {
	y, m, d := stored.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
