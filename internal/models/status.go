package models

import (
	"fmt"
	"strings"
	"time"
)

type Category string

const (
	CategoryMeal    Category = "meal"
	CategoryGrocery Category = "grocery"
)

func (c Category) Valid() bool { return c == CategoryMeal || c == CategoryGrocery }

// ParseCategory accepts the singular and plural forms used by the operator commands.
func ParseCategory(s string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "meal", "meals":
		return CategoryMeal, nil
	case "grocery", "groceries":
		return CategoryGrocery, nil
	}
	return "", fmt.Errorf("unknown category %q", s)
}

type Status string

const (
	StatusSubmitted      Status = "submitted"
	StatusSelected       Status = "selected"
	StatusNotSelected    Status = "not_selected"
	StatusChefAssigned   Status = "chef_assigned"
	StatusDriverAssigned Status = "driver_assigned"
	StatusDateConfirmed  Status = "date_confirmed"
	StatusRescheduled    Status = "rescheduled"
	StatusDelivered      Status = "delivered"
)

var AllStatuses = []Status{
	StatusSubmitted, StatusSelected, StatusNotSelected, StatusChefAssigned,
	StatusDriverAssigned, StatusDateConfirmed, StatusRescheduled, StatusDelivered,
}

// AdmittedStatuses are the states a request can only reach through the lottery
// or an operator override.
var AdmittedStatuses = []Status{
	StatusSelected, StatusChefAssigned, StatusDriverAssigned,
	StatusDateConfirmed, StatusRescheduled, StatusDelivered,
}

func (s Status) Terminal() bool { return s == StatusNotSelected || s == StatusDelivered }

func (s Status) Admitted() bool {
	for _, a := range AdmittedStatuses {
		if s == a {
			return true
		}
	}
	return false
}

// Rank orders statuses along the main path. Rescheduled keeps the chef slot and
// ranks with ChefAssigned; NotSelected ranks below everything.
func (s Status) Rank() int {
	switch s {
	case StatusSubmitted:
		return 0
	case StatusSelected:
		return 1
	case StatusChefAssigned, StatusRescheduled:
		return 2
	case StatusDriverAssigned:
		return 3
	case StatusDateConfirmed:
		return 4
	case StatusDelivered:
		return 5
	}
	return -1
}

// AtLeast reports whether s is at or past other on the main path.
func (s Status) AtLeast(other Status) bool { return s.Rank() >= other.Rank() }

// ParseStatus maps canonical and historical status names onto the canonical enum.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "submitted", "new", "pending":
		return StatusSubmitted, nil
	case "selected", "open":
		return StatusSelected, nil
	case "not_selected", "notselected", "waitlisted":
		return StatusNotSelected, nil
	case "chef_assigned", "claimed", "chef_claimed":
		return StatusChefAssigned, nil
	case "driver_assigned", "deliverer_assigned":
		return StatusDriverAssigned, nil
	case "date_confirmed", "confirmed":
		return StatusDateConfirmed, nil
	case "rescheduled":
		return StatusRescheduled, nil
	case "delivered", "complete", "completed":
		return StatusDelivered, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// DateOf returns the local calendar date of t as midnight UTC, the form in
// which delivery dates are stored.
func DateOf(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
