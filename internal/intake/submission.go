package intake

import (
	"fmt"
	"net/mail"
	"slices"
	"strings"

	"github.com/sirdesai22/mutualaid/internal/config"
	"github.com/sirdesai22/mutualaid/internal/errs"
	"github.com/sirdesai22/mutualaid/internal/geo"
	"github.com/sirdesai22/mutualaid/internal/models"
)

// Submission is the public request form.
type Submission struct {
	Category models.Category `json:"-"`

	Name                   string `json:"name"`
	Email                  string `json:"email"`
	Phone                  string `json:"phone_number"`
	CanReceiveTexts        bool   `json:"can_receive_texts"`
	Notes                  string `json:"notes"`
	AcceptTerms            bool   `json:"accept_terms"`
	AcknowledgeDataSharing bool   `json:"acknowledge_data_sharing"`

	AddressLine1 string `json:"address_1"`
	AddressLine2 string `json:"address_2"`
	City         string `json:"city"`
	PostalCode   string `json:"postal_code"`

	NumAdults    int    `json:"num_adults"`
	NumChildren  int    `json:"num_children"`
	ChildrenAges string `json:"children_ages"`

	Demographics []string `json:"demographics"`
	Dietary      []string `json:"dietary_restrictions"`
	Allergies    string   `json:"food_allergies"`
	Preferences  string   `json:"food_preferences"`

	DeliveryDays       []string `json:"available_days"`
	DeliveryPeriods    []string `json:"available_time_periods"`
	Availability       string   `json:"availability"`
	DeliveryDetails    string   `json:"delivery_details"`
	CanMeetForDelivery bool     `json:"can_meet_for_delivery"`

	Vegetables      []string `json:"vegetables"`
	Fruits          []string `json:"fruits"`
	Grains          []string `json:"grains"`
	Condiments      []string `json:"condiments"`
	Protein         []string `json:"protein"`
	Dairy           []string `json:"dairy"`
	BakedGoods      bool     `json:"baked_goods"`
	KidSnacks       bool     `json:"kid_snacks"`
	HygieneProducts string   `json:"hygiene_products"`
	GiftCard        string   `json:"gift_card"`
}

const (
	maxNameLength  = 255
	maxEmailLength = 255
)

var (
	weekdays    = []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}
	timePeriods = []string{"morning", "afternoon", "evening"}
	giftCards   = []string{"", "none", "grocery", "pharmacy"}
)

// Validate checks every field and returns the normalized request, or an
// *errs.ValidationError naming each field that failed.
func Validate(s Submission, cfg config.Config) (*models.Request, error) {
	ve := &errs.ValidationError{}

	if !s.Category.Valid() {
		ve.Add("category", "must be meal or grocery")
	}

	name := strings.TrimSpace(s.Name)
	switch {
	case name == "":
		ve.Add("name", "is required")
	case len(name) > maxNameLength:
		ve.Add("name", fmt.Sprintf("must be at most %d characters", maxNameLength))
	}

	email := strings.TrimSpace(s.Email)
	if email != "" {
		if len(email) > maxEmailLength {
			ve.Add("email", fmt.Sprintf("must be at most %d characters", maxEmailLength))
		} else if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
			ve.Add("email", "is not a valid email address")
		}
	}

	phone := NormalizePhone(s.Phone)
	if strings.TrimSpace(s.Phone) != "" && phone == "" {
		ve.Add("phone_number", "must be a 10-digit phone number")
	}
	if email == "" && phone == "" {
		ve.Add("email", "an email address or phone number is required")
	}
	if s.CanReceiveTexts && phone == "" {
		ve.Add("can_receive_texts", "requires a phone number")
	}
	if !s.AcceptTerms {
		ve.Add("accept_terms", "must be accepted")
	}

	line1 := strings.TrimSpace(s.AddressLine1)
	line2 := strings.TrimSpace(s.AddressLine2)
	switch {
	case line1 == "":
		ve.Add("address_1", "is required")
	case len(line1) > cfg.AddressMaxLength:
		ve.Add("address_1", fmt.Sprintf("must be at most %d characters", cfg.AddressMaxLength))
	}
	if len(line2) > cfg.AddressMaxLength {
		ve.Add("address_2", fmt.Sprintf("must be at most %d characters", cfg.AddressMaxLength))
	}
	city := strings.TrimSpace(s.City)
	if !geo.SupportedCity(city) {
		ve.Add("city", "must be one of "+strings.Join(geo.SupportedCities(), ", "))
	}
	postal := NormalizePostalCode(s.PostalCode)
	if !ValidPostalCode(postal, cfg.PostalCodePrefixes) {
		ve.Add("postal_code", "is not a postal code in the service area")
	}

	if s.NumAdults < 1 {
		ve.Add("num_adults", "must be at least 1")
	}
	if s.NumChildren < 0 {
		ve.Add("num_children", "must not be negative")
	}

	demographics := models.NewTagSet(toTags[models.Demographic](s.Demographics)...)
	if bad := demographics.Unknown(models.Demographics); len(bad) > 0 {
		ve.Add("demographics", fmt.Sprintf("unknown value %q", bad[0]))
	}
	dietary := models.NewTagSet(toTags[models.DietaryFlag](s.Dietary)...)
	if bad := dietary.Unknown(models.DietaryFlags); len(bad) > 0 {
		ve.Add("dietary_restrictions", fmt.Sprintf("unknown value %q", bad[0]))
	}
	days := lowerSet(s.DeliveryDays)
	if bad := days.Unknown(weekdays); len(bad) > 0 {
		ve.Add("available_days", fmt.Sprintf("unknown value %q", bad[0]))
	}
	periods := lowerSet(s.DeliveryPeriods)
	if bad := periods.Unknown(timePeriods); len(bad) > 0 {
		ve.Add("available_time_periods", fmt.Sprintf("unknown value %q", bad[0]))
	}
	giftCard := strings.ToLower(strings.TrimSpace(s.GiftCard))
	if s.Category == models.CategoryGrocery && !slices.Contains(giftCards, giftCard) {
		ve.Add("gift_card", fmt.Sprintf("unknown value %q", s.GiftCard))
	}

	if err := ve.OrNil(); err != nil {
		return nil, err
	}

	r := &models.Request{
		Category: s.Category,
		Status:   models.StatusSubmitted,
		Recipient: models.Recipient{
			Name:                   name,
			Email:                  email,
			Phone:                  phone,
			CanReceiveTexts:        s.CanReceiveTexts,
			Notes:                  strings.TrimSpace(s.Notes),
			AcceptTerms:            s.AcceptTerms,
			AcknowledgeDataSharing: s.AcknowledgeDataSharing,
		},
		Address: models.Address{Line1: line1, Line2: line2, City: city, PostalCode: postal},
		Household: models.Household{
			NumAdults:    s.NumAdults,
			NumChildren:  s.NumChildren,
			ChildrenAges: strings.TrimSpace(s.ChildrenAges),
		},
		Demographics: demographics,
		Dietary:      dietary,
		Allergies:    strings.TrimSpace(s.Allergies),
		Preferences:  strings.TrimSpace(s.Preferences),
		Delivery: models.DeliveryPreferences{
			Days:               days,
			TimePeriods:        periods,
			Availability:       strings.TrimSpace(s.Availability),
			Details:            strings.TrimSpace(s.DeliveryDetails),
			CanMeetForDelivery: s.CanMeetForDelivery,
		},
	}
	if s.Category == models.CategoryGrocery {
		r.Grocery = models.GroceryDetails{
			Vegetables:      lowerSet(s.Vegetables),
			Fruits:          lowerSet(s.Fruits),
			Grains:          lowerSet(s.Grains),
			Condiments:      lowerSet(s.Condiments),
			Protein:         lowerSet(s.Protein),
			Dairy:           lowerSet(s.Dairy),
			BakedGoods:      s.BakedGoods,
			KidSnacks:       s.KidSnacks,
			HygieneProducts: strings.TrimSpace(s.HygieneProducts),
			GiftCard:        giftCard,
		}
	}
	return r, nil
}

func toTags[T ~string](vals []string) []T {
	out := make([]T, 0, len(vals))
	for _, v := range vals {
		out = append(out, T(strings.ToLower(strings.TrimSpace(v))))
	}
	return out
}

func lowerSet(vals []string) models.TagSet[string] {
	return models.NewTagSet(toTags[string](vals)...)
}
