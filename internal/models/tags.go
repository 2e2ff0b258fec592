package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

type Demographic string

const (
	DemographicBIPOC        Demographic = "bipoc"
	DemographicLGBTQ        Demographic = "lgbtq"
	DemographicDisability   Demographic = "has_disability"
	DemographicImmigrant    Demographic = "immigrant_or_refugee"
	DemographicHousing      Demographic = "housing_issues"
	DemographicSexWorker    Demographic = "sex_worker"
	DemographicSingleParent Demographic = "single_parent"
	DemographicSenior       Demographic = "senior"
)

var Demographics = []Demographic{
	DemographicBIPOC, DemographicLGBTQ, DemographicDisability, DemographicImmigrant,
	DemographicHousing, DemographicSexWorker, DemographicSingleParent, DemographicSenior,
}

type DietaryFlag string

const (
	DietDairyFree            DietaryFlag = "dairy_free"
	DietGlutenFree           DietaryFlag = "gluten_free"
	DietHalal                DietaryFlag = "halal"
	DietKosher               DietaryFlag = "kosher"
	DietLowCarb              DietaryFlag = "low_carb"
	DietVegan                DietaryFlag = "vegan"
	DietVegetarian           DietaryFlag = "vegetarian"
	DietWillAcceptVegan      DietaryFlag = "will_accept_vegan"
	DietWillAcceptVegetarian DietaryFlag = "will_accept_vegetarian"
)

var DietaryFlags = []DietaryFlag{
	DietDairyFree, DietGlutenFree, DietHalal, DietKosher, DietLowCarb,
	DietVegan, DietVegetarian, DietWillAcceptVegan, DietWillAcceptVegetarian,
}

type Role string

const (
	RoleChef      Role = "chef"
	RoleDeliverer Role = "deliverer"
	RoleOrganizer Role = "organizer"
)

var Roles = []Role{RoleChef, RoleDeliverer, RoleOrganizer}

// TagSet is a set of enum values stored as a JSON array. Rows written by the
// old multi-select fields ("['a', 'b']" or "a,b") are read transparently.
type TagSet[T ~string] []T

func NewTagSet[T ~string](vals ...T) TagSet[T] {
	var s TagSet[T]
	for _, v := range vals {
		s = s.With(v)
	}
	return s
}

func (s TagSet[T]) Has(v T) bool { return slices.Contains(s, v) }

func (s TagSet[T]) With(v T) TagSet[T] {
	if v == "" || s.Has(v) {
		return s
	}
	return append(s, v)
}

func (s TagSet[T]) Empty() bool { return len(s) == 0 }

// Intersects reports whether any member of s is in vocab.
func (s TagSet[T]) Intersects(vocab []T) bool {
	for _, v := range s {
		if slices.Contains(vocab, v) {
			return true
		}
	}
	return false
}

func (s TagSet[T]) Strings() []string {
	out := make([]string, len(s))
	for i, v := range s {
		out[i] = string(v)
	}
	return out
}

// Equal compares as sets.
func (s TagSet[T]) Equal(o TagSet[T]) bool {
	if len(s) != len(o) {
		return false
	}
	for _, v := range s {
		if !o.Has(v) {
			return false
		}
	}
	return true
}

// Unknown returns the members of s that are not in vocab.
func (s TagSet[T]) Unknown(vocab []T) []T {
	var out []T
	for _, v := range s {
		if !slices.Contains(vocab, v) {
			out = append(out, v)
		}
	}
	return out
}

func (TagSet[T]) GormDataType() string { return "text" }

func (s TagSet[T]) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]T(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *TagSet[T]) Scan(value any) error {
	var raw string
	switch v := value.(type) {
	case nil:
		*s = nil
		return nil
	case []byte:
		raw = string(v)
	case string:
		raw = v
	default:
		return fmt.Errorf("tagset: unsupported type %T", value)
	}
	vals, err := ParseLegacyList(raw)
	if err != nil {
		return err
	}
	out := make(TagSet[T], 0, len(vals))
	for _, v := range vals {
		out = out.With(T(v))
	}
	*s = out
	return nil
}

// ParseLegacyList decodes a JSON array, the single-quoted bracket form
// "['a', 'b']", or a bare comma-separated list.
func ParseLegacyList(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if strings.HasPrefix(raw, "[") {
		var vals []string
		if err := json.Unmarshal([]byte(raw), &vals); err == nil {
			return vals, nil
		}
		if !strings.HasSuffix(raw, "]") {
			return nil, fmt.Errorf("malformed list %q", raw)
		}
		raw = raw[1 : len(raw)-1]
	}
	var vals []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.Trim(strings.TrimSpace(part), `'"`)
		if part != "" {
			vals = append(vals, part)
		}
	}
	return vals, nil
}
