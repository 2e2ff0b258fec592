package elastic

import (
	"encoding/json"
	"time"

	"github.com/sirdesai22/mutualaid/internal/models"
)

// GeoPoint is the geo_point form the index stores.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// RequestDoc is what the organizer dashboard searches. It holds only the
// anonymized pin and coarse fields: no name, street address or contact.
type RequestDoc struct {
	UUID               string     `json:"uuid"`
	Category           string     `json:"category"`
	Status             string     `json:"status"`
	City               string     `json:"city"`
	Location           *GeoPoint  `json:"location,omitempty"`
	Bucket             string     `json:"bucket,omitempty"`
	SentinelLocation   bool       `json:"sentinel_location"`
	HouseholdSize      int        `json:"household_size"`
	DemographicCount   int        `json:"demographic_count"`
	Dietary            []string   `json:"dietary"`
	HasChef            bool       `json:"has_chef"`
	HasDeliverer       bool       `json:"has_deliverer"`
	NotificationFailed bool       `json:"notification_failed"`
	SubmittedAt        time.Time  `json:"submitted_at"`
	SelectedAt         *time.Time `json:"selected_at,omitempty"`
	DeliveryDate       string     `json:"delivery_date,omitempty"`
	Version            int        `json:"version"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func NewRequestDoc(r models.Request) RequestDoc {
	d := RequestDoc{
		UUID:               r.UUID.String(),
		Category:           string(r.Category),
		Status:             string(r.Status),
		City:               r.Address.City,
		Bucket:             r.Location.Bucket,
		SentinelLocation:   r.Location.Sentinel,
		HouseholdSize:      r.Household.NumAdults + r.Household.NumChildren,
		DemographicCount:   len(r.Demographics),
		Dietary:            r.Dietary.Strings(),
		HasChef:            r.Assignment.ChefID != nil,
		HasDeliverer:       r.Assignment.DelivererID != nil,
		NotificationFailed: r.NotificationFailed,
		SubmittedAt:        r.CreatedAt.UTC(),
		SelectedAt:         r.SelectedAt,
		Version:            r.Version,
		UpdatedAt:          r.UpdatedAt.UTC(),
	}
	if r.Location.Latitude != 0 || r.Location.Longitude != 0 {
		d.Location = &GeoPoint{Lat: r.Location.Latitude, Lon: r.Location.Longitude}
	}
	if r.Assignment.DeliveryDate != nil {
		d.DeliveryDate = r.Assignment.DeliveryDate.UTC().Format("2006-01-02")
	}
	return d
}

func BuildRequestDoc(r models.Request) ([]byte, error) {
	return json.Marshal(NewRequestDoc(r))
}
