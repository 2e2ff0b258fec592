package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ---------------- REQUESTS ----------------

type Recipient struct {
	Name                   string `gorm:"size:255;not null"`
	Email                  string `gorm:"size:255"`
	Phone                  string `gorm:"size:10"` // ten digits or empty
	CanReceiveTexts        bool
	Notes                  string
	AcceptTerms            bool
	AcknowledgeDataSharing bool
}

type Address struct {
	Line1      string `gorm:"size:255"`
	Line2      string `gorm:"size:255"`
	City       string `gorm:"size:64"`
	PostalCode string `gorm:"size:7"`
}

type Household struct {
	NumAdults    int `gorm:"not null;default:1"`
	NumChildren  int `gorm:"not null;default:0"`
	ChildrenAges string
}

type DeliveryPreferences struct {
	Days               TagSet[string]
	TimePeriods        TagSet[string]
	Availability       string
	Details            string
	CanMeetForDelivery bool
}

// Location is the anonymized pin. Sentinel is set when the city centre is in
// use because geocoding failed.
type Location struct {
	Latitude          float64
	Longitude         float64
	Sentinel          bool
	NeedsRegeocode    bool `gorm:"index"`
	RegeocodeAttempts int
	Bucket            string `gorm:"size:32;index"`
}

// Assignment holds the two claim slots and the agreed windows.
type Assignment struct {
	ChefID       *int64 `gorm:"index:idx_requests_chef_status,priority:1"`
	DelivererID  *int64 `gorm:"index:idx_requests_deliverer_status,priority:1"`
	PickupStart  *time.Time
	PickupEnd    *time.Time
	DropoffStart *time.Time
	DropoffEnd   *time.Time
	DeliveryDate *time.Time `gorm:"index"`
}

type GroceryDetails struct {
	Vegetables      TagSet[string]
	Fruits          TagSet[string]
	Grains          TagSet[string]
	Condiments      TagSet[string]
	Protein         TagSet[string]
	Dairy           TagSet[string]
	BakedGoods      bool
	KidSnacks       bool
	HygieneProducts string
	GiftCard        string `gorm:"size:64"` // recorded choice only
}

// Request is a meal or grocery request. The category never changes after creation.
type Request struct {
	ID       int64     `gorm:"primaryKey;autoIncrement"`
	UUID     uuid.UUID `gorm:"type:uuid;uniqueIndex;not null"`
	Category Category  `gorm:"size:16;not null;index:idx_requests_category_status_created,priority:1"`
	Status   Status    `gorm:"size:24;not null;index:idx_requests_category_status_created,priority:2;index:idx_requests_chef_status,priority:2;index:idx_requests_deliverer_status,priority:2"`
	Version  int       `gorm:"not null;default:1"`

	Recipient    Recipient           `gorm:"embedded;embeddedPrefix:recipient_"`
	Address      Address             `gorm:"embedded;embeddedPrefix:address_"`
	Household    Household           `gorm:"embedded"`
	Demographics TagSet[Demographic]
	Dietary      TagSet[DietaryFlag]
	Allergies    string
	Preferences  string
	Delivery     DeliveryPreferences `gorm:"embedded;embeddedPrefix:delivery_"`
	Location     Location            `gorm:"embedded;embeddedPrefix:location_"`
	Assignment   Assignment          `gorm:"embedded"`

	MealDescription string
	Grocery         GroceryDetails `gorm:"embedded;embeddedPrefix:grocery_"`

	NotificationFailed bool
	SelectedAt         *time.Time `gorm:"index"`
	ReminderSentAt     *time.Time
	ArchivedAt         *time.Time
	CreatedAt          time.Time `gorm:"index:idx_requests_category_status_created,priority:3"`
	UpdatedAt          time.Time
}

func (r *Request) BeforeCreate(tx *gorm.DB) error {
	if r.UUID == uuid.Nil {
		r.UUID = uuid.New()
	}
	return nil
}

// InAnyDemographic reports whether the requester self-identified with any tracked group.
func (r *Request) InAnyDemographic() bool {
	return r.Demographics.Intersects(Demographics)
}

// ---------------- NOTES ----------------

// UpdateNote is an append-only audit entry on a request.
type UpdateNote struct {
	ID        int64 `gorm:"primaryKey;autoIncrement"`
	RequestID int64 `gorm:"index;not null"`
	AuthorID  int64 `gorm:"index;not null"`
	Body      string
	Metadata  datatypes.JSON
	CreatedAt time.Time
}

// ---------------- OUTBOX (for sync events) ----------------
type Outbox struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	EntityType string    `gorm:"index;not null"`
	EntityID   uuid.UUID `gorm:"type:uuid;not null"`
	Op         string    `gorm:"not null"` // UPSERT | DELETE
	Payload    datatypes.JSON
	CreatedAt  time.Time
	Processed  bool `gorm:"default:false"`
}
