package models

import "time"

type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

type Audience string

const (
	AudienceRecipient Audience = "recipient"
	AudienceChef      Audience = "chef"
	AudienceDeliverer Audience = "deliverer"
	AudienceVolunteer Audience = "volunteer"
)

type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSending NotificationStatus = "sending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
)

// Notification is a rendered message waiting for (or done with) delivery.
type Notification struct {
	ID          int64              `gorm:"primaryKey;autoIncrement"`
	RequestID   *int64             `gorm:"index"`
	VolunteerID *int64             `gorm:"index"`
	Event       string             `gorm:"size:64;not null"`
	Audience    Audience           `gorm:"size:16;not null"`
	Channel     Channel            `gorm:"size:8;not null"`
	Destination string             `gorm:"size:255;not null"`
	GroupUUID   string             `gorm:"size:64"`
	Subject     string
	Body        string
	Status      NotificationStatus `gorm:"size:16;not null;index"`
	Attempts    int
	LastError   string
	SentAt      *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
