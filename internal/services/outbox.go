package services

import (
	"encoding/json"
	"log"

	"github.com/google/uuid"
	"github.com/sirdesai22/mutualaid/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	EntityRequest = "request"

	OpUpsert = "UPSERT"
	OpDelete = "DELETE"
)

// RequestEvent is the outbox payload for a request change.
type RequestEvent struct {
	UUID     uuid.UUID       `json:"uuid"`
	Category models.Category `json:"category"`
	From     models.Status   `json:"from,omitempty"`
	To       models.Status   `json:"to"`
	Actor    string          `json:"actor,omitempty"`
	Version  int             `json:"version"`
}

// AddOutboxEvent inserts one event into the outbox. Call it with the
// transaction that made the change so both commit together.
func AddOutboxEvent(tx *gorm.DB, entityType string, entityID uuid.UUID, op string, payload any) error {
	data, _ := json.Marshal(payload)

	event := models.Outbox{
		EntityType: entityType,
		EntityID:   entityID,
		Op:         op,
		Payload:    datatypes.JSON(data),
	}

	if err := tx.Create(&event).Error; err != nil {
		log.Printf("❌ Failed to create outbox event: %v", err)
		return err
	}
	return nil
}

// AddRequestEvent records that r moved from -> r.Status.
func AddRequestEvent(tx *gorm.DB, r *models.Request, from models.Status, actor string) error {
	return AddOutboxEvent(tx, EntityRequest, r.UUID, OpUpsert, RequestEvent{
		UUID:     r.UUID,
		Category: r.Category,
		From:     from,
		To:       r.Status,
		Actor:    actor,
		Version:  r.Version,
	})
}

// AddBatchOutboxEvents inserts multiple events efficiently.
// Used for cascading updates (e.g., reindex every request a deleted volunteer held).
func AddBatchOutboxEvents(tx *gorm.DB, entityType string, op string, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	events := make([]models.Outbox, 0, len(ids))
	for _, id := range ids {
		events = append(events, models.Outbox{
			EntityType: entityType,
			EntityID:   id,
			Op:         op,
		})
	}
	if err := tx.Create(&events).Error; err != nil {
		log.Printf("❌ Failed to insert batch outbox for %s: %v", entityType, err)
		return err
	}
	log.Printf("📦 %d outbox events created for %s", len(ids), entityType)
	return nil
}
