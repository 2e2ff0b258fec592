// Package workers runs the background loops: outbox to search index sync,
// DLQ retries and re-geocoding.
package workers

import (
	"context"
	"log"
	"time"

	"github.com/sirdesai22/mutualaid/internal/db"
	"github.com/sirdesai22/mutualaid/internal/metrics"
	"github.com/sirdesai22/mutualaid/internal/models"
	"gorm.io/gorm"
)

type OutboxBatch struct{ Events []models.Outbox }

// FetchOutboxBatch claims up to limit unprocessed outbox events, marking
// them processed as it reads them. On Postgres, FOR UPDATE SKIP LOCKED lets
// several workers share the table.
func FetchOutboxBatch(ctx context.Context, gdb *gorm.DB, limit int) (OutboxBatch, error) {
	var evts []models.Outbox
	if db.IsPostgres(gdb) {
		tx := gdb.WithContext(ctx).Raw(`
			WITH cte AS (
			  SELECT * FROM outboxes
			  WHERE processed = false
			  ORDER BY id ASC
			  LIMIT ?
			  FOR UPDATE SKIP LOCKED
			)
			UPDATE outboxes SET processed = true
			FROM cte
			WHERE outboxes.id = cte.id
			RETURNING cte.*`, limit).Scan(&evts)
		return OutboxBatch{Events: evts}, tx.Error
	}

	err := gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("processed = ?", false).Order("id ASC").Limit(limit).Find(&evts).Error; err != nil {
			return err
		}
		if len(evts) == 0 {
			return nil
		}
		ids := make([]int64, len(evts))
		for i, e := range evts {
			ids[i] = e.ID
		}
		return tx.Model(&models.Outbox{}).Where("id IN ?", ids).Update("processed", true).Error
	})
	return OutboxBatch{Events: evts}, err
}

// PutDLQ inserts a failed outbox event into the DLQ table.
func PutDLQ(gdb *gorm.DB, ob models.Outbox, msg string) {
	metrics.DLQEvents.Inc()
	dlq := models.DLQ{
		OutboxID:   ob.ID,
		EntityType: ob.EntityType,
		EntityID:   ob.EntityID.String(),
		Op:         ob.Op,
		ErrorMsg:   msg,
		Payload:    ob.Payload,
		CreatedAt:  time.Now().UTC(),
	}
	if err := gdb.Create(&dlq).Error; err != nil {
		log.Printf("❌ Failed to insert into DLQ: %v", err)
	} else {
		log.Printf("💀 DLQ record created for outbox_id=%d", ob.ID)
	}
}
