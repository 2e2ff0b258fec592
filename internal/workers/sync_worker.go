package workers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	es "github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esutil"
	"github.com/google/uuid"
	"github.com/sirdesai22/mutualaid/internal/elastic"
	"github.com/sirdesai22/mutualaid/internal/metrics"
	"github.com/sirdesai22/mutualaid/internal/models"
	"github.com/sirdesai22/mutualaid/internal/services"
	"gorm.io/gorm"
)

// SyncWorker mirrors request changes from the outbox into the dashboard
// index.
type SyncWorker struct {
	DB        *gorm.DB
	ES        *es.Client
	BatchSize int
}

func NewSyncWorker(gdb *gorm.DB, client *es.Client) *SyncWorker {
	return &SyncWorker{DB: gdb, ES: client, BatchSize: 200}
}

func (w *SyncWorker) Run(ctx context.Context, every time.Duration) {
	if err := elastic.EnsureIndexes(ctx, w.ES); err != nil {
		log.Printf("❌ ensure indexes: %v", err)
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.processOnce(ctx); err != nil {
				log.Printf("❌ sync worker error: %v", err)
			}
		}
	}
}

// processOnce ships one outbox batch and returns how many events it read.
func (w *SyncWorker) processOnce(ctx context.Context) (int, error) {
	batch, err := FetchOutboxBatch(ctx, w.DB, w.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(batch.Events) == 0 {
		return 0, nil
	}

	bi, err := w.indexer()
	if err != nil {
		return 0, err
	}
	for _, e := range batch.Events {
		err := w.applyEvent(ctx, bi, e, func(msg string) {
			metrics.FailedEvents.Inc()
			PutDLQ(w.DB, e, msg)
		})
		if err != nil {
			metrics.FailedEvents.Inc()
			PutDLQ(w.DB, e, err.Error())
			continue
		}
		metrics.ProcessedEvents.Inc()
	}

	if err := bi.Close(ctx); err != nil {
		return len(batch.Events), err
	}
	stats := bi.Stats()
	log.Printf("📤 bulk ok=%d failed=%d", stats.NumFlushed, stats.NumFailed)
	return len(batch.Events), nil
}

func (w *SyncWorker) indexer() (esutil.BulkIndexer, error) {
	return esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Client: w.ES, Index: elastic.IdxRequests, FlushBytes: 5 << 20, NumWorkers: 2,
	})
}

// applyEvent queues the index action for e. failed runs when the index
// rejects the item after the flush.
func (w *SyncWorker) applyEvent(ctx context.Context, bi esutil.BulkIndexer, e models.Outbox, failed func(msg string)) error {
	if e.EntityType != services.EntityRequest {
		return fmt.Errorf("unknown entity_type=%s", e.EntityType)
	}
	id := e.EntityID.String()
	if e.Op == services.OpDelete {
		return w.add(ctx, bi, id, "delete", nil, failed)
	}

	var r models.Request
	if err := w.DB.WithContext(ctx).Where("uuid = ?", e.EntityID).First(&r).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return w.add(ctx, bi, id, "delete", nil, failed)
		}
		return err
	}
	doc, err := elastic.BuildRequestDoc(r)
	if err != nil {
		return err
	}
	return w.add(ctx, bi, id, "index", doc, failed)
}

func (w *SyncWorker) add(ctx context.Context, bi esutil.BulkIndexer, docID, action string, body []byte, failed func(msg string)) error {
	item := esutil.BulkIndexerItem{
		Action:     action,
		DocumentID: docID,
		OnSuccess: func(ctx context.Context, item esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem) {
			log.Printf("✅ synced %s id=%s", elastic.IdxRequests, docID)
		},
		OnFailure: func(ctx context.Context, item esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem, err error) {
			msg := ""
			switch {
			case err != nil:
				msg = err.Error()
			case res.Error.Reason != "":
				msg = fmt.Sprintf("%s: %s", res.Error.Type, res.Error.Reason)
			case action == "delete" && res.Status == 404:
				return
			default:
				msg = fmt.Sprintf("status=%d failed to %s", res.Status, action)
			}
			if failed != nil {
				failed(msg)
			}
		},
	}
	if len(body) > 0 {
		item.Body = bytes.NewReader(body)
	}
	return bi.Add(ctx, item)
}

// outboxFromDLQ rebuilds the event a DLQ row was made from.
func outboxFromDLQ(d models.DLQ) (models.Outbox, error) {
	id, err := uuid.Parse(d.EntityID)
	if err != nil {
		return models.Outbox{}, fmt.Errorf("dlq %d: bad entity id %q: %w", d.ID, d.EntityID, err)
	}
	return models.Outbox{
		ID:         d.OutboxID,
		EntityType: d.EntityType,
		EntityID:   id,
		Op:         d.Op,
		Payload:    d.Payload,
	}, nil
}
