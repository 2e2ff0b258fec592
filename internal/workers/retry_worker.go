package workers

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/sirdesai22/mutualaid/internal/metrics"
	"github.com/sirdesai22/mutualaid/internal/models"
)

// MaxDLQAttempts is how often a DLQ row is retried before it is left for an
// operator.
const MaxDLQAttempts = 10

func (w *SyncWorker) RetryDLQ(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.retryOnce(ctx); err != nil {
				log.Printf("❌ DLQ retry error: %v", err)
			}
		}
	}
}

// retryOnce re-applies up to 50 unresolved DLQ rows and returns how many
// were resolved.
func (w *SyncWorker) retryOnce(ctx context.Context) (int, error) {
	var dlqs []models.DLQ
	if err := w.DB.WithContext(ctx).
		Where("resolved = ? AND attempts < ?", false, MaxDLQAttempts).
		Order("id ASC").Limit(50).
		Find(&dlqs).Error; err != nil {
		return 0, err
	}
	if len(dlqs) == 0 {
		return 0, nil
	}

	bi, err := w.indexer()
	if err != nil {
		return 0, err
	}
	var mu sync.Mutex
	failed := map[int64]string{}
	queued := make([]models.DLQ, 0, len(dlqs))
	for _, d := range dlqs {
		log.Printf("♻️ Retrying DLQ id=%d entity=%s op=%s", d.ID, d.EntityType, d.Op)
		ob, err := outboxFromDLQ(d)
		if err == nil {
			id := d.ID
			err = w.applyEvent(ctx, bi, ob, func(msg string) {
				mu.Lock()
				failed[id] = msg
				mu.Unlock()
			})
		}
		if err != nil {
			mu.Lock()
			failed[d.ID] = err.Error()
			mu.Unlock()
		}
		queued = append(queued, d)
	}
	if err := bi.Close(ctx); err != nil {
		return 0, err
	}

	resolved := 0
	now := time.Now().UTC()
	for _, d := range queued {
		updates := map[string]any{"attempts": d.Attempts + 1, "retried_at": &now}
		if msg, bad := failed[d.ID]; bad {
			updates["error_msg"] = msg
		} else {
			updates["resolved"] = true
			updates["resolved_at"] = &now
			resolved++
			metrics.ProcessedEvents.Inc()
			log.Printf("✅ DLQ id=%d resolved", d.ID)
		}
		if err := w.DB.WithContext(ctx).Model(&models.DLQ{}).Where("id = ?", d.ID).Updates(updates).Error; err != nil {
			return resolved, err
		}
	}
	return resolved, nil
}
