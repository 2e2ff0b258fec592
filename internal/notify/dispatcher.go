package notify

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirdesai22/mutualaid/internal/db"
	"github.com/sirdesai22/mutualaid/internal/metrics"
	"github.com/sirdesai22/mutualaid/internal/models"
	"gorm.io/gorm"
)

// Dispatcher delivers pending notifications through a Sink, retrying with
// exponential backoff. A message that still fails is marked failed and the
// request gets its notification_failed flag.
type Dispatcher struct {
	DB          *gorm.DB
	Sink        Sink
	Timeout     time.Duration // per attempt
	MaxAttempts int
	Backoff     time.Duration // first retry delay
}

// Run drains the queue on a ticker until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sent, failed, err := d.DeliverPending(ctx, 50)
			if err != nil {
				log.Printf("❌ notification dispatch: %v", err)
				continue
			}
			if sent+failed > 0 {
				log.Printf("📤 notifications sent=%d failed=%d", sent, failed)
			}
		}
	}
}

// DeliverPending claims up to limit pending rows and sends them.
func (d *Dispatcher) DeliverPending(ctx context.Context, limit int) (sent, failed int, err error) {
	batch, err := d.claim(ctx, limit)
	if err != nil {
		return 0, 0, err
	}
	for i := range batch {
		if d.deliver(ctx, &batch[i]) {
			sent++
		} else {
			failed++
		}
	}
	return sent, failed, nil
}

func (d *Dispatcher) claim(ctx context.Context, limit int) ([]models.Notification, error) {
	var rows []models.Notification
	gdb := d.DB.WithContext(ctx)
	if db.IsPostgres(gdb) {
		err := gdb.Raw(`
			WITH cte AS (
			  SELECT id FROM notifications
			  WHERE status = ?
			  ORDER BY id ASC
			  LIMIT ?
			  FOR UPDATE SKIP LOCKED
			)
			UPDATE notifications SET status = ?, updated_at = now()
			FROM cte
			WHERE notifications.id = cte.id
			RETURNING notifications.*`, models.NotificationPending, limit, models.NotificationSending).Scan(&rows).Error
		return rows, err
	}
	err := gdb.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("status = ?", models.NotificationPending).Order("id ASC").Limit(limit).Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		ids := make([]int64, len(rows))
		for i, r := range rows {
			ids[i] = r.ID
		}
		return tx.Model(&models.Notification{}).Where("id IN ?", ids).Update("status", models.NotificationSending).Error
	})
	return rows, err
}

func (d *Dispatcher) deliver(ctx context.Context, n *models.Notification) bool {
	msg := Message{To: n.Destination, Channel: n.Channel, Subject: n.Subject, Body: n.Body, Group: n.GroupUUID}
	attempts := 0
	op := func() error {
		attempts++
		actx := ctx
		if d.Timeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, d.Timeout)
			defer cancel()
		}
		err := d.Sink.Send(actx, msg)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	maxAttempts := max(d.MaxAttempts, 1)
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(d.Backoff),
		backoff.WithMaxElapsedTime(0),
	)
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxAttempts-1)), ctx))

	now := time.Now().UTC()
	if err == nil {
		metrics.NotificationsSent.Inc()
		if err := d.DB.Model(&models.Notification{}).Where("id = ?", n.ID).Updates(map[string]any{
			"status":     models.NotificationSent,
			"attempts":   n.Attempts + attempts,
			"last_error": "",
			"sent_at":    &now,
		}).Error; err != nil {
			log.Printf("⚠️ notification %d sent but not marked: %v", n.ID, err)
		}
		return true
	}

	metrics.NotificationsFailed.Inc()
	log.Printf("❌ notification %d (%s %s) failed after %d attempts: %v", n.ID, n.Event, n.Channel, attempts, err)
	txErr := d.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Notification{}).Where("id = ?", n.ID).Updates(map[string]any{
			"status":     models.NotificationFailed,
			"attempts":   n.Attempts + attempts,
			"last_error": truncate(err.Error(), 1000),
		}).Error; err != nil {
			return err
		}
		if n.RequestID == nil {
			return nil
		}
		return tx.Model(&models.Request{}).Where("id = ?", *n.RequestID).UpdateColumn("notification_failed", true).Error
	})
	if txErr != nil {
		log.Printf("❌ recording failure of notification %d: %v", n.ID, txErr)
	}
	return false
}

// Requeue puts rows left in "sending" by a crashed dispatcher back in the
// queue once they are older than stale.
func (d *Dispatcher) Requeue(ctx context.Context, stale time.Duration) (int64, error) {
	res := d.DB.WithContext(ctx).Model(&models.Notification{}).
		Where("status = ? AND updated_at < ?", models.NotificationSending, time.Now().UTC().Add(-stale)).
		Update("status", models.NotificationPending)
	if res.Error != nil {
		return 0, fmt.Errorf("requeue notifications: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
