package fulfillment

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sirdesai22/mutualaid/internal/errs"
	"github.com/sirdesai22/mutualaid/internal/metrics"
	"github.com/sirdesai22/mutualaid/internal/models"
	"github.com/sirdesai22/mutualaid/internal/notify"
	"github.com/sirdesai22/mutualaid/internal/services"
	"gorm.io/gorm"
)

// Guard narrows the conditional update of a transition, e.g. "chef_id IS NULL".
type Guard func(*gorm.DB) *gorm.DB

func SlotEmpty(column string) Guard {
	return func(db *gorm.DB) *gorm.DB { return db.Where(column + " IS NULL") }
}

// Machine applies transitions. Every move is a conditional update on
// (id, status, version) plus any guards, so two writers racing on the same
// row cannot both succeed. The outbox event and the notifications are
// written in the same transaction as the status change.
type Machine struct {
	Notifier *notify.Orchestrator
	Now      func() time.Time
}

func NewMachine(n *notify.Orchestrator, now func() time.Time) *Machine {
	if now == nil {
		now = time.Now
	}
	return &Machine{Notifier: n, Now: now}
}

// Advance validates the edge and moves req to `to` inside tx. updates are
// extra columns written with the status. On success req is reloaded. A
// refused edge returns *errs.TransitionError and writes nothing; a lost race
// returns errs.ErrConflict.
func (m *Machine) Advance(tx *gorm.DB, req *models.Request, to models.Status, actor Actor, updates map[string]any, guards ...Guard) error {
	if err := Check(req.Category, req.Status, to, actor.Kind); err != nil {
		return err
	}
	return m.apply(tx, req, to, actor, updates, guards...)
}

func (m *Machine) apply(tx *gorm.DB, req *models.Request, to models.Status, actor Actor, updates map[string]any, guards ...Guard) error {
	from := req.Status
	now := m.Now().UTC()

	cols := map[string]any{
		"status":     to,
		"version":    req.Version + 1,
		"updated_at": now,
	}
	if to == models.StatusSelected && from == models.StatusSubmitted {
		cols["selected_at"] = now
	}
	for k, v := range updates {
		cols[k] = v
	}

	q := tx.Model(&models.Request{}).Where("id = ? AND status = ? AND version = ?", req.ID, from, req.Version)
	for _, g := range guards {
		q = g(q)
	}
	res := q.Updates(cols)
	if res.Error != nil {
		return fmt.Errorf("update request %d: %w", req.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.ErrConflict
	}

	id := req.ID
	*req = models.Request{}
	if err := tx.First(req, id).Error; err != nil {
		return err
	}
	if err := services.AddRequestEvent(tx, req, from, actor.String()); err != nil {
		return err
	}
	if m.Notifier != nil {
		if _, err := m.Notifier.EnqueueTransition(tx, req, from, to); err != nil {
			return err
		}
	}
	metrics.Transitions.WithLabelValues(string(to)).Inc()
	log.Printf("🔁 request %s: %s -> %s (%s)", req.UUID, from, to, actor)
	return nil
}

// Load reads a request inside tx, mapping a missing row to errs.ErrNotFound.
func Load(tx *gorm.DB, id int64) (*models.Request, error) {
	var r models.Request
	if err := tx.First(&r, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}
