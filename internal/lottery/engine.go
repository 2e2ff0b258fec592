// Package lottery runs the weekly weighted draw that admits Submitted
// requests up to the category cap.
package lottery

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/sirdesai22/mutualaid/internal/config"
	"github.com/sirdesai22/mutualaid/internal/db"
	"github.com/sirdesai22/mutualaid/internal/errs"
	"github.com/sirdesai22/mutualaid/internal/fulfillment"
	"github.com/sirdesai22/mutualaid/internal/intake"
	"github.com/sirdesai22/mutualaid/internal/metrics"
	"github.com/sirdesai22/mutualaid/internal/models"
	"github.com/sirdesai22/mutualaid/internal/store"
	"gorm.io/gorm"
)

type Options struct {
	DryRun bool
}

// Result is what an operator sees after a run. Selected and NotSelected
// hold request ids in ascending order.
type Result struct {
	Category        models.Category `json:"category"`
	Week            string          `json:"week"`
	WindowOpen      time.Time       `json:"window_open"`
	WindowClose     time.Time       `json:"window_close"`
	Cap             int             `json:"cap"`
	CapDisabled     bool            `json:"cap_disabled"`
	Total           int             `json:"total"`
	Eligible        int             `json:"eligible"`
	AlreadySelected int             `json:"already_selected"`
	WillSelect      int             `json:"will_select"`
	Selected        []int64         `json:"selected"`
	NotSelected     []int64         `json:"not_selected"`
	QuotaExhausted  bool            `json:"quota_exhausted"`
	DryRun          bool            `json:"dry_run"`
}

type Engine struct {
	DB      *gorm.DB
	Machine *fulfillment.Machine
	Config  config.Config
	Gate    *intake.Gate

	mu       sync.Mutex
	rng      *rand.Rand
	inflight sync.Map
}

// NewEngine builds an engine. rng may be nil for a randomly seeded source;
// tests pass a seeded one.
func NewEngine(gdb *gorm.DB, m *fulfillment.Machine, cfg config.Config, gate *intake.Gate, rng *rand.Rand) *Engine {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Engine{DB: gdb, Machine: m, Config: cfg, Gate: gate, rng: rng}
}

func (e *Engine) categoryConfig(c models.Category) config.CategoryConfig {
	if c == models.CategoryGrocery {
		return e.Config.Groceries
	}
	return e.Config.Meals
}

// Weight is the draw weight of r: 1, or the demographic weight when the
// requester named any tracked demographic.
func (e *Engine) Weight(r *models.Request) float64 {
	if r.InAnyDemographic() && e.Config.DemographicWeight > 1 {
		return e.Config.DemographicWeight
	}
	return 1
}

// Run draws the lottery for c over the intake cycle containing now. Only
// one run per category and week proceeds at a time; a concurrent run gets
// errs.ErrLotteryInProgress. A real run moves every eligible request to
// Selected or NotSelected in one transaction. When the week's cap is
// already used up the eligible requests stay Submitted and the result
// reports QuotaExhausted.
func (e *Engine) Run(ctx context.Context, c models.Category, opts Options) (*Result, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("unknown category %q", c)
	}
	cc := e.categoryConfig(c)
	now := e.Gate.Now()
	open, _ := e.Gate.CycleBounds(now)
	from, end := e.Gate.DrawSpan(c, now)
	key := store.SelectionLockKey(c, open)

	if _, busy := e.inflight.LoadOrStore(key, struct{}{}); busy {
		return nil, fmt.Errorf("%w: %s", errs.ErrLotteryInProgress, key)
	}
	defer e.inflight.Delete(key)

	res := &Result{
		Category:    c,
		Week:        key,
		WindowOpen:  open,
		WindowClose: end,
		Cap:         cc.Limit,
		CapDisabled: cc.DisableLimit,
		DryRun:      opts.DryRun,
	}

	err := e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := db.TryAdvisoryXactLock(tx, key)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", errs.ErrLotteryInProgress, key)
		}

		var total int64
		if err := tx.Model(&models.Request{}).
			Where("category = ?", c).
			Scopes(store.CreatedBetween(open, end)).
			Count(&total).Error; err != nil {
			return err
		}
		res.Total = int(total)

		var eligible []models.Request
		if err := tx.Where("category = ? AND archived_at IS NULL", c).
			Scopes(store.InStatus(models.StatusSubmitted), store.CreatedBetween(from, end)).
			Order("id ASC").
			Find(&eligible).Error; err != nil {
			return err
		}
		res.Eligible = len(eligible)

		already, err := store.CountSelectedBetween(tx, c, open, e.Gate.NextOpen(open))
		if err != nil {
			return err
		}
		res.AlreadySelected = int(already)

		k := len(eligible)
		if !cc.DisableLimit {
			k = max(0, min(cc.Limit-res.AlreadySelected, len(eligible)))
			res.QuotaExhausted = k == 0 && len(eligible) > 0
		}
		res.WillSelect = k

		weights := make([]float64, len(eligible))
		for i := range eligible {
			weights[i] = e.Weight(&eligible[i])
		}
		chosen := make([]bool, len(eligible))
		e.mu.Lock()
		picked := Sample(weights, k, e.rng)
		e.mu.Unlock()
		for _, i := range picked {
			chosen[i] = true
		}
		for i := range eligible {
			if chosen[i] {
				res.Selected = append(res.Selected, eligible[i].ID)
			} else if !res.QuotaExhausted {
				res.NotSelected = append(res.NotSelected, eligible[i].ID)
			}
		}

		if opts.DryRun || res.QuotaExhausted {
			return nil
		}
		for i := range eligible {
			r := &eligible[i]
			to := models.StatusNotSelected
			if chosen[i] {
				to = models.StatusSelected
			}
			if err := e.Machine.Advance(tx, r, to, fulfillment.Lottery, nil); err != nil {
				return fmt.Errorf("request %s: %w", r.UUID, err)
			}
		}
		return nil
	})
	if err != nil {
		log.Printf("❌ lottery %s failed: %v", key, err)
		return nil, err
	}

	if !opts.DryRun {
		metrics.LotterySelected.WithLabelValues(string(c)).Add(float64(len(res.Selected)))
	}
	log.Printf("🎲 lottery %s: eligible=%d already=%d selected=%d not_selected=%d dry_run=%t",
		key, res.Eligible, res.AlreadySelected, len(res.Selected), len(res.NotSelected), opts.DryRun)
	return res, nil
}
