// Package intake decides when public requests may be submitted and admits
// them into the store.
package intake

import (
	"time"

	"github.com/sirdesai22/mutualaid/internal/config"
	"github.com/sirdesai22/mutualaid/internal/errs"
	"github.com/sirdesai22/mutualaid/internal/models"
)

// Gate evaluates the weekly intake window and the per-category kill-switches
// against one configuration snapshot.
type Gate struct {
	Config config.Config
	Now    func() time.Time

	loc *time.Location
}

func NewGate(cfg config.Config, now func() time.Time) *Gate {
	if now == nil {
		now = time.Now
	}
	return &Gate{Config: cfg, Now: now, loc: cfg.Location()}
}

func (g *Gate) categoryConfig(c models.Category) config.CategoryConfig {
	if c == models.CategoryGrocery {
		return g.Config.Groceries
	}
	return g.Config.Meals
}

// CycleBounds returns the intake cycle containing now: the most recent open
// boundary at or before now, and the close boundary that follows it.
// Boundaries are local wall-clock times, so a DST change inside the week
// shifts the UTC length of the cycle.
func (g *Gate) CycleBounds(now time.Time) (open, end time.Time) {
	w := g.Config.Intake
	local := now.In(g.loc)
	y, m, d := local.Date()

	back := (int(local.Weekday()) - int(w.OpenDay) + 7) % 7
	open = time.Date(y, m, d-back, w.OpenHour, 0, 0, 0, g.loc)
	if open.After(now) {
		open = time.Date(y, m, d-back-7, w.OpenHour, 0, 0, 0, g.loc)
	}

	oy, om, od := open.Date()
	ahead := (int(w.CloseDay) - int(w.OpenDay) + 7) % 7
	if ahead == 0 && w.CloseHour <= w.OpenHour {
		ahead = 7
	}
	end = time.Date(oy, om, od+ahead, w.CloseHour, 0, 0, 0, g.loc)
	return open, end
}

// CycleStart is the opening instant of the cycle containing now.
func (g *Gate) CycleStart(now time.Time) time.Time {
	open, _ := g.CycleBounds(now)
	return open
}

// WindowOpen reports whether now falls in [open, close) of its cycle.
func (g *Gate) WindowOpen(now time.Time) bool {
	open, end := g.CycleBounds(now)
	return !now.Before(open) && now.Before(end)
}

// NextOpen is the next opening instant strictly after now.
func (g *Gate) NextOpen(now time.Time) time.Time {
	open, _ := g.CycleBounds(now)
	y, m, d := open.Date()
	return time.Date(y, m, d+7, g.Config.Intake.OpenHour, 0, 0, 0, g.loc)
}

// DrawSpan is the creation-time range [from, to) the lottery draws c from
// for the cycle containing now. Normally that is the intake window. With the
// window switched off submissions arrive all week, so the span runs to the
// next opening and starts one cycle back to pick up requests that came in
// after the previous draw.
func (g *Gate) DrawSpan(c models.Category, now time.Time) (from, to time.Time) {
	open, end := g.CycleBounds(now)
	if !g.categoryConfig(c).DisablePeriod {
		return open, end
	}
	y, m, d := open.Date()
	return time.Date(y, m, d-7, g.Config.Intake.OpenHour, 0, 0, 0, g.loc), g.NextOpen(now)
}

// RequestsPaused reports whether submissions for c are refused at now.
func (g *Gate) RequestsPaused(c models.Category, now time.Time) bool {
	cc := g.categoryConfig(c)
	if cc.Paused {
		return true
	}
	if cc.DisablePeriod {
		return false
	}
	return !g.WindowOpen(now)
}

// Check returns an *errs.IntakeClosedError when c is not accepting
// submissions at the gate's current time.
func (g *Gate) Check(c models.Category) error {
	now := g.Now()
	if !g.RequestsPaused(c, now) {
		return nil
	}
	e := &errs.IntakeClosedError{Category: string(c), Paused: g.categoryConfig(c).Paused}
	if !e.Paused {
		e.OpensAt = g.NextOpen(now).In(g.loc)
	}
	return e
}

// Status is the public view of the gate for one category.
type Status struct {
	Category models.Category `json:"category"`
	Open     bool            `json:"open"`
	Paused   bool            `json:"paused"`
	OpensAt  *time.Time      `json:"opens_at,omitempty"`
	ClosesAt *time.Time      `json:"closes_at,omitempty"`
}

func (g *Gate) Status(c models.Category) Status {
	now := g.Now()
	cc := g.categoryConfig(c)
	s := Status{Category: c, Paused: cc.Paused, Open: !g.RequestsPaused(c, now)}
	switch {
	case s.Paused, cc.DisablePeriod:
	case s.Open:
		_, end := g.CycleBounds(now)
		s.ClosesAt = &end
	default:
		next := g.NextOpen(now)
		s.OpensAt = &next
	}
	return s
}
