// Package store holds the read-side queries over requests. Mutations live in
// the fulfillment, claims and lottery packages, inside their transactions.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirdesai22/mutualaid/internal/errs"
	"github.com/sirdesai22/mutualaid/internal/geo"
	"github.com/sirdesai22/mutualaid/internal/models"
	"gorm.io/gorm"
)

const (
	DefaultPageSize = 25
	MaxPageSize     = 100
)

// Page selects a 1-based page of results.
type Page struct {
	Number int
	Size   int
}

func (p Page) normalized() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

func (p Page) Offset() int {
	p = p.normalized()
	return (p.Number - 1) * p.Size
}

// Paginate is a gorm scope applying p.
func Paginate(p Page) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		p = p.normalized()
		return db.Offset(p.Offset()).Limit(p.Size)
	}
}

type Store struct {
	DB *gorm.DB
}

func New(db *gorm.DB) *Store { return &Store{DB: db} }

func (s *Store) ByID(ctx context.Context, id int64) (*models.Request, error) {
	var r models.Request
	if err := s.DB.WithContext(ctx).First(&r, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

func (s *Store) ByUUID(ctx context.Context, id uuid.UUID) (*models.Request, error) {
	var r models.Request
	if err := s.DB.WithContext(ctx).Where("uuid = ?", id).First(&r).Error; err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errs.ErrNotFound
	}
	return err
}

// InStatus is a gorm scope restricting to statuses; no statuses means any.
func InStatus(statuses ...models.Status) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if len(statuses) == 0 {
			return db
		}
		return db.Where("status IN ?", statuses)
	}
}

// CreatedBetween restricts created_at to [from, to). Zero bounds are open.
func CreatedBetween(from, to time.Time) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if !from.IsZero() {
			db = db.Where("created_at >= ?", from.UTC())
		}
		if !to.IsZero() {
			db = db.Where("created_at < ?", to.UTC())
		}
		return db
	}
}

// ByCategoryStatus lists requests of category c in statuses created in
// [from, to), oldest first.
func (s *Store) ByCategoryStatus(ctx context.Context, c models.Category, statuses []models.Status, from, to time.Time, p Page) ([]models.Request, error) {
	var out []models.Request
	err := s.DB.WithContext(ctx).
		Scopes(InStatus(statuses...), CreatedBetween(from, to), Paginate(p)).
		Where("category = ?", c).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// ByChef lists the requests volunteerID cooks for ("my meals").
func (s *Store) ByChef(ctx context.Context, volunteerID int64, statuses ...models.Status) ([]models.Request, error) {
	var out []models.Request
	err := s.DB.WithContext(ctx).Scopes(InStatus(statuses...)).
		Where("chef_id = ?", volunteerID).
		Order("delivery_date ASC, id ASC").
		Find(&out).Error
	return out, err
}

// ByDeliverer lists the requests volunteerID delivers ("my deliveries").
func (s *Store) ByDeliverer(ctx context.Context, volunteerID int64, statuses ...models.Status) ([]models.Request, error) {
	var out []models.Request
	err := s.DB.WithContext(ctx).Scopes(InStatus(statuses...)).
		Where("deliverer_id = ?", volunteerID).
		Order("delivery_date ASC, id ASC").
		Find(&out).Error
	return out, err
}

// UnclaimedForChefStatuses are the statuses in which a meal without a chef
// is listed as open work.
var UnclaimedForChefStatuses = []models.Status{models.StatusSubmitted, models.StatusSelected}

func unclaimedForChef(statuses []models.Status) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if len(statuses) == 0 {
			statuses = UnclaimedForChefStatuses
		}
		return db.Where("category = ? AND chef_id IS NULL AND archived_at IS NULL", models.CategoryMeal).
			Scopes(InStatus(statuses...))
	}
}

// UnclaimedForChef lists meal requests without a chef. statuses narrows
// UnclaimedForChefStatuses (volunteer pages pass Selected only).
func (s *Store) UnclaimedForChef(ctx context.Context, p Page, statuses ...models.Status) ([]models.Request, error) {
	var out []models.Request
	err := s.DB.WithContext(ctx).Scopes(unclaimedForChef(statuses), Paginate(p)).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

func unclaimedForDeliverer(db *gorm.DB) *gorm.DB {
	return db.Where("status = ? AND deliverer_id IS NULL AND delivery_date IS NOT NULL AND archived_at IS NULL", models.StatusChefAssigned)
}

// UnclaimedForDeliverer lists requests with a chef (or organizer assignment)
// and a delivery date but no deliverer, soonest delivery first.
func (s *Store) UnclaimedForDeliverer(ctx context.Context, p Page) ([]models.Request, error) {
	var out []models.Request
	err := s.DB.WithContext(ctx).Scopes(unclaimedForDeliverer, Paginate(p)).
		Order("delivery_date ASC, id ASC").
		Find(&out).Error
	return out, err
}

// WithinBox is a gorm scope keeping rows whose location lies in the bounding
// box of radius km around p. Follow it with WithinKm for the exact distance.
func WithinBox(p geo.Point, km float64) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		sw, ne := geo.BoundAround(p, km)
		return db.Where("location_latitude BETWEEN ? AND ?", sw.Lat, ne.Lat).
			Where("location_longitude BETWEEN ? AND ?", sw.Lng, ne.Lng)
	}
}

// Located is a request with its distance from the query point.
type Located struct {
	models.Request
	DistanceKm float64
}

// WithinKm keeps the requests within km of p, nearest first.
func WithinKm(reqs []models.Request, p geo.Point, km float64) []Located {
	out := make([]Located, 0, len(reqs))
	for _, r := range reqs {
		d := geo.DistanceKm(p, geo.FromLocation(r.Location))
		if d <= km {
			out = append(out, Located{Request: r, DistanceKm: d})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	return out
}

// UnclaimedForChefNear lists unclaimed meals within km of p, nearest first.
func (s *Store) UnclaimedForChefNear(ctx context.Context, p geo.Point, km float64, page Page, statuses ...models.Status) ([]Located, error) {
	var candidates []models.Request
	err := s.DB.WithContext(ctx).Scopes(unclaimedForChef(statuses), WithinBox(p, km)).
		Order("id ASC").
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}
	near := WithinKm(candidates, p, km)
	page = page.normalized()
	start := min(page.Offset(), len(near))
	end := min(start+page.Size, len(near))
	return near[start:end], nil
}

// InBucket lists requests whose pin falls in the spatial bucket key.
func (s *Store) InBucket(ctx context.Context, bucket string, statuses ...models.Status) ([]models.Request, error) {
	var out []models.Request
	err := s.DB.WithContext(ctx).Scopes(InStatus(statuses...)).
		Where("location_bucket = ?", bucket).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

// NeedingRegeocode lists requests still on a fallback pin.
func (s *Store) NeedingRegeocode(ctx context.Context, maxAttempts, limit int) ([]models.Request, error) {
	var out []models.Request
	err := s.DB.WithContext(ctx).
		Where("location_needs_regeocode = ? AND location_regeocode_attempts < ?", true, maxAttempts).
		Order("id ASC").Limit(limit).
		Find(&out).Error
	return out, err
}

// Notes returns the audit log of a request, oldest first.
func (s *Store) Notes(ctx context.Context, requestID int64) ([]models.UpdateNote, error) {
	var out []models.UpdateNote
	err := s.DB.WithContext(ctx).Where("request_id = ?", requestID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// SelectionLockKey names the advisory lock every writer that admits requests
// of c during the cycle opening at open must hold, so the weekly cap is
// checked and spent by one transaction at a time.
func SelectionLockKey(c models.Category, open time.Time) string {
	y, w := open.ISOWeek()
	return fmt.Sprintf("lottery:%s:%d-W%02d", c, y, w)
}

// CountSelectedBetween counts requests of category c in an admitted status
// whose selection time falls in [from, to). Pass the transaction that is
// about to select more so the count and the writes see the same snapshot.
func CountSelectedBetween(tx *gorm.DB, c models.Category, from, to time.Time) (int64, error) {
	var n int64
	err := tx.Model(&models.Request{}).
		Where("category = ? AND status IN ?", c, models.AdmittedStatuses).
		Where("selected_at >= ? AND selected_at < ?", from.UTC(), to.UTC()).
		Count(&n).Error
	return n, err
}
