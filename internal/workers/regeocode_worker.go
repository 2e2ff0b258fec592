package workers

import (
	"context"
	"log"

	"github.com/sirdesai22/mutualaid/internal/geo"
	"github.com/sirdesai22/mutualaid/internal/metrics"
	"github.com/sirdesai22/mutualaid/internal/models"
	"github.com/sirdesai22/mutualaid/internal/services"
	"github.com/sirdesai22/mutualaid/internal/store"
	"gorm.io/gorm"
)

// RegeocodeWorker retries geocoding for requests and volunteers that were
// stored with a sentinel or stale pin.
type RegeocodeWorker struct {
	DB          *gorm.DB
	Geocoder    *geo.Geocoder
	MaxAttempts int
	BatchSize   int
}

func NewRegeocodeWorker(gdb *gorm.DB, g *geo.Geocoder) *RegeocodeWorker {
	return &RegeocodeWorker{DB: gdb, Geocoder: g, MaxAttempts: 5, BatchSize: 100}
}

// RegeocodeResult counts one pass.
type RegeocodeResult struct {
	Fixed  int
	Failed int
}

func locationColumns(l models.Location) map[string]any {
	return map[string]any{
		"location_latitude":           l.Latitude,
		"location_longitude":          l.Longitude,
		"location_sentinel":           l.Sentinel,
		"location_needs_regeocode":    l.NeedsRegeocode,
		"location_regeocode_attempts": l.RegeocodeAttempts,
		"location_bucket":             l.Bucket,
	}
}

// RunOnce makes one pass over the flagged rows. Each failure bumps the
// row's attempt count; rows at MaxAttempts are left alone.
func (w *RegeocodeWorker) RunOnce(ctx context.Context) (RegeocodeResult, error) {
	var res RegeocodeResult

	reqs, err := store.New(w.DB).NeedingRegeocode(ctx, w.MaxAttempts, w.BatchSize)
	if err != nil {
		return res, err
	}
	for i := range reqs {
		r := &reqs[i]
		loc, gerr := w.Geocoder.Locate(ctx, r.Address, r.Location)
		if gerr != nil {
			loc.RegeocodeAttempts = r.Location.RegeocodeAttempts + 1
		}
		err := w.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(&models.Request{}).Where("id = ?", r.ID).UpdateColumns(locationColumns(loc)).Error; err != nil {
				return err
			}
			if gerr != nil {
				return nil
			}
			r.Location = loc
			return services.AddRequestEvent(tx, r, r.Status, "system:regeocode")
		})
		if err != nil {
			return res, err
		}
		res.count(gerr)
	}

	var vols []models.Volunteer
	if err := w.DB.WithContext(ctx).
		Where("location_needs_regeocode = ? AND location_regeocode_attempts < ?", true, w.MaxAttempts).
		Order("id ASC").Limit(w.BatchSize).
		Find(&vols).Error; err != nil {
		return res, err
	}
	for i := range vols {
		v := &vols[i]
		loc, gerr := w.Geocoder.Locate(ctx, v.Address, v.Location)
		if gerr != nil {
			loc.RegeocodeAttempts = v.Location.RegeocodeAttempts + 1
		}
		if err := w.DB.WithContext(ctx).Model(&models.Volunteer{}).Where("id = ?", v.ID).UpdateColumns(locationColumns(loc)).Error; err != nil {
			return res, err
		}
		res.count(gerr)
	}

	if res.Fixed+res.Failed > 0 {
		log.Printf("📍 regeocode pass: %d fixed, %d still failing", res.Fixed, res.Failed)
	}
	return res, nil
}

func (r *RegeocodeResult) count(err error) {
	if err != nil {
		r.Failed++
		metrics.Regeocoded.WithLabelValues("failed").Inc()
		return
	}
	r.Fixed++
	metrics.Regeocoded.WithLabelValues("fixed").Inc()
}
