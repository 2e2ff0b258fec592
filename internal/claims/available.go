package claims

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirdesai22/mutualaid/internal/errs"
	"github.com/sirdesai22/mutualaid/internal/geo"
	"github.com/sirdesai22/mutualaid/internal/models"
	"github.com/sirdesai22/mutualaid/internal/store"
	"gorm.io/gorm"
)

// AvailableForChef lists Selected meal requests without a chef within the
// chef distance of the volunteer. A volunteer without a location sees
// nothing.
func (b *Broker) AvailableForChef(ctx context.Context, volunteerID int64, page store.Page) ([]store.Located, error) {
	var v models.Volunteer
	if err := b.DB.WithContext(ctx).First(&v, volunteerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	if !v.HasRole(models.RoleChef) {
		return nil, fmt.Errorf("%w: chef role required", errs.ErrPermissionDenied)
	}
	p := geo.FromLocation(v.Location)
	if p.IsZero() {
		return nil, nil
	}
	return store.New(b.DB).UnclaimedForChefNear(ctx, p, b.Config.MaxChefDistanceKm, page, models.StatusSelected)
}

// AvailableForDeliverer lists ChefAssigned requests that have a delivery
// date and no deliverer.
func (b *Broker) AvailableForDeliverer(ctx context.Context, page store.Page) ([]models.Request, error) {
	return store.New(b.DB).UnclaimedForDeliverer(ctx, page)
}
