// Package accounts manages volunteers and the role-to-capability groups.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"github.com/sirdesai22/mutualaid/internal/db"
	"github.com/sirdesai22/mutualaid/internal/errs"
	"github.com/sirdesai22/mutualaid/internal/geo"
	"github.com/sirdesai22/mutualaid/internal/intake"
	"github.com/sirdesai22/mutualaid/internal/models"
	"github.com/sirdesai22/mutualaid/internal/services"
	"gorm.io/gorm"
)

type Service struct {
	DB       *gorm.DB
	Geocoder *geo.Geocoder
}

func NewService(gdb *gorm.DB, g *geo.Geocoder) *Service {
	return &Service{DB: gdb, Geocoder: g}
}

// NewVolunteer is the signup payload for a chef, deliverer or organizer.
type NewVolunteer struct {
	Name                  string
	ShortName             string
	Email                 string
	Phone                 string
	CanReceiveTexts       bool
	Address               models.Address
	Roles                 []models.Role
	FoodTypes             []string
	TransportationOptions []string
	DaysAvailable         []string
	TotalHoursAvailable   int
}

func (n NewVolunteer) validate() error {
	ve := &errs.ValidationError{}
	if strings.TrimSpace(n.Name) == "" {
		ve.Add("name", "is required")
	}
	if n.Email == "" && n.Phone == "" {
		ve.Add("email", "an email or a phone number is required")
	}
	if n.Email != "" {
		if _, err := mail.ParseAddress(n.Email); err != nil {
			ve.Add("email", "is not a valid address")
		}
	}
	if n.Phone != "" && len(intake.NormalizePhone(n.Phone)) != 10 {
		ve.Add("phone_number", "must have ten digits")
	}
	if len(n.Roles) == 0 {
		ve.Add("roles", "at least one role is required")
	}
	if bad := models.NewTagSet(n.Roles...).Unknown(models.Roles); len(bad) > 0 {
		ve.Add("roles", fmt.Sprintf("unknown role %q", bad[0]))
	}
	return ve.OrNil()
}

// CreateVolunteer stores a volunteer with an anonymized pin for their
// address. A geocoding failure stores the city sentinel and flags the row
// for the re-geocode worker; it never fails the signup.
func (s *Service) CreateVolunteer(ctx context.Context, n NewVolunteer) (*models.Volunteer, error) {
	if err := n.validate(); err != nil {
		return nil, err
	}
	v := &models.Volunteer{
		Name:                  strings.TrimSpace(n.Name),
		ShortName:             strings.TrimSpace(n.ShortName),
		Email:                 strings.ToLower(strings.TrimSpace(n.Email)),
		Phone:                 intake.NormalizePhone(n.Phone),
		CanReceiveTexts:       n.CanReceiveTexts,
		Address:               n.Address,
		Roles:                 models.NewTagSet(n.Roles...),
		FoodTypes:             models.NewTagSet(n.FoodTypes...),
		TransportationOptions: models.NewTagSet(n.TransportationOptions...),
		DaysAvailable:         models.NewTagSet(n.DaysAvailable...),
		TotalHoursAvailable:   n.TotalHoursAvailable,
	}
	v.Address.PostalCode = intake.NormalizePostalCode(v.Address.PostalCode)
	if s.Geocoder != nil && n.Address.Line1 != "" {
		v.Location, _ = s.Geocoder.Locate(ctx, v.Address, models.Location{})
	}
	if err := s.DB.WithContext(ctx).Create(v).Error; err != nil {
		return nil, fmt.Errorf("create volunteer: %w", err)
	}
	log.Printf("✅ volunteer %s created (%s)", v.UUID, strings.Join(v.Roles.Strings(), ","))
	return v, nil
}

// DeleteResult counts the references moved to the sentinel volunteer.
type DeleteResult struct {
	ChefSlots      int64
	DelivererSlots int64
	Notes          int64
}

func (d DeleteResult) Total() int64 { return d.ChefSlots + d.DelivererSlots + d.Notes }

// DeleteVolunteer reassigns every request slot and note the volunteer holds
// to the sentinel volunteer, then soft-deletes them, all in one transaction.
// Reassigned requests are re-published through the outbox.
func (s *Service) DeleteVolunteer(ctx context.Context, id int64) (DeleteResult, error) {
	var res DeleteResult
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var v models.Volunteer
		if err := tx.First(&v, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.ErrNotFound
			}
			return err
		}
		if v.IsSentinel {
			return fmt.Errorf("%w: the sentinel volunteer cannot be deleted", errs.ErrPermissionDenied)
		}
		sentinel, err := db.SentinelVolunteer(tx)
		if err != nil {
			return err
		}

		var touched []uuid.UUID
		if err := tx.Model(&models.Request{}).
			Where("chef_id = ? OR deliverer_id = ?", id, id).
			Pluck("uuid", &touched).Error; err != nil {
			return err
		}

		r := tx.Model(&models.Request{}).Where("chef_id = ?", id).UpdateColumn("chef_id", sentinel.ID)
		if r.Error != nil {
			return r.Error
		}
		res.ChefSlots = r.RowsAffected
		r = tx.Model(&models.Request{}).Where("deliverer_id = ?", id).UpdateColumn("deliverer_id", sentinel.ID)
		if r.Error != nil {
			return r.Error
		}
		res.DelivererSlots = r.RowsAffected
		r = tx.Model(&models.UpdateNote{}).Where("author_id = ?", id).UpdateColumn("author_id", sentinel.ID)
		if r.Error != nil {
			return r.Error
		}
		res.Notes = r.RowsAffected

		if err := services.AddBatchOutboxEvents(tx, services.EntityRequest, services.OpUpsert, touched); err != nil {
			return err
		}
		return tx.Delete(&v).Error
	})
	if err != nil {
		return res, err
	}
	log.Printf("♻️ volunteer %d deleted: %d chef slots, %d deliverer slots, %d notes moved to sentinel",
		id, res.ChefSlots, res.DelivererSlots, res.Notes)
	return res, nil
}

// ByEmail finds an active volunteer by email.
func (s *Service) ByEmail(ctx context.Context, email string) (*models.Volunteer, error) {
	var v models.Volunteer
	err := s.DB.WithContext(ctx).Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.ErrNotFound
	}
	return &v, err
}
