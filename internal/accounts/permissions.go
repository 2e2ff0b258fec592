package accounts

import (
	"context"
	"log"
	"slices"

	"github.com/sirdesai22/mutualaid/internal/models"
	"gorm.io/gorm"
)

type Capability string

const (
	CanViewAvailableMeals      Capability = "view_available_meals"
	CanViewAvailableDeliveries Capability = "view_available_deliveries"
	CanClaimChef               Capability = "claim_chef"
	CanClaimDelivery           Capability = "claim_delivery"
	CanMarkDelivered           Capability = "mark_delivered"
	CanReschedule              Capability = "reschedule"
	CanAddNote                 Capability = "add_note"
	CanSelectRequest           Capability = "select_request"
	CanAssignGrocery           Capability = "assign_grocery"
	CanConfirmDate             Capability = "confirm_date"
	CanSetNewDate              Capability = "set_new_date"
	CanUnclaim                 Capability = "unclaim"
	CanCopyRequest             Capability = "copy_request"
	CanRunLottery              Capability = "run_lottery"
	CanSendMassEmail           Capability = "send_mass_email"
	CanExportSignupSheet       Capability = "export_signup_sheet"
	CanManageVolunteers        Capability = "manage_volunteers"
)

// CanonicalPermissions is the role -> capability mapping that
// SetGroupPermissions writes. One group per role.
var CanonicalPermissions = map[models.Role][]Capability{
	models.RoleChef: {
		CanViewAvailableMeals, CanClaimChef, CanAddNote,
	},
	models.RoleDeliverer: {
		CanViewAvailableDeliveries, CanClaimDelivery, CanMarkDelivered, CanReschedule, CanAddNote,
	},
	models.RoleOrganizer: {
		CanViewAvailableMeals, CanViewAvailableDeliveries, CanAddNote, CanReschedule,
		CanSelectRequest, CanAssignGrocery, CanConfirmDate, CanSetNewDate, CanUnclaim,
		CanCopyRequest, CanRunLottery, CanSendMassEmail, CanExportSignupSheet, CanManageVolunteers,
	},
}

// SetGroupPermissions rewrites the role groups to match
// CanonicalPermissions. It returns the number of permission rows written.
func SetGroupPermissions(ctx context.Context, gdb *gorm.DB) (int, error) {
	written := 0
	err := gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, role := range models.Roles {
			var g models.Group
			if err := tx.Where(models.Group{Name: string(role)}).FirstOrCreate(&g).Error; err != nil {
				return err
			}
			if err := tx.Where("group_id = ?", g.ID).Delete(&models.GroupPermission{}).Error; err != nil {
				return err
			}
			caps := CanonicalPermissions[role]
			rows := make([]models.GroupPermission, len(caps))
			for i, c := range caps {
				rows[i] = models.GroupPermission{GroupID: g.ID, Capability: string(c)}
			}
			if err := tx.Create(&rows).Error; err != nil {
				return err
			}
			written += len(rows)
			log.Printf("🔐 group %s: %d permissions", role, len(rows))
		}
		return nil
	})
	return written, err
}

// Authorizer answers capability checks from the stored groups, falling back
// to CanonicalPermissions when a role has no group yet.
type Authorizer struct {
	DB *gorm.DB
}

func NewAuthorizer(gdb *gorm.DB) *Authorizer { return &Authorizer{DB: gdb} }

func (a *Authorizer) Can(ctx context.Context, v *models.Volunteer, c Capability) (bool, error) {
	if v == nil || v.IsSentinel {
		return false, nil
	}
	for _, role := range v.Roles {
		var g models.Group
		err := a.DB.WithContext(ctx).Preload("Permissions").Where("name = ?", role).Limit(1).Find(&g).Error
		if err != nil {
			return false, err
		}
		if g.ID == 0 {
			if slices.Contains(CanonicalPermissions[role], c) {
				return true, nil
			}
			continue
		}
		for _, p := range g.Permissions {
			if p.Capability == string(c) {
				return true, nil
			}
		}
	}
	return false, nil
}
