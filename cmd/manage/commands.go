package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirdesai22/mutualaid/internal/accounts"
	"github.com/sirdesai22/mutualaid/internal/api"
	"github.com/sirdesai22/mutualaid/internal/errs"
	"github.com/sirdesai22/mutualaid/internal/export"
	"github.com/sirdesai22/mutualaid/internal/lottery"
	"github.com/sirdesai22/mutualaid/internal/models"
	"github.com/sirdesai22/mutualaid/internal/notify"
	"github.com/spf13/cobra"
)

func (r *runner) lotteryCmd(use, category string) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   use,
		Short: fmt.Sprintf("Draw this week's %s requests up to the weekly cap", category),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := r.app.Lottery.Run(cmd.Context(), models.Category(category), lottery.Options{DryRun: dryRun})
			if err != nil {
				return err
			}
			return res.Report(cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report the draw without saving it")
	return cmd
}

func (r *runner) setGroupPermissionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set_group_permissions",
		Short: "Rewrite the role groups to the canonical capabilities",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := accounts.SetGroupPermissions(cmd.Context(), r.app.DB)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Set %d permissions\n", n)
			return nil
		},
	}
}

func (r *runner) sendMassEmailCmd() *cobra.Command {
	var template, audience, role, status, category string
	cmd := &cobra.Command{
		Use:   "send_mass_email",
		Short: "Queue a template for every volunteer or recipient matching the filters and send it",
		RunE: func(cmd *cobra.Command, args []string) error {
			m := notify.MassMail{Event: template, Role: models.Role(strings.ToLower(role))}
			switch strings.ToLower(audience) {
			case "volunteer", "volunteers":
				m.Audience = models.AudienceVolunteer
			case "recipient", "recipients":
				m.Audience = models.AudienceRecipient
			default:
				return fmt.Errorf("--audience must be volunteers or recipients, got %q", audience)
			}
			if status != "" {
				s, err := models.ParseStatus(status)
				if err != nil {
					return err
				}
				m.Status = s
			}
			if category != "" {
				c, err := models.ParseCategory(category)
				if err != nil {
					return err
				}
				m.Category = c
			}

			queued, err := r.app.Notifier.SendMass(cmd.Context(), r.app.DB, m)
			if err != nil {
				return err
			}
			sent, failed, err := r.app.Dispatcher.DeliverPending(cmd.Context(), queued)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queued %d, sent %d, failed %d\n", queued, sent, failed)
			if failed > 0 {
				return fmt.Errorf("%d messages failed", failed)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&template, "template", "", "Template (event) name, e.g. signup_open")
	cmd.Flags().StringVar(&audience, "audience", "volunteers", "volunteers or recipients")
	cmd.Flags().StringVar(&role, "role", "", "Only volunteers with this role")
	cmd.Flags().StringVar(&status, "status", "", "Only requests in this status")
	cmd.Flags().StringVar(&category, "category", "", "Only requests of this category")
	_ = cmd.MarkFlagRequired("template")
	return cmd
}

func (r *runner) regeocodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "regeocode",
		Short: "Retry geocoding for rows still on a fallback pin",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := r.app.Regeocoder.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Fixed %d, still failing %d\n", res.Fixed, res.Failed)
			if res.Failed > 0 {
				return fmt.Errorf("%d locations could not be geocoded", res.Failed)
			}
			return nil
		},
	}
}

func (r *runner) sendRemindersCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "send_reminders",
		Short: "Queue the day-of reminders for a delivery date (default today)",
		RunE: func(cmd *cobra.Command, args []string) error {
			day := r.app.Now()
			if date != "" {
				d, err := time.ParseInLocation("2006-01-02", date, r.app.Config.Location())
				if err != nil {
					return fmt.Errorf("--date: %w", err)
				}
				day = d
			}
			n, err := r.app.Fulfillment.SendReminders(cmd.Context(), day)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queued reminders for %d deliveries\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Delivery date, YYYY-MM-DD")
	return cmd
}

func (r *runner) buildSignupSheetCmd() *cobra.Command {
	var out, category string
	cmd := &cobra.Command{
		Use:   "build_signup_sheet",
		Short: "Write the spreadsheet of selected requests for volunteer signup",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := models.ParseCategory(category)
			if err != nil {
				return err
			}
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			n, err := export.WriteSignupSheet(cmd.Context(), r.app.DB, c, r.app.Now(), f)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d requests to %s\n", n, out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "Output .xlsx path")
	cmd.Flags().StringVar(&category, "category", "meal", "meal or grocery")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func (r *runner) createVolunteerCmd() *cobra.Command {
	var n accounts.NewVolunteer
	var roles []string
	cmd := &cobra.Command{
		Use:   "create_volunteer",
		Short: "Register a chef, deliverer or organizer",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, role := range roles {
				n.Roles = append(n.Roles, models.Role(strings.ToLower(strings.TrimSpace(role))))
			}
			v, err := r.app.Accounts.CreateVolunteer(cmd.Context(), n)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created volunteer %d (%s)\n", v.ID, v.UUID)
			return nil
		},
	}
	cmd.Flags().StringVar(&n.Name, "name", "", "Full name")
	cmd.Flags().StringVar(&n.Email, "email", "", "Email address")
	cmd.Flags().StringVar(&n.Phone, "phone", "", "Ten-digit phone number")
	cmd.Flags().BoolVar(&n.CanReceiveTexts, "texts", false, "Prefer text messages")
	cmd.Flags().StringSliceVar(&roles, "roles", nil, "chef, deliverer and/or organizer")
	cmd.Flags().StringVar(&n.Address.Line1, "address", "", "Street address")
	cmd.Flags().StringVar(&n.Address.City, "city", "Toronto", "City")
	cmd.Flags().StringVar(&n.Address.PostalCode, "postal-code", "", "Postal code")
	return cmd
}

func (r *runner) issueTokenCmd() *cobra.Command {
	var who string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "issue_token",
		Short: "Print an API token for a volunteer (email or uuid)",
		RunE: func(cmd *cobra.Command, args []string) error {
			var v *models.Volunteer
			if id, err := uuid.Parse(who); err == nil {
				var found models.Volunteer
				if err := r.app.DB.WithContext(cmd.Context()).Where("uuid = ?", id).First(&found).Error; err != nil {
					return fmt.Errorf("volunteer %s: %w", who, errs.ErrNotFound)
				}
				v = &found
			} else {
				v, err = r.app.Accounts.ByEmail(cmd.Context(), who)
				if err != nil {
					return fmt.Errorf("volunteer %s: %w", who, err)
				}
			}
			tok, err := api.IssueToken([]byte(r.app.Config.JWTSecret), v, r.app.Now(), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&who, "volunteer", "", "Volunteer email or uuid")
	cmd.Flags().DurationVar(&ttl, "ttl", api.TokenTTL, "Token lifetime")
	_ = cmd.MarkFlagRequired("volunteer")
	return cmd
}

func (r *runner) deleteVolunteerCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "delete_volunteer",
		Short: "Delete a volunteer, moving their claims and notes to the sentinel",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.ParseInt(id, 10, 64)
			if err != nil {
				return fmt.Errorf("--id: %w", err)
			}
			res, err := r.app.Accounts.DeleteVolunteer(cmd.Context(), n)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted volunteer %d, moved %d rows (%d chef, %d deliverer, %d notes)\n",
				n, res.Total(), res.ChefSlots, res.DelivererSlots, res.Notes)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Volunteer id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}
