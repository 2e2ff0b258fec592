package main

import (
	"bytes"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/sirdesai22/mutualaid/internal/app"
	"github.com/sirdesai22/mutualaid/internal/config"
	"github.com/sirdesai22/mutualaid/internal/db/dbtest"
	"github.com/sirdesai22/mutualaid/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var toronto, _ = time.LoadLocation("America/Toronto")

// drawTime is the Sunday evening after the intake window of Mar 7-9, 2025.
var drawTime = time.Date(2025, 3, 9, 18, 0, 0, 0, toronto)

func newApp(t *testing.T) *app.App {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.JWTSecret = "manage-test"
	a, err := app.New(cfg, dbtest.Open(t), func() time.Time { return drawTime })
	require.NoError(t, err)
	return a
}

func run(t *testing.T, a *app.App, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd(func() (*app.App, error) { return a, nil })
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSetGroupPermissions(t *testing.T) {
	a := newApp(t)
	out, err := run(t, a, "set_group_permissions")
	require.NoError(t, err)
	assert.Equal(t, "Set 22 permissions\n", out)

	var groups int64
	a.DB.Model(&models.Group{}).Count(&groups)
	assert.EqualValues(t, 3, groups)
}

func TestLotteryDryRun(t *testing.T) {
	a := newApp(t)
	r := &models.Request{
		Category:  models.CategoryMeal,
		Status:    models.StatusSubmitted,
		Recipient: models.Recipient{Name: "Sam", Email: "sam@example.com"},
		Household: models.Household{NumAdults: 1},
		CreatedAt: time.Date(2025, 3, 8, 12, 0, 0, 0, toronto).UTC(),
	}
	require.NoError(t, a.DB.Create(r).Error)

	out, err := run(t, a, "run_meal_request_lottery", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "DRY RUN (nothing saved)")
	assert.Contains(t, out, "Eligible: 1")
	assert.Contains(t, out, "Will select: 1")

	var got models.Request
	require.NoError(t, a.DB.First(&got, r.ID).Error)
	assert.Equal(t, models.StatusSubmitted, got.Status)

	out, err = run(t, a, "run_meal_request_lottery")
	require.NoError(t, err)
	assert.Contains(t, out, "Selected (1)")
	got = models.Request{}
	require.NoError(t, a.DB.First(&got, r.ID).Error)
	assert.Equal(t, models.StatusSelected, got.Status)
}

func TestVolunteerLifecycle(t *testing.T) {
	a := newApp(t)
	out, err := run(t, a, "create_volunteer", "--name", "Ana Chef", "--email", "ana@example.com", "--roles", "chef,deliverer")
	require.NoError(t, err)
	assert.Contains(t, out, "Created volunteer")

	v, err := a.Accounts.ByEmail(t.Context(), "ana@example.com")
	require.NoError(t, err)
	assert.True(t, v.HasRole(models.RoleDeliverer))

	out, err = run(t, a, "issue_token", "--volunteer", "ana@example.com")
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "."), 3)

	out, err = run(t, a, "issue_token", "--volunteer", v.UUID.String())
	require.NoError(t, err)
	assert.NotEmpty(t, strings.TrimSpace(out))

	_, err = run(t, a, "issue_token", "--volunteer", "nobody@example.com")
	assert.Error(t, err)

	out, err = run(t, a, "delete_volunteer", "--id", "1000000")
	assert.Error(t, err)
	assert.Empty(t, out)

	out, err = run(t, a, "delete_volunteer", "--id", strconv.FormatInt(v.ID, 10))
	require.NoError(t, err)
	assert.Contains(t, out, "moved 0 rows")
}

func TestSendReminders(t *testing.T) {
	a := newApp(t)
	drv := &models.Volunteer{Name: "Dee", Email: "dee@example.com", Roles: models.NewTagSet(models.RoleDeliverer)}
	require.NoError(t, a.DB.Create(drv).Error)
	date := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	r := &models.Request{
		Category:   models.CategoryMeal,
		Status:     models.StatusDriverAssigned,
		Recipient:  models.Recipient{Name: "Sam", Email: "sam@example.com"},
		Household:  models.Household{NumAdults: 1},
		Assignment: models.Assignment{DelivererID: &drv.ID, DeliveryDate: &date},
	}
	require.NoError(t, a.DB.Create(r).Error)

	out, err := run(t, a, "send_reminders")
	require.NoError(t, err)
	assert.Equal(t, "Queued reminders for 0 deliveries\n", out)

	out, err = run(t, a, "send_reminders", "--date", "2025-03-10")
	require.NoError(t, err)
	assert.Equal(t, "Queued reminders for 1 deliveries\n", out)

	_, err = run(t, a, "send_reminders", "--date", "10/03/2025")
	assert.Error(t, err)
}

func TestSendMassEmailReportsFailures(t *testing.T) {
	a := newApp(t)
	require.NoError(t, a.DB.Create(&models.Volunteer{Name: "Cam", Email: "cam@example.com", Roles: models.NewTagSet(models.RoleChef)}).Error)

	out, err := run(t, a, "send_mass_email", "--template", "signup_open", "--audience", "volunteers", "--role", "chef")
	require.Error(t, err)
	assert.Equal(t, "Queued 1, sent 0, failed 1\n", out)

	_, err = run(t, a, "send_mass_email", "--template", "signup_open", "--audience", "landlords")
	assert.Error(t, err)

	_, err = run(t, a, "send_mass_email", "--template", "signup_open", "--audience", "recipients")
	assert.Error(t, err)
}

func TestBuildSignupSheet(t *testing.T) {
	a := newApp(t)
	path := filepath.Join(t.TempDir(), "signup.xlsx")
	out, err := run(t, a, "build_signup_sheet", "--out", path, "--category", "groceries")
	require.NoError(t, err)
	assert.Equal(t, "Wrote 0 requests to "+path+"\n", out)
	assert.FileExists(t, path)

	_, err = run(t, a, "build_signup_sheet", "--out", path, "--category", "soup")
	assert.Error(t, err)
}
