package accounts

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/sirdesai22/mutualaid/internal/db"
	"github.com/sirdesai22/mutualaid/internal/db/dbtest"
	"github.com/sirdesai22/mutualaid/internal/errs"
	"github.com/sirdesai22/mutualaid/internal/geo"
	"github.com/sirdesai22/mutualaid/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateVolunteer(t *testing.T) {
	gdb := dbtest.Open(t)
	home := geo.Point{Lat: 43.6532, Lng: -79.3832}
	provider := &geo.StaticProvider{Points: map[string]geo.Point{
		"5 Queen St W, Toronto ON, M5H 2N2, Canada": home,
	}}
	s := NewService(gdb, geo.NewGeocoder(provider, time.Second, rand.New(rand.NewPCG(1, 1))))

	v, err := s.CreateVolunteer(context.Background(), NewVolunteer{
		Name:    "Alex Cook",
		Email:   "Alex@Example.com ",
		Phone:   "(416) 555-0199",
		Address: models.Address{Line1: "5 Queen St W", City: "Toronto", PostalCode: "m5h2n2"},
		Roles:   []models.Role{models.RoleChef, models.RoleDeliverer},
	})
	require.NoError(t, err)
	assert.Equal(t, "alex@example.com", v.Email)
	assert.Equal(t, "4165550199", v.Phone)
	assert.Equal(t, "M5H 2N2", v.Address.PostalCode)
	assert.True(t, v.HasRole(models.RoleDeliverer))
	assert.False(t, v.Location.NeedsRegeocode)
	d := geo.DistanceKm(home, geo.FromLocation(v.Location))
	assert.Greater(t, d, 0.0)
	assert.Less(t, d, 0.2)

	found, err := s.ByEmail(context.Background(), "ALEX@example.com")
	require.NoError(t, err)
	assert.Equal(t, v.ID, found.ID)
}

func TestCreateVolunteerGeocodeFailure(t *testing.T) {
	gdb := dbtest.Open(t)
	s := NewService(gdb, geo.NewGeocoder(&geo.StaticProvider{Err: geo.NewTransientError(assert.AnError)}, time.Second, nil))

	v, err := s.CreateVolunteer(context.Background(), NewVolunteer{
		Name:    "Dee Driver",
		Email:   "dee@example.com",
		Address: models.Address{Line1: "1 Nowhere Rd", City: "Scarborough"},
		Roles:   []models.Role{models.RoleDeliverer},
	})
	require.NoError(t, err)
	assert.True(t, v.Location.Sentinel)
	assert.True(t, v.Location.NeedsRegeocode)
}

func TestCreateVolunteerValidation(t *testing.T) {
	s := NewService(dbtest.Open(t), nil)
	_, err := s.CreateVolunteer(context.Background(), NewVolunteer{
		Email: "not-an-email",
		Phone: "555",
		Roles: []models.Role{"wizard"},
	})
	var ve *errs.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "name")
	assert.Contains(t, ve.Fields, "email")
	assert.Contains(t, ve.Fields, "phone_number")
	assert.Contains(t, ve.Fields, "roles")
}

func TestDeleteVolunteerMovesReferencesToSentinel(t *testing.T) {
	gdb := dbtest.Open(t)
	s := NewService(gdb, nil)
	gone := &models.Volunteer{Name: "Gone", Email: "gone@example.com", Roles: models.NewTagSet(models.RoleChef, models.RoleDeliverer)}
	stays := &models.Volunteer{Name: "Stays", Email: "stays@example.com", Roles: models.NewTagSet(models.RoleDeliverer)}
	require.NoError(t, gdb.Create(gone).Error)
	require.NoError(t, gdb.Create(stays).Error)

	mk := func(chef, deliverer *int64) *models.Request {
		r := &models.Request{
			Category:   models.CategoryMeal,
			Status:     models.StatusDriverAssigned,
			Recipient:  models.Recipient{Name: "R"},
			Household:  models.Household{NumAdults: 1},
			Assignment: models.Assignment{ChefID: chef, DelivererID: deliverer},
		}
		require.NoError(t, gdb.Create(r).Error)
		return r
	}
	a := mk(&gone.ID, &gone.ID)
	b := mk(&gone.ID, &stays.ID)
	c := mk(&stays.ID, &stays.ID)
	require.NoError(t, gdb.Create(&models.UpdateNote{RequestID: a.ID, AuthorID: gone.ID, Body: "on my way"}).Error)

	res, err := s.DeleteVolunteer(context.Background(), gone.ID)
	require.NoError(t, err)
	assert.Equal(t, DeleteResult{ChefSlots: 2, DelivererSlots: 1, Notes: 1}, res)
	assert.Equal(t, int64(4), res.Total())

	sentinel, err := db.SentinelVolunteer(gdb)
	require.NoError(t, err)
	load := func(id int64) models.Request {
		var r models.Request
		require.NoError(t, gdb.First(&r, id).Error)
		return r
	}
	got := load(a.ID)
	assert.Equal(t, sentinel.ID, *got.Assignment.ChefID)
	assert.Equal(t, sentinel.ID, *got.Assignment.DelivererID)
	got = load(b.ID)
	assert.Equal(t, sentinel.ID, *got.Assignment.ChefID)
	assert.Equal(t, stays.ID, *got.Assignment.DelivererID)
	got = load(c.ID)
	assert.Equal(t, stays.ID, *got.Assignment.ChefID)

	var note models.UpdateNote
	require.NoError(t, gdb.First(&note).Error)
	assert.Equal(t, sentinel.ID, note.AuthorID)

	var events int64
	gdb.Model(&models.Outbox{}).Count(&events)
	assert.Equal(t, int64(2), events)

	var count int64
	gdb.Model(&models.Volunteer{}).Where("id = ?", gone.ID).Count(&count)
	assert.Zero(t, count)

	_, err = s.DeleteVolunteer(context.Background(), gone.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, err = s.DeleteVolunteer(context.Background(), sentinel.ID)
	assert.ErrorIs(t, err, errs.ErrPermissionDenied)
}

func TestGroupPermissions(t *testing.T) {
	gdb := dbtest.Open(t)
	a := NewAuthorizer(gdb)
	chef := &models.Volunteer{Roles: models.NewTagSet(models.RoleChef)}
	organizer := &models.Volunteer{Roles: models.NewTagSet(models.RoleOrganizer)}

	// no groups yet: canonical fallback
	ok, err := a.Can(context.Background(), chef, CanClaimChef)
	require.NoError(t, err)
	assert.True(t, ok)

	want := 0
	for _, caps := range CanonicalPermissions {
		want += len(caps)
	}
	n, err := SetGroupPermissions(context.Background(), gdb)
	require.NoError(t, err)
	assert.Equal(t, want, n)

	n, err = SetGroupPermissions(context.Background(), gdb)
	require.NoError(t, err)
	assert.Equal(t, want, n)
	var rows int64
	gdb.Model(&models.GroupPermission{}).Count(&rows)
	assert.Equal(t, int64(want), rows)

	ok, _ = a.Can(context.Background(), chef, CanUnclaim)
	assert.False(t, ok)
	ok, _ = a.Can(context.Background(), organizer, CanUnclaim)
	assert.True(t, ok)

	// stored groups win over the canonical map
	var g models.Group
	require.NoError(t, gdb.Where("name = ?", models.RoleChef).First(&g).Error)
	require.NoError(t, gdb.Where("group_id = ? AND capability = ?", g.ID, CanClaimChef).Delete(&models.GroupPermission{}).Error)
	ok, _ = a.Can(context.Background(), chef, CanClaimChef)
	assert.False(t, ok)

	ok, _ = a.Can(context.Background(), &models.Volunteer{IsSentinel: true, Roles: models.NewTagSet(models.RoleOrganizer)}, CanUnclaim)
	assert.False(t, ok)
}
