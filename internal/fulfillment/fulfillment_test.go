package fulfillment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirdesai22/mutualaid/internal/config"
	"github.com/sirdesai22/mutualaid/internal/db/dbtest"
	"github.com/sirdesai22/mutualaid/internal/errs"
	"github.com/sirdesai22/mutualaid/internal/intake"
	"github.com/sirdesai22/mutualaid/internal/models"
	"github.com/sirdesai22/mutualaid/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var toronto, _ = time.LoadLocation("America/Toronto")

type fixture struct {
	db  *gorm.DB
	svc *Service
	now time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{db: dbtest.Open(t), now: time.Date(2025, 3, 14, 12, 0, 0, 0, toronto)}
	cfg := config.DefaultConfig()
	clock := func() time.Time { return f.now }
	n := notify.NewOrchestrator(notify.DefaultCatalog(), toronto, "default", "groceries")
	f.svc = NewService(f.db, NewMachine(n, clock), cfg, intake.NewGate(cfg, clock))
	return f
}

func (f *fixture) volunteer(t *testing.T, name string, roles ...models.Role) *models.Volunteer {
	t.Helper()
	v := &models.Volunteer{Name: name, Email: name + "@example.com", Roles: models.NewTagSet(roles...)}
	require.NoError(t, f.db.Create(v).Error)
	return v
}

func (f *fixture) request(t *testing.T, c models.Category, s models.Status, mut ...func(*models.Request)) *models.Request {
	t.Helper()
	r := &models.Request{
		Category:     c,
		Status:       s,
		Recipient:    models.Recipient{Name: "Pat Recipient", Email: "pat@example.com", Phone: "4165550100"},
		Address:      models.Address{Line1: "1 Main St", City: "Toronto", PostalCode: "M5V 2T6"},
		Household:    models.Household{NumAdults: 2},
		Demographics: models.NewTagSet(models.DemographicSenior),
		Dietary:      models.NewTagSet(models.DietVegan),
		Location:     models.Location{Latitude: 43.65, Longitude: -79.38},
	}
	for _, m := range mut {
		m(r)
	}
	require.NoError(t, f.db.Create(r).Error)
	return r
}

func (f *fixture) reload(t *testing.T, id int64) *models.Request {
	t.Helper()
	var r models.Request
	require.NoError(t, f.db.First(&r, id).Error)
	return &r
}

func idp(v int64) *int64 { return &v }

func tp(t time.Time) *time.Time { return &t }

func day(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestCheckEdges(t *testing.T) {
	for _, e := range Edges {
		for _, a := range e.Actors {
			c := e.Category
			if c == "" {
				c = models.CategoryMeal
			}
			assert.NoError(t, Check(c, e.From, e.To, a), "%s -> %s by %s", e.From, e.To, a)
		}
	}

	var te *errs.TransitionError
	assert.ErrorAs(t, Check(models.CategoryMeal, models.StatusSubmitted, models.StatusDelivered, ActorDeliverer), &te)
	assert.ErrorAs(t, Check(models.CategoryMeal, models.StatusDelivered, models.StatusRescheduled, ActorOrganizer), &te)
	assert.ErrorAs(t, Check(models.CategoryMeal, models.StatusNotSelected, models.StatusSelected, ActorOrganizer), &te)
	assert.ErrorAs(t, Check(models.CategoryMeal, models.StatusChefAssigned, models.StatusSelected, ActorOrganizer), &te)
	assert.ErrorIs(t, Check(models.CategoryMeal, models.StatusSubmitted, models.StatusNotSelected, ActorOrganizer), errs.ErrPermissionDenied)
	assert.ErrorIs(t, Check(models.CategoryGrocery, models.StatusSelected, models.StatusChefAssigned, ActorChef), errs.ErrPermissionDenied)
	assert.ErrorIs(t, Check(models.CategoryMeal, models.StatusSelected, models.StatusChefAssigned, ActorOrganizer), errs.ErrPermissionDenied)
}

func TestEveryStatusReachable(t *testing.T) {
	for _, s := range models.AllStatuses {
		assert.True(t, Reachable(s), s)
	}
}

func TestAdvanceRefusesStaleVersion(t *testing.T) {
	f := newFixture(t)
	r := f.request(t, models.CategoryMeal, models.StatusSubmitted)
	stale := *r

	require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
		return f.svc.Machine.Advance(tx, r, models.StatusSelected, Lottery, nil)
	}))
	assert.Equal(t, 2, r.Version)
	assert.NotNil(t, r.SelectedAt)

	err := f.db.Transaction(func(tx *gorm.DB) error {
		return f.svc.Machine.Advance(tx, &stale, models.StatusNotSelected, Lottery, nil)
	})
	assert.ErrorIs(t, err, errs.ErrConflict)
	assert.Equal(t, models.StatusSelected, f.reload(t, r.ID).Status)
}

func TestInvalidTransitionMutatesNothing(t *testing.T) {
	f := newFixture(t)
	r := f.request(t, models.CategoryMeal, models.StatusDelivered)
	err := f.db.Transaction(func(tx *gorm.DB) error {
		return f.svc.Machine.Advance(tx, r, models.StatusRescheduled, Organizer(1), nil)
	})
	assert.ErrorIs(t, err, errs.ErrInvalidTransition)

	got := f.reload(t, r.ID)
	assert.Equal(t, models.StatusDelivered, got.Status)
	assert.Equal(t, 1, got.Version)
	var outbox int64
	f.db.Model(&models.Outbox{}).Count(&outbox)
	assert.Zero(t, outbox)
}

func TestOverrideSelectHonoursCap(t *testing.T) {
	f := newFixture(t)
	f.svc.Config.Meals.Limit = 1
	org := f.volunteer(t, "org", models.RoleOrganizer)
	a := f.request(t, models.CategoryMeal, models.StatusSubmitted)
	b := f.request(t, models.CategoryMeal, models.StatusSubmitted)

	_, err := f.svc.OverrideSelect(context.Background(), a.ID, Chef(org.ID))
	assert.ErrorIs(t, err, errs.ErrPermissionDenied)

	got, err := f.svc.OverrideSelect(context.Background(), a.ID, Organizer(org.ID))
	require.NoError(t, err)
	assert.Equal(t, models.StatusSelected, got.Status)

	_, err = f.svc.OverrideSelect(context.Background(), b.ID, Organizer(org.ID))
	assert.ErrorIs(t, err, errs.ErrQuotaExhausted)

	f.svc.Config.Meals.DisableLimit = true
	_, err = f.svc.OverrideSelect(context.Background(), b.ID, Organizer(org.ID))
	assert.NoError(t, err)
}

func TestConcurrentOverridesStayUnderCap(t *testing.T) {
	f := newFixture(t)
	f.svc.Config.Meals.Limit = 2
	org := f.volunteer(t, "org", models.RoleOrganizer)
	ids := make([]int64, 6)
	for i := range ids {
		ids[i] = f.request(t, models.CategoryMeal, models.StatusSubmitted).ID
	}

	var wg sync.WaitGroup
	results := make([]error, len(ids))
	for i, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, results[i] = f.svc.OverrideSelect(context.Background(), id, Organizer(org.ID))
		}()
	}
	wg.Wait()

	ok := 0
	for _, err := range results {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, errs.ErrQuotaExhausted)
	}
	assert.Equal(t, 2, ok)

	var selected int64
	require.NoError(t, f.db.Model(&models.Request{}).Where("status = ?", models.StatusSelected).Count(&selected).Error)
	assert.EqualValues(t, 2, selected)
}

func TestAssignGrocery(t *testing.T) {
	f := newFixture(t)
	org := f.volunteer(t, "org", models.RoleOrganizer)
	g := f.request(t, models.CategoryGrocery, models.StatusSelected)
	m := f.request(t, models.CategoryMeal, models.StatusSelected)
	sc := Schedule{DeliveryDate: time.Date(2025, 3, 18, 0, 0, 0, 0, toronto)}

	got, err := f.svc.AssignGrocery(context.Background(), g.ID, Organizer(org.ID), sc)
	require.NoError(t, err)
	assert.Equal(t, models.StatusChefAssigned, got.Status)
	assert.Nil(t, got.Assignment.ChefID)
	assert.True(t, day(2025, 3, 18).Equal(*got.Assignment.DeliveryDate))

	_, err = f.svc.AssignGrocery(context.Background(), m.ID, Organizer(org.ID), sc)
	assert.ErrorIs(t, err, errs.ErrPermissionDenied)

	_, err = f.svc.AssignGrocery(context.Background(), g.ID, Organizer(org.ID), Schedule{})
	var ve *errs.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestDeliveryLifecycle(t *testing.T) {
	f := newFixture(t)
	org := f.volunteer(t, "org", models.RoleOrganizer)
	chef := f.volunteer(t, "chef", models.RoleChef)
	driver := f.volunteer(t, "driver", models.RoleDeliverer)
	other := f.volunteer(t, "other", models.RoleDeliverer)
	r := f.request(t, models.CategoryMeal, models.StatusDriverAssigned, func(r *models.Request) {
		r.Assignment = models.Assignment{
			ChefID:       idp(chef.ID),
			DelivererID:  idp(driver.ID),
			DeliveryDate: day(2025, 3, 15),
			DropoffStart: tp(time.Date(2025, 3, 15, 21, 0, 0, 0, time.UTC)),
			DropoffEnd:   tp(time.Date(2025, 3, 15, 23, 0, 0, 0, time.UTC)),
		}
	})
	ctx := context.Background()

	got, err := f.svc.ConfirmDate(ctx, r.ID, Organizer(org.ID))
	require.NoError(t, err)
	assert.Equal(t, models.StatusDateConfirmed, got.Status)

	_, err = f.svc.MarkDelivered(ctx, r.ID, Deliverer(other.ID))
	assert.ErrorIs(t, err, errs.ErrPermissionDenied)

	// 14 March local, delivery is on the 15th
	_, err = f.svc.MarkDelivered(ctx, r.ID, Deliverer(driver.ID))
	assert.ErrorIs(t, err, errs.ErrInvalidTransition)

	f.now = time.Date(2025, 3, 15, 0, 30, 0, 0, toronto)
	got, err = f.svc.MarkDelivered(ctx, r.ID, Deliverer(driver.ID))
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, got.Status)

	_, err = f.svc.Reschedule(ctx, r.ID, Organizer(org.ID), "")
	assert.ErrorIs(t, err, errs.ErrInvalidTransition)

	var events []string
	f.db.Model(&models.Notification{}).Where("request_id = ?", r.ID).Order("id").Pluck("event", &events)
	assert.Contains(t, events, "date_confirmed")
	assert.Contains(t, events, "delivered")
}

func TestRescheduleAndNewDate(t *testing.T) {
	f := newFixture(t)
	org := f.volunteer(t, "org", models.RoleOrganizer)
	chef := f.volunteer(t, "chef", models.RoleChef)
	driver := f.volunteer(t, "driver", models.RoleDeliverer)
	stranger := f.volunteer(t, "stranger", models.RoleDeliverer)
	r := f.request(t, models.CategoryMeal, models.StatusDriverAssigned, func(r *models.Request) {
		r.Assignment = models.Assignment{
			ChefID:       idp(chef.ID),
			DelivererID:  idp(driver.ID),
			DeliveryDate: day(2025, 3, 15),
			DropoffStart: tp(time.Date(2025, 3, 15, 21, 0, 0, 0, time.UTC)),
			DropoffEnd:   tp(time.Date(2025, 3, 15, 23, 0, 0, 0, time.UTC)),
		}
	})
	ctx := context.Background()

	_, err := f.svc.Reschedule(ctx, r.ID, Deliverer(stranger.ID), "")
	assert.ErrorIs(t, err, errs.ErrPermissionDenied)

	got, err := f.svc.Reschedule(ctx, r.ID, Deliverer(driver.ID), "nobody home")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRescheduled, got.Status)
	assert.Equal(t, driver.ID, *got.Assignment.DelivererID)

	got, err = f.svc.SetNewDate(ctx, r.ID, Organizer(org.ID), Schedule{DeliveryDate: time.Date(2025, 3, 20, 0, 0, 0, 0, toronto)})
	require.NoError(t, err)
	assert.Equal(t, models.StatusChefAssigned, got.Status)
	assert.Nil(t, got.Assignment.DelivererID)
	assert.Nil(t, got.Assignment.DropoffStart)
	assert.Equal(t, chef.ID, *got.Assignment.ChefID)
	assert.True(t, day(2025, 3, 20).Equal(*got.Assignment.DeliveryDate))

	var notes []models.UpdateNote
	require.NoError(t, f.db.Where("request_id = ?", r.ID).Find(&notes).Error)
	require.Len(t, notes, 1)
	assert.Contains(t, notes[0].Body, "nobody home")
}

func TestUnclaim(t *testing.T) {
	f := newFixture(t)
	org := f.volunteer(t, "org", models.RoleOrganizer)
	chef := f.volunteer(t, "chef", models.RoleChef)
	driver := f.volunteer(t, "driver", models.RoleDeliverer)
	r := f.request(t, models.CategoryMeal, models.StatusDriverAssigned, func(r *models.Request) {
		r.Assignment = models.Assignment{ChefID: idp(chef.ID), DelivererID: idp(driver.ID), DeliveryDate: day(2025, 3, 15)}
	})
	ctx := context.Background()

	_, err := f.svc.Unclaim(ctx, r.ID, Organizer(org.ID), SlotChef, "")
	assert.ErrorIs(t, err, errs.ErrInvalidTransition)

	got, err := f.svc.Unclaim(ctx, r.ID, Organizer(org.ID), SlotDeliverer, "car trouble")
	require.NoError(t, err)
	assert.Equal(t, models.StatusChefAssigned, got.Status)
	assert.Nil(t, got.Assignment.DelivererID)

	got, err = f.svc.Unclaim(ctx, r.ID, Organizer(org.ID), SlotChef, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSelected, got.Status)
	assert.Nil(t, got.Assignment.ChefID)
	assert.Nil(t, got.Assignment.DeliveryDate)

	var notes []models.UpdateNote
	require.NoError(t, f.db.Where("request_id = ?", r.ID).Order("id").Find(&notes).Error)
	require.Len(t, notes, 2)
	assert.Equal(t, org.ID, notes[0].AuthorID)
	assert.Contains(t, notes[0].Body, "car trouble")
	assert.Contains(t, string(notes[1].Metadata), `"slot":"chef"`)

	var cleared []models.Notification
	require.NoError(t, f.db.Where("event = ?", "slot_cleared").Order("id").Find(&cleared).Error)
	require.Len(t, cleared, 2)
	assert.Equal(t, driver.ID, *cleared[0].VolunteerID)
	assert.Equal(t, chef.ID, *cleared[1].VolunteerID)

	_, err = f.svc.Unclaim(ctx, r.ID, Deliverer(driver.ID), SlotChef, "")
	assert.ErrorIs(t, err, errs.ErrPermissionDenied)
}

func TestCopyResetsWorkflow(t *testing.T) {
	f := newFixture(t)
	org := f.volunteer(t, "org", models.RoleOrganizer)
	chef := f.volunteer(t, "chef", models.RoleChef)
	src := f.request(t, models.CategoryMeal, models.StatusDelivered, func(r *models.Request) {
		r.Assignment = models.Assignment{ChefID: idp(chef.ID), DelivererID: idp(chef.ID), DeliveryDate: day(2025, 3, 10)}
		r.MealDescription = "lentil soup"
	})

	c, err := f.svc.Copy(context.Background(), src.ID, Organizer(org.ID))
	require.NoError(t, err)
	got := f.reload(t, c.ID)

	assert.NotEqual(t, src.ID, got.ID)
	assert.NotEqual(t, src.UUID, got.UUID)
	assert.Equal(t, models.StatusSubmitted, got.Status)
	assert.Nil(t, got.Assignment.ChefID)
	assert.Nil(t, got.Assignment.DelivererID)
	assert.Nil(t, got.Assignment.DeliveryDate)
	assert.Empty(t, got.MealDescription)
	assert.Equal(t, src.Category, got.Category)
	assert.Equal(t, src.Recipient, got.Recipient)
	assert.Equal(t, src.Address, got.Address)
	assert.True(t, src.Demographics.Equal(got.Demographics))
	assert.True(t, src.Dietary.Equal(got.Dietary))

	orig := f.reload(t, src.ID)
	assert.Equal(t, models.StatusDelivered, orig.Status)
	assert.Equal(t, src.UUID, orig.UUID)
}

func TestBatchOperationsReportPartialFailure(t *testing.T) {
	f := newFixture(t)
	org := f.volunteer(t, "org", models.RoleOrganizer)
	driver := f.volunteer(t, "driver", models.RoleDeliverer)
	withWindow := func(r *models.Request) {
		r.Assignment = models.Assignment{
			ChefID:       idp(driver.ID),
			DelivererID:  idp(driver.ID),
			DeliveryDate: day(2025, 3, 15),
			DropoffStart: tp(time.Date(2025, 3, 15, 21, 0, 0, 0, time.UTC)),
			DropoffEnd:   tp(time.Date(2025, 3, 15, 23, 0, 0, 0, time.UTC)),
		}
	}
	a := f.request(t, models.CategoryMeal, models.StatusDriverAssigned, withWindow)
	b := f.request(t, models.CategoryMeal, models.StatusSelected)
	c := f.request(t, models.CategoryMeal, models.StatusDriverAssigned, withWindow)

	res := f.svc.ConfirmMany(context.Background(), []int64{a.ID, b.ID, c.ID, 999}, Organizer(org.ID))
	assert.False(t, res.OK())
	assert.Equal(t, []int64{a.ID, c.ID}, res.Succeeded)
	assert.Contains(t, res.Failed[b.ID], "invalid_transition")
	assert.Contains(t, res.Failed[999], "not_found")
	assert.Equal(t, models.StatusDateConfirmed, f.reload(t, a.ID).Status)

	copies := f.svc.CopyMany(context.Background(), []int64{a.ID, 999}, Organizer(org.ID))
	assert.Len(t, copies.Created, 1)
	assert.Len(t, copies.Failed, 1)
}

func TestSendRemindersOnce(t *testing.T) {
	f := newFixture(t)
	driver := f.volunteer(t, "driver", models.RoleDeliverer, models.RoleChef)
	due := f.request(t, models.CategoryMeal, models.StatusDateConfirmed, func(r *models.Request) {
		r.Assignment = models.Assignment{ChefID: idp(driver.ID), DelivererID: idp(driver.ID), DeliveryDate: day(2025, 3, 14)}
	})
	f.request(t, models.CategoryMeal, models.StatusDateConfirmed, func(r *models.Request) {
		r.Assignment = models.Assignment{ChefID: idp(driver.ID), DelivererID: idp(driver.ID), DeliveryDate: day(2025, 3, 15)}
	})

	n, err := f.svc.SendReminders(context.Background(), f.now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = f.svc.SendReminders(context.Background(), f.now)
	require.NoError(t, err)
	assert.Zero(t, n)

	var rows []models.Notification
	require.NoError(t, f.db.Where("event = ? AND request_id = ?", "reminder", due.ID).Find(&rows).Error)
	assert.Len(t, rows, 2) // recipient and the chef-deliverer once
}

func TestAddNote(t *testing.T) {
	f := newFixture(t)
	chef := f.volunteer(t, "chef", models.RoleChef)
	drv := f.volunteer(t, "drv", models.RoleDeliverer)
	stranger := f.volunteer(t, "stranger", models.RoleChef, models.RoleDeliverer)
	org := f.volunteer(t, "org", models.RoleOrganizer)
	r := f.request(t, models.CategoryMeal, models.StatusDriverAssigned, func(r *models.Request) {
		r.Assignment.ChefID = &chef.ID
		r.Assignment.DelivererID = &drv.ID
		r.Assignment.DeliveryDate = day(2025, 3, 15)
	})

	n, err := f.svc.AddNote(context.Background(), r.ID, Chef(chef.ID), "  called, left voicemail ")
	require.NoError(t, err)
	assert.Equal(t, "called, left voicemail", n.Body)
	assert.Equal(t, chef.ID, n.AuthorID)

	_, err = f.svc.AddNote(context.Background(), r.ID, Deliverer(drv.ID), "buzzer 12")
	assert.NoError(t, err)
	_, err = f.svc.AddNote(context.Background(), r.ID, Organizer(org.ID), "checked in")
	assert.NoError(t, err)

	_, err = f.svc.AddNote(context.Background(), r.ID, Deliverer(stranger.ID), "not mine")
	assert.ErrorIs(t, err, errs.ErrPermissionDenied)
	var count int64
	f.db.Model(&models.UpdateNote{}).Where("request_id = ?", r.ID).Count(&count)
	assert.EqualValues(t, 3, count)

	_, err = f.svc.AddNote(context.Background(), r.ID, Chef(chef.ID), " ")
	var ve *errs.ValidationError
	assert.ErrorAs(t, err, &ve)
	_, err = f.svc.AddNote(context.Background(), 999, Organizer(org.ID), "x")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}
