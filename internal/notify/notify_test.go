package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirdesai22/mutualaid/internal/db/dbtest"
	"github.com/sirdesai22/mutualaid/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var toronto, _ = time.LoadLocation("America/Toronto")

func ptr[T any](v T) *T { return &v }

func sampleRequest(status models.Status) *models.Request {
	date := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	return &models.Request{
		Category: models.CategoryMeal,
		Status:   status,
		Recipient: models.Recipient{
			Name:  "Jordan Example",
			Email: "jordan@example.com",
			Phone: "4165550100",
		},
		Address:   models.Address{Line1: "12 Secret Lane", City: "Toronto", PostalCode: "M5V 2T6"},
		Household: models.Household{NumAdults: 2, NumChildren: 1},
		Dietary:   models.NewTagSet(models.DietHalal),
		Assignment: models.Assignment{
			DeliveryDate: &date,
			DropoffStart: ptr(time.Date(2025, 3, 14, 21, 0, 0, 0, time.UTC)),
			DropoffEnd:   ptr(time.Date(2025, 3, 14, 23, 0, 0, 0, time.UTC)),
		},
	}
}

func chef() *models.Volunteer {
	return &models.Volunteer{ID: 7, Name: "Alexandra Chefington", Email: "alex@example.com", Roles: models.NewTagSet(models.RoleChef)}
}

func TestDefaultCatalogCompiles(t *testing.T) {
	c, err := LoadCatalog(defaultTemplates)
	require.NoError(t, err)
	for _, ev := range []string{"request_received", "selected", "not_selected", "chef_assigned", "driver_assigned",
		"date_confirmed", "rescheduled", "new_date", "delivered", "reminder", "slot_cleared", "signup_open"} {
		assert.NotEmpty(t, c.Audiences(ev), ev)
	}
}

func TestLoadCatalogRejectsUnknownAudience(t *testing.T) {
	_, err := LoadCatalog([]byte("x:\n  landlord:\n    subject: hi\n"))
	assert.Error(t, err)
}

func TestEventFor(t *testing.T) {
	tests := []struct {
		from, to models.Status
		want     string
	}{
		{"", models.StatusSubmitted, "request_received"},
		{models.StatusSubmitted, models.StatusSelected, "selected"},
		{models.StatusSubmitted, models.StatusNotSelected, "not_selected"},
		{models.StatusSelected, models.StatusChefAssigned, "chef_assigned"},
		{models.StatusRescheduled, models.StatusChefAssigned, "new_date"},
		{models.StatusChefAssigned, models.StatusDriverAssigned, "driver_assigned"},
		{models.StatusDriverAssigned, models.StatusDateConfirmed, "date_confirmed"},
		{models.StatusDateConfirmed, models.StatusRescheduled, "rescheduled"},
		{models.StatusDateConfirmed, models.StatusDelivered, "delivered"},
		{models.StatusChefAssigned, models.StatusSelected, ""},
		{models.StatusDriverAssigned, models.StatusChefAssigned, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EventFor(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestChannelFor(t *testing.T) {
	ch, dest, ok := ChannelFor(true, "4165550100", "a@b.c")
	assert.True(t, ok)
	assert.Equal(t, models.ChannelSMS, ch)
	assert.Equal(t, "4165550100", dest)

	ch, dest, ok = ChannelFor(true, "555", "a@b.c")
	assert.True(t, ok)
	assert.Equal(t, models.ChannelEmail, ch)
	assert.Equal(t, "a@b.c", dest)

	ch, _, _ = ChannelFor(false, "4165550100", "a@b.c")
	assert.Equal(t, models.ChannelEmail, ch)

	_, _, ok = ChannelFor(false, "4165550100", "")
	assert.False(t, ok)
}

func TestRecipientViewUsesShortNames(t *testing.T) {
	r := sampleRequest(models.StatusDriverAssigned)
	v := NewRecipientView(r, Parties{Chef: chef(), Deliverer: &models.Volunteer{Name: "Sam Driver", ShortName: "Sam D."}}, toronto)
	assert.Equal(t, "Alexandra", v.ChefName)
	assert.Equal(t, "Sam D.", v.DelivererName)
	assert.Equal(t, "Friday, March 14", v.DeliveryDate)
	assert.Equal(t, "5:00 PM and 7:00 PM", v.DropoffWindow)

	o := NewOrchestrator(DefaultCatalog(), toronto, "default", "groceries")
	n, err := o.render(Planned{Audience: models.AudienceRecipient, Template: "driver_assigned", Channel: models.ChannelEmail}, r,
		Parties{Chef: chef(), Deliverer: &models.Volunteer{Name: "Sam Driver"}})
	require.NoError(t, err)
	assert.NotContains(t, n.Body, "Chefington")
	assert.NotContains(t, n.Body, "Driver")
}

func TestVolunteerAddressVisibility(t *testing.T) {
	tests := []struct {
		aud    models.Audience
		status models.Status
		want   bool
	}{
		{models.AudienceChef, models.StatusSelected, false},
		{models.AudienceChef, models.StatusChefAssigned, true},
		{models.AudienceChef, models.StatusRescheduled, true},
		{models.AudienceDeliverer, models.StatusChefAssigned, false},
		{models.AudienceDeliverer, models.StatusRescheduled, false},
		{models.AudienceDeliverer, models.StatusDriverAssigned, true},
		{models.AudienceDeliverer, models.StatusDateConfirmed, true},
		{models.AudienceVolunteer, models.StatusDelivered, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AddressVisible(tt.aud, tt.status), "%s at %s", tt.aud, tt.status)
	}

	o := NewOrchestrator(DefaultCatalog(), toronto, "default", "groceries")
	r := sampleRequest(models.StatusChefAssigned)
	d := &models.Volunteer{ID: 9, Name: "Sam Driver", Email: "sam@example.com"}
	n, err := o.render(Planned{Audience: models.AudienceDeliverer, Template: "rescheduled", Channel: models.ChannelEmail}, r, Parties{Deliverer: d})
	require.NoError(t, err)
	assert.NotContains(t, n.Body, "Secret Lane")

	r.Status = models.StatusDriverAssigned
	n, err = o.render(Planned{Audience: models.AudienceDeliverer, Template: "driver_assigned", Channel: models.ChannelEmail}, r, Parties{Deliverer: d})
	require.NoError(t, err)
	assert.Contains(t, n.Body, "12 Secret Lane")
}

func TestPlanCombinedClaimSendsDelivererOnly(t *testing.T) {
	o := NewOrchestrator(DefaultCatalog(), toronto, "default", "groceries")
	r := sampleRequest(models.StatusDriverAssigned)
	r.Recipient.CanReceiveTexts = true
	c := chef()
	planned := o.Plan("driver_assigned", r, Parties{Chef: c, Deliverer: c})
	require.Len(t, planned, 2)
	assert.Equal(t, models.AudienceRecipient, planned[0].Audience)
	assert.Equal(t, models.ChannelSMS, planned[0].Channel)
	assert.Equal(t, models.AudienceDeliverer, planned[1].Audience)
	assert.Equal(t, int64(7), *planned[1].VolunteerID)
}

func TestPlanSkipsSentinelAndUncontactable(t *testing.T) {
	o := NewOrchestrator(DefaultCatalog(), toronto, "default", "groceries")
	r := sampleRequest(models.StatusChefAssigned)
	r.Recipient.Email = ""
	r.Recipient.Phone = ""
	sentinel := &models.Volunteer{ID: 1, Name: "Deleted", Email: "x@invalid", IsSentinel: true}
	assert.Empty(t, o.Plan("chef_assigned", r, Parties{Chef: sentinel}))
}

func TestEnqueueStoresPendingRows(t *testing.T) {
	gdb := dbtest.Open(t)
	o := NewOrchestrator(DefaultCatalog(), toronto, "default", "groceries")

	r := sampleRequest(models.StatusSelected)
	r.Category = models.CategoryGrocery
	r.Recipient.CanReceiveTexts = true
	require.NoError(t, gdb.Create(r).Error)

	n, err := o.EnqueueTransition(gdb, r, models.StatusSubmitted, models.StatusSelected)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var rows []models.Notification
	require.NoError(t, gdb.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, models.NotificationPending, rows[0].Status)
	assert.Equal(t, "groceries", rows[0].GroupUUID)
	assert.Equal(t, r.ID, *rows[0].RequestID)
	assert.Contains(t, rows[0].Body, "grocery box")

	n, err = o.EnqueueTransition(gdb, r, models.StatusChefAssigned, models.StatusSelected)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDispatcher(t *testing.T) {
	setup := func(t *testing.T, sink Sink) (*Dispatcher, *models.Request) {
		gdb := dbtest.Open(t)
		r := sampleRequest(models.StatusSelected)
		require.NoError(t, gdb.Create(r).Error)
		o := NewOrchestrator(DefaultCatalog(), toronto, "default", "groceries")
		_, err := o.Enqueue(gdb, "selected", r, Parties{})
		require.NoError(t, err)
		return &Dispatcher{DB: gdb, Sink: sink, Timeout: time.Second, MaxAttempts: 3, Backoff: time.Millisecond}, r
	}

	t.Run("retries transient failures", func(t *testing.T) {
		sink := &RecordingSink{Fail: func(_ Message, attempt int) error {
			if attempt < 3 {
				return &TransportError{Channel: models.ChannelEmail, Err: errors.New("connection reset")}
			}
			return nil
		}}
		d, _ := setup(t, sink)
		sent, failed, err := d.DeliverPending(context.Background(), 10)
		require.NoError(t, err)
		assert.Equal(t, 1, sent)
		assert.Zero(t, failed)

		var n models.Notification
		require.NoError(t, d.DB.First(&n).Error)
		assert.Equal(t, models.NotificationSent, n.Status)
		assert.Equal(t, 3, n.Attempts)
		assert.NotNil(t, n.SentAt)
		assert.Len(t, sink.Sent(), 1)
	})

	t.Run("flags request after exhausting retries", func(t *testing.T) {
		sink := &RecordingSink{Fail: func(Message, int) error {
			return &TransportError{Channel: models.ChannelEmail, StatusCode: 503, Err: errors.New("unavailable")}
		}}
		d, r := setup(t, sink)
		sent, failed, err := d.DeliverPending(context.Background(), 10)
		require.NoError(t, err)
		assert.Zero(t, sent)
		assert.Equal(t, 1, failed)

		var n models.Notification
		require.NoError(t, d.DB.First(&n).Error)
		assert.Equal(t, models.NotificationFailed, n.Status)
		assert.Equal(t, 3, n.Attempts)
		assert.Contains(t, n.LastError, "unavailable")

		var got models.Request
		require.NoError(t, d.DB.First(&got, r.ID).Error)
		assert.True(t, got.NotificationFailed)
		assert.Equal(t, models.StatusSelected, got.Status)
	})

	t.Run("permanent failure is not retried", func(t *testing.T) {
		sink := &RecordingSink{Fail: func(Message, int) error {
			return &TransportError{Channel: models.ChannelEmail, StatusCode: 400, Err: errors.New("bad number")}
		}}
		d, _ := setup(t, sink)
		_, failed, err := d.DeliverPending(context.Background(), 10)
		require.NoError(t, err)
		assert.Equal(t, 1, failed)

		var n models.Notification
		require.NoError(t, d.DB.First(&n).Error)
		assert.Equal(t, 1, n.Attempts)
	})

	t.Run("failed sent marker is logged", func(t *testing.T) {
		d, _ := setup(t, &RecordingSink{})
		require.NoError(t, d.DB.Exec(`CREATE TRIGGER refuse_sent BEFORE UPDATE OF status ON notifications
			WHEN NEW.status = 'sent' BEGIN SELECT RAISE(ABORT, 'disk full'); END`).Error)

		var logs bytes.Buffer
		log.SetOutput(&logs)
		defer log.SetOutput(os.Stderr)

		sent, failed, err := d.DeliverPending(context.Background(), 10)
		require.NoError(t, err)
		assert.Equal(t, 1, sent)
		assert.Zero(t, failed)
		assert.Contains(t, logs.String(), "sent but not marked")

		var n models.Notification
		require.NoError(t, d.DB.First(&n).Error)
		assert.Equal(t, models.NotificationSending, n.Status)
	})

	t.Run("nothing pending", func(t *testing.T) {
		d, _ := setup(t, &RecordingSink{})
		_, _, err := d.DeliverPending(context.Background(), 10)
		require.NoError(t, err)
		sent, failed, err := d.DeliverPending(context.Background(), 10)
		require.NoError(t, err)
		assert.Zero(t, sent+failed)
	})
}

func TestSMSSink(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	var broadcast smsBroadcast
	var contactURN string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "Token secret", r.Header.Get("Authorization"))
		paths = append(paths, r.URL.Path)
		if strings.HasSuffix(r.URL.Path, "contacts.json") {
			contactURN = r.URL.Query().Get("urn")
		}
		if strings.HasSuffix(r.URL.Path, "broadcasts.json") {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&broadcast))
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	s := NewSMSSink(srv.URL, "secret", time.Second)
	err := s.Send(context.Background(), Message{To: "4165550100", Channel: models.ChannelSMS, Body: "hello", Group: "g-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/api/v2/contacts.json", "/api/v2/broadcasts.json"}, paths)
	assert.Equal(t, "tel:+14165550100", contactURN)
	assert.Equal(t, []string{"tel:+14165550100"}, broadcast.URNs)
	assert.Equal(t, "hello", broadcast.Text)
}

func TestSMSSinkTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewSMSSink(srv.URL, "t", time.Second).Send(context.Background(), Message{To: "4165550100"})
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusBadGateway, te.StatusCode)
	assert.True(t, te.Temporary())
}

func TestRouter(t *testing.T) {
	sms, email := &RecordingSink{}, &RecordingSink{}
	r := Router{SMS: sms, Email: email}
	require.NoError(t, r.Send(context.Background(), Message{Channel: models.ChannelEmail, To: "a@b.c"}))
	assert.Len(t, email.Sent(), 1)
	assert.Empty(t, sms.Sent())
	assert.Error(t, Router{}.Send(context.Background(), Message{Channel: models.ChannelSMS}))
}

func TestSendMass(t *testing.T) {
	gdb := dbtest.Open(t)
	o := NewOrchestrator(DefaultCatalog(), toronto, "default", "groceries")
	vols := []*models.Volunteer{
		{Name: "Chef One", Email: "one@example.com", Roles: models.NewTagSet(models.RoleChef)},
		{Name: "Driver Two", Phone: "4165550111", CanReceiveTexts: true, Roles: models.NewTagSet(models.RoleDeliverer)},
		{Name: "No Contact", Roles: models.NewTagSet(models.RoleChef)},
	}
	for _, v := range vols {
		require.NoError(t, gdb.Create(v).Error)
	}
	sel := sampleRequest(models.StatusSelected)
	sub := sampleRequest(models.StatusSubmitted)
	require.NoError(t, gdb.Create(sel).Error)
	require.NoError(t, gdb.Create(sub).Error)
	ctx := context.Background()

	n, err := o.SendMass(ctx, gdb, MassMail{Event: "signup_open", Audience: models.AudienceVolunteer, Role: models.RoleChef})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = o.SendMass(ctx, gdb, MassMail{Event: "signup_open", Audience: models.AudienceVolunteer})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = o.SendMass(ctx, gdb, MassMail{Event: "selected", Audience: models.AudienceRecipient, Status: models.StatusSelected})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = o.SendMass(ctx, gdb, MassMail{Event: "signup_open", Audience: models.AudienceRecipient})
	assert.Error(t, err)

	var rows int64
	gdb.Model(&models.Notification{}).Count(&rows)
	assert.EqualValues(t, 4, rows)
}
