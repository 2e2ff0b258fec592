package workers

import (
	"bufio"
	"context"
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	es "github.com/elastic/go-elasticsearch/v8"
	"github.com/sirdesai22/mutualaid/internal/db/dbtest"
	"github.com/sirdesai22/mutualaid/internal/geo"
	"github.com/sirdesai22/mutualaid/internal/models"
	"github.com/sirdesai22/mutualaid/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeES answers bulk requests, failing every item while failing is set.
type fakeES struct {
	mu      sync.Mutex
	failing bool
	docs    map[string]map[string]any
	deletes []string
}

func (f *fakeES) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	if !strings.HasSuffix(r.URL.Path, "/_bulk") {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	var items []map[string]any
	sc := bufio.NewScanner(r.Body)
	sc.Buffer(make([]byte, 1<<20), 1<<20)
	var pending struct{ action, id string }
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var m map[string]json.RawMessage
		_ = json.Unmarshal(line, &m)
		if meta, ok := m["index"]; ok && len(m) == 1 {
			pending.action, pending.id = "index", metaID(meta)
			continue
		}
		if meta, ok := m["delete"]; ok && len(m) == 1 {
			items = append(items, f.result("delete", metaID(meta), nil))
			continue
		}
		var doc map[string]any
		_ = json.Unmarshal(line, &doc)
		items = append(items, f.result(pending.action, pending.id, doc))
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"took": 1, "errors": f.failing, "items": items})
}

func metaID(raw json.RawMessage) string {
	var m struct {
		ID string `json:"_id"`
	}
	_ = json.Unmarshal(raw, &m)
	return m.ID
}

func (f *fakeES) result(action, id string, doc map[string]any) map[string]any {
	res := map[string]any{"_index": "requests_v1", "_id": id, "status": 201}
	if f.failing {
		res["status"] = 500
		res["error"] = map[string]any{"type": "unavailable", "reason": "shard down"}
	} else if action == "delete" {
		f.deletes = append(f.deletes, id)
		res["status"] = 200
	} else {
		f.docs[id] = doc
	}
	return map[string]any{action: res}
}

func newSyncWorker(t *testing.T) (*SyncWorker, *fakeES, *gorm.DB) {
	t.Helper()
	gdb := dbtest.Open(t)
	fake := &fakeES{docs: map[string]map[string]any{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	client, err := es.NewClient(es.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return NewSyncWorker(gdb, client), fake, gdb
}

func newRequest(t *testing.T, gdb *gorm.DB) *models.Request {
	t.Helper()
	r := &models.Request{
		Category:     models.CategoryMeal,
		Status:       models.StatusSubmitted,
		Version:      1,
		Recipient:    models.Recipient{Name: "Lee Private", Phone: "4165550000"},
		Address:      models.Address{Line1: "9 Hidden Lane", City: "York", PostalCode: "M6M 1A1"},
		Household:    models.Household{NumAdults: 1, NumChildren: 2},
		Demographics: models.NewTagSet(models.DemographicSenior, models.DemographicLGBTQ),
		Location:     models.Location{Latitude: 43.69, Longitude: -79.48, Bucket: "12/1144/1492"},
	}
	require.NoError(t, gdb.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(r).Error; err != nil {
			return err
		}
		return services.AddRequestEvent(tx, r, "", "test")
	}))
	return r
}

func TestFetchOutboxBatch(t *testing.T) {
	gdb := dbtest.Open(t)
	for i := 0; i < 3; i++ {
		newRequest(t, gdb)
	}
	ctx := context.Background()

	b, err := FetchOutboxBatch(ctx, gdb, 2)
	require.NoError(t, err)
	assert.Len(t, b.Events, 2)
	b, err = FetchOutboxBatch(ctx, gdb, 2)
	require.NoError(t, err)
	assert.Len(t, b.Events, 1)
	b, err = FetchOutboxBatch(ctx, gdb, 2)
	require.NoError(t, err)
	assert.Empty(t, b.Events)

	var open int64
	gdb.Model(&models.Outbox{}).Where("processed = ?", false).Count(&open)
	assert.Zero(t, open)
}

func TestSyncIndexesAnonymizedDocs(t *testing.T) {
	w, fake, gdb := newSyncWorker(t)
	r := newRequest(t, gdb)

	n, err := w.processOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	doc, ok := fake.docs[r.UUID.String()]
	require.True(t, ok)
	assert.Equal(t, "meal", doc["category"])
	assert.Equal(t, "submitted", doc["status"])
	assert.Equal(t, "York", doc["city"])
	assert.EqualValues(t, 3, doc["household_size"])
	assert.EqualValues(t, 2, doc["demographic_count"])
	assert.Equal(t, map[string]any{"lat": 43.69, "lon": -79.48}, doc["location"])
	raw, _ := json.Marshal(doc)
	assert.NotContains(t, string(raw), "Hidden")
	assert.NotContains(t, string(raw), "Lee")
	assert.NotContains(t, string(raw), "4165550000")

	var dlq int64
	gdb.Model(&models.DLQ{}).Count(&dlq)
	assert.Zero(t, dlq)

	n, err = w.processOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSyncFailureGoesToDLQAndRetries(t *testing.T) {
	w, fake, gdb := newSyncWorker(t)
	r := newRequest(t, gdb)
	gone := newRequest(t, gdb)
	require.NoError(t, gdb.Delete(&models.Request{}, gone.ID).Error)

	fake.failing = true
	_, err := w.processOnce(context.Background())
	require.NoError(t, err)

	var count int64
	gdb.Model(&models.DLQ{}).Count(&count)
	assert.EqualValues(t, 2, count)
	var row models.DLQ
	require.NoError(t, gdb.Where("entity_id = ?", r.UUID.String()).First(&row).Error)
	assert.Contains(t, row.ErrorMsg, "shard down")

	resolved, err := w.retryOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, resolved)
	require.NoError(t, gdb.First(&row, row.ID).Error)
	assert.Equal(t, 1, row.Attempts)
	assert.False(t, row.Resolved)

	fake.failing = false
	resolved, err = w.retryOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, resolved)
	assert.Contains(t, fake.docs, r.UUID.String())
	assert.Equal(t, []string{gone.UUID.String()}, fake.deletes)
	require.NoError(t, gdb.First(&row, row.ID).Error)
	assert.True(t, row.Resolved)
	assert.NotNil(t, row.ResolvedAt)

	resolved, err = w.retryOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, resolved)
}

func TestRegeocodeWorker(t *testing.T) {
	gdb := dbtest.Open(t)
	found := models.Address{Line1: "100 Queen St W", City: "Toronto", PostalCode: "M5H 2N2"}
	provider := &geo.StaticProvider{Points: map[string]geo.Point{
		geo.FormatAddress(found): {Lat: 43.6525, Lng: -79.3839},
	}}
	w := NewRegeocodeWorker(gdb, geo.NewGeocoder(provider, time.Second, rand.New(rand.NewPCG(3, 4))))

	centre := geo.CityCentre("Toronto")
	sentinel := models.Location{Latitude: centre.Lat, Longitude: centre.Lng, Sentinel: true, NeedsRegeocode: true}
	fixable := &models.Request{Category: models.CategoryMeal, Status: models.StatusSubmitted, Recipient: models.Recipient{Name: "A"},
		Household: models.Household{NumAdults: 1}, Address: found, Location: sentinel}
	broken := &models.Request{Category: models.CategoryMeal, Status: models.StatusSubmitted, Recipient: models.Recipient{Name: "B"},
		Household: models.Household{NumAdults: 1}, Address: models.Address{Line1: "0 Nowhere", City: "Toronto"}, Location: sentinel}
	exhausted := &models.Request{Category: models.CategoryMeal, Status: models.StatusSubmitted, Recipient: models.Recipient{Name: "C"},
		Household: models.Household{NumAdults: 1}, Address: found, Location: sentinel}
	exhausted.Location.RegeocodeAttempts = 5
	vol := &models.Volunteer{Name: "V", Email: "v@example.com", Address: found, Location: sentinel}
	for _, r := range []*models.Request{fixable, broken, exhausted} {
		require.NoError(t, gdb.Create(r).Error)
	}
	require.NoError(t, gdb.Create(vol).Error)

	res, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RegeocodeResult{Fixed: 2, Failed: 1}, res)

	var got models.Request
	require.NoError(t, gdb.First(&got, fixable.ID).Error)
	assert.False(t, got.Location.Sentinel)
	assert.False(t, got.Location.NeedsRegeocode)
	assert.NotEmpty(t, got.Location.Bucket)
	assert.Less(t, geo.DistanceKm(geo.Point{Lat: 43.6525, Lng: -79.3839}, geo.FromLocation(got.Location)), 0.2)

	got = models.Request{}
	require.NoError(t, gdb.First(&got, broken.ID).Error)
	assert.True(t, got.Location.Sentinel)
	assert.True(t, got.Location.NeedsRegeocode)
	assert.Equal(t, 1, got.Location.RegeocodeAttempts)

	got = models.Request{}
	require.NoError(t, gdb.First(&got, exhausted.ID).Error)
	assert.True(t, got.Location.NeedsRegeocode)
	assert.Equal(t, 5, got.Location.RegeocodeAttempts)

	var v models.Volunteer
	require.NoError(t, gdb.First(&v, vol.ID).Error)
	assert.False(t, v.Location.Sentinel)

	var events []models.Outbox
	require.NoError(t, gdb.Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, fixable.UUID, events[0].EntityID)
}
