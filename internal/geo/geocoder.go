package geo

import (
	"context"
	"errors"
	"log"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/sirdesai22/mutualaid/internal/models"
)

// Geocoder wraps a Provider with the per-call timeout, the anonymizing jitter
// and the failure policy for stored locations.
type Geocoder struct {
	Provider Provider
	Timeout  time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

func NewGeocoder(p Provider, timeout time.Duration, rng *rand.Rand) *Geocoder {
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64()))
	}
	return &Geocoder{Provider: p, Timeout: timeout, rng: rng}
}

// Geocode returns the true coordinates of address.
func (g *Geocoder) Geocode(ctx context.Context, address string) (Point, error) {
	if g.Provider == nil {
		return Point{}, NewTransientError(errors.New("no geocoding provider configured"))
	}
	if g.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}
	p, err := g.Provider.Lookup(ctx, address)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !IsTransient(err) {
			return Point{}, NewTransientError(err)
		}
		return Point{}, err
	}
	return p, nil
}

// Anonymize applies jitter using the geocoder's random source.
func (g *Geocoder) Anonymize(p Point) Point {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Anonymize(p, g.rng)
}

// Locate geocodes a and returns the location to store. On failure it keeps
// prev if it holds a real pin, otherwise installs the city sentinel, and in
// both cases flags the row for re-geocoding. The returned error is the
// provider failure, for logging only.
func (g *Geocoder) Locate(ctx context.Context, a models.Address, prev models.Location) (models.Location, error) {
	p, err := g.Geocode(ctx, FormatAddress(a))
	if err == nil {
		anon := g.Anonymize(p)
		return models.Location{
			Latitude:  anon.Lat,
			Longitude: anon.Lng,
			Bucket:    Bucket(anon),
		}, nil
	}

	loc := prev
	if prev.Sentinel || FromLocation(prev).IsZero() {
		c := CityCentre(a.City)
		loc = models.Location{
			Latitude:          c.Lat,
			Longitude:         c.Lng,
			Sentinel:          true,
			Bucket:            Bucket(c),
			RegeocodeAttempts: prev.RegeocodeAttempts,
		}
	}
	loc.NeedsRegeocode = true
	log.Printf("📍 geocode failed for %s, using %s pin: %v", a.City, pinKind(loc), err)
	return loc, err
}

func pinKind(l models.Location) string {
	if l.Sentinel {
		return "sentinel"
	}
	return "previous"
}
