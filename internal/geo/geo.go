// Package geo geocodes addresses into anonymized map pins and measures
// distances between them.
package geo

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/maptile"
	"github.com/sirdesai22/mutualaid/internal/models"
)

// Jitter band in degrees, applied independently to each axis. At Toronto's
// latitude this moves the pin roughly 50-100 m.
const (
	JitterMin = 0.0004
	JitterMax = 0.0008
)

// bucketZoom gives tiles of roughly 10 km across at mid latitudes.
const bucketZoom maptile.Zoom = 12

type Point struct {
	Lat float64
	Lng float64
}

func (p Point) IsZero() bool { return p.Lat == 0 && p.Lng == 0 }

func (p Point) orb() orb.Point { return orb.Point{p.Lng, p.Lat} }

func FromLocation(l models.Location) Point {
	return Point{Lat: l.Latitude, Lng: l.Longitude}
}

// Anonymize moves p by an independent uniform offset in [JitterMin, JitterMax)
// with random sign on each axis.
func Anonymize(p Point, rng *rand.Rand) Point {
	return Point{
		Lat: p.Lat + jitter(rng),
		Lng: p.Lng + jitter(rng),
	}
}

func jitter(rng *rand.Rand) float64 {
	d := JitterMin + rng.Float64()*(JitterMax-JitterMin)
	if rng.IntN(2) == 0 {
		return -d
	}
	return d
}

// DistanceKm is the great-circle distance between a and b.
func DistanceKm(a, b Point) float64 {
	return geo.DistanceHaversine(a.orb(), b.orb()) / 1000
}

// BoundAround returns the south-west and north-east corners of a box that
// contains every point within km of p.
func BoundAround(p Point, km float64) (sw, ne Point) {
	b := geo.NewBoundAroundPoint(p.orb(), km*1000)
	return Point{Lat: b.Bottom(), Lng: b.Left()}, Point{Lat: b.Top(), Lng: b.Right()}
}

// Bucket is the spatial index key: the web-mercator tile containing p.
func Bucket(p Point) string {
	t := maptile.At(p.orb(), bucketZoom)
	return fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)
}

// cityCentres are the supported cities and their sentinel pins.
var cityCentres = map[string]Point{
	"toronto":     {Lat: 43.6532, Lng: -79.3832},
	"east york":   {Lat: 43.6912, Lng: -79.3276},
	"etobicoke":   {Lat: 43.6205, Lng: -79.5132},
	"north york":  {Lat: 43.7615, Lng: -79.4111},
	"scarborough": {Lat: 43.7764, Lng: -79.2318},
	"york":        {Lat: 43.6896, Lng: -79.4786},
}

// SupportedCity reports whether city is in the service area.
func SupportedCity(city string) bool {
	_, ok := cityCentres[normalizeCity(city)]
	return ok
}

// CityCentre returns the sentinel pin for city, defaulting to Toronto.
func CityCentre(city string) Point {
	if p, ok := cityCentres[normalizeCity(city)]; ok {
		return p
	}
	return cityCentres["toronto"]
}

// SupportedCities lists the service area for error messages.
func SupportedCities() []string {
	return []string{"Toronto", "East York", "Etobicoke", "North York", "Scarborough", "York"}
}

func normalizeCity(city string) string {
	return strings.Join(strings.Fields(strings.ToLower(city)), " ")
}

// FormatAddress renders the single address line sent to the provider.
func FormatAddress(a models.Address) string {
	parts := []string{strings.TrimSpace(a.Line1)}
	if l2 := strings.TrimSpace(a.Line2); l2 != "" {
		parts = append(parts, l2)
	}
	parts = append(parts, strings.TrimSpace(a.City)+" ON", strings.TrimSpace(a.PostalCode), "Canada")
	return strings.Join(parts, ", ")
}
