package geo

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"
)

// Provider resolves a single address line to its true coordinates.
type Provider interface {
	Lookup(ctx context.Context, address string) (Point, error)
}

// GoogleProvider calls the Google Geocoding API.
type GoogleProvider struct {
	client *maps.Client
}

// NewGoogleProvider builds a provider for apiKey. opts are passed through to
// the maps client (tests point WithBaseURL at a local server).
func NewGoogleProvider(apiKey string, opts ...maps.ClientOption) (*GoogleProvider, error) {
	opts = append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)
	c, err := maps.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("maps client: %w", err)
	}
	return &GoogleProvider{client: c}, nil
}

func (p *GoogleProvider) Lookup(ctx context.Context, address string) (Point, error) {
	results, err := p.client.Geocode(ctx, &maps.GeocodingRequest{Address: address, Region: "ca"})
	if err != nil {
		return Point{}, NewTransientError(fmt.Errorf("geocode %q: %w", address, err))
	}
	if len(results) == 0 {
		return Point{}, fmt.Errorf("geocode %q: %w", address, ErrGeocoderNotFound)
	}
	loc := results[0].Geometry.Location
	return Point{Lat: loc.Lat, Lng: loc.Lng}, nil
}

// StaticProvider answers from a fixed table; addresses not in it are not found.
// Used in development when no API key is configured, and in tests.
type StaticProvider struct {
	Points map[string]Point
	Err    error
}

func (p StaticProvider) Lookup(_ context.Context, address string) (Point, error) {
	if p.Err != nil {
		return Point{}, p.Err
	}
	pt, ok := p.Points[address]
	if !ok {
		return Point{}, fmt.Errorf("geocode %q: %w", address, ErrGeocoderNotFound)
	}
	return pt, nil
}
