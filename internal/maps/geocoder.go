// README: Google Maps adapter resolving ride addresses and driving estimates.
package maps

import (
	"context"
	"errors"
	"fmt"
	"time"

	"googlemaps.github.io/maps"

	"carshare/internal/types"
)

var ErrNoResult = errors.New("maps: no result")

// Client wraps the Google Maps geocoding and directions APIs.
type Client struct {
	client *maps.Client
	region string
}

// NewClient builds a Client. Extra options (e.g. maps.WithBaseURL in tests)
// are passed through to the underlying SDK client.
func NewClient(apiKey, region string, opts ...maps.ClientOption) (*Client, error) {
	opts = append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)
	client, err := maps.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &Client{client: client, region: region}, nil
}

// Geocode resolves a free-form address to coordinates and its formatted label.
func (c *Client) Geocode(ctx context.Context, address string) (types.Point, string, error) {
	results, err := c.client.Geocode(ctx, &maps.GeocodingRequest{
		Address: address,
		Region:  c.region,
	})
	if err != nil {
		return types.Point{}, "", fmt.Errorf("maps api error: %w", err)
	}
	if len(results) == 0 {
		return types.Point{}, "", ErrNoResult
	}
	loc := results[0].Geometry.Location
	return types.Point{Lat: loc.Lat, Lng: loc.Lng}, results[0].FormattedAddress, nil
}

// TravelEstimate returns the driving duration between two points.
func (c *Client) TravelEstimate(ctx context.Context, origin, destination types.Point) (time.Duration, error) {
	routes, _, err := c.client.Directions(ctx, &maps.DirectionsRequest{
		Origin:      latLng(origin),
		Destination: latLng(destination),
		Mode:        maps.TravelModeDriving,
		Region:      c.region,
	})
	if err != nil {
		return 0, fmt.Errorf("maps api error: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return 0, ErrNoResult
	}
	return routes[0].Legs[0].Duration, nil
}

func latLng(p types.Point) string {
	return fmt.Sprintf("%f,%f", p.Lat, p.Lng)
}
