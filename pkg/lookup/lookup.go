// Package lookup talks to the external services geolocator depends on:
// geocoders, elevation, IP geolocation, timezone, weather and the desktop
// position source. Each is an independent interface so any of them can be
// missing or failing without breaking a lookup.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"github.com/rubiojr/geolocator/pkg/geo"
)

const (
	DefaultTimeout   = 8 * time.Second
	DefaultUserAgent = "geolocator/1.0"
	maxBodyBytes     = 4 << 20
)

var (
	// ErrNotFound means the service answered but has no result.
	ErrNotFound = errors.New("not found")
	// ErrEmptyQuery is returned for blank queries before any request is made.
	ErrEmptyQuery = errors.New("empty query")
	// ErrLookupFailed is returned when a service reports a failure in its payload.
	ErrLookupFailed = errors.New("lookup failed")
)

// StatusError is a non-2xx HTTP reply.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: HTTP %d", e.URL, e.Code)
}

// Place is a geocoding result.
type Place struct {
	Lat           float64  `json:"lat"`
	Lon           float64  `json:"lon"`
	DisplayName   string   `json:"display_name"`
	Country       string   `json:"country,omitempty"`
	State         string   `json:"state,omitempty"`
	County        string   `json:"county,omitempty"`
	City          string   `json:"city,omitempty"`
	Postcode      string   `json:"postcode,omitempty"`
	Road          string   `json:"road,omitempty"`
	HouseNumber   string   `json:"house_number,omitempty"`
	Neighbourhood string   `json:"neighbourhood,omitempty"`
	BoundingBox   []string `json:"boundingbox,omitempty"`
	Class         string   `json:"class,omitempty"`
	Type          string   `json:"type,omitempty"`
	Source        string   `json:"source"`
}

// Point returns the place as a named GeoPoint.
func (p Place) Point() geo.GeoPoint {
	return geo.GeoPoint{Lat: p.Lat, Lon: p.Lon, Name: p.DisplayName}
}

// HasAddress reports whether any address component is set.
func (p Place) HasAddress() bool {
	return p.Country != "" || p.State != "" || p.City != "" || p.Postcode != "" || p.Road != ""
}

// IPInfo is the result of an IP geolocation.
type IPInfo struct {
	Query    string  `json:"query"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Country  string  `json:"country"`
	Region   string  `json:"regionName"`
	City     string  `json:"city"`
	Zip      string  `json:"zip"`
	Timezone string  `json:"timezone"`
	ISP      string  `json:"isp"`
	Org      string  `json:"org"`
	AS       string  `json:"as"`
}

// Timezone is the zone in effect at a coordinate.
type Timezone struct {
	Name      string `json:"name"`
	UTCOffset int    `json:"utc_offset_seconds"`
}

// Weather is the current weather at a coordinate.
type Weather struct {
	TemperatureC  float64 `json:"temperature_c"`
	WindSpeedKmh  float64 `json:"windspeed_kmh"`
	WindDirection float64 `json:"wind_direction"`
	Code          int     `json:"weather_code"`
	Summary       string  `json:"summary"`
	ObservedAt    string  `json:"observed_at,omitempty"`
}

// Geocoder resolves addresses to places and back.
type Geocoder interface {
	Search(ctx context.Context, query string) (*Place, error)
	Reverse(ctx context.Context, lat, lon float64) (*Place, error)
}

// ElevationService returns the ground elevation in meters.
type ElevationService interface {
	Elevation(ctx context.Context, lat, lon float64) (float64, error)
}

// IPLocator geolocates an IP address; an empty ip means the caller's own.
type IPLocator interface {
	LocateIP(ctx context.Context, ip string) (*IPInfo, error)
}

// TimezoneService returns the timezone at a coordinate.
type TimezoneService interface {
	Timezone(ctx context.Context, lat, lon float64) (*Timezone, error)
}

// WeatherService returns the current weather at a coordinate.
type WeatherService interface {
	CurrentWeather(ctx context.Context, lat, lon float64) (*Weather, error)
}

// PositionSource reports the device's own position.
type PositionSource interface {
	Current(ctx context.Context) (geo.GeoPoint, error)
}

// httpGetter is the shared JSON-over-HTTP client of the services.
type httpGetter struct {
	client    *http.Client
	userAgent string
}

func newGetter(client *http.Client, timeout time.Duration, userAgent string) httpGetter {
	if client == nil {
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return httpGetter{client: client, userAgent: userAgent}
}

func (g httpGetter) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", g.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return &StatusError{URL: req.URL.Redacted(), Code: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", req.URL.Path, err)
	}
	return nil
}
