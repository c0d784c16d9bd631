// Package geo holds the located-point model and the coordinate math used
// across geolocator: great-circle distance, bearing, CRS transforms and
// buffer approximation.
package geo

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidCoordinate is returned for non-finite, out-of-range or
// unparseable coordinate input.
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// GeoPoint is the canonical located-point record. Values are treated as
// immutable: the With* helpers return modified copies.
type GeoPoint struct {
	Lat         float64   `json:"lat"`
	Lon         float64   `json:"lon"`
	Elevation   *float64  `json:"elevation,omitempty"`
	Name        string    `json:"name,omitempty"`
	Description string    `json:"description,omitempty"`
	Time        time.Time `json:"timestamp,omitempty"`
}

// NewPoint validates lat/lon and returns a point.
func NewPoint(lat, lon float64) (GeoPoint, error) {
	p := GeoPoint{Lat: lat, Lon: lon}
	if err := p.Validate(); err != nil {
		return GeoPoint{}, err
	}
	return p, nil
}

// ParsePoint parses textual latitude and longitude.
func ParsePoint(lat, lon string) (GeoPoint, error) {
	la, err := ParseCoordinate(lat)
	if err != nil {
		return GeoPoint{}, err
	}
	lo, err := ParseCoordinate(lon)
	if err != nil {
		return GeoPoint{}, err
	}
	return NewPoint(la, lo)
}

// ParseLatLon parses a "lat,lon" pair.
func ParseLatLon(s string) (GeoPoint, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return GeoPoint{}, fmt.Errorf("%w: expected \"lat,lon\", got %q", ErrInvalidCoordinate, s)
	}
	return ParsePoint(parts[0], parts[1])
}

// ParseCoordinate parses a single decimal-degree value.
func ParseCoordinate(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCoordinate, s)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q is not finite", ErrInvalidCoordinate, s)
	}
	return v, nil
}

// Validate checks that the point has finite, in-range coordinates.
func (p GeoPoint) Validate() error {
	if !finite(p.Lat) || !finite(p.Lon) {
		return fmt.Errorf("%w: non-finite value (%v, %v)", ErrInvalidCoordinate, p.Lat, p.Lon)
	}
	if p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidCoordinate, p.Lat)
	}
	if p.Lon < -180 || p.Lon > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidCoordinate, p.Lon)
	}
	if p.Elevation != nil && !finite(*p.Elevation) {
		return fmt.Errorf("%w: non-finite elevation", ErrInvalidCoordinate)
	}
	return nil
}

// IsSentinel reports whether the point sits at exactly (0,0), which the
// exchange formats treat as "no location".
func (p GeoPoint) IsSentinel() bool {
	return p.Lat == 0 && p.Lon == 0
}

// WithName returns a copy of p named name.
func (p GeoPoint) WithName(name string) GeoPoint {
	p.Name = name
	return p
}

// WithDescription returns a copy of p with the given description.
func (p GeoPoint) WithDescription(desc string) GeoPoint {
	p.Description = desc
	return p
}

// WithTime returns a copy of p stamped at t.
func (p GeoPoint) WithTime(t time.Time) GeoPoint {
	p.Time = t
	return p
}

// WithElevation returns a copy of p at elevation meters.
func (p GeoPoint) WithElevation(meters float64) GeoPoint {
	p.Elevation = &meters
	return p
}

// HasElevation reports whether an elevation is present.
func (p GeoPoint) HasElevation() bool {
	return p.Elevation != nil
}

func (p GeoPoint) String() string {
	if p.Name != "" {
		return fmt.Sprintf("%s (%.6f, %.6f)", p.Name, p.Lat, p.Lon)
	}
	return fmt.Sprintf("(%.6f, %.6f)", p.Lat, p.Lon)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
