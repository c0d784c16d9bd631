package geo

import (
	"math"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
)

// EarthRadius is the spherical Earth radius in meters used for distances.
const EarthRadius = 6371000.0

var compassPoints = [8]string{"N", "NE", "E", "SE", "S", "SW", "W", "NW"}

// Distance returns the haversine great-circle distance between a and b in meters.
func Distance(a, b GeoPoint) (float64, error) {
	if err := a.Validate(); err != nil {
		return 0, err
	}
	if err := b.Validate(); err != nil {
		return 0, err
	}
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := toRadians(b.Lat - a.Lat)
	dLon := toRadians(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadius * c, nil
}

// Bearing returns the initial bearing from a to b in degrees, in [0,360).
func Bearing(a, b GeoPoint) (float64, error) {
	if err := a.Validate(); err != nil {
		return 0, err
	}
	if err := b.Validate(); err != nil {
		return 0, err
	}
	deg := orbgeo.Bearing(orb.Point{a.Lon, a.Lat}, orb.Point{b.Lon, b.Lat})
	return normalizeDegrees(deg), nil
}

// Compass maps a bearing to an 8-point compass rose label.
func Compass(bearing float64) string {
	idx := int(math.Floor(normalizeDegrees(bearing+22.5)/45)) % 8
	return compassPoints[idx]
}

// UTMZone returns the UTM longitude zone (1..60) for lon.
func UTMZone(lon float64) int {
	zone := int(math.Floor((lon+180)/6)) + 1
	if zone < 1 {
		return 1
	}
	if zone > 60 {
		return 60
	}
	return zone
}

func normalizeDegrees(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	if deg >= 360 {
		deg = 0
	}
	return deg
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
