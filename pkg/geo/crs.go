package geo

import (
	"errors"
	"fmt"
	"math"
)

// EPSG codes understood by the built-in transformer.
const (
	EPSGWGS84       = 4326
	EPSGWebMercator = 3857
	epsgUTMNorth    = 32600
	epsgUTMSouth    = 32700
)

// ErrUnsupportedCRS is returned by a transformer asked for a CRS pair it
// cannot handle.
var ErrUnsupportedCRS = errors.New("unsupported CRS")

// CoordinateTransformer converts WGS84 positions into other reference systems.
// A nil transformer, or one whose Supported reports false, makes every
// transform in this package return an unavailable result.
type CoordinateTransformer interface {
	Supported() bool
	// Transform converts (lat, lon) in fromEPSG to planar (x, y) in toEPSG.
	Transform(lat, lon float64, fromEPSG, toEPSG int) (x, y float64, err error)
}

// UTM is the outcome of ToUTM. Available is false when no transform backend
// was present; the remaining fields are then zero.
type UTM struct {
	Available  bool    `json:"available"`
	Easting    float64 `json:"easting,omitempty"`
	Northing   float64 `json:"northing,omitempty"`
	Zone       int     `json:"zone,omitempty"`
	Hemisphere string  `json:"hemisphere,omitempty"`
	EPSG       int     `json:"epsg,omitempty"`
	Label      string  `json:"label,omitempty"`
}

// Projected is the outcome of Transform.
type Projected struct {
	Available bool    `json:"available"`
	X         float64 `json:"x,omitempty"`
	Y         float64 `json:"y,omitempty"`
	EPSG      int     `json:"epsg,omitempty"`
}

// UTMEPSG returns the EPSG code of the WGS84 UTM zone for (lat, lon).
func UTMEPSG(lat, lon float64) int {
	if lat >= 0 {
		return epsgUTMNorth + UTMZone(lon)
	}
	return epsgUTMSouth + UTMZone(lon)
}

// ToUTM projects (lat, lon) into its UTM zone through t.
func ToUTM(t CoordinateTransformer, lat, lon float64) (UTM, error) {
	if _, err := NewPoint(lat, lon); err != nil {
		return UTM{}, err
	}
	if t == nil || !t.Supported() {
		return UTM{}, nil
	}

	zone := UTMZone(lon)
	hemisphere := "N"
	if lat < 0 {
		hemisphere = "S"
	}
	epsg := UTMEPSG(lat, lon)

	x, y, err := t.Transform(lat, lon, EPSGWGS84, epsg)
	if err != nil {
		return UTM{}, fmt.Errorf("utm transform EPSG:%d: %w", epsg, err)
	}
	return UTM{
		Available:  true,
		Easting:    x,
		Northing:   y,
		Zone:       zone,
		Hemisphere: hemisphere,
		EPSG:       epsg,
		Label:      fmt.Sprintf("UTM Zone %d%s", zone, hemisphere),
	}, nil
}

// Transform converts (lat, lon) from fromEPSG to toEPSG through t.
func Transform(t CoordinateTransformer, lat, lon float64, fromEPSG, toEPSG int) (Projected, error) {
	if _, err := NewPoint(lat, lon); err != nil {
		return Projected{}, err
	}
	if t == nil || !t.Supported() {
		return Projected{}, nil
	}
	x, y, err := t.Transform(lat, lon, fromEPSG, toEPSG)
	if err != nil {
		return Projected{}, err
	}
	return Projected{Available: true, X: x, Y: y, EPSG: toEPSG}, nil
}

// WGS84 ellipsoid and UTM constants.
const (
	wgs84A     = 6378137.0
	wgs84F     = 1 / 298.257223563
	utmK0      = 0.9996
	utmFalseE  = 500000.0
	utmFalseNS = 10000000.0
)

// TransverseMercator is the built-in transformer: WGS84 to Web Mercator
// and to any WGS84 UTM zone.
type TransverseMercator struct{}

// Supported always reports true.
func (TransverseMercator) Supported() bool { return true }

// Transform implements CoordinateTransformer.
func (TransverseMercator) Transform(lat, lon float64, fromEPSG, toEPSG int) (float64, float64, error) {
	if fromEPSG != EPSGWGS84 {
		return 0, 0, fmt.Errorf("%w: EPSG:%d source", ErrUnsupportedCRS, fromEPSG)
	}
	switch {
	case toEPSG == EPSGWGS84:
		return lon, lat, nil
	case toEPSG == EPSGWebMercator:
		return webMercator(lat, lon)
	case toEPSG > epsgUTMNorth && toEPSG <= epsgUTMNorth+60:
		e, n := utmForward(lat, lon, toEPSG-epsgUTMNorth, false)
		return e, n, nil
	case toEPSG > epsgUTMSouth && toEPSG <= epsgUTMSouth+60:
		e, n := utmForward(lat, lon, toEPSG-epsgUTMSouth, true)
		return e, n, nil
	}
	return 0, 0, fmt.Errorf("%w: EPSG:%d target", ErrUnsupportedCRS, toEPSG)
}

func webMercator(lat, lon float64) (float64, float64, error) {
	const maxLat = 85.05112878
	if lat > maxLat || lat < -maxLat {
		return 0, 0, fmt.Errorf("%w: latitude %v outside web mercator bounds", ErrInvalidCoordinate, lat)
	}
	x := wgs84A * toRadians(lon)
	y := wgs84A * math.Log(math.Tan(math.Pi/4+toRadians(lat)/2))
	return x, y, nil
}

// utmForward projects onto the given zone with the USGS series expansion.
func utmForward(lat, lon float64, zone int, south bool) (float64, float64) {
	e2 := wgs84F * (2 - wgs84F)
	e4 := e2 * e2
	e6 := e4 * e2
	ep2 := e2 / (1 - e2)

	centralMeridian := toRadians(centralMeridianDeg(zone))
	phi := toRadians(lat)
	sinPhi, cosPhi, tanPhi := math.Sin(phi), math.Cos(phi), math.Tan(phi)

	n := wgs84A / math.Sqrt(1-e2*sinPhi*sinPhi)
	t := tanPhi * tanPhi
	c := ep2 * cosPhi * cosPhi
	a := cosPhi * (toRadians(lon) - centralMeridian)

	m := wgs84A * ((1-e2/4-3*e4/64-5*e6/256)*phi -
		(3*e2/8+3*e4/32+45*e6/1024)*math.Sin(2*phi) +
		(15*e4/256+45*e6/1024)*math.Sin(4*phi) -
		(35*e6/3072)*math.Sin(6*phi))

	easting := utmK0*n*(a+
		(1-t+c)*math.Pow(a, 3)/6+
		(5-18*t+t*t+72*c-58*ep2)*math.Pow(a, 5)/120) + utmFalseE

	northing := utmK0 * (m + n*tanPhi*(a*a/2+
		(5-t+9*c+4*c*c)*math.Pow(a, 4)/24+
		(61-58*t+t*t+600*c-330*ep2)*math.Pow(a, 6)/720))
	if south {
		northing += utmFalseNS
	}
	return easting, northing
}

func centralMeridianDeg(zone int) float64 {
	return float64((zone-1)*6-180) + 3
}

// Unavailable is a transformer and geometry engine with no backend behind it.
type Unavailable struct{}

// Supported always reports false.
func (Unavailable) Supported() bool { return false }

// Transform always fails.
func (Unavailable) Transform(float64, float64, int, int) (float64, float64, error) {
	return 0, 0, ErrUnsupportedCRS
}
