package geo

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// MetersPerDegree is the fixed conversion used by CircularBuffer. It does
// not compress longitude with latitude, so buffers stretch east-west away
// from the equator.
const MetersPerDegree = 111000.0

// BufferSegments is the number of ring segments sampled around the center.
const BufferSegments = 64

// GeometryEngine builds planar geometries in degree space.
type GeometryEngine interface {
	Supported() bool
	// Circle returns a closed ring of segments+1 positions around center.
	Circle(center orb.Point, radius float64, segments int) orb.Ring
}

// Buffer is the outcome of CircularBuffer. Available is false when no
// geometry engine was present.
type Buffer struct {
	Available bool
	Center    GeoPoint
	Radius    float64
	Ring      orb.Ring
}

// Polygon returns the buffer as an orb polygon.
func (b Buffer) Polygon() orb.Polygon {
	return orb.Polygon{b.Ring}
}

// MarshalJSON encodes the buffer as a GeoJSON Polygon geometry, or null
// when unavailable.
func (b Buffer) MarshalJSON() ([]byte, error) {
	if !b.Available {
		return []byte("null"), nil
	}
	return geojson.NewGeometry(b.Polygon()).MarshalJSON()
}

// CircularBuffer approximates the set of positions within radiusMeters of
// center as a polygon built by e.
func CircularBuffer(e GeometryEngine, center GeoPoint, radiusMeters float64) (Buffer, error) {
	if err := center.Validate(); err != nil {
		return Buffer{}, err
	}
	if !finite(radiusMeters) || radiusMeters <= 0 {
		return Buffer{}, fmt.Errorf("%w: radius %v must be a positive number", ErrInvalidCoordinate, radiusMeters)
	}
	if e == nil || !e.Supported() {
		return Buffer{}, nil
	}
	deg := radiusMeters / MetersPerDegree
	ring := e.Circle(orb.Point{center.Lon, center.Lat}, deg, BufferSegments)
	return Buffer{
		Available: true,
		Center:    center,
		Radius:    radiusMeters,
		Ring:      ring,
	}, nil
}

// PlanarEngine samples circles in plain degree space using orb geometries.
type PlanarEngine struct{}

// Supported always reports true.
func (PlanarEngine) Supported() bool { return true }

// Circle implements GeometryEngine. The ring runs counter-clockwise starting
// due east of the center and repeats its first position at the end.
func (PlanarEngine) Circle(center orb.Point, radius float64, segments int) orb.Ring {
	if segments < 3 {
		segments = 3
	}
	ring := make(orb.Ring, 0, segments+1)
	for i := 0; i < segments; i++ {
		theta := 2 * math.Pi * float64(i) / float64(segments)
		ring = append(ring, orb.Point{
			center[0] + radius*math.Cos(theta),
			center[1] + radius*math.Sin(theta),
		})
	}
	return append(ring, ring[0])
}

// Circle always returns nil.
func (Unavailable) Circle(orb.Point, float64, int) orb.Ring { return nil }
