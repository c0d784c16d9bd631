// Package points keeps the ordered list of points collected during a session.
package points

import (
	"fmt"
	"time"

	"github.com/rubiojr/geolocator/pkg/geo"
)

// Store is an append-only, insertion-ordered list of points.
//
// A Store is not safe for concurrent use; callers sharing one across
// goroutines must guard it (the HTTP API does so with a mutex).
type Store struct {
	points []geo.GeoPoint
	now    func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{now: time.Now}
}

// Store appends p and returns the value actually stored. An empty name
// becomes "Point {n}" (n being the 1-based position) and a zero time
// becomes the current UTC time.
func (s *Store) Store(p geo.GeoPoint) geo.GeoPoint {
	if p.Name == "" {
		p.Name = fmt.Sprintf("Point %d", len(s.points)+1)
	}
	if p.Time.IsZero() {
		p.Time = s.now().UTC()
	}
	s.points = append(s.points, p)
	return p
}

// ExportAll returns a copy of every stored point in insertion order.
func (s *Store) ExportAll() []geo.GeoPoint {
	out := make([]geo.GeoPoint, len(s.points))
	copy(out, s.points)
	return out
}

// ImportAppend appends points as-is. Duplicates are kept.
func (s *Store) ImportAppend(points []geo.GeoPoint) int {
	s.points = append(s.points, points...)
	return len(points)
}

// Len returns the number of stored points.
func (s *Store) Len() int {
	return len(s.points)
}
