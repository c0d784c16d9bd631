// Package storage is the durable write path: a mandatory local SQLite store
// (search log, favorites, daily statistics) and an optional remote PostGIS
// store that is written best-effort.
package storage

import (
	"errors"
	"time"

	"github.com/rubiojr/geolocator/pkg/geo"
)

// Kind classifies how a search was made.
type Kind string

const (
	KindAddress Kind = "address"
	KindCoords  Kind = "coords"
	KindIP      Kind = "ip"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindAddress, KindCoords, KindIP:
		return true
	}
	return false
}

// DayLayout is the ISO date key of a daily statistic.
const DayLayout = "2006-01-02"

var (
	// ErrNotFound is returned for lookups of a missing favorite.
	ErrNotFound = errors.New("not found")
	// ErrInvalidEntry is returned for entries that fail validation before
	// anything is written.
	ErrInvalidEntry = errors.New("invalid entry")
	// ErrLocalWrite wraps failures of the local SQLite store while recording
	// a search. It is the one persistence error callers must surface.
	ErrLocalWrite = errors.New("local store write failed")
)

// SearchEntry is one row of the append-only search log.
type SearchEntry struct {
	ID         int64     `json:"id,omitempty"`
	Name       string    `json:"name"`
	Kind       Kind      `json:"kind"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	Elevation  *float64  `json:"elevation,omitempty"`
	SearchedAt time.Time `json:"searched_at"`
}

// Point returns the entry as a GeoPoint.
func (e SearchEntry) Point() geo.GeoPoint {
	return geo.GeoPoint{
		Lat:       e.Lat,
		Lon:       e.Lon,
		Elevation: e.Elevation,
		Name:      e.Name,
		Time:      e.SearchedAt,
	}
}

// Favorite is a named point, unique by name.
type Favorite struct {
	geo.GeoPoint
	Notes     string    `json:"notes,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DailyStat is the number of searches recorded on one calendar day (UTC).
type DailyStat struct {
	Day      string `json:"day"`
	Searches int64  `json:"searches"`
}

// Summary aggregates the local store.
type Summary struct {
	TotalSearches int64          `json:"total_searches"`
	Favorites     int64          `json:"favorites"`
	ByKind        map[Kind]int64 `json:"by_kind"`
	FirstSearch   *time.Time     `json:"first_search,omitempty"`
	LastSearch    *time.Time     `json:"last_search,omitempty"`
	Days          int64          `json:"days"`
}
