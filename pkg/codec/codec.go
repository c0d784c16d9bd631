// Package codec reads and writes point collections as GeoJSON, GPX and CSV.
//
// Every decoder prefers partial success: records that cannot be decoded are
// skipped and counted in Result.Skipped instead of failing the whole file.
// The (0,0) "no location" sentinel is dropped on export.
package codec

import (
	"errors"

	"github.com/rubiojr/geolocator/pkg/geo"
)

var (
	// ErrFileNotFound is returned when an import path does not exist.
	ErrFileNotFound = errors.New("file not found")
	// ErrInvalidFormat is returned for documents whose structure cannot be parsed.
	ErrInvalidFormat = errors.New("invalid format")
	// ErrNoValidPoints is returned when there is nothing to encode, or a
	// well-formed document yields no usable point.
	ErrNoValidPoints = errors.New("no valid points")
	// ErrUnknownFormat is returned for file extensions without a codec.
	ErrUnknownFormat = errors.New("unknown file format")
)

// Result is the outcome of a decode.
type Result struct {
	Points  []geo.GeoPoint
	Skipped int
}

// Format identifies an exchange format.
type Format string

const (
	FormatGeoJSON Format = "geojson"
	FormatGPX     Format = "gpx"
)

// encodable reports whether p should be written by an encoder.
func encodable(p geo.GeoPoint) bool {
	if p.IsSentinel() {
		return false
	}
	return p.Validate() == nil
}
