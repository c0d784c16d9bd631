package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rubiojr/geolocator/pkg/geo"
)

// FormatFromPath picks a format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".geojson", ".json":
		return FormatGeoJSON, nil
	case ".gpx":
		return FormatGPX, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, filepath.Ext(path))
}

// Encode writes points in the given format.
func Encode(f Format, points []geo.GeoPoint) ([]byte, int, error) {
	var buf bytes.Buffer
	var (
		n   int
		err error
	)
	switch f {
	case FormatGeoJSON:
		n, err = EncodeGeoJSON(&buf, points)
	case FormatGPX:
		n, err = EncodeGPX(&buf, points)
	default:
		return nil, 0, fmt.Errorf("%w: %q", ErrUnknownFormat, f)
	}
	if err != nil {
		return nil, 0, err
	}
	return buf.Bytes(), n, nil
}

// ExportFile encodes points into path, choosing the format by extension.
// The file is replaced atomically (temp file + rename).
func ExportFile(path string, points []geo.GeoPoint) (int, error) {
	f, err := FormatFromPath(path)
	if err != nil {
		return 0, err
	}
	data, n, err := Encode(f, points)
	if err != nil {
		return 0, err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}
	return n, nil
}

// ImportFile decodes path, choosing the format by extension. The GPX mode
// is ignored for GeoJSON files.
func ImportFile(path string, mode GPXMode) (Result, error) {
	f, err := FormatFromPath(path)
	if err != nil {
		return Result{}, err
	}
	fh, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Result{}, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return Result{}, err
	}
	defer fh.Close()

	if f == FormatGPX {
		return DecodeGPX(fh, mode)
	}
	return DecodeGeoJSON(fh)
}
