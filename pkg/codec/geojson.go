package codec

import (
	"bytes"
	"fmt"
	"io"
	"time"

	json "github.com/goccy/go-json"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/rubiojr/geolocator/pkg/geo"
	"github.com/rubiojr/geolocator/pkg/logger"
)

// EncodeGeoJSON writes points as a FeatureCollection of Point features
// (coordinates in [lon, lat] order) and returns the number of features.
func EncodeGeoJSON(w io.Writer, points []geo.GeoPoint) (int, error) {
	fc := geojson.NewFeatureCollection()
	for i, p := range points {
		if !encodable(p) {
			logger.Debug("geojson: skipping point %d %s", i, p)
			continue
		}
		f := geojson.NewFeature(orb.Point{p.Lon, p.Lat})
		name := p.Name
		if name == "" {
			name = fmt.Sprintf("Point %d", i+1)
		}
		f.Properties["name"] = name
		f.Properties["description"] = p.Description
		f.Properties["timestamp"] = formatTime(p.Time)
		if p.Elevation != nil {
			f.Properties["elevation"] = *p.Elevation
		}
		fc.Append(f)
	}
	if len(fc.Features) == 0 {
		return 0, ErrNoValidPoints
	}

	raw, err := fc.MarshalJSON()
	if err != nil {
		return 0, fmt.Errorf("geojson encode: %w", err)
	}
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		return 0, fmt.Errorf("geojson indent: %w", err)
	}
	out.WriteByte('\n')
	if _, err := out.WriteTo(w); err != nil {
		return 0, err
	}
	return len(fc.Features), nil
}

// DecodeGeoJSON reads a Feature or a FeatureCollection. Features that are
// not Points, or that fail to decode, are skipped and counted.
func DecodeGeoJSON(r io.Reader) (Result, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Result{}, err
	}

	var head struct {
		Type     string            `json:"type"`
		Features []json.RawMessage `json:"features"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(data), &head); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	var raws []json.RawMessage
	switch head.Type {
	case "FeatureCollection":
		raws = head.Features
	case "Feature":
		raws = []json.RawMessage{data}
	default:
		return Result{}, fmt.Errorf("%w: GeoJSON type %q, want Feature or FeatureCollection", ErrInvalidFormat, head.Type)
	}

	var res Result
	for i, raw := range raws {
		p, err := decodeFeature(raw, i)
		if err != nil {
			logger.Debug("geojson: skipping feature %d: %v", i, err)
			res.Skipped++
			continue
		}
		res.Points = append(res.Points, p)
	}
	if len(res.Points) == 0 {
		return res, ErrNoValidPoints
	}
	return res, nil
}

// position reads the raw coordinates of a Point geometry. orb zero-fills
// short arrays, so the length is checked here.
func position(raw []byte) ([]float64, error) {
	var shape struct {
		Geometry struct {
			Type        string          `json:"type"`
			Coordinates json.RawMessage `json:"coordinates"`
		} `json:"geometry"`
	}
	if err := json.Unmarshal(raw, &shape); err != nil {
		return nil, err
	}
	if shape.Geometry.Type != "Point" {
		return nil, fmt.Errorf("geometry %q is not a Point", shape.Geometry.Type)
	}
	var pos []float64
	if err := json.Unmarshal(shape.Geometry.Coordinates, &pos); err != nil {
		return nil, fmt.Errorf("point coordinates: %w", err)
	}
	if len(pos) < 2 {
		return nil, fmt.Errorf("point has %d coordinates, want at least 2", len(pos))
	}
	return pos, nil
}

func decodeFeature(raw []byte, idx int) (geo.GeoPoint, error) {
	pos, err := position(raw)
	if err != nil {
		return geo.GeoPoint{}, err
	}
	f, err := geojson.UnmarshalFeature(raw)
	if err != nil {
		return geo.GeoPoint{}, err
	}
	g, ok := f.Geometry.(orb.Point)
	if !ok {
		return geo.GeoPoint{}, fmt.Errorf("geometry %T is not a Point", f.Geometry)
	}

	p := geo.GeoPoint{
		Lat:         g.Lat(),
		Lon:         g.Lon(),
		Name:        propString(f.Properties, "name"),
		Description: propString(f.Properties, "description"),
	}
	if p.Name == "" {
		p.Name = fmt.Sprintf("Point %d", idx+1)
	}
	if ts := propString(f.Properties, "timestamp"); ts != "" {
		t, err := parseTime(ts)
		if err != nil {
			logger.Debug("geojson: feature %d has unparseable timestamp %q", idx, ts)
		} else {
			p.Time = t
		}
	}
	if ele, ok := f.Properties["elevation"].(float64); ok {
		p.Elevation = &ele
	} else if len(pos) > 2 {
		ele := pos[2]
		p.Elevation = &ele
	}
	if err := p.Validate(); err != nil {
		return geo.GeoPoint{}, err
	}
	return p, nil
}

func propString(props geojson.Properties, key string) string {
	v, ok := props[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err == nil {
		return t, nil
	}
	// Local timestamps without an offset, as written by some exporters.
	return time.Parse("2006-01-02T15:04:05.999999999", s)
}
