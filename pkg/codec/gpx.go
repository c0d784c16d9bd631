package codec

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/net/html/charset"

	"github.com/rubiojr/geolocator/pkg/geo"
	"github.com/rubiojr/geolocator/pkg/logger"
)

const (
	gpxNamespace    = "http://www.topografix.com/GPX/1/1"
	gpxCreator      = "geolocator"
	exportTrackName = "Exported Track"
	defaultTrack    = "Track"
	defaultWaypoint = "Waypoint"
)

// GPXMode selects which parts of a GPX document DecodeGPX returns.
type GPXMode int

const (
	// ModeAll returns waypoints followed by every track point. Our own
	// exports carry each point as both, so a re-import of an N point export
	// yields 2N points in this mode.
	ModeAll GPXMode = iota
	// ModeWaypoints returns only <wpt> elements.
	ModeWaypoints
	// ModeTracks returns only <trkpt> elements.
	ModeTracks
)

// ParseGPXMode maps "all", "waypoints" and "tracks" to a mode. Empty is
// ModeAll.
func ParseGPXMode(s string) (GPXMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return ModeAll, nil
	case "waypoints", "wpt":
		return ModeWaypoints, nil
	case "tracks", "trk":
		return ModeTracks, nil
	}
	return ModeAll, fmt.Errorf("unknown gpx mode %q", s)
}

// gpxDoc is the root structure used for GPX (de)serialization. XMLName
// carries no tag so documents in any GPX namespace decode; the root name is
// checked by hand.
type gpxDoc struct {
	XMLName   xml.Name
	Version   string     `xml:"version,attr,omitempty"`
	Creator   string     `xml:"creator,attr,omitempty"`
	Waypoints []gpxPoint `xml:"wpt"`
	Tracks    []gpxTrack `xml:"trk"`
}

type gpxTrack struct {
	Name     string       `xml:"name,omitempty"`
	Segments []gpxSegment `xml:"trkseg"`
}

type gpxSegment struct {
	Points []gpxPoint `xml:"trkpt"`
}

// gpxPoint covers both <wpt> and <trkpt>. Numbers stay strings so a single
// malformed point does not fail the whole document.
type gpxPoint struct {
	Lat  string `xml:"lat,attr"`
	Lon  string `xml:"lon,attr"`
	Ele  string `xml:"ele,omitempty"`
	Time string `xml:"time,omitempty"`
	Name string `xml:"name,omitempty"`
	Desc string `xml:"desc,omitempty"`
}

// EncodeGPX writes points as one track with a single segment and, in
// parallel, one waypoint per point. It returns the number of points written.
func EncodeGPX(w io.Writer, points []geo.GeoPoint) (int, error) {
	doc := gpxDoc{
		XMLName: xml.Name{Space: gpxNamespace, Local: "gpx"},
		Version: "1.1",
		Creator: gpxCreator,
	}
	var seg gpxSegment
	for i, p := range points {
		if !encodable(p) {
			logger.Debug("gpx: skipping point %d %s", i, p)
			continue
		}
		trkpt := gpxPoint{
			Lat:  formatFloat(p.Lat),
			Lon:  formatFloat(p.Lon),
			Time: formatTime(p.Time),
		}
		if p.Elevation != nil {
			trkpt.Ele = formatFloat(*p.Elevation)
		}
		seg.Points = append(seg.Points, trkpt)

		wpt := trkpt
		wpt.Name = p.Name
		if wpt.Name == "" {
			wpt.Name = defaultWaypoint
		}
		wpt.Desc = p.Description
		doc.Waypoints = append(doc.Waypoints, wpt)
	}
	if len(seg.Points) == 0 {
		return 0, ErrNoValidPoints
	}
	doc.Tracks = []gpxTrack{{Name: exportTrackName, Segments: []gpxSegment{seg}}}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return 0, err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return 0, fmt.Errorf("gpx encode: %w", err)
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return 0, err
	}
	return len(seg.Points), nil
}

// DecodeGPX reads a GPX document. Points that fail to parse are skipped
// and counted; a document that is not well-formed GPX yields ErrInvalidFormat.
func DecodeGPX(r io.Reader, mode GPXMode) (Result, error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel

	var doc gpxDoc
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return Result{}, fmt.Errorf("%w: empty document", ErrInvalidFormat)
		}
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if !strings.EqualFold(doc.XMLName.Local, "gpx") {
		return Result{}, fmt.Errorf("%w: root element <%s>, want <gpx>", ErrInvalidFormat, doc.XMLName.Local)
	}

	var res Result
	add := func(gp gpxPoint, name string) {
		p, err := gp.toPoint(name)
		if err != nil {
			logger.Debug("gpx: skipping point: %v", err)
			res.Skipped++
			return
		}
		res.Points = append(res.Points, p)
	}

	if mode == ModeAll || mode == ModeWaypoints {
		for _, wpt := range doc.Waypoints {
			add(wpt, wpt.Name)
		}
	}
	if mode == ModeAll || mode == ModeTracks {
		for _, trk := range doc.Tracks {
			name := strings.TrimSpace(trk.Name)
			if name == "" {
				name = defaultTrack
			}
			for _, seg := range trk.Segments {
				for _, trkpt := range seg.Points {
					// Track points carry no name of their own.
					trkpt.Desc = ""
					add(trkpt, name)
				}
			}
		}
	}

	if len(res.Points) == 0 {
		return res, ErrNoValidPoints
	}
	return res, nil
}

func (gp gpxPoint) toPoint(name string) (geo.GeoPoint, error) {
	p, err := geo.ParsePoint(gp.Lat, gp.Lon)
	if err != nil {
		return geo.GeoPoint{}, err
	}
	p.Name = strings.TrimSpace(name)
	p.Description = strings.TrimSpace(gp.Desc)
	if ele := strings.TrimSpace(gp.Ele); ele != "" {
		v, err := strconv.ParseFloat(ele, 64)
		if err != nil {
			return geo.GeoPoint{}, fmt.Errorf("elevation %q: %w", gp.Ele, err)
		}
		p.Elevation = &v
	}
	if ts := strings.TrimSpace(gp.Time); ts != "" {
		t, err := parseTime(ts)
		if err != nil {
			logger.Debug("gpx: unparseable time %q", ts)
		} else {
			p.Time = t
		}
	}
	return p, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
