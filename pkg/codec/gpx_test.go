package codec

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rubiojr/geolocator/pkg/geo"
)

func storedPoint() geo.GeoPoint {
	return geo.GeoPoint{
		Lat:         41.3275,
		Lon:         19.8189,
		Name:        "Tirana",
		Description: "Skanderbeg Square",
		Time:        time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC),
	}.WithElevation(110)
}

func TestGPX_RoundTripContainsPoint(t *testing.T) {
	var buf bytes.Buffer
	n, err := EncodeGPX(&buf, []geo.GeoPoint{storedPoint()})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	res, err := DecodeGPX(&buf, ModeAll)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(res.Points), 1)

	found := false
	for _, p := range res.Points {
		if p.Lat == 41.3275 && p.Lon == 19.8189 {
			found = true
			require.NotNil(t, p.Elevation)
			assert.Equal(t, 110.0, *p.Elevation)
			assert.True(t, p.Time.Equal(storedPoint().Time))
		}
	}
	assert.True(t, found)
}

func TestGPX_ReimportDoublesPoints(t *testing.T) {
	in := []geo.GeoPoint{storedPoint(), {Lat: 42.0, Lon: 20.0, Name: "B"}}

	var buf bytes.Buffer
	_, err := EncodeGPX(&buf, in)
	require.NoError(t, err)

	res, err := DecodeGPX(bytes.NewReader(buf.Bytes()), ModeAll)
	require.NoError(t, err)
	require.Len(t, res.Points, 4)

	// waypoints first, carrying their own names
	assert.Equal(t, "Tirana", res.Points[0].Name)
	assert.Equal(t, "Skanderbeg Square", res.Points[0].Description)
	assert.Equal(t, "B", res.Points[1].Name)
	// then track points, named after the track
	assert.Equal(t, "Exported Track", res.Points[2].Name)
	assert.Equal(t, "Exported Track", res.Points[3].Name)
	assert.Empty(t, res.Points[2].Description)
}

func TestGPX_Modes(t *testing.T) {
	var buf bytes.Buffer
	_, err := EncodeGPX(&buf, []geo.GeoPoint{storedPoint(), {Lat: 1, Lon: 1}})
	require.NoError(t, err)
	data := buf.Bytes()

	wpts, err := DecodeGPX(bytes.NewReader(data), ModeWaypoints)
	require.NoError(t, err)
	assert.Len(t, wpts.Points, 2)
	assert.Equal(t, "Waypoint", wpts.Points[1].Name)

	trks, err := DecodeGPX(bytes.NewReader(data), ModeTracks)
	require.NoError(t, err)
	assert.Len(t, trks.Points, 2)
}

func TestGPX_EncodeDocumentShape(t *testing.T) {
	var buf bytes.Buffer
	_, err := EncodeGPX(&buf, []geo.GeoPoint{{Lat: 0, Lon: 0}, {Lat: 1.5, Lon: -2.25, Name: "a<b"}})
	require.NoError(t, err)

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "<?xml"))
	assert.Contains(t, out, `xmlns="http://www.topografix.com/GPX/1/1"`)
	assert.Contains(t, out, `version="1.1"`)
	assert.Equal(t, 1, strings.Count(out, "<trk>"))
	assert.Equal(t, 1, strings.Count(out, "<trkseg>"))
	assert.Equal(t, 1, strings.Count(out, "<trkpt "))
	assert.Equal(t, 1, strings.Count(out, "<wpt "))
	assert.Contains(t, out, `lat="1.5" lon="-2.25"`)
	assert.Contains(t, out, "a&lt;b")
}

func TestGPX_EncodeNothingIsError(t *testing.T) {
	var buf bytes.Buffer
	_, err := EncodeGPX(&buf, []geo.GeoPoint{{Lat: 0, Lon: 0}})
	assert.ErrorIs(t, err, ErrNoValidPoints)
}

func TestGPX_DecodeSkipsBadPoints(t *testing.T) {
	doc := `<?xml version="1.0"?>
<gpx version="1.0" xmlns="http://www.topografix.com/GPX/1/0">
  <wpt lat="abc" lon="1"><name>bad</name></wpt>
  <wpt lat="10" lon="20"><name>good</name><ele>oops</ele></wpt>
  <wpt lat="11" lon="21"><name>fine</name></wpt>
  <trk>
    <trkseg>
      <trkpt lat="12" lon="22"><time>2026-01-01T00:00:00Z</time></trkpt>
    </trkseg>
  </trk>
</gpx>`
	res, err := DecodeGPX(strings.NewReader(doc), ModeAll)
	require.NoError(t, err)
	require.Len(t, res.Points, 2)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, "fine", res.Points[0].Name)
	assert.Equal(t, "Track", res.Points[1].Name)
	assert.False(t, res.Points[1].Time.IsZero())
}

func TestGPX_DecodeErrors(t *testing.T) {
	_, err := DecodeGPX(strings.NewReader("<gpx><wpt"), ModeAll)
	assert.ErrorIs(t, err, ErrInvalidFormat)

	_, err = DecodeGPX(strings.NewReader(""), ModeAll)
	assert.ErrorIs(t, err, ErrInvalidFormat)

	_, err = DecodeGPX(strings.NewReader("<kml></kml>"), ModeAll)
	assert.ErrorIs(t, err, ErrInvalidFormat)

	_, err = DecodeGPX(strings.NewReader(`<gpx version="1.1"></gpx>`), ModeAll)
	assert.ErrorIs(t, err, ErrNoValidPoints)
}

func TestGPX_DecodeLatin1(t *testing.T) {
	doc := "<?xml version=\"1.0\" encoding=\"ISO-8859-1\"?>\n<gpx><wpt lat=\"1\" lon=\"2\"><name>Caf\xe9</name></wpt></gpx>"
	res, err := DecodeGPX(strings.NewReader(doc), ModeWaypoints)
	require.NoError(t, err)
	require.Len(t, res.Points, 1)
	assert.Equal(t, "Café", res.Points[0].Name)
}

func TestParseGPXMode(t *testing.T) {
	for in, want := range map[string]GPXMode{"": ModeAll, "all": ModeAll, " Waypoints ": ModeWaypoints, "trk": ModeTracks} {
		got, err := ParseGPXMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseGPXMode("routes")
	assert.Error(t, err)
}
