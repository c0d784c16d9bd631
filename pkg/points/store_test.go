package points

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rubiojr/geolocator/pkg/geo"
)

func fixedStore(t time.Time) *Store {
	s := New()
	s.now = func() time.Time { return t }
	return s
}

func TestStore_Defaults(t *testing.T) {
	now := time.Date(2026, 10, 14, 9, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	s := fixedStore(now)

	p1 := s.Store(geo.GeoPoint{Lat: 1, Lon: 2})
	assert.Equal(t, "Point 1", p1.Name)
	assert.True(t, p1.Time.Equal(now))
	assert.Equal(t, time.UTC, p1.Time.Location())

	ts := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	p2 := s.Store(geo.GeoPoint{Lat: 3, Lon: 4, Name: "Named", Time: ts})
	assert.Equal(t, "Named", p2.Name)
	assert.Equal(t, ts, p2.Time)

	p3 := s.Store(geo.GeoPoint{Lat: 5, Lon: 6})
	assert.Equal(t, "Point 3", p3.Name)
	assert.Equal(t, 3, s.Len())
}

func TestStore_ExportAllIsCopy(t *testing.T) {
	s := New()
	s.Store(geo.GeoPoint{Lat: 1, Lon: 1, Name: "a"})

	out := s.ExportAll()
	out[0].Name = "changed"
	out = append(out, geo.GeoPoint{})

	again := s.ExportAll()
	require.Len(t, again, 1)
	assert.Equal(t, "a", again[0].Name)
}

func TestStore_ImportAppendKeepsDuplicates(t *testing.T) {
	s := New()
	s.Store(geo.GeoPoint{Lat: 1, Lon: 1, Name: "a"})

	batch := []geo.GeoPoint{{Lat: 1, Lon: 1, Name: "a"}, {Lat: 1, Lon: 1, Name: "a"}}
	assert.Equal(t, 2, s.ImportAppend(batch))
	assert.Equal(t, 3, s.Len())

	all := s.ExportAll()
	for _, p := range all {
		assert.Equal(t, "a", p.Name)
	}
}

func TestStore_ImportAppendDoesNotDefault(t *testing.T) {
	s := New()
	s.ImportAppend([]geo.GeoPoint{{Lat: 1, Lon: 1}})
	p := s.ExportAll()[0]
	assert.Empty(t, p.Name)
	assert.True(t, p.Time.IsZero())
}

func TestStore_Empty(t *testing.T) {
	s := New()
	assert.Zero(t, s.Len())
	assert.NotNil(t, s.ExportAll())
	assert.Empty(t, s.ExportAll())
}
