package lookup

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const reverseTirana = `{
  "place_id": 123,
  "lat": "41.3275459",
  "lon": "19.8186982",
  "category": "place",
  "type": "city",
  "display_name": "Tirana, Bashkia Tiranë, Qarku i Tiranës, 1001, Shqipëria",
  "address": {
    "town": "Tirana",
    "county": "Qarku i Tiranës",
    "region": "Central Albania",
    "postcode": "1001",
    "country": "Shqipëria",
    "suburb": "Blloku"
  },
  "boundingbox": ["41.16", "41.49", "19.65", "20.01"]
}`

const searchTirana = `[
  {"display_name": "Tirana, Shqipëria", "lat": "41.3275459", "lon": "19.8186982", "class": "place", "type": "city"},
  {"display_name": "Tirana, Rome", "lat": "41.89", "lon": "12.49", "class": "highway", "type": "residential"}
]`

func newTestNominatim(t *testing.T, server string, cacheDir string) *Nominatim {
	t.Helper()
	n := NewNominatim(NominatimOptions{Server: server, Timeout: 2 * time.Second, CacheDir: cacheDir, UserAgent: "geolocator-test"})
	n.minInterval = 0
	t.Cleanup(func() { _ = n.Close() })
	return n
}

func TestNominatim_Reverse(t *testing.T) {
	var hits atomic.Int32
	srv := jsonServer(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/reverse", r.URL.Path)
		assert.Equal(t, "jsonv2", r.URL.Query().Get("format"))
		assert.Equal(t, "1", r.URL.Query().Get("addressdetails"))
		assert.Equal(t, "geolocator-test", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(reverseTirana))
	})
	n := newTestNominatim(t, srv.URL, t.TempDir())

	p, err := n.Reverse(context.Background(), 41.3275, 19.8189)
	require.NoError(t, err)
	assert.Equal(t, "Tirana", p.City, "town is used when city is missing")
	assert.Equal(t, "Central Albania", p.State, "region is used when state is missing")
	assert.Equal(t, "Shqipëria", p.Country)
	assert.Equal(t, "1001", p.Postcode)
	assert.Equal(t, "Blloku", p.Neighbourhood)
	assert.Equal(t, 41.3275459, p.Lat)
	assert.Len(t, p.BoundingBox, 4)
	assert.Equal(t, "nominatim", p.Source)

	again, err := n.Reverse(context.Background(), 41.3275, 19.8189)
	require.NoError(t, err)
	assert.Equal(t, p.DisplayName, again.DisplayName)
	assert.Equal(t, int32(1), hits.Load(), "second call is served by the cache")
}

func TestNominatim_ReverseNotFound(t *testing.T) {
	var hits atomic.Int32
	srv := jsonServer(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"error":"Unable to geocode"}`))
	})
	n := newTestNominatim(t, srv.URL, t.TempDir())

	_, err := n.Reverse(context.Background(), 0.5, -30)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = n.Reverse(context.Background(), 0.5, -30)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(1), hits.Load(), "empty answers are cached too")
}

func TestNominatim_ReverseHTTPErrorNotCached(t *testing.T) {
	var hits atomic.Int32
	srv := jsonServer(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(reverseTirana))
	})
	n := newTestNominatim(t, srv.URL, t.TempDir())

	_, err := n.Reverse(context.Background(), 41.3275, 19.8189)
	require.Error(t, err)
	_, err = n.Reverse(context.Background(), 41.3275, 19.8189)
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestNominatim_Search(t *testing.T) {
	var hits atomic.Int32
	srv := jsonServer(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(searchTirana))
	})
	cacheDir := t.TempDir()
	n := newTestNominatim(t, srv.URL, cacheDir)

	p, err := n.Search(context.Background(), "Tirana")
	require.NoError(t, err)
	assert.Equal(t, "Tirana, Shqipëria", p.DisplayName)
	assert.Equal(t, 41.3275459, p.Lat)
	assert.Equal(t, "city", p.Type)

	// The cache is persistent: a new geocoder over the same dir does not
	// hit the server.
	n2 := newTestNominatim(t, srv.URL, cacheDir)
	p2, err := n2.Search(context.Background(), "  tirana ")
	require.NoError(t, err)
	assert.Equal(t, p.DisplayName, p2.DisplayName)
	assert.Equal(t, int32(1), hits.Load())
}

func TestNominatim_SuggestLimit(t *testing.T) {
	srv := jsonServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(searchTirana))
	})
	n := newTestNominatim(t, srv.URL, "")

	places, err := n.Suggest(context.Background(), "Tirana", 5)
	require.NoError(t, err)
	require.Len(t, places, 2)
	assert.Equal(t, "Tirana, Rome", places[1].DisplayName)
}

func TestNominatim_SearchNoResults(t *testing.T) {
	srv := jsonServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})
	n := newTestNominatim(t, srv.URL, "")

	_, err := n.Search(context.Background(), "zzzz nowhere")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = n.Search(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestNominatim_TransientRetry(t *testing.T) {
	var hits atomic.Int32
	srv := jsonServer(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			_, _ = w.Write([]byte(`[{"display_name": "Tir`))
			return
		}
		_, _ = w.Write([]byte(searchTirana))
	})
	n := newTestNominatim(t, srv.URL, "")

	p, err := n.Search(context.Background(), "Tirana")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(p.DisplayName, "Tirana"))
	assert.Equal(t, int32(2), hits.Load())
}

func TestNominatim_Throttle(t *testing.T) {
	srv := jsonServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(reverseTirana))
	})
	n := newTestNominatim(t, srv.URL, "")
	n.minInterval = 100 * time.Millisecond

	start := time.Now()
	_, err := n.Reverse(context.Background(), 1, 1)
	require.NoError(t, err)
	_, err = n.Reverse(context.Background(), 2, 2)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestNominatim_ThrottleHonoursContext(t *testing.T) {
	n := newTestNominatim(t, "http://127.0.0.1:1", "")
	n.minInterval = time.Hour
	n.last = time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := n.Reverse(ctx, 1, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
