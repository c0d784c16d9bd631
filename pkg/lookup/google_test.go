package lookup

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const googleOK = `{
  "status": "OK",
  "results": [{
    "formatted_address": "Sheshi Skënderbej 1, Tiranë 1001, Albania",
    "types": ["street_address"],
    "geometry": {
      "location": {"lat": 41.3275, "lng": 19.8189},
      "viewport": {
        "northeast": {"lat": 41.33, "lng": 19.82},
        "southwest": {"lat": 41.32, "lng": 19.81}
      }
    },
    "address_components": [
      {"long_name": "1", "types": ["street_number"]},
      {"long_name": "Sheshi Skënderbej", "types": ["route"]},
      {"long_name": "Tiranë", "types": ["locality", "political"]},
      {"long_name": "Tirana County", "types": ["administrative_area_level_1", "political"]},
      {"long_name": "Tirana District", "types": ["administrative_area_level_2", "political"]},
      {"long_name": "Albania", "types": ["country", "political"]},
      {"long_name": "1001", "types": ["postal_code"]}
    ]
  }]
}`

func TestNewGoogle_RequiresKey(t *testing.T) {
	assert.Nil(t, NewGoogle("  ", "", time.Second, nil))
}

func TestGoogle_Search(t *testing.T) {
	srv := jsonServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Skanderbeg Square", r.URL.Query().Get("address"))
		assert.Equal(t, "k3y", r.URL.Query().Get("key"))
		_, _ = w.Write([]byte(googleOK))
	})

	g := NewGoogle("k3y", srv.URL, time.Second, nil)
	p, err := g.Search(context.Background(), " Skanderbeg Square ")
	require.NoError(t, err)
	assert.Equal(t, "google", p.Source)
	assert.Equal(t, 41.3275, p.Lat)
	assert.Equal(t, 19.8189, p.Lon)
	assert.Equal(t, "Albania", p.Country)
	assert.Equal(t, "Tirana County", p.State)
	assert.Equal(t, "Tirana District", p.County)
	assert.Equal(t, "Tiranë", p.City)
	assert.Equal(t, "1001", p.Postcode)
	assert.Equal(t, "Sheshi Skënderbej", p.Road)
	assert.Equal(t, "1", p.HouseNumber)
	assert.Equal(t, []string{"41.32", "41.33", "19.81", "19.82"}, p.BoundingBox)
}

func TestGoogle_Reverse(t *testing.T) {
	srv := jsonServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "41.327500,19.818900", r.URL.Query().Get("latlng"))
		_, _ = w.Write([]byte(googleOK))
	})

	p, err := NewGoogle("k3y", srv.URL, time.Second, nil).Reverse(context.Background(), 41.3275, 19.8189)
	require.NoError(t, err)
	assert.Equal(t, "Albania", p.Country)
}

func TestGoogle_Statuses(t *testing.T) {
	var status atomic.Value
	status.Store("ZERO_RESULTS")
	srv := jsonServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"` + status.Load().(string) + `","error_message":"key rejected","results":[]}`))
	})
	g := NewGoogle("k3y", srv.URL, time.Second, nil)

	_, err := g.Search(context.Background(), "nowhere")
	assert.ErrorIs(t, err, ErrNotFound)

	status.Store("REQUEST_DENIED")
	_, err = g.Search(context.Background(), "nowhere")
	assert.ErrorIs(t, err, ErrLookupFailed)
	assert.Contains(t, err.Error(), "REQUEST_DENIED")

	_, err = g.Search(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyQuery)
}
