package lookup

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rubiojr/geolocator/pkg/codec"
	"github.com/rubiojr/geolocator/pkg/geo"
)

type fakeGeocoder struct {
	search   func(q string) (*Place, error)
	reverse  func(lat, lon float64) (*Place, error)
	searches int
	reverses int
}

func (f *fakeGeocoder) Search(_ context.Context, q string) (*Place, error) {
	f.searches++
	if f.search == nil {
		return nil, ErrNotFound
	}
	return f.search(q)
}

func (f *fakeGeocoder) Reverse(_ context.Context, lat, lon float64) (*Place, error) {
	f.reverses++
	if f.reverse == nil {
		return nil, ErrNotFound
	}
	return f.reverse(lat, lon)
}

type fixedElevation float64

func (e fixedElevation) Elevation(context.Context, float64, float64) (float64, error) {
	return float64(e), nil
}

type failingServices struct{}

func (failingServices) Elevation(context.Context, float64, float64) (float64, error) {
	return 0, errors.New("timeout")
}

func (failingServices) Timezone(context.Context, float64, float64) (*Timezone, error) {
	return nil, errors.New("timeout")
}

func (failingServices) CurrentWeather(context.Context, float64, float64) (*Weather, error) {
	return nil, errors.New("timeout")
}

type fakeIP struct {
	info *IPInfo
	err  error
	got  []string
}

func (f *fakeIP) LocateIP(_ context.Context, ip string) (*IPInfo, error) {
	f.got = append(f.got, ip)
	return f.info, f.err
}

type fakePosition struct {
	p   geo.GeoPoint
	err error
}

func (f fakePosition) Current(context.Context) (geo.GeoPoint, error) { return f.p, f.err }

func tiranaPlace() *Place {
	return &Place{Lat: 41.3275, Lon: 19.8189, DisplayName: "Tirana, Albania", Source: "nominatim"}
}

func TestResolver_ByAddress(t *testing.T) {
	nom := &fakeGeocoder{
		search: func(string) (*Place, error) { return tiranaPlace(), nil },
		reverse: func(lat, lon float64) (*Place, error) {
			return &Place{Country: "Albania", City: "Tirana", State: "Tirana County", Postcode: "1001", DisplayName: "ignored"}, nil
		},
	}
	r := &Resolver{
		Geocoder:  nom,
		Elevation: fixedElevation(110),
		Timezone:  &countingTimezone{},
		Weather:   &countingWeather{},
	}

	loc, err := r.ByAddress(context.Background(), "  Tirana ")
	require.NoError(t, err)
	assert.Equal(t, KindAddress, loc.Kind)
	assert.Equal(t, "Tirana", loc.Query)
	assert.Equal(t, "Tirana, Albania", loc.Point.Name)
	assert.Equal(t, "Tirana, Albania", loc.Place.DisplayName, "search display name wins")
	assert.Equal(t, "Albania", loc.Place.Country)
	require.NotNil(t, loc.Point.Elevation)
	assert.Equal(t, 110.0, *loc.Point.Elevation)
	assert.Equal(t, "Europe/Tirane", loc.Timezone)
	require.NotNil(t, loc.Weather)
	assert.Equal(t, 1, nom.reverses)
}

func TestResolver_PremiumFirst(t *testing.T) {
	premium := &fakeGeocoder{search: func(string) (*Place, error) {
		p := tiranaPlace()
		p.Source, p.Country = "google", "Albania"
		return p, nil
	}}
	nom := &fakeGeocoder{search: func(string) (*Place, error) { return tiranaPlace(), nil }}
	r := &Resolver{Geocoder: nom, Premium: premium}

	loc, err := r.ByAddress(context.Background(), "Tirana")
	require.NoError(t, err)
	assert.Equal(t, "google", loc.Place.Source)
	assert.Zero(t, nom.searches)
	assert.Zero(t, nom.reverses, "premium results already carry the address")
}

func TestResolver_PremiumMissFallsBack(t *testing.T) {
	premium := &fakeGeocoder{}
	nom := &fakeGeocoder{search: func(string) (*Place, error) { return tiranaPlace(), nil }}
	r := &Resolver{Geocoder: nom, Premium: premium}

	loc, err := r.ByAddress(context.Background(), "Tirana")
	require.NoError(t, err)
	assert.Equal(t, "nominatim", loc.Place.Source)
	assert.Equal(t, 1, premium.searches)
}

func TestResolver_ByAddressErrors(t *testing.T) {
	ctx := context.Background()

	_, err := (&Resolver{Geocoder: &fakeGeocoder{}}).ByAddress(ctx, " ")
	assert.ErrorIs(t, err, ErrEmptyQuery)

	_, err = (&Resolver{Geocoder: &fakeGeocoder{}}).ByAddress(ctx, "nowhere")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = (&Resolver{}).ByAddress(ctx, "Tirana")
	assert.ErrorIs(t, err, ErrNoService)

	down := &fakeGeocoder{search: func(string) (*Place, error) { return nil, errors.New("connection refused") }}
	_, err = (&Resolver{Geocoder: down}).ByAddress(ctx, "Tirana")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)

	bad := &fakeGeocoder{search: func(string) (*Place, error) { return &Place{Lat: 200, Lon: 0}, nil }}
	_, err = (&Resolver{Geocoder: bad}).ByAddress(ctx, "Tirana")
	assert.ErrorIs(t, err, geo.ErrInvalidCoordinate)
}

func TestResolver_AuxiliaryFailuresDegrade(t *testing.T) {
	nom := &fakeGeocoder{reverse: func(lat, lon float64) (*Place, error) { return tiranaPlace(), nil }}
	r := &Resolver{
		Geocoder:  nom,
		Elevation: failingServices{},
		Timezone:  failingServices{},
		Weather:   failingServices{},
	}

	loc, err := r.ByCoordinates(context.Background(), 41.3275, 19.8189)
	require.NoError(t, err)
	assert.Equal(t, KindCoords, loc.Kind)
	assert.Equal(t, "41.3275,19.8189", loc.Query)
	assert.Nil(t, loc.Point.Elevation)
	assert.Empty(t, loc.Timezone)
	assert.Nil(t, loc.Weather)
}

func TestResolver_ByCoordinates(t *testing.T) {
	ctx := context.Background()
	r := &Resolver{Geocoder: &fakeGeocoder{}}

	_, err := r.ByCoordinates(ctx, 91, 0)
	assert.ErrorIs(t, err, geo.ErrInvalidCoordinate)

	_, err = r.ByCoordinates(ctx, 10, 10)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolver_ByIP(t *testing.T) {
	ip := &fakeIP{info: &IPInfo{Query: "8.8.8.8", Lat: 39.03, Lon: -77.5, City: "Ashburn", Region: "Virginia",
		Country: "United States", Timezone: "America/New_York", ISP: "Google LLC", AS: "AS15169"}}
	tz := &countingTimezone{}
	r := &Resolver{IP: ip, Timezone: tz, Elevation: fixedElevation(90)}

	loc, err := r.ByIP(context.Background(), " 8.8.8.8 ")
	require.NoError(t, err)
	assert.Equal(t, KindIP, loc.Kind)
	assert.Equal(t, "Ashburn, Virginia, United States", loc.Point.Name)
	assert.Equal(t, "America/New_York", loc.Timezone)
	assert.Zero(t, tz.calls, "ip-api already supplies the timezone")
	assert.Equal(t, []string{"8.8.8.8"}, ip.got)

	_, err = r.ByIP(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyQuery)

	ip.err = ErrLookupFailed
	_, err = r.ByIP(context.Background(), "10.0.0.1")
	assert.ErrorIs(t, err, ErrLookupFailed)
}

func TestResolver_Here(t *testing.T) {
	ctx := context.Background()
	pos := geo.GeoPoint{Lat: 41.3275, Lon: 19.8189, Name: "Current position"}.WithElevation(120)
	nom := &fakeGeocoder{reverse: func(lat, lon float64) (*Place, error) { return tiranaPlace(), nil }}
	ele := fixedElevation(1)

	loc, err := (&Resolver{Geocoder: nom, Position: fakePosition{p: pos}, Elevation: ele}).Here(ctx)
	require.NoError(t, err)
	assert.Equal(t, KindCoords, loc.Kind)
	assert.Equal(t, "Tirana, Albania", loc.Point.Name)
	assert.Equal(t, 120.0, *loc.Point.Elevation, "the fix altitude is kept")

	// No geocoder: the fix still comes back.
	loc, err = (&Resolver{Position: fakePosition{p: pos}}).Here(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Current position", loc.Point.Name)

	ip := &fakeIP{info: &IPInfo{Query: "203.0.113.7", Lat: 41.3, Lon: 19.8}}
	loc, err = (&Resolver{IP: ip, Position: fakePosition{err: ErrNoFix}}).Here(ctx)
	require.NoError(t, err)
	assert.Equal(t, KindIP, loc.Kind)
	assert.Equal(t, "203.0.113.7", loc.Query)
	assert.Equal(t, []string{""}, ip.got, "own address lookup")
}

func TestLocation_Fields(t *testing.T) {
	loc := Location{
		Point: geo.GeoPoint{Lat: 41.3275, Lon: 19.8189}.WithElevation(110),
		Place: &Place{
			DisplayName: "Tirana, Albania",
			Country:     "Albania",
			State:       "Tirana County",
			City:        "Tirana",
			Postcode:    "1001",
			BoundingBox: []string{"41.16", "41.49", "19.65", "20.01"},
		},
		Timezone: "Europe/Tirane",
		Weather:  &Weather{TemperatureC: 18, WindSpeedKmh: 5, Summary: "clear sky"},
	}

	assert.Equal(t, []codec.Field{
		{Name: "Latitude", Value: "41.3275"},
		{Name: "Longitude", Value: "19.8189"},
		{Name: "Altitude", Value: "110 m"},
		{Name: "Display Address", Value: "Tirana, Albania"},
		{Name: "Country", Value: "Albania"},
		{Name: "Region", Value: "Tirana County"},
		{Name: "City", Value: "Tirana"},
		{Name: "Postal Code", Value: "1001"},
		{Name: "Timezone", Value: "Europe/Tirane"},
		{Name: "ISP", Value: ""},
		{Name: "AS", Value: ""},
		{Name: "Bounding Box", Value: "41.16, 41.49, 19.65, 20.01"},
		{Name: "Weather", Value: "clear sky, 18.0 °C, wind 5.0 km/h"},
	}, loc.Fields())
}

func TestLocation_FieldsFromIP(t *testing.T) {
	loc := Location{
		Point: geo.GeoPoint{Lat: 39.03, Lon: -77.5, Name: "Ashburn"},
		IP:    &IPInfo{Country: "United States", Region: "Virginia", City: "Ashburn", Zip: "20149", ISP: "Google LLC", AS: "AS15169", Timezone: "America/New_York"},
	}
	fields := loc.Fields()
	values := map[string]string{}
	for _, f := range fields {
		values[f.Name] = f.Value
	}
	assert.Equal(t, "N/A", values["Altitude"])
	assert.Equal(t, "Ashburn", values["Display Address"])
	assert.Equal(t, "20149", values["Postal Code"])
	assert.Equal(t, "America/New_York", values["Timezone"])
	assert.Equal(t, "Google LLC", values["ISP"])
	assert.Equal(t, "", values["Weather"])
}
