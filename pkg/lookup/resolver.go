package lookup

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/rubiojr/geolocator/pkg/codec"
	"github.com/rubiojr/geolocator/pkg/geo"
	"github.com/rubiojr/geolocator/pkg/logger"
)

// Search kinds, matching the values recorded in the search log.
const (
	KindAddress = "address"
	KindCoords  = "coords"
	KindIP      = "ip"
)

// ErrNoService is returned when the service a lookup needs is not configured.
var ErrNoService = errors.New("service not configured")

// Location is a resolved lookup with its auxiliary fields. Auxiliary fields
// that could not be fetched are left empty.
type Location struct {
	Kind     string       `json:"kind"`
	Query    string       `json:"query"`
	Point    geo.GeoPoint `json:"point"`
	Place    *Place       `json:"place,omitempty"`
	IP       *IPInfo      `json:"ip,omitempty"`
	Timezone string       `json:"timezone,omitempty"`
	Weather  *Weather     `json:"weather,omitempty"`
}

// Fields returns the labelled values of l in display order.
func (l Location) Fields() []codec.Field {
	alt := "N/A"
	if l.Point.Elevation != nil {
		alt = strconv.FormatFloat(*l.Point.Elevation, 'f', -1, 64) + " m"
	}
	var p Place
	if l.Place != nil {
		p = *l.Place
	}
	var ip IPInfo
	if l.IP != nil {
		ip = *l.IP
	}
	display := p.DisplayName
	if display == "" {
		display = l.Point.Name
	}
	weather := ""
	if l.Weather != nil {
		weather = l.Weather.String()
	}
	return []codec.Field{
		{Name: "Latitude", Value: strconv.FormatFloat(l.Point.Lat, 'f', -1, 64)},
		{Name: "Longitude", Value: strconv.FormatFloat(l.Point.Lon, 'f', -1, 64)},
		{Name: "Altitude", Value: alt},
		{Name: "Display Address", Value: display},
		{Name: "Country", Value: or(p.Country, ip.Country)},
		{Name: "Region", Value: or(p.State, ip.Region)},
		{Name: "City", Value: or(p.City, ip.City)},
		{Name: "Postal Code", Value: or(p.Postcode, ip.Zip)},
		{Name: "Timezone", Value: or(l.Timezone, ip.Timezone)},
		{Name: "ISP", Value: ip.ISP},
		{Name: "AS", Value: ip.AS},
		{Name: "Bounding Box", Value: strings.Join(p.BoundingBox, ", ")},
		{Name: "Weather", Value: weather},
	}
}

func or(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// Resolver runs lookups against whichever services are set. Premium, when
// set, is tried before Geocoder. Leave a field nil to disable the service;
// a typed nil pointer is not a disabled service.
type Resolver struct {
	Geocoder  Geocoder
	Premium   Geocoder
	Elevation ElevationService
	IP        IPLocator
	Timezone  TimezoneService
	Weather   WeatherService
	Position  PositionSource
}

func (r *Resolver) geocoders() []Geocoder {
	var out []Geocoder
	if r.Premium != nil {
		out = append(out, r.Premium)
	}
	if r.Geocoder != nil {
		out = append(out, r.Geocoder)
	}
	return out
}

// ByAddress geocodes query.
func (r *Resolver) ByAddress(ctx context.Context, query string) (*Location, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, ErrEmptyQuery
	}
	gs := r.geocoders()
	if len(gs) == 0 {
		return nil, fmt.Errorf("%w: geocoder", ErrNoService)
	}

	var place *Place
	var failure error
	for _, g := range gs {
		p, err := g.Search(ctx, q)
		if err == nil {
			place = p
			break
		}
		if !errors.Is(err, ErrNotFound) {
			logger.Error("geocode %q: %v", q, err)
			if failure == nil {
				failure = err
			}
		}
	}
	if place == nil {
		if failure != nil {
			return nil, failure
		}
		return nil, fmt.Errorf("%w: %q", ErrNotFound, q)
	}

	pt, err := geo.NewPoint(place.Lat, place.Lon)
	if err != nil {
		return nil, fmt.Errorf("geocoder returned %v,%v: %w", place.Lat, place.Lon, err)
	}
	if !place.HasAddress() && r.Geocoder != nil {
		// Search results carry no address details; fetch them.
		if rp, err := r.Geocoder.Reverse(ctx, place.Lat, place.Lon); err == nil {
			mergeAddress(place, rp)
		} else {
			logger.Debug("address details for %q: %v", q, err)
		}
	}

	loc := &Location{Kind: KindAddress, Query: q, Place: place, Point: pt.WithName(place.DisplayName)}
	r.augment(ctx, loc)
	return loc, nil
}

// ByCoordinates reverse geocodes lat, lon.
func (r *Resolver) ByCoordinates(ctx context.Context, lat, lon float64) (*Location, error) {
	pt, err := geo.NewPoint(lat, lon)
	if err != nil {
		return nil, err
	}
	place, err := r.reverse(ctx, lat, lon)
	if err != nil {
		return nil, err
	}
	loc := &Location{
		Kind:  KindCoords,
		Query: strconv.FormatFloat(lat, 'f', -1, 64) + "," + strconv.FormatFloat(lon, 'f', -1, 64),
		Place: place,
		Point: pt.WithName(place.DisplayName),
	}
	r.augment(ctx, loc)
	return loc, nil
}

func (r *Resolver) reverse(ctx context.Context, lat, lon float64) (*Place, error) {
	gs := r.geocoders()
	if len(gs) == 0 {
		return nil, fmt.Errorf("%w: geocoder", ErrNoService)
	}
	var failure error
	for _, g := range gs {
		p, err := g.Reverse(ctx, lat, lon)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrNotFound) {
			logger.Error("reverse geocode %v,%v: %v", lat, lon, err)
			if failure == nil {
				failure = err
			}
		}
	}
	if failure != nil {
		return nil, failure
	}
	return nil, fmt.Errorf("%w: no address at %v,%v", ErrNotFound, lat, lon)
}

// ByIP geolocates ip.
func (r *Resolver) ByIP(ctx context.Context, ip string) (*Location, error) {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return nil, ErrEmptyQuery
	}
	return r.lookupIP(ctx, ip)
}

func (r *Resolver) lookupIP(ctx context.Context, ip string) (*Location, error) {
	if r.IP == nil {
		return nil, fmt.Errorf("%w: ip locator", ErrNoService)
	}
	info, err := r.IP.LocateIP(ctx, ip)
	if err != nil {
		return nil, err
	}
	pt, err := geo.NewPoint(info.Lat, info.Lon)
	if err != nil {
		return nil, fmt.Errorf("ip locator returned %v,%v: %w", info.Lat, info.Lon, err)
	}
	name := strings.Join(nonEmpty(info.City, info.Region, info.Country), ", ")
	if name == "" {
		name = info.Query
	}
	query := ip
	if query == "" {
		query = info.Query
	}
	loc := &Location{Kind: KindIP, Query: query, IP: info, Timezone: info.Timezone, Point: pt.WithName(name)}
	r.augment(ctx, loc)
	return loc, nil
}

// Here locates the device: the position source first, then the public IP.
func (r *Resolver) Here(ctx context.Context) (*Location, error) {
	if r.Position != nil {
		pt, err := r.Position.Current(ctx)
		if err == nil {
			loc := &Location{
				Kind:  KindCoords,
				Query: strconv.FormatFloat(pt.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(pt.Lon, 'f', -1, 64),
				Point: pt,
			}
			if place, err := r.reverse(ctx, pt.Lat, pt.Lon); err == nil {
				loc.Place = place
				loc.Point = loc.Point.WithName(place.DisplayName)
			} else {
				logger.Debug("reverse geocode of own position: %v", err)
			}
			r.augment(ctx, loc)
			return loc, nil
		}
		logger.Info("position source unavailable, falling back to IP: %v", err)
	}
	return r.lookupIP(ctx, "")
}

// augment fills elevation, timezone and weather concurrently. Failures only
// leave the field empty.
func (r *Resolver) augment(ctx context.Context, loc *Location) {
	lat, lon := loc.Point.Lat, loc.Point.Lon
	var (
		wg  sync.WaitGroup
		ele *float64
		tz  string
		wx  *Weather
	)
	if r.Elevation != nil && !loc.Point.HasElevation() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := r.Elevation.Elevation(ctx, lat, lon)
			if err != nil {
				logger.Debug("elevation unavailable: %v", err)
				return
			}
			ele = &v
		}()
	}
	if r.Timezone != nil && loc.Timezone == "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := r.Timezone.Timezone(ctx, lat, lon)
			if err != nil {
				logger.Debug("timezone unavailable: %v", err)
				return
			}
			tz = v.Name
		}()
	}
	if r.Weather != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := r.Weather.CurrentWeather(ctx, lat, lon)
			if err != nil {
				logger.Debug("weather unavailable: %v", err)
				return
			}
			wx = v
		}()
	}
	wg.Wait()

	if ele != nil {
		loc.Point = loc.Point.WithElevation(*ele)
	}
	if tz != "" {
		loc.Timezone = tz
	}
	loc.Weather = wx
}

func mergeAddress(dst, src *Place) {
	dst.Country = or(dst.Country, src.Country)
	dst.State = or(dst.State, src.State)
	dst.County = or(dst.County, src.County)
	dst.City = or(dst.City, src.City)
	dst.Postcode = or(dst.Postcode, src.Postcode)
	dst.Road = or(dst.Road, src.Road)
	dst.HouseNumber = or(dst.HouseNumber, src.HouseNumber)
	dst.Neighbourhood = or(dst.Neighbourhood, src.Neighbourhood)
	if len(dst.BoundingBox) == 0 {
		dst.BoundingBox = src.BoundingBox
	}
}

func nonEmpty(ss ...string) []string {
	out := ss[:0:0]
	for _, s := range ss {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
