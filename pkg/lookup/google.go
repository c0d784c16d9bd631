package lookup

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultGoogleURL = "https://maps.googleapis.com/maps/api/geocode/json"

// Google is the premium geocoder, usable only with an API key.
type Google struct {
	key  string
	base string
	get  httpGetter
}

// NewGoogle returns a Google geocoder, or nil when apiKey is blank.
func NewGoogle(apiKey, baseURL string, timeout time.Duration, client *http.Client) *Google {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil
	}
	if baseURL == "" {
		baseURL = DefaultGoogleURL
	}
	return &Google{key: apiKey, base: baseURL, get: newGetter(client, timeout, "")}
}

type googleResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Results      []struct {
		FormattedAddress  string `json:"formatted_address"`
		AddressComponents []struct {
			LongName string   `json:"long_name"`
			Types    []string `json:"types"`
		} `json:"address_components"`
		Geometry struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
			Viewport struct {
				Northeast struct {
					Lat float64 `json:"lat"`
					Lng float64 `json:"lng"`
				} `json:"northeast"`
				Southwest struct {
					Lat float64 `json:"lat"`
					Lng float64 `json:"lng"`
				} `json:"southwest"`
			} `json:"viewport"`
		} `json:"geometry"`
		Types []string `json:"types"`
	} `json:"results"`
}

// Search geocodes query.
func (g *Google) Search(ctx context.Context, query string) (*Place, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, ErrEmptyQuery
	}
	v := url.Values{}
	v.Set("address", q)
	return g.do(ctx, v)
}

// Reverse returns the address at lat, lon.
func (g *Google) Reverse(ctx context.Context, lat, lon float64) (*Place, error) {
	v := url.Values{}
	v.Set("latlng", fmt.Sprintf("%f,%f", lat, lon))
	return g.do(ctx, v)
}

func (g *Google) do(ctx context.Context, v url.Values) (*Place, error) {
	v.Set("key", g.key)
	var resp googleResponse
	if err := g.get.getJSON(ctx, g.base+"?"+v.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("google geocode: %w", err)
	}
	switch resp.Status {
	case "OK":
	case "ZERO_RESULTS":
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("%w: google status %s %s", ErrLookupFailed, resp.Status, resp.ErrorMessage)
	}
	if len(resp.Results) == 0 {
		return nil, ErrNotFound
	}

	r := resp.Results[0]
	p := &Place{
		Lat:         r.Geometry.Location.Lat,
		Lon:         r.Geometry.Location.Lng,
		DisplayName: r.FormattedAddress,
		Source:      "google",
	}
	if len(r.Types) > 0 {
		p.Type = r.Types[0]
	}
	vp := r.Geometry.Viewport
	if vp.Northeast.Lat != 0 || vp.Southwest.Lat != 0 {
		// Nominatim order: south, north, west, east.
		p.BoundingBox = []string{
			fmt.Sprint(vp.Southwest.Lat), fmt.Sprint(vp.Northeast.Lat),
			fmt.Sprint(vp.Southwest.Lng), fmt.Sprint(vp.Northeast.Lng),
		}
	}
	for _, c := range r.AddressComponents {
		for _, t := range c.Types {
			switch t {
			case "country":
				p.Country = c.LongName
			case "administrative_area_level_1":
				p.State = c.LongName
			case "administrative_area_level_2":
				p.County = c.LongName
			case "locality", "postal_town":
				if p.City == "" {
					p.City = c.LongName
				}
			case "postal_code":
				p.Postcode = c.LongName
			case "route":
				p.Road = c.LongName
			case "street_number":
				p.HouseNumber = c.LongName
			case "neighborhood", "sublocality":
				if p.Neighbourhood == "" {
					p.Neighbourhood = c.LongName
				}
			}
		}
	}
	return p, nil
}
