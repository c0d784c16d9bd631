package lookup

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultElevationURL = "https://api.open-elevation.com"
	DefaultIPAPIURL     = "http://ip-api.com"
	DefaultTimezoneURL  = "https://timeapi.io"
	DefaultWeatherURL   = "https://api.open-meteo.com"

	ipFields = "status,message,country,regionName,city,zip,lat,lon,timezone,isp,org,as,query"
)

func coord(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func baseOr(base, def string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return def
	}
	return base
}

// OpenElevation queries an open-elevation server.
type OpenElevation struct {
	base string
	get  httpGetter
}

// NewOpenElevation returns a client for baseURL, or the public server when empty.
func NewOpenElevation(baseURL string, timeout time.Duration, client *http.Client) *OpenElevation {
	return &OpenElevation{base: baseOr(baseURL, DefaultElevationURL), get: newGetter(client, timeout, "")}
}

// Elevation returns the ground height in meters at lat, lon.
func (o *OpenElevation) Elevation(ctx context.Context, lat, lon float64) (float64, error) {
	var resp struct {
		Results []struct {
			Elevation *float64 `json:"elevation"`
		} `json:"results"`
	}
	u := o.base + "/api/v1/lookup?locations=" + url.QueryEscape(coord(lat)+","+coord(lon))
	if err := o.get.getJSON(ctx, u, &resp); err != nil {
		return 0, fmt.Errorf("elevation: %w", err)
	}
	if len(resp.Results) == 0 || resp.Results[0].Elevation == nil {
		return 0, ErrNotFound
	}
	return *resp.Results[0].Elevation, nil
}

// IPAPI geolocates IP addresses through ip-api.com.
type IPAPI struct {
	base string
	get  httpGetter
}

// NewIPAPI returns a client for baseURL, or ip-api.com when empty.
func NewIPAPI(baseURL string, timeout time.Duration, client *http.Client) *IPAPI {
	return &IPAPI{base: baseOr(baseURL, DefaultIPAPIURL), get: newGetter(client, timeout, "")}
}

// LocateIP geolocates ip. An empty ip means the caller's own address.
func (i *IPAPI) LocateIP(ctx context.Context, ip string) (*IPInfo, error) {
	var resp struct {
		IPInfo
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	u := i.base + "/json/" + url.PathEscape(strings.TrimSpace(ip)) + "?fields=" + ipFields
	if err := i.get.getJSON(ctx, u, &resp); err != nil {
		return nil, fmt.Errorf("ip lookup: %w", err)
	}
	if resp.Status != "success" {
		msg := resp.Message
		if msg == "" {
			msg = "unknown error"
		}
		return nil, fmt.Errorf("%w: ip-api: %s", ErrLookupFailed, msg)
	}
	info := resp.IPInfo
	return &info, nil
}

// TimeAPI resolves timezones through timeapi.io.
type TimeAPI struct {
	base string
	get  httpGetter
}

// NewTimeAPI returns a client for baseURL, or timeapi.io when empty.
func NewTimeAPI(baseURL string, timeout time.Duration, client *http.Client) *TimeAPI {
	return &TimeAPI{base: baseOr(baseURL, DefaultTimezoneURL), get: newGetter(client, timeout, "")}
}

// Timezone returns the IANA zone and current UTC offset at lat, lon.
func (t *TimeAPI) Timezone(ctx context.Context, lat, lon float64) (*Timezone, error) {
	var resp struct {
		TimeZone         string `json:"timeZone"`
		CurrentUtcOffset struct {
			Seconds int `json:"seconds"`
		} `json:"currentUtcOffset"`
	}
	u := fmt.Sprintf("%s/api/TimeZone/coordinate?latitude=%s&longitude=%s", t.base, coord(lat), coord(lon))
	if err := t.get.getJSON(ctx, u, &resp); err != nil {
		return nil, fmt.Errorf("timezone: %w", err)
	}
	if resp.TimeZone == "" {
		return nil, ErrNotFound
	}
	return &Timezone{Name: resp.TimeZone, UTCOffset: resp.CurrentUtcOffset.Seconds}, nil
}

// OpenMeteo reads the current weather from open-meteo.
type OpenMeteo struct {
	base string
	get  httpGetter
}

// NewOpenMeteo returns a client for baseURL, or the public API when empty.
func NewOpenMeteo(baseURL string, timeout time.Duration, client *http.Client) *OpenMeteo {
	return &OpenMeteo{base: baseOr(baseURL, DefaultWeatherURL), get: newGetter(client, timeout, "")}
}

// CurrentWeather returns the latest observation at lat, lon.
func (o *OpenMeteo) CurrentWeather(ctx context.Context, lat, lon float64) (*Weather, error) {
	var resp struct {
		Current *struct {
			Temperature   float64 `json:"temperature"`
			Windspeed     float64 `json:"windspeed"`
			Winddirection float64 `json:"winddirection"`
			Weathercode   int     `json:"weathercode"`
			Time          string  `json:"time"`
		} `json:"current_weather"`
	}
	u := fmt.Sprintf("%s/v1/forecast?latitude=%s&longitude=%s&current_weather=true", o.base, coord(lat), coord(lon))
	if err := o.get.getJSON(ctx, u, &resp); err != nil {
		return nil, fmt.Errorf("weather: %w", err)
	}
	if resp.Current == nil {
		return nil, ErrNotFound
	}
	c := resp.Current
	return &Weather{
		TemperatureC:  c.Temperature,
		WindSpeedKmh:  c.Windspeed,
		WindDirection: c.Winddirection,
		Code:          c.Weathercode,
		Summary:       WeatherSummary(c.Weathercode),
		ObservedAt:    c.Time,
	}, nil
}

// WeatherSummary names a WMO weather interpretation code.
func WeatherSummary(code int) string {
	switch {
	case code == 0:
		return "clear sky"
	case code >= 1 && code <= 3:
		return "partly cloudy"
	case code == 45 || code == 48:
		return "fog"
	case code >= 51 && code <= 57:
		return "drizzle"
	case code >= 61 && code <= 67:
		return "rain"
	case code >= 71 && code <= 77:
		return "snow"
	case code >= 80 && code <= 82:
		return "rain showers"
	case code == 85 || code == 86:
		return "snow showers"
	case code >= 95 && code <= 99:
		return "thunderstorm"
	}
	return "unknown"
}

// String renders the weather as one line.
func (w Weather) String() string {
	return fmt.Sprintf("%s, %.1f °C, wind %.1f km/h", w.Summary, w.TemperatureC, w.WindSpeedKmh)
}
