package lookup

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/coocood/freecache"
	json "github.com/goccy/go-json"
)

const (
	// memoPrecision is the number of decimals coordinates are rounded to
	// before they become cache keys (about a meter).
	memoPrecision = 5

	DefaultMemoTTL = 10 * time.Minute
)

// Memo caches auxiliary lookups in memory, keyed by rounded coordinates.
// It is safe for concurrent use.
type Memo struct {
	cache *freecache.Cache
	ttl   int
}

// NewMemo returns a memo of about sizeMB megabytes whose entries expire
// after ttl.
func NewMemo(sizeMB int, ttl time.Duration) *Memo {
	if sizeMB <= 0 {
		sizeMB = 8
	}
	if ttl <= 0 {
		ttl = DefaultMemoTTL
	}
	return &Memo{cache: freecache.NewCache(sizeMB * 1024 * 1024), ttl: int(ttl.Seconds())}
}

// roundTo rounds v to places decimal digits.
func roundTo(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}

func memoKey(kind string, lat, lon float64) []byte {
	return []byte(kind + "|" +
		strconv.FormatFloat(roundTo(lat, memoPrecision), 'f', memoPrecision, 64) + "|" +
		strconv.FormatFloat(roundTo(lon, memoPrecision), 'f', memoPrecision, 64))
}

func (m *Memo) load(key []byte, out any) bool {
	b, err := m.cache.Get(key)
	if err != nil {
		return false
	}
	return json.Unmarshal(b, out) == nil
}

func (m *Memo) store(key []byte, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = m.cache.Set(key, b, m.ttl)
}

// Hits returns the number of cache hits so far.
func (m *Memo) Hits() int64 { return m.cache.HitCount() }

// Elevation wraps s so answers are memoised. Errors are not cached.
func (m *Memo) Elevation(s ElevationService) ElevationService {
	return memoElevation{m: m, next: s}
}

// Timezone wraps s so answers are memoised.
func (m *Memo) Timezone(s TimezoneService) TimezoneService {
	return memoTimezone{m: m, next: s}
}

// Weather wraps s so answers are memoised.
func (m *Memo) Weather(s WeatherService) WeatherService {
	return memoWeather{m: m, next: s}
}

type memoElevation struct {
	m    *Memo
	next ElevationService
}

func (e memoElevation) Elevation(ctx context.Context, lat, lon float64) (float64, error) {
	key := memoKey("ele", lat, lon)
	var v float64
	if e.m.load(key, &v) {
		return v, nil
	}
	v, err := e.next.Elevation(ctx, lat, lon)
	if err != nil {
		return 0, err
	}
	e.m.store(key, v)
	return v, nil
}

type memoTimezone struct {
	m    *Memo
	next TimezoneService
}

func (t memoTimezone) Timezone(ctx context.Context, lat, lon float64) (*Timezone, error) {
	key := memoKey("tz", lat, lon)
	var v Timezone
	if t.m.load(key, &v) {
		return &v, nil
	}
	tz, err := t.next.Timezone(ctx, lat, lon)
	if err != nil {
		return nil, err
	}
	t.m.store(key, tz)
	return tz, nil
}

type memoWeather struct {
	m    *Memo
	next WeatherService
}

func (w memoWeather) CurrentWeather(ctx context.Context, lat, lon float64) (*Weather, error) {
	key := memoKey("wx", lat, lon)
	var v Weather
	if w.m.load(key, &v) {
		return &v, nil
	}
	wx, err := w.next.CurrentWeather(ctx, lat, lon)
	if err != nil {
		return nil, err
	}
	w.m.store(key, wx)
	return wx, nil
}
