package lookup

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/muesli/gominatim"
	_ "modernc.org/sqlite"

	"github.com/rubiojr/geolocator/pkg/logger"
)

const (
	DefaultNominatimServer = "https://nominatim.openstreetmap.org"
	nominatimMinInterval   = 400 * time.Millisecond
	nominatimRetryDelay    = 150 * time.Millisecond
	defaultSuggestLimit    = 5

	// GeocodeCacheFile is the persistent geocode cache inside the cache dir.
	GeocodeCacheFile = "geocode.sqlite"
)

// NominatimOptions configure a Nominatim geocoder.
type NominatimOptions struct {
	Server    string
	UserAgent string
	Timeout   time.Duration
	// CacheDir holds the persistent geocode cache. Empty disables it.
	CacheDir string
	// Retries is the number of extra attempts on transient errors.
	Retries int
	Client  *http.Client
}

// Nominatim geocodes through an OpenStreetMap Nominatim server. Successful
// answers, empty ones included, are cached indefinitely in SQLite. Requests
// that miss the cache are throttled to one every 400ms.
type Nominatim struct {
	server      string
	get         httpGetter
	timeout     time.Duration
	retries     int
	minInterval time.Duration
	cache       *sql.DB

	throttleMu sync.Mutex
	last       time.Time
}

// NewNominatim returns a geocoder for opts.Server. A cache that cannot be
// opened is logged and skipped.
func NewNominatim(opts NominatimOptions) *Nominatim {
	srv := strings.TrimRight(strings.TrimSpace(opts.Server), "/")
	if srv == "" {
		srv = DefaultNominatimServer
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Retries < 0 || opts.Retries > 5 {
		opts.Retries = 1
	}
	gominatim.SetServer(srv)

	n := &Nominatim{
		server:      srv,
		get:         newGetter(opts.Client, opts.Timeout, opts.UserAgent),
		timeout:     opts.Timeout,
		retries:     opts.Retries,
		minInterval: nominatimMinInterval,
	}
	if opts.CacheDir != "" {
		db, err := openGeocodeCache(filepath.Join(opts.CacheDir, GeocodeCacheFile))
		if err != nil {
			logger.Error("geocode cache disabled: %v", err)
		} else {
			n.cache = db
		}
	}
	return n
}

func openGeocodeCache(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS geocode_cache (
			query TEXT PRIMARY KEY,
			json  TEXT NOT NULL,
			fetched_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_geocode_cache_fetched_at ON geocode_cache(fetched_at)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("geocode cache schema: %w", err)
		}
	}
	return db, nil
}

// Close releases the cache.
func (n *Nominatim) Close() error {
	if n.cache == nil {
		return nil
	}
	return n.cache.Close()
}

// Search returns the best match for query.
func (n *Nominatim) Search(ctx context.Context, query string) (*Place, error) {
	places, err := n.Suggest(ctx, query, 1)
	if err != nil {
		return nil, err
	}
	if len(places) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, strings.TrimSpace(query))
	}
	return &places[0], nil
}

// Suggest returns up to limit matches for query, in server order.
func (n *Nominatim) Suggest(ctx context.Context, query string, limit int) ([]Place, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		limit = defaultSuggestLimit
	}
	key := fmt.Sprintf("search:%d:%s", limit, strings.ToLower(q))

	var cached []Place
	if n.cacheGet(key, &cached) {
		return cached, nil
	}

	var (
		res []gominatim.SearchResult
		err error
	)
	attempts := n.retries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = n.throttle(ctx); err != nil {
			return nil, err
		}
		res, err = n.search(ctx, q, limit)
		if err == nil {
			if attempt > 1 {
				logger.Info("nominatim recovered after %d attempt(s) for %q", attempt, q)
			}
			break
		}
		if !transient(err) || attempt == attempts || ctx.Err() != nil {
			return nil, fmt.Errorf("nominatim search %q: %w", q, err)
		}
		logger.Debug("transient nominatim error (attempt %d/%d) query=%q: %v", attempt, attempts, q, err)
		time.Sleep(nominatimRetryDelay)
	}

	places := make([]Place, 0, limit)
	for _, r := range res {
		if r.DisplayName == "" {
			continue
		}
		lat, errLat := strconv.ParseFloat(r.Lat, 64)
		lon, errLon := strconv.ParseFloat(r.Lon, 64)
		if errLat != nil || errLon != nil {
			continue
		}
		places = append(places, Place{
			Lat:         lat,
			Lon:         lon,
			DisplayName: r.DisplayName,
			Class:       r.Class,
			Type:        r.Type,
			Source:      "nominatim",
		})
		if len(places) >= limit {
			break
		}
	}
	n.cachePut(key, places)
	return places, nil
}

type searchOutcome struct {
	res []gominatim.SearchResult
	err error
}

// search runs the gominatim query, which has no context support, under the
// request timeout.
func (n *Nominatim) search(ctx context.Context, q string, limit int) ([]gominatim.SearchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	done := make(chan searchOutcome, 1)
	go func() {
		qObj := gominatim.SearchQuery{
			Q:     q,
			Limit: limit,
		}
		res, err := qObj.Get()
		done <- searchOutcome{res: res, err: err}
	}()
	select {
	case out := <-done:
		return out.res, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type nominatimReverse struct {
	Error       string            `json:"error"`
	Lat         string            `json:"lat"`
	Lon         string            `json:"lon"`
	DisplayName string            `json:"display_name"`
	Category    string            `json:"category"`
	Type        string            `json:"type"`
	BoundingBox []string          `json:"boundingbox"`
	Address     map[string]string `json:"address"`
}

// Reverse returns the address at lat, lon.
func (n *Nominatim) Reverse(ctx context.Context, lat, lon float64) (*Place, error) {
	key := fmt.Sprintf("reverse:%.6f,%.6f", lat, lon)
	var cached Place
	if n.cacheGet(key, &cached) {
		if cached.DisplayName == "" {
			return nil, fmt.Errorf("%w: no address at %.6f,%.6f", ErrNotFound, lat, lon)
		}
		return &cached, nil
	}

	if err := n.throttle(ctx); err != nil {
		return nil, err
	}
	v := url.Values{}
	v.Set("format", "jsonv2")
	v.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	v.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	v.Set("addressdetails", "1")

	var raw nominatimReverse
	if err := n.get.getJSON(ctx, n.server+"/reverse?"+v.Encode(), &raw); err != nil {
		return nil, fmt.Errorf("nominatim reverse: %w", err)
	}
	if raw.Error != "" || raw.DisplayName == "" {
		n.cachePut(key, Place{})
		return nil, fmt.Errorf("%w: no address at %.6f,%.6f", ErrNotFound, lat, lon)
	}

	p := Place{
		Lat:           lat,
		Lon:           lon,
		DisplayName:   raw.DisplayName,
		Country:       raw.Address["country"],
		State:         firstOf(raw.Address, "state", "region"),
		County:        raw.Address["county"],
		City:          firstOf(raw.Address, "city", "town", "village"),
		Postcode:      raw.Address["postcode"],
		Road:          raw.Address["road"],
		HouseNumber:   raw.Address["house_number"],
		Neighbourhood: firstOf(raw.Address, "neighbourhood", "suburb", "quarter"),
		BoundingBox:   raw.BoundingBox,
		Class:         raw.Category,
		Type:          raw.Type,
		Source:        "nominatim",
	}
	if f, err := strconv.ParseFloat(raw.Lat, 64); err == nil {
		p.Lat = f
	}
	if f, err := strconv.ParseFloat(raw.Lon, 64); err == nil {
		p.Lon = f
	}
	n.cachePut(key, p)
	return &p, nil
}

func (n *Nominatim) throttle(ctx context.Context) error {
	n.throttleMu.Lock()
	defer n.throttleMu.Unlock()
	if wait := n.minInterval - time.Since(n.last); wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	n.last = time.Now()
	return nil
}

func (n *Nominatim) cacheGet(key string, out any) bool {
	if n.cache == nil {
		return false
	}
	var raw string
	if err := n.cache.QueryRow(`SELECT json FROM geocode_cache WHERE query = ?`, key).Scan(&raw); err != nil {
		return false
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		logger.Error("geocode cache unmarshal failed for %q: %v (ignoring)", key, err)
		return false
	}
	return true
}

func (n *Nominatim) cachePut(key string, v any) {
	if n.cache == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if _, err := n.cache.Exec(`INSERT OR REPLACE INTO geocode_cache(query, json, fetched_at) VALUES(?,?,CURRENT_TIMESTAMP)`, key, string(b)); err != nil {
		logger.Debug("geocode cache write %q: %v", key, err)
	}
}

func transient(err error) bool {
	s := err.Error()
	return strings.Contains(s, "unexpected end of JSON") || strings.Contains(s, "EOF")
}

func firstOf(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := m[k]; v != "" {
			return v
		}
	}
	return ""
}
