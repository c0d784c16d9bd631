package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rubiojr/geolocator/pkg/codec"
	"github.com/rubiojr/geolocator/pkg/config"
	"github.com/rubiojr/geolocator/pkg/geo"
	"github.com/rubiojr/geolocator/pkg/logger"
	"github.com/rubiojr/geolocator/pkg/lookup"
	"github.com/rubiojr/geolocator/pkg/points"
	"github.com/rubiojr/geolocator/pkg/storage"
)

// Point sources for export.
const (
	sourceSession   = "session"
	sourceFavorites = "favorites"
	sourceHistory   = "history"

	historyExportLimit = 10000
)

var (
	errNoQuery       = errors.New("one of address, coords or ip is required")
	errTooManyQuery  = errors.New("address, coords and ip are mutually exclusive")
	errUnknownSource = errors.New("unknown point source")
)

type suggester interface {
	Suggest(ctx context.Context, query string, limit int) ([]lookup.Place, error)
}

// App holds the components shared by the commands and the HTTP API.
type App struct {
	cfg      *config.Config
	recorder *storage.Recorder
	resolver *lookup.Resolver
	suggest  suggester
	closers  []func() error

	// points collects what this process located or imported.
	mu     sync.Mutex
	points *points.Store
}

// newApp opens the stores and wires the lookup services from cfg.
func newApp(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("create directories: %w", err)
	}
	local, err := storage.OpenLocal(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	logger.Debug("local store at %s", local.Path())

	remote := storage.OpenRemote(ctx, cfg.Remote)
	rec := storage.NewRecorder(local, remote, storage.Options{
		QueueSize:     cfg.QueueSize,
		RemoteTimeout: cfg.RemoteTimeout,
	})

	nom := lookup.NewNominatim(lookup.NominatimOptions{
		Server:    cfg.NominatimServer,
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.HTTPTimeout,
		CacheDir:  cfg.CacheDir,
		Retries:   1,
	})
	memo := lookup.NewMemo(cfg.CacheSizeMB, lookup.DefaultMemoTTL)
	res := &lookup.Resolver{
		Geocoder:  nom,
		Elevation: memo.Elevation(lookup.NewOpenElevation("", cfg.HTTPTimeout, nil)),
		IP:        lookup.NewIPAPI("", cfg.HTTPTimeout, nil),
		Timezone:  memo.Timezone(lookup.NewTimeAPI("", cfg.HTTPTimeout, nil)),
		Weather:   memo.Weather(lookup.NewOpenMeteo("", cfg.HTTPTimeout, nil)),
		Position:  lookup.NewGeoClue(lookup.DefaultDesktopID),
	}
	if g := lookup.NewGoogle(cfg.GoogleAPIKey, "", cfg.HTTPTimeout, nil); g != nil {
		res.Premium = g
		logger.Debug("google geocoder enabled")
	}

	a := newAppWith(cfg, rec, res, nom)
	a.closers = append(a.closers, nom.Close)
	return a, nil
}

func newAppWith(cfg *config.Config, rec *storage.Recorder, res *lookup.Resolver, s suggester) *App {
	return &App{
		cfg:      cfg,
		recorder: rec,
		resolver: res,
		suggest:  s,
		points:   points.New(),
	}
}

// Close flushes the remote queue and closes every store.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	errs = append(errs, a.recorder.Close())
	return errors.Join(errs...)
}

// locateQuery names exactly one way of locating.
type locateQuery struct {
	Address string
	Coords  string
	IP      string
}

func (q locateQuery) validate() error {
	n := 0
	for _, s := range []string{q.Address, q.Coords, q.IP} {
		if strings.TrimSpace(s) != "" {
			n++
		}
	}
	switch n {
	case 0:
		return errNoQuery
	case 1:
		return nil
	}
	return errTooManyQuery
}

// locate resolves q and records the search. When only the local write
// fails, the location is returned together with the error.
func (a *App) locate(ctx context.Context, q locateQuery) (*lookup.Location, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	var (
		loc *lookup.Location
		err error
	)
	switch {
	case strings.TrimSpace(q.Address) != "":
		loc, err = a.resolver.ByAddress(ctx, q.Address)
	case strings.TrimSpace(q.Coords) != "":
		var p geo.GeoPoint
		p, err = geo.ParseLatLon(q.Coords)
		if err != nil {
			return nil, err
		}
		loc, err = a.resolver.ByCoordinates(ctx, p.Lat, p.Lon)
	default:
		loc, err = a.resolver.ByIP(ctx, q.IP)
	}
	if err != nil {
		return nil, err
	}
	return loc, a.record(ctx, loc)
}

// here resolves the device position and records it. A failed local write
// is returned along with the location.
func (a *App) here(ctx context.Context) (*lookup.Location, error) {
	loc, err := a.resolver.Here(ctx)
	if err != nil {
		return nil, err
	}
	return loc, a.record(ctx, loc)
}

// record logs loc to the search log and the session points. Only the local
// write can fail; remote copies are best effort inside the recorder.
func (a *App) record(ctx context.Context, loc *lookup.Location) error {
	name := loc.Point.Name
	if name == "" {
		name = loc.Query
	}
	_, err := a.recorder.RecordSearch(ctx, storage.SearchEntry{
		Name:      name,
		Kind:      storage.Kind(loc.Kind),
		Lat:       loc.Point.Lat,
		Lon:       loc.Point.Lon,
		Elevation: loc.Point.Elevation,
	})
	a.storePoint(loc.Point)
	if err != nil {
		return fmt.Errorf("record search %q: %w", name, err)
	}
	return nil
}

func (a *App) storePoint(p geo.GeoPoint) geo.GeoPoint {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.points.Store(p)
}

func (a *App) sessionPoints() []geo.GeoPoint {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.points.ExportAll()
}

// collect returns the points of source.
func (a *App) collect(ctx context.Context, source string) ([]geo.GeoPoint, error) {
	switch source {
	case "", sourceSession:
		return a.sessionPoints(), nil
	case sourceFavorites:
		favs, err := a.recorder.Local().ListFavorites(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]geo.GeoPoint, 0, len(favs))
		for _, f := range favs {
			out = append(out, f.GeoPoint)
		}
		return out, nil
	case sourceHistory:
		entries, err := a.recorder.Local().RecentSearches(ctx, historyExportLimit)
		if err != nil {
			return nil, err
		}
		out := make([]geo.GeoPoint, 0, len(entries))
		for _, e := range entries {
			out = append(out, e.Point())
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %q", errUnknownSource, source)
}

// importOptions say where imported points go besides the session.
type importOptions struct {
	Favorites bool
	Remote    bool
}

type importReport struct {
	Imported  int `json:"imported"`
	Skipped   int `json:"skipped"`
	Favorites int `json:"favorites"`
	Remote    int `json:"remote"`
}

// importPoints appends the decoded points to the session and optionally saves them as
// favorites and remote points. Per-point failures are counted, not returned.
func (a *App) importPoints(ctx context.Context, res codec.Result, opts importOptions) importReport {
	rep := importReport{Skipped: res.Skipped}
	for _, p := range res.Points {
		saved := a.storePoint(p)
		rep.Imported++
		if opts.Favorites {
			if _, err := a.recorder.Local().SaveFavorite(ctx, saved.Name, saved, ""); err != nil {
				logger.Warn("import favorite %q: %v", saved.Name, err)
			} else {
				rep.Favorites++
			}
		}
		if opts.Remote && a.recorder.StorePoint(ctx, saved) {
			rep.Remote++
		}
	}
	return rep
}

// searcher geocodes through the premium geocoder first when there is one.
func (a *App) searcher() geocoderChain {
	var chain geocoderChain
	for _, g := range []lookup.Geocoder{a.resolver.Premium, a.resolver.Geocoder} {
		if g != nil {
			chain = append(chain, g)
		}
	}
	return chain
}

type geocoderChain []lookup.Geocoder

// Search returns the first hit. A miss moves on to the next geocoder; any
// other failure is returned once every geocoder has been tried.
func (c geocoderChain) Search(ctx context.Context, query string) (*lookup.Place, error) {
	if len(c) == 0 {
		return nil, lookup.ErrNoService
	}
	var firstErr error
	for _, g := range c {
		p, err := g.Search(ctx, query)
		if err == nil && p != nil {
			return p, nil
		}
		if err != nil && !errors.Is(err, lookup.ErrNotFound) && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return nil, lookup.ErrNotFound
}

// searchRecorder records every address a batch resolves. A failed local
// write marks the row.
func (a *App) searchRecorder() func(ctx context.Context, address string, place *lookup.Place) error {
	return func(ctx context.Context, address string, place *lookup.Place) error {
		name := place.DisplayName
		if name == "" {
			name = strings.TrimSpace(address)
		}
		_, err := a.recorder.RecordSearch(ctx, storage.SearchEntry{
			Name: name,
			Kind: storage.KindAddress,
			Lat:  place.Lat,
			Lon:  place.Lon,
		})
		return err
	}
}

// measurement is the distance and heading between two points.
type measurement struct {
	From       geo.GeoPoint `json:"from"`
	To         geo.GeoPoint `json:"to"`
	Meters     float64      `json:"meters"`
	Kilometers float64      `json:"kilometers"`
	Bearing    float64      `json:"bearing"`
	Compass    string       `json:"compass"`
}

func measure(from, to geo.GeoPoint) (measurement, error) {
	d, err := geo.Distance(from, to)
	if err != nil {
		return measurement{}, err
	}
	b, err := geo.Bearing(from, to)
	if err != nil {
		return measurement{}, err
	}
	return measurement{
		From:       from,
		To:         to,
		Meters:     d,
		Kilometers: d / 1000,
		Bearing:    b,
		Compass:    geo.Compass(b),
	}, nil
}
