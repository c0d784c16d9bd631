package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rubiojr/geolocator/pkg/codec"
	"github.com/rubiojr/geolocator/pkg/geo"
	"github.com/rubiojr/geolocator/pkg/logger"
	"github.com/rubiojr/geolocator/pkg/lookup"
	"github.com/rubiojr/geolocator/pkg/storage"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
	defaultStatsDays    = 30
	maxImportBytes      = 32 << 20
)

// RegisterAPI registers the HTTP API on mux.
func RegisterAPI(mux *http.ServeMux, a *App) {
	if mux == nil {
		mux = http.DefaultServeMux
	}

	// Lookups
	mux.HandleFunc("GET /api/locate", handleLocate(a))
	mux.HandleFunc("GET /api/here", handleHere(a))
	mux.HandleFunc("GET /api/suggest", handleSuggest(a))

	// Session points
	mux.HandleFunc("OPTIONS /api/points", handleOptions)
	mux.HandleFunc("GET /api/points", handleGetPoints(a))
	mux.HandleFunc("POST /api/points", handlePostPoint(a))
	mux.HandleFunc("GET /api/points/export", handleExportPoints(a))
	mux.HandleFunc("OPTIONS /api/points/import", handleOptions)
	mux.HandleFunc("POST /api/points/import", handleImportPoints(a))

	// Favorites (CORS)
	mux.HandleFunc("OPTIONS /api/favorites", handleOptions)
	mux.HandleFunc("GET /api/favorites", handleGetFavorites(a))
	mux.HandleFunc("POST /api/favorites", handlePostFavorite(a))
	mux.HandleFunc("DELETE /api/favorites", handleDeleteFavorite(a))

	// History & statistics
	mux.HandleFunc("GET /api/history", handleGetHistory(a))
	mux.HandleFunc("GET /api/stats", handleGetStats(a))

	// Spatial
	mux.HandleFunc("GET /api/radius", handleGetRadius(a))
	mux.HandleFunc("GET /api/distance", handleGetDistance)
	mux.HandleFunc("GET /api/utm", handleGetUTM)
	mux.HandleFunc("GET /api/buffer", handleGetBuffer)

	mux.HandleFunc("GET /api/version", handleVersion(a))
	mux.Handle("GET /metrics", promhttp.HandlerFor(a.recorder.Metrics().Registry, promhttp.HandlerOpts{}))
}

func corsHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
}

func handleOptions(w http.ResponseWriter, _ *http.Request) {
	corsHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("encode response: %v", err)
	}
}

// lookupStatus maps a lookup or input error to an HTTP status.
func lookupStatus(err error) int {
	switch {
	case errors.Is(err, geo.ErrInvalidCoordinate),
		errors.Is(err, lookup.ErrEmptyQuery),
		errors.Is(err, errNoQuery),
		errors.Is(err, errTooManyQuery),
		errors.Is(err, errUnknownSource),
		errors.Is(err, storage.ErrInvalidEntry),
		errors.Is(err, storage.ErrInvalidTable),
		errors.Is(err, codec.ErrInvalidFormat),
		errors.Is(err, codec.ErrUnknownFormat):
		return http.StatusBadRequest
	case errors.Is(err, lookup.ErrNotFound),
		errors.Is(err, storage.ErrNotFound),
		errors.Is(err, codec.ErrNoValidPoints):
		return http.StatusNotFound
	case errors.Is(err, lookup.ErrNoService):
		return http.StatusServiceUnavailable
	case errors.Is(err, storage.ErrLocalWrite):
		return http.StatusInternalServerError
	case errors.Is(err, lookup.ErrLookupFailed):
		return http.StatusBadGateway
	}
	var se *lookup.StatusError
	if errors.As(err, &se) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func httpError(w http.ResponseWriter, err error) {
	code := lookupStatus(err)
	if code >= http.StatusInternalServerError {
		logger.Error("request failed: %v", err)
	}
	http.Error(w, err.Error(), code)
}

func queryInt(r *http.Request, key string, def, max int) int {
	v, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get(key)))
	if err != nil || v <= 0 {
		return def
	}
	if max > 0 && v > max {
		return max
	}
	return v
}

func queryBool(r *http.Request, key string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return b
}

func queryPoint(r *http.Request, key string) (geo.GeoPoint, error) {
	q := r.URL.Query()
	if s := q.Get(key); s != "" {
		return geo.ParseLatLon(s)
	}
	return geo.ParsePoint(q.Get("lat"), q.Get("lon"))
}

func queryFloat(r *http.Request, key string) (float64, error) {
	return geo.ParseCoordinate(r.URL.Query().Get(key))
}

// ---------------- Lookups ----------------

func handleLocate(a *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		corsHeaders(w)
		q := r.URL.Query()
		loc, err := a.locate(r.Context(), locateQuery{
			Address: q.Get("address"),
			Coords:  q.Get("coords"),
			IP:      q.Get("ip"),
		})
		if err != nil {
			httpError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"location": loc,
			"fields":   loc.Fields(),
		})
	}
}

func handleHere(a *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		loc, err := a.here(r.Context())
		if errors.Is(err, storage.ErrLocalWrite) {
			httpError(w, err)
			return
		}
		if err != nil {
			logger.Debug("/api/here: %v", err)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, loc)
	}
}

func handleSuggest(a *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		if q == "" {
			q = strings.TrimSpace(r.URL.Query().Get("query"))
		}
		logger.Debug("/api/suggest received q=%q", q)
		if q == "" || a.suggest == nil {
			writeJSON(w, http.StatusOK, map[string]any{
				"query":       q,
				"suggestions": []lookup.Place{},
			})
			return
		}
		places, err := a.suggest.Suggest(r.Context(), q, queryInt(r, "limit", 5, 20))
		if err != nil && !errors.Is(err, lookup.ErrNotFound) {
			httpError(w, err)
			return
		}
		if places == nil {
			places = []lookup.Place{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"query":       q,
			"suggestions": places,
		})
	}
}

// ---------------- Session points ----------------

type pointRequest struct {
	Name        string   `json:"name"`
	Lat         *float64 `json:"lat"`
	Lon         *float64 `json:"lon"`
	Elevation   *float64 `json:"elevation,omitempty"`
	Description string   `json:"description,omitempty"`
	Notes       string   `json:"notes,omitempty"`
	Remote      bool     `json:"remote,omitempty"`
}

func (req pointRequest) point() (geo.GeoPoint, error) {
	if req.Lat == nil || req.Lon == nil {
		return geo.GeoPoint{}, fmt.Errorf("%w: lat and lon required", geo.ErrInvalidCoordinate)
	}
	p, err := geo.NewPoint(*req.Lat, *req.Lon)
	if err != nil {
		return geo.GeoPoint{}, err
	}
	p.Name = strings.TrimSpace(req.Name)
	p.Description = req.Description
	if req.Elevation != nil {
		p = p.WithElevation(*req.Elevation)
	}
	return p, nil
}

func decodePointRequest(w http.ResponseWriter, r *http.Request) (pointRequest, bool) {
	var req pointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return req, false
	}
	return req, true
}

func handleGetPoints(a *App) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		corsHeaders(w)
		writeJSON(w, http.StatusOK, a.sessionPoints())
	}
}

func handlePostPoint(a *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		corsHeaders(w)
		req, ok := decodePointRequest(w, r)
		if !ok {
			return
		}
		p, err := req.point()
		if err != nil {
			httpError(w, err)
			return
		}
		saved := a.storePoint(p)
		remote := false
		if req.Remote {
			remote = a.recorder.StorePoint(r.Context(), saved)
		}
		logger.Debug("POST /api/points name=%q lat=%.6f lon=%.6f remote=%v", saved.Name, saved.Lat, saved.Lon, remote)
		writeJSON(w, http.StatusCreated, map[string]any{
			"point":  saved,
			"remote": remote,
		})
	}
}

func handleExportPoints(a *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		corsHeaders(w)
		format := codec.Format(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format"))))
		if format == "" {
			format = codec.FormatGeoJSON
		}
		pts, err := a.collect(r.Context(), r.URL.Query().Get("source"))
		if err != nil {
			httpError(w, err)
			return
		}
		data, n, err := codec.Encode(format, pts)
		if err != nil {
			httpError(w, err)
			return
		}
		ctype, ext := "application/geo+json", "geojson"
		if format == codec.FormatGPX {
			ctype, ext = "application/gpx+xml", "gpx"
		}
		w.Header().Set("Content-Type", ctype)
		w.Header().Set("Content-Disposition", `attachment; filename="points.`+ext+`"`)
		w.Header().Set("X-Point-Count", strconv.Itoa(n))
		_, _ = w.Write(data)
	}
}

func handleImportPoints(a *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		corsHeaders(w)
		body, err := io.ReadAll(io.LimitReader(r.Body, maxImportBytes))
		if err != nil {
			http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
			return
		}
		mode, err := codec.ParseGPXMode(r.URL.Query().Get("mode"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var res codec.Result
		switch codec.Format(strings.ToLower(r.URL.Query().Get("format"))) {
		case codec.FormatGPX:
			res, err = codec.DecodeGPX(bytes.NewReader(body), mode)
		case codec.FormatGeoJSON, "":
			res, err = codec.DecodeGeoJSON(bytes.NewReader(body))
		default:
			err = codec.ErrUnknownFormat
		}
		if err != nil {
			httpError(w, err)
			return
		}
		rep := a.importPoints(r.Context(), res, importOptions{
			Favorites: queryBool(r, "favorites"),
			Remote:    queryBool(r, "remote"),
		})
		logger.Info("imported %d point(s), skipped %d", rep.Imported, rep.Skipped)
		writeJSON(w, http.StatusOK, rep)
	}
}

// ---------------- Favorites ----------------

func handleGetFavorites(a *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		corsHeaders(w)
		if name := strings.TrimSpace(r.URL.Query().Get("name")); name != "" {
			fav, err := a.recorder.Local().Favorite(r.Context(), name)
			if err != nil {
				httpError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, fav)
			return
		}
		favs, err := a.recorder.Local().ListFavorites(r.Context())
		if err != nil {
			httpError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, favs)
	}
}

func handlePostFavorite(a *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		corsHeaders(w)
		req, ok := decodePointRequest(w, r)
		if !ok {
			return
		}
		if strings.TrimSpace(req.Name) == "" {
			http.Error(w, "name required", http.StatusBadRequest)
			return
		}
		p, err := req.point()
		if err != nil {
			httpError(w, err)
			return
		}
		fav, err := a.recorder.Local().SaveFavorite(r.Context(), req.Name, p, req.Notes)
		if err != nil {
			httpError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, fav)
	}
}

func handleDeleteFavorite(a *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		corsHeaders(w)
		name := strings.TrimSpace(r.URL.Query().Get("name"))
		if name == "" {
			http.Error(w, "name required", http.StatusBadRequest)
			return
		}
		ok, err := a.recorder.Local().DeleteFavorite(r.Context(), name)
		if err != nil {
			httpError(w, err)
			return
		}
		if !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ---------------- History & statistics ----------------

func handleGetHistory(a *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := a.recorder.Local().RecentSearches(r.Context(), queryInt(r, "limit", defaultHistoryLimit, maxHistoryLimit))
		if err != nil {
			httpError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func handleGetStats(a *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if day := strings.TrimSpace(r.URL.Query().Get("day")); day != "" {
			st, err := a.recorder.Local().StatisticFor(r.Context(), day)
			if err != nil {
				httpError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, st)
			return
		}
		sum, err := a.recorder.Local().Summary(r.Context())
		if err != nil {
			httpError(w, err)
			return
		}
		days, err := a.recorder.Local().Statistics(r.Context(), queryInt(r, "days", defaultStatsDays, 3660))
		if err != nil {
			httpError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"summary": sum,
			"days":    days,
		})
	}
}

// ---------------- Spatial ----------------

func handleGetRadius(a *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		center, err := queryPoint(r, "center")
		if err != nil {
			httpError(w, err)
			return
		}
		meters, err := queryFloat(r, "meters")
		if err != nil {
			httpError(w, err)
			return
		}
		table := strings.TrimSpace(r.URL.Query().Get("table"))
		if table == "" {
			table = storage.TableSearchLocations
		}
		res, err := a.recorder.FindWithinRadius(r.Context(), table, center, meters)
		if err != nil {
			httpError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleGetDistance(w http.ResponseWriter, r *http.Request) {
	from, err := geo.ParseLatLon(r.URL.Query().Get("from"))
	if err != nil {
		httpError(w, err)
		return
	}
	to, err := geo.ParseLatLon(r.URL.Query().Get("to"))
	if err != nil {
		httpError(w, err)
		return
	}
	m, err := measure(from, to)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func handleGetUTM(w http.ResponseWriter, r *http.Request) {
	p, err := queryPoint(r, "coords")
	if err != nil {
		httpError(w, err)
		return
	}
	u, err := geo.ToUTM(geo.TransverseMercator{}, p.Lat, p.Lon)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func handleGetBuffer(w http.ResponseWriter, r *http.Request) {
	p, err := queryPoint(r, "coords")
	if err != nil {
		httpError(w, err)
		return
	}
	radius, err := queryFloat(r, "radius")
	if err != nil {
		httpError(w, err)
		return
	}
	b, err := geo.CircularBuffer(geo.PlanarEngine{}, p, radius)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"available": b.Available,
		"radius":    radius,
		"geometry":  b,
	})
}

// ---------------- Version ----------------

// versionReport describes the binary and the stores it runs against.
type versionReport struct {
	Version  string     `json:"version"`
	Commit   string     `json:"commit,omitempty"`
	Modified bool       `json:"modified,omitempty"`
	Go       string     `json:"go"`
	Stores   storeState `json:"stores"`
}

type storeState struct {
	Local   string `json:"local"`
	Remote  bool   `json:"remote"`
	Premium bool   `json:"premium_geocoder"`
}

func (a *App) version() versionReport {
	v := versionReport{
		Version: "devel",
		Go:      runtime.Version(),
		Stores: storeState{
			Local:   a.recorder.Local().Path(),
			Remote:  a.recorder.Remote().Supported(),
			Premium: a.resolver.Premium != nil,
		},
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return v
	}
	if bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		v.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			v.Commit = s.Value
			if len(v.Commit) > 12 {
				v.Commit = v.Commit[:12]
			}
		case "vcs.modified":
			v.Modified = s.Value == "true"
		}
	}
	return v
}

func handleVersion(a *App) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		corsHeaders(w)
		writeJSON(w, http.StatusOK, a.version())
	}
}
