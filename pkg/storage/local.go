package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rubiojr/geolocator/pkg/geo"
	"github.com/rubiojr/geolocator/pkg/logger"
)

// DefaultDBFile is the local database file name inside the data directory.
const DefaultDBFile = "geolocator.sqlite"

const busyTimeoutMS = 5000

// stampLayout is fixed-width so TEXT ordering matches time ordering.
const stampLayout = "2006-01-02T15:04:05.000000000Z07:00"

var localSchema = []string{
	`CREATE TABLE IF NOT EXISTS locations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		lat REAL NOT NULL,
		lon REAL NOT NULL,
		elevation REAL,
		searched_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS favorites (
		name TEXT PRIMARY KEY,
		lat REAL NOT NULL,
		lon REAL NOT NULL,
		elevation REAL,
		description TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS statistics (
		day TEXT PRIMARY KEY,
		searches INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_locations_searched_at ON locations(searched_at)`,
	`CREATE INDEX IF NOT EXISTS idx_locations_kind ON locations(kind)`,
}

// Local is the embedded SQLite store. Writers are serialised by SQLite
// itself: the pool holds a single connection and waits on a busy timeout.
type Local struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// OpenLocal opens (creating if needed) the database at path and applies the
// schema. It is idempotent and meant to run on every startup.
func OpenLocal(path string) (*Local, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
		}
	}
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)", path, busyTimeoutMS)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range localSchema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("local schema: %w", err)
		}
	}
	logger.Debug("local store ready at %s", path)
	return &Local{db: db, path: path, now: time.Now}, nil
}

// Path returns the database file path.
func (l *Local) Path() string { return l.path }

// Close closes the database.
func (l *Local) Close() error {
	return l.db.Close()
}

// RecordSearch appends e to the search log and increments the statistic for
// the entry's day, atomically. A zero SearchedAt becomes now.
func (l *Local) RecordSearch(ctx context.Context, e SearchEntry) (SearchEntry, error) {
	if !e.Kind.Valid() {
		return e, fmt.Errorf("%w: kind %q", ErrInvalidEntry, e.Kind)
	}
	if err := e.Point().Validate(); err != nil {
		return e, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	if e.SearchedAt.IsZero() {
		e.SearchedAt = l.now()
	}
	e.SearchedAt = e.SearchedAt.UTC()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return e, fmt.Errorf("%w: begin: %w", ErrLocalWrite, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO locations(name, kind, lat, lon, elevation, searched_at) VALUES(?,?,?,?,?,?)`,
		e.Name, string(e.Kind), e.Lat, e.Lon, nullFloat(e.Elevation), e.SearchedAt.Format(stampLayout))
	if err != nil {
		return e, fmt.Errorf("%w: insert search: %w", ErrLocalWrite, err)
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO statistics(day, searches) VALUES(?, 1)
		 ON CONFLICT(day) DO UPDATE SET searches = searches + 1`,
		e.SearchedAt.Format(DayLayout)); err != nil {
		return e, fmt.Errorf("%w: increment statistic: %w", ErrLocalWrite, err)
	}
	if err := tx.Commit(); err != nil {
		return e, fmt.Errorf("%w: commit: %w", ErrLocalWrite, err)
	}
	return e, nil
}

// RecentSearches returns up to limit log entries, newest first.
func (l *Local) RecentSearches(ctx context.Context, limit int) ([]SearchEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, name, kind, lat, lon, elevation, searched_at FROM locations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []SearchEntry{}
	for rows.Next() {
		var (
			e    SearchEntry
			kind string
			ele  sql.NullFloat64
			at   string
		)
		if err := rows.Scan(&e.ID, &e.Name, &kind, &e.Lat, &e.Lon, &ele, &at); err != nil {
			return nil, err
		}
		e.Kind = Kind(kind)
		e.Elevation = floatPtr(ele)
		e.SearchedAt = parseStamp(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// SaveFavorite inserts or replaces the favorite called name.
func (l *Local) SaveFavorite(ctx context.Context, name string, p geo.GeoPoint, notes string) (Favorite, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Favorite{}, fmt.Errorf("%w: favorite name required", ErrInvalidEntry)
	}
	if err := p.Validate(); err != nil {
		return Favorite{}, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	fav := Favorite{GeoPoint: p.WithName(name), Notes: notes, UpdatedAt: l.now().UTC()}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO favorites(name, lat, lon, elevation, description, notes, updated_at)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(name) DO UPDATE SET
		   lat = excluded.lat,
		   lon = excluded.lon,
		   elevation = excluded.elevation,
		   description = excluded.description,
		   notes = excluded.notes,
		   updated_at = excluded.updated_at`,
		fav.Name, fav.Lat, fav.Lon, nullFloat(fav.Elevation), fav.Description, fav.Notes,
		fav.UpdatedAt.Format(stampLayout))
	if err != nil {
		return Favorite{}, fmt.Errorf("save favorite: %w", err)
	}
	return fav, nil
}

// DeleteFavorite removes the favorite called name and reports whether it existed.
func (l *Local) DeleteFavorite(ctx context.Context, name string) (bool, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM favorites WHERE name = ?`, strings.TrimSpace(name))
	if err != nil {
		return false, fmt.Errorf("delete favorite: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Favorite returns the favorite called name or ErrNotFound.
func (l *Local) Favorite(ctx context.Context, name string) (Favorite, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT name, lat, lon, elevation, description, notes, updated_at FROM favorites WHERE name = ?`,
		strings.TrimSpace(name))
	fav, err := scanFavorite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Favorite{}, fmt.Errorf("favorite %q: %w", name, ErrNotFound)
	}
	return fav, err
}

// ListFavorites returns every favorite ordered by name.
func (l *Local) ListFavorites(ctx context.Context) ([]Favorite, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT name, lat, lon, elevation, description, notes, updated_at FROM favorites ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Favorite{}
	for rows.Next() {
		fav, err := scanFavorite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, fav)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFavorite(s scanner) (Favorite, error) {
	var (
		fav Favorite
		ele sql.NullFloat64
		at  string
	)
	if err := s.Scan(&fav.Name, &fav.Lat, &fav.Lon, &ele, &fav.Description, &fav.Notes, &at); err != nil {
		return Favorite{}, err
	}
	fav.Elevation = floatPtr(ele)
	fav.UpdatedAt = parseStamp(at)
	return fav, nil
}

// Statistics returns the last days daily buckets that have searches,
// newest first. days <= 0 returns every bucket.
func (l *Local) Statistics(ctx context.Context, days int) ([]DailyStat, error) {
	q := `SELECT day, searches FROM statistics ORDER BY day DESC`
	args := []any{}
	if days > 0 {
		q += ` LIMIT ?`
		args = append(args, days)
	}
	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []DailyStat{}
	for rows.Next() {
		var s DailyStat
		if err := rows.Scan(&s.Day, &s.Searches); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// StatisticFor returns the bucket for day (YYYY-MM-DD). Days without
// searches have a zero count.
func (l *Local) StatisticFor(ctx context.Context, day string) (DailyStat, error) {
	if _, err := time.Parse(DayLayout, day); err != nil {
		return DailyStat{}, fmt.Errorf("%w: day %q", ErrInvalidEntry, day)
	}
	s := DailyStat{Day: day}
	err := l.db.QueryRowContext(ctx, `SELECT searches FROM statistics WHERE day = ?`, day).Scan(&s.Searches)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return DailyStat{}, err
	}
	return s, nil
}

// Today returns today's bucket (UTC).
func (l *Local) Today(ctx context.Context) (DailyStat, error) {
	return l.StatisticFor(ctx, l.now().UTC().Format(DayLayout))
}

// Summary aggregates the whole store.
func (l *Local) Summary(ctx context.Context) (Summary, error) {
	s := Summary{ByKind: map[Kind]int64{}}

	var first, last sql.NullString
	if err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(searched_at), MAX(searched_at) FROM locations`).Scan(&s.TotalSearches, &first, &last); err != nil {
		return s, err
	}
	if first.Valid {
		t := parseStamp(first.String)
		s.FirstSearch = &t
	}
	if last.Valid {
		t := parseStamp(last.String)
		s.LastSearch = &t
	}
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM favorites`).Scan(&s.Favorites); err != nil {
		return s, err
	}
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM statistics`).Scan(&s.Days); err != nil {
		return s, err
	}

	rows, err := l.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM locations GROUP BY kind`)
	if err != nil {
		return s, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			kind string
			n    int64
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return s, err
		}
		s.ByKind[Kind(kind)] = n
	}
	return s, rows.Err()
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func parseStamp(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		logger.Debug("local store: bad timestamp %q: %v", s, err)
		return time.Time{}
	}
	return t
}
