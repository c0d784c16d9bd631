package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/rubiojr/geolocator/pkg/config"
	"github.com/rubiojr/geolocator/pkg/geo"
	"github.com/rubiojr/geolocator/pkg/logger"
)

// Remote tables.
const (
	TableSearchLocations = "search_locations"
	TablePoints          = "points"
)

var (
	// ErrRemoteUnavailable is returned by the Unavailable store.
	ErrRemoteUnavailable = errors.New("remote store unavailable")
	// ErrInvalidTable is returned for table names that are not plain identifiers.
	ErrInvalidTable = errors.New("invalid table name")
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// RemoteRecord is a row of a remote spatial table.
type RemoteRecord struct {
	Name        string
	Description string
	Kind        string
	Lat         float64
	Lon         float64
	CreatedAt   time.Time
}

// RadiusMatch is a row returned by a radius query, with its distance in
// meters from the query center.
type RadiusMatch struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	Distance    float64 `json:"distance_m"`
}

// RemoteSpatialStore is an optional spatial database. Implementations with
// Supported() == false must make every other method a cheap no-op.
type RemoteSpatialStore interface {
	Supported() bool
	InsertLocation(ctx context.Context, table string, rec RemoteRecord) error
	WithinRadius(ctx context.Context, table string, center geo.GeoPoint, meters float64) ([]RadiusMatch, error)
	EnsureSchema(ctx context.Context) error
	Close() error
}

// Unavailable is the remote store used when none is configured or reachable.
type Unavailable struct{}

// Supported is always false.
func (Unavailable) Supported() bool { return false }

// InsertLocation returns ErrRemoteUnavailable.
func (Unavailable) InsertLocation(context.Context, string, RemoteRecord) error {
	return ErrRemoteUnavailable
}

// WithinRadius returns ErrRemoteUnavailable.
func (Unavailable) WithinRadius(context.Context, string, geo.GeoPoint, float64) ([]RadiusMatch, error) {
	return nil, ErrRemoteUnavailable
}

// EnsureSchema returns ErrRemoteUnavailable.
func (Unavailable) EnsureSchema(context.Context) error { return ErrRemoteUnavailable }

// Close is a no-op.
func (Unavailable) Close() error { return nil }

// PostGIS is a RemoteSpatialStore on PostgreSQL with the PostGIS extension.
type PostGIS struct {
	db *gorm.DB
}

// OpenRemote connects to PostGIS. Incomplete configuration or a failed
// connection yields Unavailable; the failure is logged, never returned.
func OpenRemote(ctx context.Context, cfg config.Remote) RemoteSpatialStore {
	if !cfg.Configured() {
		logger.Debug("remote store not configured")
		return Unavailable{}
	}
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		logger.Error("remote store %s/%s unreachable: %v", cfg.Host, cfg.Database, err)
		return Unavailable{}
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Error("remote store: %v", err)
		return Unavailable{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := sqlDB.PingContext(pctx); err != nil {
		logger.Error("remote store %s/%s ping failed: %v", cfg.Host, cfg.Database, err)
		_ = sqlDB.Close()
		return Unavailable{}
	}
	sqlDB.SetMaxOpenConns(4)
	logger.Info("remote store connected: %s/%s", cfg.Host, cfg.Database)
	return &PostGIS{db: db}
}

// Supported reports true once connected.
func (p *PostGIS) Supported() bool { return true }

// EnsureSchema creates the extension, tables and spatial indices. It needs
// privileges the insert path never assumes, so it only runs on demand.
func (p *PostGIS) EnsureSchema(ctx context.Context) error {
	stmts := []string{`CREATE EXTENSION IF NOT EXISTS postgis`}
	for _, table := range []string{TableSearchLocations, TablePoints} {
		stmts = append(stmts,
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				id BIGSERIAL PRIMARY KEY,
				name TEXT NOT NULL DEFAULT '',
				description TEXT NOT NULL DEFAULT '',
				kind TEXT NOT NULL DEFAULT '',
				lat DOUBLE PRECISION NOT NULL,
				lon DOUBLE PRECISION NOT NULL,
				geom geometry(Point,4326) NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`, table),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_geom ON %s USING GIST (geom)`, table, table),
		)
	}
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, s := range stmts {
			if err := tx.Exec(s).Error; err != nil {
				return fmt.Errorf("ensure schema: %w", err)
			}
		}
		return nil
	})
}

// InsertLocation writes rec into table.
func (p *PostGIS) InsertLocation(ctx context.Context, table string, rec RemoteRecord) error {
	if err := checkTable(table); err != nil {
		return err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	return p.db.WithContext(ctx).Exec(
		fmt.Sprintf(`INSERT INTO %s (name, description, kind, lat, lon, geom, created_at)
		 VALUES (?, ?, ?, ?, ?, ST_SetSRID(ST_MakePoint(?, ?), 4326), ?)`, table),
		rec.Name, rec.Description, rec.Kind, rec.Lat, rec.Lon, rec.Lon, rec.Lat, rec.CreatedAt.UTC(),
	).Error
}

// WithinRadius returns the rows of table within meters of center, nearest first.
func (p *PostGIS) WithinRadius(ctx context.Context, table string, center geo.GeoPoint, meters float64) ([]RadiusMatch, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	var out []RadiusMatch
	err := p.db.WithContext(ctx).Raw(
		fmt.Sprintf(`SELECT name, description,
		        ST_Y(geom) AS lat, ST_X(geom) AS lon,
		        ST_Distance(geom::geography, ST_SetSRID(ST_MakePoint(?, ?), 4326)::geography) AS distance
		 FROM %s
		 WHERE ST_DWithin(geom::geography, ST_SetSRID(ST_MakePoint(?, ?), 4326)::geography, ?)
		 ORDER BY distance`, table),
		center.Lon, center.Lat, center.Lon, center.Lat, meters,
	).Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close closes the underlying connection pool.
func (p *PostGIS) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func checkTable(table string) error {
	if !identRe.MatchString(table) {
		return fmt.Errorf("%w: %q", ErrInvalidTable, table)
	}
	return nil
}
