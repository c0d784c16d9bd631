// Package config resolves the geolocator configuration: built-in defaults,
// an optional YAML file, a .env file and GEOLOCATOR_* / POSTGIS_*
// environment variables, in that order of precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gookit/validate"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultNominatimServer = "https://nominatim.openstreetmap.org"
	DefaultUserAgent       = "geolocator/1.0"
	DefaultDBName          = "geolocator.sqlite"

	defaultHTTPTimeout   = 8 * time.Second
	defaultRemoteTimeout = 3 * time.Second
	defaultQueueSize     = 64
	defaultCacheSizeMB   = 8
	defaultPostgresPort  = 5432
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Remote holds the PostGIS connection settings. An empty host, database or
// user means no remote store.
type Remote struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port" validate:"required|uint|min:1|max:65535"`
	Database string        `yaml:"database"`
	User     string        `yaml:"user"`
	Password string        `yaml:"password"`
	SSLMode  string        `yaml:"sslmode" validate:"required|in:disable,allow,prefer,require,verify-ca,verify-full"`
	Timeout  time.Duration `yaml:"connect_timeout" validate:"required|min:1"`
}

// Configured reports whether enough is set to attempt a connection.
func (r Remote) Configured() bool {
	return strings.TrimSpace(r.Host) != "" &&
		strings.TrimSpace(r.Database) != "" &&
		strings.TrimSpace(r.User) != ""
}

// DSN returns a libpq keyword/value connection string.
func (r Remote) DSN() string {
	secs := int(r.Timeout / time.Second)
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		quoteDSN(r.Host), r.Port, quoteDSN(r.User), quoteDSN(r.Password),
		quoteDSN(r.Database), quoteDSN(r.SSLMode), secs)
}

func quoteDSN(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// Config is passed explicitly to every component at construction.
type Config struct {
	DataDir         string        `yaml:"data_dir" validate:"required"`
	CacheDir        string        `yaml:"cache_dir"`
	DBPath          string        `yaml:"db_path"`
	Remote          Remote        `yaml:"remote"`
	GoogleAPIKey    string        `yaml:"google_api_key"`
	NominatimServer string        `yaml:"nominatim_server" validate:"required|fullUrl"`
	UserAgent       string        `yaml:"user_agent" validate:"required"`
	HTTPTimeout     time.Duration `yaml:"http_timeout" validate:"required|min:1"`
	RemoteTimeout   time.Duration `yaml:"remote_timeout" validate:"required|min:1"`
	QueueSize       int           `yaml:"queue_size" validate:"required|min:1|max:100000"`
	CacheSizeMB     int           `yaml:"cache_size_mb" validate:"required|min:1|max:4096"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DataDir:  DefaultDataDir(),
		CacheDir: DefaultCacheDir(),
		Remote: Remote{
			Port:    defaultPostgresPort,
			SSLMode: "disable",
			Timeout: 5 * time.Second,
		},
		NominatimServer: DefaultNominatimServer,
		UserAgent:       DefaultUserAgent,
		HTTPTimeout:     defaultHTTPTimeout,
		RemoteTimeout:   defaultRemoteTimeout,
		QueueSize:       defaultQueueSize,
		CacheSizeMB:     defaultCacheSizeMB,
	}
}

// Load builds the configuration. An empty path means the default config
// file, which may be absent; an explicit path must exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = DefaultConfigPath()
	}
	if explicit || fileExists(path) {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	cfg.fillDerived()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) readFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %q: %w", path, err)
	}
	if len(bytes.TrimSpace(content)) == 0 {
		return nil
	}
	decoder := yaml.NewDecoder(bytes.NewReader(content))
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil {
		return fmt.Errorf("parse config file %q: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) error {
		v, ok := os.LookupEnv(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a number", ErrInvalid, key, v)
		}
		*dst = n
		return nil
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := os.LookupEnv(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a duration", ErrInvalid, key, v)
		}
		*dst = d
		return nil
	}

	str("GEOLOCATOR_DATA_DIR", &c.DataDir)
	str("GEOLOCATOR_CACHE_DIR", &c.CacheDir)
	str("GEOLOCATOR_DB", &c.DBPath)
	str("GEOLOCATOR_GOOGLE_API_KEY", &c.GoogleAPIKey)
	str("GEOLOCATOR_NOMINATIM_SERVER", &c.NominatimServer)
	str("GEOLOCATOR_USER_AGENT", &c.UserAgent)
	str("POSTGIS_HOST", &c.Remote.Host)
	str("POSTGIS_DB", &c.Remote.Database)
	str("POSTGIS_USER", &c.Remote.User)
	str("POSTGIS_PASSWORD", &c.Remote.Password)
	str("POSTGIS_SSLMODE", &c.Remote.SSLMode)

	for _, e := range []error{
		num("POSTGIS_PORT", &c.Remote.Port),
		num("GEOLOCATOR_QUEUE_SIZE", &c.QueueSize),
		num("GEOLOCATOR_CACHE_MB", &c.CacheSizeMB),
		dur("GEOLOCATOR_HTTP_TIMEOUT", &c.HTTPTimeout),
		dur("GEOLOCATOR_REMOTE_TIMEOUT", &c.RemoteTimeout),
		dur("POSTGIS_CONNECT_TIMEOUT", &c.Remote.Timeout),
	} {
		if e != nil {
			return e
		}
	}
	return nil
}

// fillDerived resolves paths that default relative to other settings.
func (c *Config) fillDerived() {
	if c.DBPath == "" && c.DataDir != "" {
		c.DBPath = filepath.Join(c.DataDir, DefaultDBName)
	}
	if c.CacheDir == "" {
		c.CacheDir = c.DataDir
	}
}

// SetDataDir moves the data directory. A database path that was derived
// from the old directory follows it.
func (c *Config) SetDataDir(dir string) {
	if c.DBPath == filepath.Join(c.DataDir, DefaultDBName) {
		c.DBPath = ""
	}
	c.DataDir = dir
	c.fillDerived()
}

// Validate checks the configuration and its remote section.
func (c *Config) Validate() error {
	v := validate.Struct(c)
	if !v.Validate() {
		return fmt.Errorf("%w: %s", ErrInvalid, v.Errors.One())
	}
	rv := validate.Struct(&c.Remote)
	if !rv.Validate() {
		return fmt.Errorf("%w: remote: %s", ErrInvalid, rv.Errors.One())
	}
	return nil
}
