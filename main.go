package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"

	"github.com/rubiojr/geolocator/pkg/config"
	"github.com/rubiojr/geolocator/pkg/logger"
)

// RemoteOptions override the PostGIS settings of the config file.
type RemoteOptions struct {
	Host     string `long:"host" description:"PostGIS host"`
	Port     int    `long:"port" description:"PostGIS port"`
	Database string `long:"database" description:"PostGIS database"`
	User     string `long:"user" description:"PostGIS user"`
	Password string `long:"password" description:"PostGIS password"`
	SSLMode  string `long:"sslmode" description:"PostGIS sslmode"`
}

// Options are the global flags. Every subcommand sees them.
type Options struct {
	Debug     bool   `short:"d" long:"debug"     env:"GEOLOCATOR_DEBUG"  description:"Enable debug logging"`
	Config    string `short:"c" long:"config"    env:"GEOLOCATOR_CONFIG" description:"Path to the YAML configuration file"`
	DataDir   string `long:"data-dir"  description:"Custom data directory (overrides XDG_DATA_HOME)"`
	CacheDir  string `long:"cache-dir" description:"Custom cache directory (overrides XDG_CACHE_HOME)"`
	DB        string `long:"db"        description:"Path to the local SQLite store"`
	Nominatim string `long:"nominatim" description:"Nominatim server URL"`
	GoogleKey string `long:"google-api-key" description:"Google geocoding API key"`

	Remote RemoteOptions `group:"Remote store options" namespace:"remote"`

	Locate     locateCommand     `command:"locate" description:"Locate an address, coordinates or an IP address"`
	Here       hereCommand       `command:"here" description:"Locate this device (GeoClue, then IP)"`
	Distance   distanceCommand   `command:"distance" description:"Great-circle distance and bearing between two points"`
	UTM        utmCommand        `command:"utm" description:"Project a point into its UTM zone"`
	Buffer     bufferCommand     `command:"buffer" description:"Circular buffer polygon around a point as GeoJSON"`
	Favorite   favoriteCommand   `command:"favorite" alias:"fav" description:"Manage favorite places"`
	Stats      statsCommand      `command:"stats" description:"Search statistics"`
	History    historyCommand    `command:"history" description:"Recent searches"`
	Export     exportCommand     `command:"export" description:"Export favorites or history to GeoJSON or GPX"`
	Import     importCommand     `command:"import" description:"Import points from a GeoJSON or GPX file"`
	Batch      batchCommand      `command:"batch" description:"Geocode the address column of a CSV file"`
	Radius     radiusCommand     `command:"radius" description:"Remote records within a radius of a point"`
	InitRemote initRemoteCommand `command:"init-remote" description:"Create the PostGIS extension, tables and indices"`
	Serve      serveCommand      `command:"serve" description:"Serve the JSON API"`
}

var (
	opts Options
	// appCtx is cancelled on SIGINT/SIGTERM.
	appCtx = context.Background()
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	appCtx = ctx

	parser := flags.NewParser(&opts, flags.Default)
	parser.CommandHandler = func(cmd flags.Commander, args []string) error {
		logger.SetDebug(opts.Debug)
		if cmd == nil {
			return nil
		}
		return cmd.Execute(args)
	}
	if _, err := parser.Parse(); err != nil {
		// flags.Default prints the error, command failures included.
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		stop()
		os.Exit(1)
	}
}

// loadConfig reads the config file and environment, then applies the
// global flags on top.
func loadConfig(o *Options) (*config.Config, error) {
	cfg, err := config.Load(o.Config)
	if err != nil {
		return nil, err
	}
	if o.DataDir != "" {
		cfg.SetDataDir(o.DataDir)
	}
	if o.CacheDir != "" {
		cfg.CacheDir = o.CacheDir
	}
	if o.DB != "" {
		cfg.DBPath = o.DB
	}
	if o.Nominatim != "" {
		cfg.NominatimServer = o.Nominatim
	}
	if o.GoogleKey != "" {
		cfg.GoogleAPIKey = o.GoogleKey
	}
	r := o.Remote
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Remote.Host, r.Host)
	set(&cfg.Remote.Database, r.Database)
	set(&cfg.Remote.User, r.User)
	set(&cfg.Remote.Password, r.Password)
	set(&cfg.Remote.SSLMode, r.SSLMode)
	if r.Port != 0 {
		cfg.Remote.Port = r.Port
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withApp runs fn against a fully wired App and closes it afterwards.
func withApp(fn func(ctx context.Context, a *App) error) error {
	cfg, err := loadConfig(&opts)
	if err != nil {
		return err
	}
	a, err := newApp(appCtx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("close: %v", err)
		}
	}()
	return fn(appCtx, a)
}
