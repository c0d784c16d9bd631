package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	json "github.com/goccy/go-json"

	"github.com/rubiojr/geolocator/pkg/batch"
	"github.com/rubiojr/geolocator/pkg/codec"
	"github.com/rubiojr/geolocator/pkg/geo"
	"github.com/rubiojr/geolocator/pkg/logger"
	"github.com/rubiojr/geolocator/pkg/lookup"
	"github.com/rubiojr/geolocator/pkg/storage"
)

// stdout is where commands print their results.
var stdout io.Writer = os.Stdout

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, string(b))
	return err
}

func printFields(fields []codec.Field) error {
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	for _, f := range fields {
		if f.Value == "" {
			continue
		}
		fmt.Fprintf(tw, "%s:\t%s\n", f.Name, f.Value)
	}
	return tw.Flush()
}

func writeResultCSV(path string, fields []codec.Field) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := codec.WriteResultCSV(f, fields); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// showLocation prints loc and optionally saves it as a result CSV.
func showLocation(loc *lookup.Location, asJSON bool, csvPath string) error {
	fields := loc.Fields()
	if csvPath != "" {
		if err := writeResultCSV(csvPath, fields); err != nil {
			return fmt.Errorf("write %s: %w", csvPath, err)
		}
		logger.Info("result written to %s", csvPath)
	}
	if asJSON {
		return printJSON(loc)
	}
	return printFields(fields)
}

type outputOptions struct {
	JSON bool `long:"json" description:"Print JSON"`
}

// ---------------- Lookups ----------------

type locateCommand struct {
	Address string `short:"a" long:"address" description:"Street address or place name"`
	Coords  string `short:"p" long:"coords" description:"Coordinates as lat,lon"`
	IP      string `short:"i" long:"ip" description:"IPv4 or IPv6 address"`
	CSV     string `long:"csv" description:"Also write the result to this CSV file"`
	outputOptions
}

func (c *locateCommand) Execute([]string) error {
	q := locateQuery{Address: c.Address, Coords: c.Coords, IP: c.IP}
	if err := q.validate(); err != nil {
		return err
	}
	return withApp(func(ctx context.Context, a *App) error {
		loc, err := a.locate(ctx, q)
		if loc == nil {
			return err
		}
		// The lookup worked even if recording it did not.
		if showErr := showLocation(loc, c.JSON, c.CSV); showErr != nil {
			return showErr
		}
		return err
	})
}

type hereCommand struct {
	CSV string `long:"csv" description:"Also write the result to this CSV file"`
	outputOptions
}

func (c *hereCommand) Execute([]string) error {
	return withApp(func(ctx context.Context, a *App) error {
		loc, err := a.here(ctx)
		if loc == nil {
			return err
		}
		// The lookup worked even if recording it did not.
		if showErr := showLocation(loc, c.JSON, c.CSV); showErr != nil {
			return showErr
		}
		return err
	})
}

// ---------------- Coordinate math ----------------

type distanceCommand struct {
	outputOptions
	Args struct {
		From string `positional-arg-name:"FROM" description:"lat,lon"`
		To   string `positional-arg-name:"TO" description:"lat,lon"`
	} `positional-args:"yes" required:"yes"`
}

func (c *distanceCommand) Execute([]string) error {
	from, err := geo.ParseLatLon(c.Args.From)
	if err != nil {
		return err
	}
	to, err := geo.ParseLatLon(c.Args.To)
	if err != nil {
		return err
	}
	m, err := measure(from, to)
	if err != nil {
		return err
	}
	if c.JSON {
		return printJSON(m)
	}
	fmt.Fprintf(stdout, "%.1f m (%.3f km), bearing %.1f° %s\n", m.Meters, m.Kilometers, m.Bearing, m.Compass)
	return nil
}

type pointArg struct {
	Point string `positional-arg-name:"LAT,LON"`
}

type utmCommand struct {
	outputOptions
	Args pointArg `positional-args:"yes" required:"yes"`
}

func (c *utmCommand) Execute([]string) error {
	p, err := geo.ParseLatLon(c.Args.Point)
	if err != nil {
		return err
	}
	u, err := geo.ToUTM(geo.TransverseMercator{}, p.Lat, p.Lon)
	if err != nil {
		return err
	}
	if c.JSON {
		return printJSON(u)
	}
	if !u.Available {
		fmt.Fprintln(stdout, "UTM: N/A")
		return nil
	}
	fmt.Fprintf(stdout, "%s (EPSG:%d)\nEasting:  %.2f\nNorthing: %.2f\n", u.Label, u.EPSG, u.Easting, u.Northing)
	return nil
}

type bufferCommand struct {
	Radius float64  `short:"r" long:"radius" description:"Radius in meters" default:"1000"`
	Out    string   `short:"o" long:"out" description:"Write the polygon to this file instead of stdout"`
	Args   pointArg `positional-args:"yes" required:"yes"`
}

func (c *bufferCommand) Execute([]string) error {
	p, err := geo.ParseLatLon(c.Args.Point)
	if err != nil {
		return err
	}
	b, err := geo.CircularBuffer(geo.PlanarEngine{}, p, c.Radius)
	if err != nil {
		return err
	}
	if !b.Available {
		return errors.New("no geometry engine available")
	}
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	if c.Out == "" {
		_, err = fmt.Fprintln(stdout, string(data))
		return err
	}
	if err := os.WriteFile(c.Out, append(data, '\n'), 0o644); err != nil {
		return err
	}
	logger.Info("buffer of %.0f m written to %s", c.Radius, c.Out)
	return nil
}

// ---------------- Favorites ----------------

type favoriteCommand struct {
	Add favoriteAddCommand `command:"add" description:"Add or replace a favorite"`
	Rm  favoriteRmCommand  `command:"rm" alias:"delete" description:"Remove a favorite"`
	Ls  favoriteLsCommand  `command:"ls" alias:"list" description:"List favorites"`
}

type favoriteAddCommand struct {
	Notes       string `short:"n" long:"notes" description:"Free-form notes"`
	Description string `long:"description" description:"Point description"`
	Args        struct {
		Name  string `positional-arg-name:"NAME"`
		Point string `positional-arg-name:"LAT,LON"`
	} `positional-args:"yes" required:"yes"`
}

func (c *favoriteAddCommand) Execute([]string) error {
	p, err := geo.ParseLatLon(c.Args.Point)
	if err != nil {
		return err
	}
	return withApp(func(ctx context.Context, a *App) error {
		fav, err := a.recorder.Local().SaveFavorite(ctx, c.Args.Name, p.WithDescription(c.Description), c.Notes)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "saved %q at %s\n", fav.Name, fav.GeoPoint)
		return nil
	})
}

type favoriteRmCommand struct {
	Args struct {
		Name string `positional-arg-name:"NAME"`
	} `positional-args:"yes" required:"yes"`
}

func (c *favoriteRmCommand) Execute([]string) error {
	return withApp(func(ctx context.Context, a *App) error {
		ok, err := a.recorder.Local().DeleteFavorite(ctx, c.Args.Name)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("favorite %q: %w", c.Args.Name, storage.ErrNotFound)
		}
		fmt.Fprintf(stdout, "removed %q\n", c.Args.Name)
		return nil
	})
}

type favoriteLsCommand struct {
	outputOptions
}

func (c *favoriteLsCommand) Execute([]string) error {
	return withApp(func(ctx context.Context, a *App) error {
		favs, err := a.recorder.Local().ListFavorites(ctx)
		if err != nil {
			return err
		}
		if c.JSON {
			return printJSON(favs)
		}
		tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tLAT\tLON\tNOTES")
		for _, f := range favs {
			fmt.Fprintf(tw, "%s\t%.6f\t%.6f\t%s\n", f.Name, f.Lat, f.Lon, f.Notes)
		}
		return tw.Flush()
	})
}

// ---------------- History & statistics ----------------

type statsCommand struct {
	Days int `long:"days" description:"Number of days to list" default:"7"`
	outputOptions
}

func (c *statsCommand) Execute([]string) error {
	return withApp(func(ctx context.Context, a *App) error {
		sum, err := a.recorder.Local().Summary(ctx)
		if err != nil {
			return err
		}
		days, err := a.recorder.Local().Statistics(ctx, c.Days)
		if err != nil {
			return err
		}
		if c.JSON {
			return printJSON(map[string]any{"summary": sum, "days": days})
		}
		tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(tw, "Total searches:\t%d\n", sum.TotalSearches)
		fmt.Fprintf(tw, "Favorites:\t%d\n", sum.Favorites)
		for _, k := range []storage.Kind{storage.KindAddress, storage.KindCoords, storage.KindIP} {
			fmt.Fprintf(tw, "  %s:\t%d\n", k, sum.ByKind[k])
		}
		if sum.LastSearch != nil {
			fmt.Fprintf(tw, "Last search:\t%s\n", sum.LastSearch.Local().Format(time.DateTime))
		}
		for _, d := range days {
			fmt.Fprintf(tw, "%s\t%d\n", d.Day, d.Searches)
		}
		return tw.Flush()
	})
}

type historyCommand struct {
	Limit int `short:"n" long:"limit" description:"Number of entries" default:"20"`
	outputOptions
}

func (c *historyCommand) Execute([]string) error {
	return withApp(func(ctx context.Context, a *App) error {
		entries, err := a.recorder.Local().RecentSearches(ctx, c.Limit)
		if err != nil {
			return err
		}
		if c.JSON {
			return printJSON(entries)
		}
		tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%s\t%.6f,%.6f\t%s\n",
				e.SearchedAt.Local().Format(time.DateTime), e.Kind, e.Lat, e.Lon, e.Name)
		}
		return tw.Flush()
	})
}

// ---------------- Files ----------------

type exportCommand struct {
	Source string `short:"s" long:"source" description:"Points to export" choice:"favorites" choice:"history" default:"favorites"`
	Out    string `short:"o" long:"out" description:"Output file (.geojson, .json or .gpx)" required:"yes"`
}

func (c *exportCommand) Execute([]string) error {
	if _, err := codec.FormatFromPath(c.Out); err != nil {
		return err
	}
	return withApp(func(ctx context.Context, a *App) error {
		pts, err := a.collect(ctx, c.Source)
		if err != nil {
			return err
		}
		n, err := codec.ExportFile(c.Out, pts)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "exported %d point(s) to %s\n", n, c.Out)
		return nil
	})
}

type importCommand struct {
	Mode      string `short:"m" long:"mode" description:"GPX elements to read" choice:"all" choice:"waypoints" choice:"tracks" default:"all"`
	Favorites bool   `short:"f" long:"favorites" description:"Save every point as a favorite"`
	Remote    bool   `short:"r" long:"remote" description:"Insert every point into the remote points table"`
	Args      struct {
		File string `positional-arg-name:"FILE"`
	} `positional-args:"yes" required:"yes"`
}

func (c *importCommand) Execute([]string) error {
	mode, err := codec.ParseGPXMode(c.Mode)
	if err != nil {
		return err
	}
	res, err := codec.ImportFile(c.Args.File, mode)
	if err != nil {
		return err
	}
	return withApp(func(ctx context.Context, a *App) error {
		rep := a.importPoints(ctx, res, importOptions{Favorites: c.Favorites, Remote: c.Remote})
		fmt.Fprintf(stdout, "imported %d point(s), skipped %d", rep.Imported, rep.Skipped)
		if c.Favorites {
			fmt.Fprintf(stdout, ", %d favorite(s)", rep.Favorites)
		}
		if c.Remote {
			fmt.Fprintf(stdout, ", %d remote", rep.Remote)
		}
		fmt.Fprintln(stdout)
		return nil
	})
}

type batchCommand struct {
	Workers int `short:"w" long:"workers" description:"Concurrent lookups" default:"1"`
	Args    struct {
		In  string `positional-arg-name:"IN.csv"`
		Out string `positional-arg-name:"OUT.csv"`
	} `positional-args:"yes" required:"yes"`
}

func (c *batchCommand) Execute([]string) error {
	in, err := os.Open(c.Args.In)
	if err != nil {
		return err
	}
	defer in.Close()

	return withApp(func(ctx context.Context, a *App) error {
		out, err := os.Create(c.Args.Out)
		if err != nil {
			return err
		}
		rep, runErr := batch.RunCSV(ctx, a.searcher(), in, out, batch.Options{
			Workers: c.Workers,
			Found:   a.searchRecorder(),
			Progress: func(done, total int) {
				logger.Debug("batch %d/%d", done, total)
			},
		})
		if err := out.Close(); err != nil && runErr == nil {
			runErr = err
		}
		fmt.Fprintf(stdout, "%s: %d row(s), %d ok, %d empty, %d not found, %d failed\n",
			rep.Status, rep.Total(), rep.Succeeded, rep.Empty, rep.NotFound, rep.Failed)
		return runErr
	})
}

// ---------------- Remote store ----------------

type radiusCommand struct {
	Meters float64 `short:"m" long:"meters" description:"Radius in meters" default:"1000"`
	Table  string  `short:"t" long:"table" description:"Remote table" choice:"search_locations" choice:"points" default:"search_locations"`
	outputOptions
	Args pointArg `positional-args:"yes" required:"yes"`
}

func (c *radiusCommand) Execute([]string) error {
	center, err := geo.ParseLatLon(c.Args.Point)
	if err != nil {
		return err
	}
	return withApp(func(ctx context.Context, a *App) error {
		res, err := a.recorder.FindWithinRadius(ctx, c.Table, center, c.Meters)
		if err != nil {
			return err
		}
		if c.JSON {
			return printJSON(res)
		}
		if !res.Available {
			fmt.Fprintln(stdout, "remote store unavailable")
			return nil
		}
		tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		for _, m := range res.Matches {
			fmt.Fprintf(tw, "%.1f m\t%.6f,%.6f\t%s\n", m.Distance, m.Lat, m.Lon, m.Name)
		}
		return tw.Flush()
	})
}

type initRemoteCommand struct{}

func (c *initRemoteCommand) Execute([]string) error {
	return withApp(func(ctx context.Context, a *App) error {
		remote := a.recorder.Remote()
		if !remote.Supported() {
			return storage.ErrRemoteUnavailable
		}
		if err := remote.EnsureSchema(ctx); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "remote schema ready")
		return nil
	})
}

// ---------------- Server ----------------

type serveCommand struct {
	Addr string `short:"a" long:"addr" env:"GEOLOCATOR_ADDR" description:"Address to listen on" default:"127.0.0.1:8765"`
}

func (c *serveCommand) Execute([]string) error {
	return withApp(func(ctx context.Context, a *App) error {
		mux := http.NewServeMux()
		RegisterAPI(mux, a)
		srv := &http.Server{
			Addr:              c.Addr,
			Handler:           requestLogger(mux),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.ListenAndServe()
		}()
		logger.Logger().Info().
			Str("addr", c.Addr).
			Bool("remote", a.recorder.Remote().Supported()).
			Str("db", a.recorder.Local().Path()).
			Msg("API server started")

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
}
