// Package batch geocodes lists of addresses, one report row per input row.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rubiojr/geolocator/pkg/codec"
	"github.com/rubiojr/geolocator/pkg/logger"
	"github.com/rubiojr/geolocator/pkg/lookup"
)

// Row statuses.
const (
	StatusOK       = "ok"
	StatusEmpty    = "empty"
	StatusNotFound = "not found"
	statusError    = "error: "

	// StatusNothingToDo is the report status of an empty address list.
	StatusNothingToDo = "nothing to do"
	StatusDone        = "done"

	maxErrLen = 30
)

// Searcher is the part of a geocoder a batch needs.
type Searcher interface {
	Search(ctx context.Context, query string) (*lookup.Place, error)
}

// Options tune a run. Zero values take the defaults.
type Options struct {
	// Workers bounds concurrent lookups. Default 1, which keeps public
	// Nominatim servers happy.
	Workers int
	// Progress is called after each row with the number of rows done.
	Progress func(done, total int)
	// Found is called for every resolved row. An error turns the row into a
	// failed one.
	Found func(ctx context.Context, address string, place *lookup.Place) error
}

// Report is the outcome of a run. Rows are in input order.
type Report struct {
	Status    string
	Rows      []codec.BatchRow
	Succeeded int
	Empty     int
	NotFound  int
	Failed    int
}

// Total is the number of processed rows.
func (r Report) Total() int { return len(r.Rows) }

// Run geocodes addresses. Per-row failures end up in the row status; only a
// cancelled context stops the run, returning the rows done so far.
func Run(ctx context.Context, s Searcher, addresses []string, opts Options) (Report, error) {
	if len(addresses) == 0 {
		return Report{Status: StatusNothingToDo, Rows: []codec.BatchRow{}}, nil
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}

	rows := make([]codec.BatchRow, len(addresses))
	done := make([]bool, len(addresses))
	var (
		mu    sync.Mutex
		count int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i, addr := range addresses {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			row, place := resolve(gctx, s, addr)
			if gctx.Err() != nil && row.Status != StatusOK {
				return gctx.Err()
			}
			if place != nil && opts.Found != nil {
				if err := opts.Found(gctx, addr, place); err != nil {
					logger.Error("batch record %q: %v", addr, err)
					row.Status = errorStatus(err)
				}
			}

			mu.Lock()
			rows[i] = row
			done[i] = true
			count++
			n := count
			mu.Unlock()
			if opts.Progress != nil {
				opts.Progress(n, len(addresses))
			}
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	rep := Report{Status: StatusDone}
	for i, row := range rows {
		if !done[i] {
			continue
		}
		rep.Rows = append(rep.Rows, row)
		switch {
		case row.Status == StatusOK:
			rep.Succeeded++
		case row.Status == StatusEmpty:
			rep.Empty++
		case row.Status == StatusNotFound:
			rep.NotFound++
		default:
			rep.Failed++
		}
	}
	if err != nil {
		rep.Status = "cancelled"
		return rep, err
	}
	return rep, nil
}

func resolve(ctx context.Context, s Searcher, addr string) (codec.BatchRow, *lookup.Place) {
	row := codec.BatchRow{Address: addr}
	q := strings.TrimSpace(addr)
	if q == "" {
		row.Status = StatusEmpty
		return row, nil
	}
	place, err := s.Search(ctx, q)
	switch {
	case err == nil && place != nil:
		row.Lat = strconv.FormatFloat(place.Lat, 'f', -1, 64)
		row.Lon = strconv.FormatFloat(place.Lon, 'f', -1, 64)
		row.Status = StatusOK
		return row, place
	case err == nil, errors.Is(err, lookup.ErrNotFound):
		row.Status = StatusNotFound
	default:
		logger.Debug("batch geocode %q: %v", q, err)
		row.Status = errorStatus(err)
	}
	return row, nil
}

// errorStatus renders err as a row status, cut to maxErrLen runes.
func errorStatus(err error) string {
	msg := err.Error()
	if r := []rune(msg); len(r) > maxErrLen {
		msg = string(r[:maxErrLen])
	}
	return statusError + msg
}

// RunCSV reads the address column of in, geocodes it and writes the report
// to out.
func RunCSV(ctx context.Context, s Searcher, in io.Reader, out io.Writer, opts Options) (Report, error) {
	addresses, err := codec.ReadAddressesCSV(in)
	if err != nil {
		return Report{}, err
	}
	rep, runErr := Run(ctx, s, addresses, opts)
	if err := codec.WriteBatchCSV(out, rep.Rows); err != nil {
		return rep, fmt.Errorf("write batch report: %w", err)
	}
	return rep, runErr
}
