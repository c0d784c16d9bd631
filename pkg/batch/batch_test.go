package batch

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rubiojr/geolocator/pkg/codec"
	"github.com/rubiojr/geolocator/pkg/lookup"
)

type fakeSearcher struct {
	mu      sync.Mutex
	queries []string
	places  map[string]*lookup.Place
	errs    map[string]error
}

func (f *fakeSearcher) Search(_ context.Context, q string) (*lookup.Place, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()
	if err, ok := f.errs[q]; ok {
		return nil, err
	}
	if p, ok := f.places[q]; ok {
		return p, nil
	}
	return nil, lookup.ErrNotFound
}

func newFake() *fakeSearcher {
	return &fakeSearcher{
		places: map[string]*lookup.Place{
			"Tirana":  {Lat: 41.3275, Lon: 19.8189, DisplayName: "Tirana, Albania"},
			"Durrës":  {Lat: 41.3246, Lon: 19.4565, DisplayName: "Durrës, Albania"},
			"Prishtë": {Lat: 42.6629, Lon: 21.1655, DisplayName: "Prishtina"},
		},
		errs: map[string]error{
			"Vlorë": errors.New("dial tcp 1.2.3.4:443: i/o timeout while connecting"),
		},
	}
}

func TestRun_EmptyList(t *testing.T) {
	f := newFake()
	rep, err := Run(context.Background(), f, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusNothingToDo, rep.Status)
	assert.Zero(t, rep.Total())
	assert.Empty(t, f.queries)
}

func TestRun_RowStatuses(t *testing.T) {
	f := newFake()
	var progress []int
	var found []string

	rep, err := Run(context.Background(), f, []string{"Tirana", "  ", "Atlantis", "Vlorë", " Durrës "}, Options{
		Progress: func(done, total int) {
			assert.Equal(t, 5, total)
			progress = append(progress, done)
		},
		Found: func(_ context.Context, addr string, p *lookup.Place) error {
			found = append(found, addr)
			return nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusDone, rep.Status)
	assert.Equal(t, []codec.BatchRow{
		{Address: "Tirana", Lat: "41.3275", Lon: "19.8189", Status: StatusOK},
		{Address: "  ", Status: StatusEmpty},
		{Address: "Atlantis", Status: StatusNotFound},
		{Address: "Vlorë", Status: "error: dial tcp 1.2.3.4:443: i/o time"},
		{Address: " Durrës ", Lat: "41.3246", Lon: "19.4565", Status: StatusOK},
	}, rep.Rows)
	assert.Equal(t, 2, rep.Succeeded)
	assert.Equal(t, 1, rep.Empty)
	assert.Equal(t, 1, rep.NotFound)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, progress)
	assert.Equal(t, []string{"Tirana", " Durrës "}, found)
	assert.NotContains(t, f.queries, "  ", "blank rows are not looked up")
}

func TestRun_FoundFailureMarksRow(t *testing.T) {
	f := newFake()
	rep, err := Run(context.Background(), f, []string{"Tirana", " Durrës "}, Options{
		Found: func(_ context.Context, addr string, _ *lookup.Place) error {
			if addr == "Tirana" {
				return errors.New("disk full")
			}
			return nil
		},
	})
	require.NoError(t, err)
	require.Len(t, rep.Rows, 2)
	assert.Equal(t, "error: disk full", rep.Rows[0].Status)
	assert.Equal(t, StatusOK, rep.Rows[1].Status)
	assert.Equal(t, 1, rep.Succeeded)
	assert.Equal(t, 1, rep.Failed)
}

func TestRun_WorkersKeepOrder(t *testing.T) {
	f := newFake()
	in := []string{"Tirana", "Durrës", "Prishtë", "Atlantis", "Tirana", "Durrës"}

	rep, err := Run(context.Background(), f, in, Options{Workers: 4})
	require.NoError(t, err)
	require.Len(t, rep.Rows, len(in))
	for i, row := range rep.Rows {
		assert.Equal(t, in[i], row.Address)
	}
	assert.Equal(t, 5, rep.Succeeded)
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := Run(ctx, newFake(), []string{"Tirana", "Durrës"}, Options{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, rep.Total(), 2)
}

func TestRunCSV(t *testing.T) {
	in := strings.NewReader("id,Adresa\n1,Tirana\n2,\n3,Atlantis\n")
	var out bytes.Buffer

	rep, err := RunCSV(context.Background(), newFake(), in, &out, Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Total())
	assert.Equal(t, "\ufeffaddress,lat,lon,status\n"+
		"Tirana,41.3275,19.8189,ok\n"+
		",,,empty\n"+
		"Atlantis,,,not found\n", out.String())
}

func TestRunCSV_NoAddressColumn(t *testing.T) {
	var out bytes.Buffer
	_, err := RunCSV(context.Background(), newFake(), strings.NewReader("name,city\nx,y\n"), &out, Options{})
	assert.ErrorIs(t, err, codec.ErrNoAddressColumn)
	assert.Zero(t, out.Len())
}

func TestRunCSV_HeaderOnly(t *testing.T) {
	var out bytes.Buffer
	rep, err := RunCSV(context.Background(), newFake(), strings.NewReader("address\n"), &out, Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusNothingToDo, rep.Status)
	assert.Equal(t, "\ufeffaddress,lat,lon,status\n", out.String())
}
