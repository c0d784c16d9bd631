package codec

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNoAddressColumn is returned when a batch CSV has no recognised address column.
var ErrNoAddressColumn = errors.New("no address column")

const utf8BOM = "\ufeff"

// addressColumns are the accepted (case-insensitive) address header names.
var addressColumns = []string{"address", "adresa", "adresë", "location", "lokacion"}

// Field is one labelled value of a lookup result.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// BatchRow is one line of a batch geocoding report. Lat and Lon are empty
// when the address could not be resolved.
type BatchRow struct {
	Address string
	Lat     string
	Lon     string
	Status  string
}

// WriteResultCSV dumps a single lookup result as Field,Value rows.
func WriteResultCSV(w io.Writer, fields []Field) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Field", "Value"}); err != nil {
		return err
	}
	for _, f := range fields {
		if err := cw.Write([]string{f.Name, f.Value}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteBatchCSV writes a batch report with a UTF-8 BOM so spreadsheet tools
// pick the right encoding.
func WriteBatchCSV(w io.Writer, rows []BatchRow) error {
	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"address", "lat", "lon", "status"}); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write([]string{r.Address, r.Lat, r.Lon, r.Status}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadAddressesCSV returns the values of the address column, one per data
// row, blanks included so row numbering survives.
func ReadAddressesCSV(r io.Reader) ([]string, error) {
	br := bufio.NewReader(r)
	if b, err := br.Peek(len(utf8BOM)); err == nil && string(b) == utf8BOM {
		_, _ = br.Discard(len(utf8BOM))
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty file", ErrNoAddressColumn)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	col := -1
	for i, h := range header {
		if isAddressColumn(h) {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("%w: want one of %s", ErrNoAddressColumn, strings.Join(addressColumns, ", "))
	}

	var out []string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return out, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
		}
		if col < len(rec) {
			out = append(out, rec[col])
		} else {
			out = append(out, "")
		}
	}
	return out, nil
}

func isAddressColumn(h string) bool {
	h = strings.ToLower(strings.TrimSpace(h))
	for _, c := range addressColumns {
		if h == c {
			return true
		}
	}
	return false
}
