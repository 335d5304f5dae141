package ingestion

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	// ErrInvalidCSV is returned when the document cannot be parsed at all.
	ErrInvalidCSV = errors.New("invalid csv")

	byteOrderMark = []byte{0xEF, 0xBB, 0xBF}
)

// RowReader streams data rows out of a CSV document one at a time.
//
// The first non-blank record is the header. Blank and whitespace-only lines
// are skipped; a data line of empty fields such as ",," is kept as a row.
// Every cell is trimmed.
type RowReader struct {
	csv     *csv.Reader
	headers []string
	started bool
}

// NewRowReader wraps r, discarding a leading UTF-8 byte order mark.
func NewRowReader(r io.Reader) *RowReader {
	reader := bufio.NewReader(r)
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1
	csvReader.ReuseRecord = true

	return &RowReader{csv: csvReader}
}

// Headers returns the trimmed header cells, or nil before the header was read.
func (r *RowReader) Headers() []string { return r.headers }

// Next returns the next data row.
//
// A row whose shape is wrong, or whose CSV syntax is broken, comes back as
// a *MalformedRowError with a nil row; the caller may keep reading. Any other
// error, including io.EOF, ends the stream. Row is left zero on the error;
// the caller assigns row numbers.
func (r *RowReader) Next() (RawRow, error) {
	if !r.started {
		if err := r.readHeader(); err != nil {
			return nil, err
		}
	}

	for {
		record, err := r.csv.Read()
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) && !errors.Is(parseErr.Err, csv.ErrFieldCount) {
				return nil, &MalformedRowError{Reason: fmt.Sprintf("invalid CSV syntax: %v", parseErr.Err)}
			}
			return nil, err
		}

		cells := cleanRow(record)
		if isBlankLine(cells) {
			continue
		}

		if len(cells) != len(r.headers) {
			return nil, &MalformedRowError{
				Reason: fmt.Sprintf("expected %d columns, found %d", len(r.headers), len(cells)),
			}
		}

		row := make(RawRow, len(cells))
		for i, value := range cells {
			row[i] = Cell{Column: r.headers[i], Value: value}
		}
		return row, nil
	}
}

func (r *RowReader) readHeader() error {
	for {
		record, err := r.csv.Read()
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				return fmt.Errorf("%w: header: %v", ErrInvalidCSV, parseErr.Err)
			}
			return err
		}
		cells := cleanRow(record)
		if isBlank(cells) {
			continue
		}
		r.headers = cells
		r.started = true
		return nil
	}
}

// cleanRow returns a trimmed copy of row; the csv reader reuses its slice.
func cleanRow(row []string) []string {
	out := make([]string, len(row))
	for i, value := range row {
		out[i] = strings.TrimSpace(value)
	}
	return out
}

// isBlankLine reports a line that held nothing but whitespace.
func isBlankLine(cells []string) bool {
	return len(cells) == 1 && cells[0] == ""
}

func isBlank(cells []string) bool {
	for _, c := range cells {
		if c != "" {
			return false
		}
	}
	return true
}
