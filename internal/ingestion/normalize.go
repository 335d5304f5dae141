package ingestion

import (
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rpattn/bulkingest/internal/domain"
)

// Normalize converts one raw cell into a typed value.
//
// Checks run in a fixed order: empty, boolean, finite number, string.
// Whitespace-only input is not empty and yields the empty string.
func Normalize(raw string) domain.Value {
	if raw == "" {
		return domain.Null()
	}

	trimmed := strings.TrimSpace(raw)

	if strings.EqualFold(trimmed, "true") {
		return domain.Bool(true)
	}
	if strings.EqualFold(trimmed, "false") {
		return domain.Bool(false)
	}

	if looksNumeric(trimmed) {
		if f, err := strconv.ParseFloat(trimmed, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
			return domain.Number(f)
		}
	}

	return domain.String(trimmed)
}

// looksNumeric rejects spellings ParseFloat accepts that are not plain
// decimal numbers ("inf", "nan", "1_000", "0x1p-2").
func looksNumeric(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c == '.' || c == '+' || c == '-' || c == 'e' || c == 'E':
		default:
			return false
		}
	}
	return true
}

// Cell is one column of a raw row.
type Cell struct {
	Column string
	Value  string
}

// RawRow is one CSV data line as ordered column/value pairs.
type RawRow []Cell

// BuildRecord normalizes every named column of row into a pending record.
// Blank column names are dropped; for duplicate names the last cell wins.
func BuildRecord(row RawRow, rowIndex int, now time.Time) (domain.Record, error) {
	data := make(map[string]domain.Value, len(row))
	for _, cell := range row {
		key := strings.TrimSpace(cell.Column)
		if key == "" {
			continue
		}
		if !utf8.ValidString(cell.Value) {
			return domain.Record{}, &MalformedRowError{Row: rowIndex, Column: key, Reason: "invalid UTF-8 in cell"}
		}
		data[key] = Normalize(cell.Value)
	}
	return domain.NewRecord(data, now), nil
}
