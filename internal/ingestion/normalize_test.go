package ingestion

import (
	"testing"
	"time"

	"github.com/rpattn/bulkingest/internal/domain"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		raw  string
		want domain.Value
	}{
		{"", domain.Null()},
		{"true", domain.Bool(true)},
		{"TRUE", domain.Bool(true)},
		{" False ", domain.Bool(false)},
		{"30", domain.Number(30)},
		{" -1.5e3 ", domain.Number(-1500)},
		{".5", domain.Number(0.5)},
		{"+7", domain.Number(7)},
		{"007", domain.Number(7)},
		{"Infinity", domain.String("Infinity")},
		{"-Infinity", domain.String("-Infinity")},
		{"inf", domain.String("inf")},
		{"NaN", domain.String("NaN")},
		{"1e400", domain.String("1e400")},
		{"1_000", domain.String("1_000")},
		{"0x1p-2", domain.String("0x1p-2")},
		{"0X1P4", domain.String("0X1P4")},
		{"0x1F", domain.String("0x1F")},
		{"  Ann  ", domain.String("Ann")},
		{"oops", domain.String("oops")},
		{"   ", domain.String("")},
		{"truthy", domain.String("truthy")},
	}

	for _, tc := range cases {
		got := Normalize(tc.raw)
		if got != tc.want {
			t.Fatalf("Normalize(%q): expected %s %#v, got %s %#v", tc.raw, tc.want.Kind(), tc.want.Interface(), got.Kind(), got.Interface())
		}
	}
}

func TestBuildRecordSkipsBlankColumns(t *testing.T) {
	now := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	row := RawRow{
		{Column: " id ", Value: "1"},
		{Column: "", Value: "ignored"},
		{Column: "   ", Value: "ignored too"},
		{Column: "name", Value: ""},
		{Column: "active", Value: "true"},
	}

	rec, err := BuildRecord(row, 1, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(rec.Data) != 3 {
		t.Fatalf("expected 3 fields, got %d: %v", len(rec.Data), rec.Columns())
	}
	if rec.Data["id"] != domain.Number(1) {
		t.Fatalf("expected id to be trimmed and numeric, got %#v", rec.Data["id"])
	}
	if !rec.Data["name"].IsNull() {
		t.Fatalf("expected empty name to be null, got %#v", rec.Data["name"])
	}
	if rec.Status != domain.RecordStatusPending {
		t.Fatalf("expected pending status, got %q", rec.Status)
	}
	if !rec.CreatedAt.Equal(now) {
		t.Fatalf("expected createdAt %v, got %v", now, rec.CreatedAt)
	}
}

func TestBuildRecordAssignsDistinctIDs(t *testing.T) {
	row := RawRow{{Column: "a", Value: "1"}}
	first, err := BuildRecord(row, 1, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := BuildRecord(row, 2, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.ID == second.ID {
		t.Fatalf("expected distinct ids, both were %s", first.ID)
	}
}

func TestBuildRecordRejectsInvalidUTF8(t *testing.T) {
	row := RawRow{{Column: "name", Value: "bad\xff"}}
	_, err := BuildRecord(row, 4, time.Now())
	malformed, ok := err.(*MalformedRowError)
	if !ok {
		t.Fatalf("expected MalformedRowError, got %v", err)
	}
	if malformed.Row != 4 || malformed.Column != "name" {
		t.Fatalf("unexpected attribution: %+v", malformed)
	}
}
