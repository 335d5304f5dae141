package domain

import (
	"time"

	"github.com/google/uuid"
)

// RecordStatus tracks where a record is in its processing lifecycle.
type RecordStatus string

const (
	RecordStatusPending RecordStatus = "pending"
)

// Record is one normalized CSV row as persisted by the store.
type Record struct {
	ID        uuid.UUID        `json:"id"`
	Data      map[string]Value `json:"data"`
	Status    RecordStatus     `json:"status"`
	CreatedAt time.Time        `json:"createdAt"`
}

// NewRecord creates a pending record stamped at createdAt (UTC, millisecond precision).
func NewRecord(data map[string]Value, createdAt time.Time) Record {
	return Record{
		ID:        uuid.New(),
		Data:      copyData(data),
		Status:    RecordStatusPending,
		CreatedAt: createdAt.UTC().Truncate(time.Millisecond),
	}
}

// Columns returns the record's field names in no particular order.
func (r Record) Columns() []string {
	cols := make([]string, 0, len(r.Data))
	for k := range r.Data {
		cols = append(cols, k)
	}
	return cols
}

// RecordPage is one window of the stored records.
type RecordPage struct {
	Total   int      `json:"total"`
	Records []Record `json:"records"`
}

// Stats summarizes the store.
type Stats struct {
	TotalRecords int        `json:"totalRecords"`
	LastUpdated  *time.Time `json:"lastUpdated"`
}

func copyData(data map[string]Value) map[string]Value {
	out := make(map[string]Value, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}
