package repository

import (
	"context"
	"errors"

	"github.com/rpattn/bulkingest/internal/domain"

	"github.com/google/uuid"
)

// ErrRecordNotFound is returned by GetByID when no record has the given id.
var ErrRecordNotFound = errors.New("record not found")

// RecordRepository defines the durable operations the ingestion pipeline relies on.
//
// Insert must be atomic per call: a batch is either stored completely or not at all.
// Records are listed in insertion order.
type RecordRepository interface {
	Insert(ctx context.Context, records []domain.Record) (int, error)
	List(ctx context.Context, limit int, offset int) ([]domain.Record, int, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.Record, error)
	Clear(ctx context.Context) error
	Count(ctx context.Context) (int, error)
	Stats(ctx context.Context) (domain.Stats, error)
}

// IngestionLogRepository stores ingestion errors for observability.
type IngestionLogRepository interface {
	Record(ctx context.Context, entry domain.IngestionLogEntry) error
	List(ctx context.Context, fileName string, limit int, offset int) ([]domain.IngestionLogEntry, error)
}

// window clamps limit/offset against a collection of size total and
// returns the half-open index range to return.
func window(total, limit, offset int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := total
	if limit >= 0 && offset+limit < total {
		end = offset + limit
	}
	return offset, end
}
