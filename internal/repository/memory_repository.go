package repository

import (
	"context"
	"sync"
	"time"

	"github.com/rpattn/bulkingest/internal/domain"

	"github.com/google/uuid"
)

type memoryRecordRepository struct {
	mu        sync.RWMutex
	records   []domain.Record
	byID      map[uuid.UUID]int
	createdAt *time.Time
	updatedAt *time.Time
	now       func() time.Time
}

// NewMemoryRecordRepository returns a process-local store. Contents are lost on exit.
func NewMemoryRecordRepository() RecordRepository {
	return &memoryRecordRepository{
		byID: make(map[uuid.UUID]int),
		now:  time.Now,
	}
}

func (r *memoryRecordRepository) Insert(ctx context.Context, records []domain.Record) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range records {
		r.byID[rec.ID] = len(r.records)
		r.records = append(r.records, rec)
	}
	r.touch()
	return len(records), nil
}

func (r *memoryRecordRepository) List(ctx context.Context, limit int, offset int) ([]domain.Record, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := len(r.records)
	start, end := window(total, limit, offset)
	out := make([]domain.Record, end-start)
	copy(out, r.records[start:end])
	return out, total, nil
}

func (r *memoryRecordRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx, ok := r.byID[id]
	if !ok {
		return domain.Record{}, ErrRecordNotFound
	}
	return r.records[idx], nil
}

func (r *memoryRecordRepository) Clear(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = nil
	r.byID = make(map[uuid.UUID]int)
	r.touch()
	return nil
}

func (r *memoryRecordRepository) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records), nil
}

func (r *memoryRecordRepository) Stats(ctx context.Context) (domain.Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := domain.Stats{TotalRecords: len(r.records)}
	if r.updatedAt != nil {
		ts := *r.updatedAt
		stats.LastUpdated = &ts
	}
	return stats, nil
}

// touch must be called with mu held.
func (r *memoryRecordRepository) touch() {
	now := r.now().UTC()
	r.updatedAt = &now
	if r.createdAt == nil {
		r.createdAt = &now
	}
}

// DefaultIngestionLogCapacity bounds the in-memory ingestion log.
const DefaultIngestionLogCapacity = 10000

// memoryIngestionLogRepository is a ring buffer holding the newest capacity
// entries.
type memoryIngestionLogRepository struct {
	mu    sync.Mutex
	ring  []domain.IngestionLogEntry
	start int
	size  int
}

// NewMemoryIngestionLogRepository keeps the newest capacity ingestion errors
// in memory, dropping the oldest once full. A capacity below 1 uses
// DefaultIngestionLogCapacity.
func NewMemoryIngestionLogRepository(capacity int) IngestionLogRepository {
	if capacity < 1 {
		capacity = DefaultIngestionLogCapacity
	}
	return &memoryIngestionLogRepository{ring: make([]domain.IngestionLogEntry, capacity)}
}

func (r *memoryIngestionLogRepository) Record(ctx context.Context, entry domain.IngestionLogEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size < len(r.ring) {
		r.ring[(r.start+r.size)%len(r.ring)] = entry
		r.size++
		return nil
	}
	r.ring[r.start] = entry
	r.start = (r.start + 1) % len(r.ring)
	return nil
}

func (r *memoryIngestionLogRepository) List(ctx context.Context, fileName string, limit int, offset int) ([]domain.IngestionLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 {
		limit = 200
	}

	// newest first, matching the postgres ordering
	matched := []domain.IngestionLogEntry{}
	for i := r.size - 1; i >= 0; i-- {
		entry := r.ring[(r.start+i)%len(r.ring)]
		if fileName == "" || entry.FileName == fileName {
			matched = append(matched, entry)
		}
	}
	start, end := window(len(matched), limit, offset)
	return matched[start:end], nil
}
