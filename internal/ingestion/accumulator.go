package ingestion

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rpattn/bulkingest/internal/domain"
	"github.com/rpattn/bulkingest/internal/metrics"
)

// Inserter is the store operation the accumulator flushes into.
type Inserter interface {
	Insert(ctx context.Context, records []domain.Record) (int, error)
}

// BatchAccumulator buffers records and writes them to the store in batches
// of at most size records.
//
// Flush holds the accumulator lock for the duration of the insert, so a
// concurrent Push waits until the buffer has been persisted and cleared.
type BatchAccumulator struct {
	mu       sync.Mutex
	store    Inserter
	size     int
	buf      []domain.Record
	inserted int
	flushes  int
}

// NewBatchAccumulator returns an accumulator with capacity size (minimum 1).
func NewBatchAccumulator(store Inserter, size int) *BatchAccumulator {
	if size < 1 {
		size = 1
	}
	return &BatchAccumulator{
		store: store,
		size:  size,
		buf:   make([]domain.Record, 0, size),
	}
}

// Push appends rec and flushes when the buffer reaches capacity. It returns
// the number of records inserted by that flush, or 0 when none happened.
func (b *BatchAccumulator) Push(ctx context.Context, rec domain.Record) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, rec)
	if len(b.buf) < b.size {
		return 0, nil
	}
	return b.flushLocked(ctx)
}

// Flush persists whatever is buffered. An empty buffer is a no-op.
func (b *BatchAccumulator) Flush(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushLocked(ctx)
}

// Discard drops buffered records without persisting them.
func (b *BatchAccumulator) Discard() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.buf)
	b.reset()
	return n
}

// Len reports how many records are buffered.
func (b *BatchAccumulator) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// Inserted reports the total inserted across all flushes.
func (b *BatchAccumulator) Inserted() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inserted
}

// Flushes reports how many non-empty flushes reached the store.
func (b *BatchAccumulator) Flushes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushes
}

func (b *BatchAccumulator) flushLocked(ctx context.Context) (int, error) {
	if len(b.buf) == 0 {
		return 0, nil
	}

	// The batch is dropped whether or not the insert succeeds.
	batch := b.buf
	b.reset()

	start := time.Now()
	n, err := b.store.Insert(ctx, batch)
	metrics.HistogramBatchFlush.Observe(time.Since(start).Seconds())
	if err != nil {
		return 0, &StoreError{Op: "insert", Err: err}
	}
	if n != len(batch) {
		return 0, &StoreError{Op: "insert", Err: fmt.Errorf("inserted %d of %d records", n, len(batch))}
	}

	b.inserted += n
	b.flushes++
	metrics.CounterBatchesFlushed.Inc()
	metrics.CounterRecordsPersisted.Add(float64(n))
	return n, nil
}

func (b *BatchAccumulator) reset() {
	b.buf = make([]domain.Record, 0, b.size)
}
