package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rpattn/bulkingest/internal/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBoltRepository(t *testing.T) *BoltRecordRepository {
	t.Helper()
	repo := NewBoltRecordRepository(filepath.Join(t.TempDir(), "data", "records.db"))
	require.NoError(t, repo.Open())
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func makeRecords(n int) []domain.Record {
	created := time.Date(2024, 1, 2, 3, 4, 5, 6000000, time.UTC)
	out := make([]domain.Record, n)
	for i := range out {
		out[i] = domain.NewRecord(map[string]domain.Value{
			"index": domain.Number(float64(i)),
			"name":  domain.String(fmt.Sprintf("row-%d", i)),
			"ok":    domain.Bool(i%2 == 0),
			"empty": domain.Null(),
		}, created)
	}
	return out
}

func TestBoltRecordRepository_InsertListGet(t *testing.T) {
	ctx := context.Background()
	repo := newTestBoltRepository(t)

	first := makeRecords(3)
	second := makeRecords(2)

	n, err := repo.Insert(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = repo.Insert(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	page, total, err := repo.List(ctx, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, first[2].ID, page[0].ID)
	assert.Equal(t, second[0].ID, page[1].ID)

	page, _, err = repo.List(ctx, 100, 10)
	require.NoError(t, err)
	assert.Empty(t, page)

	got, err := repo.GetByID(ctx, second[1].ID)
	require.NoError(t, err)
	assert.Equal(t, second[1].ID, got.ID)
	assert.Equal(t, second[1].Status, got.Status)
	assert.True(t, second[1].CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, second[1].Data, got.Data)

	_, err = repo.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestBoltRecordRepository_ClearAndStats(t *testing.T) {
	ctx := context.Background()
	repo := newTestBoltRepository(t)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalRecords)
	assert.Nil(t, stats.LastUpdated)

	recs := makeRecords(4)
	_, err = repo.Insert(ctx, recs)
	require.NoError(t, err)

	stats, err = repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalRecords)
	require.NotNil(t, stats.LastUpdated)

	again, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, stats.TotalRecords, again.TotalRecords)
	assert.True(t, stats.LastUpdated.Equal(*again.LastUpdated))

	require.NoError(t, repo.Clear(ctx))
	stats, err = repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalRecords)
	assert.NotNil(t, stats.LastUpdated)

	_, err = repo.GetByID(ctx, recs[0].ID)
	assert.ErrorIs(t, err, ErrRecordNotFound)

	_, err = repo.Insert(ctx, makeRecords(1))
	require.NoError(t, err)
	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestBoltRecordRepository_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "records.db")

	repo := NewBoltRecordRepository(path)
	require.NoError(t, repo.Open())
	recs := makeRecords(2)
	_, err := repo.Insert(ctx, recs)
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	reopened := NewBoltRecordRepository(path)
	require.NoError(t, reopened.Open())
	defer reopened.Close()

	got, err := reopened.GetByID(ctx, recs[1].ID)
	require.NoError(t, err)
	assert.Equal(t, recs[1].Data, got.Data)
}

func TestMemoryRecordRepository_Window(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRecordRepository()

	recs := makeRecords(5)
	_, err := repo.Insert(ctx, recs)
	require.NoError(t, err)

	page, total, err := repo.List(ctx, 10, 3)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, recs[3].ID, page[0].ID)

	page, _, err = repo.List(ctx, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestMemoryIngestionLogRepository_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryIngestionLogRepository(0)

	for i := 1; i <= 3; i++ {
		row := i
		require.NoError(t, repo.Record(ctx, domain.IngestionLogEntry{
			FileName:     "a.csv",
			RowNumber:    &row,
			ErrorMessage: fmt.Sprintf("bad row %d", i),
		}))
	}
	require.NoError(t, repo.Record(ctx, domain.IngestionLogEntry{FileName: "b.csv", ErrorMessage: "other"}))

	entries, err := repo.List(ctx, "a.csv", 2, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 3, *entries[0].RowNumber)
	assert.Equal(t, 2, *entries[1].RowNumber)
	assert.NotEqual(t, uuid.Nil, entries[0].ID)
}

func TestMemoryIngestionLogRepository_DropsOldestWhenFull(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryIngestionLogRepository(3)

	for i := 1; i <= 7; i++ {
		row := i
		require.NoError(t, repo.Record(ctx, domain.IngestionLogEntry{FileName: "a.csv", RowNumber: &row}))
	}

	entries, err := repo.List(ctx, "", 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, 7, *entries[0].RowNumber)
	assert.Equal(t, 6, *entries[1].RowNumber)
	assert.Equal(t, 5, *entries[2].RowNumber)

	entries, err = repo.List(ctx, "a.csv", 2, 1)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 6, *entries[0].RowNumber)
}
