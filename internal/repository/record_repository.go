package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rpattn/bulkingest/internal/db"
	"github.com/rpattn/bulkingest/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

type recordRepository struct {
	conn *db.Connection
}

// NewRecordRepository wires a RecordRepository backed by Postgres.
func NewRecordRepository(conn *db.Connection) RecordRepository {
	return &recordRepository{conn: conn}
}

func (r *recordRepository) Insert(ctx context.Context, records []domain.Record) (int, error) {
	if r.conn == nil || r.conn.Pool == nil {
		return 0, fmt.Errorf("record repository not initialized")
	}
	if len(records) == 0 {
		return 0, nil
	}

	rows := make([][]any, 0, len(records))
	for _, rec := range records {
		payload, err := json.Marshal(rec.Data)
		if err != nil {
			return 0, fmt.Errorf("failed to encode record %s: %w", rec.ID, err)
		}
		rows = append(rows, []any{rec.ID, payload, string(rec.Status), rec.CreatedAt})
	}

	var copied int64
	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		n, err := tx.CopyFrom(
			ctx,
			pgx.Identifier{"records"},
			[]string{"id", "data", "status", "created_at"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("failed to copy records: %w", err)
		}
		copied = n
		return touchMetadata(ctx, tx)
	})
	if err != nil {
		return 0, err
	}

	return int(copied), nil
}

func (r *recordRepository) List(ctx context.Context, limit int, offset int) ([]domain.Record, int, error) {
	if r.conn == nil || r.conn.Pool == nil {
		return nil, 0, fmt.Errorf("record repository not initialized")
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := r.conn.Pool.QueryRow(ctx, `SELECT count(*) FROM records`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count records: %w", err)
	}

	var limitArg any
	if limit >= 0 {
		limitArg = limit
	}

	rows, err := r.conn.Pool.Query(
		ctx,
		`SELECT id, data, status, created_at
		 FROM records
		 ORDER BY seq
		 LIMIT $1 OFFSET $2`,
		limitArg,
		offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	records := []domain.Record{}
	for rows.Next() {
		rec, scanErr := scanRecord(rows)
		if scanErr != nil {
			return nil, 0, scanErr
		}
		records = append(records, rec)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, 0, fmt.Errorf("failed to iterate records: %w", rowsErr)
	}

	return records, total, nil
}

func (r *recordRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Record, error) {
	if r.conn == nil || r.conn.Pool == nil {
		return domain.Record{}, fmt.Errorf("record repository not initialized")
	}

	row := r.conn.Pool.QueryRow(
		ctx,
		`SELECT id, data, status, created_at FROM records WHERE id = $1`,
		id,
	)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Record{}, ErrRecordNotFound
		}
		return domain.Record{}, err
	}
	return rec, nil
}

func (r *recordRepository) Clear(ctx context.Context) error {
	if r.conn == nil || r.conn.Pool == nil {
		return fmt.Errorf("record repository not initialized")
	}

	return r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM records`); err != nil {
			return fmt.Errorf("failed to clear records: %w", err)
		}
		return touchMetadata(ctx, tx)
	})
}

func (r *recordRepository) Count(ctx context.Context) (int, error) {
	if r.conn == nil || r.conn.Pool == nil {
		return 0, fmt.Errorf("record repository not initialized")
	}

	var total int
	if err := r.conn.Pool.QueryRow(ctx, `SELECT count(*) FROM records`).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return total, nil
}

func (r *recordRepository) Stats(ctx context.Context) (domain.Stats, error) {
	if r.conn == nil || r.conn.Pool == nil {
		return domain.Stats{}, fmt.Errorf("record repository not initialized")
	}

	var (
		stats     domain.Stats
		updatedAt pgtype.Timestamptz
	)
	err := r.conn.Pool.QueryRow(
		ctx,
		`SELECT (SELECT count(*) FROM records), m.updated_at
		 FROM store_metadata m
		 WHERE m.id = 1`,
	).Scan(&stats.TotalRecords, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return stats, nil
		}
		return domain.Stats{}, fmt.Errorf("failed to read stats: %w", err)
	}
	if updatedAt.Valid {
		ts := updatedAt.Time.UTC()
		stats.LastUpdated = &ts
	}
	return stats, nil
}

func touchMetadata(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(
		ctx,
		`UPDATE store_metadata
		 SET updated_at = now(),
		     created_at = COALESCE(created_at, now())
		 WHERE id = 1`,
	)
	if err != nil {
		return fmt.Errorf("failed to update store metadata: %w", err)
	}
	return nil
}

func scanRecord(row pgx.Row) (domain.Record, error) {
	var (
		rec       domain.Record
		data      []byte
		status    string
		createdAt pgtype.Timestamptz
	)
	if err := row.Scan(&rec.ID, &data, &status, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("failed to scan record: %w", err)
	}
	if err := json.Unmarshal(data, &rec.Data); err != nil {
		return rec, fmt.Errorf("failed to decode record %s: %w", rec.ID, err)
	}
	rec.Status = domain.RecordStatus(status)
	if createdAt.Valid {
		rec.CreatedAt = createdAt.Time.UTC()
	}
	return rec, nil
}
