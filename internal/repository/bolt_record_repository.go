package repository

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rpattn/bulkingest/internal/domain"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketRecords = []byte("records")
	bucketIDs     = []byte("ids")
	bucketMeta    = []byte("meta")

	metaCount     = []byte("count")
	metaCreatedAt = []byte("createdAt")
	metaUpdatedAt = []byte("updatedAt")
)

// BoltRecordRepository is a RecordRepository backed by a single bbolt file.
//
// Records are keyed by the bucket sequence so cursor order is insertion order.
// An id index maps record ids to their sequence key.
type BoltRecordRepository struct {
	mu   sync.RWMutex
	path string
	db   *bolt.DB
	now  func() time.Time
}

// NewBoltRecordRepository returns a repository for the file at path. Call Open before use.
func NewBoltRecordRepository(path string) *BoltRecordRepository {
	return &BoltRecordRepository{path: path, now: time.Now}
}

// Path returns path to the store's data file.
func (s *BoltRecordRepository) Path() string { return s.path }

// Open opens and initializes the store.
func (s *BoltRecordRepository) Open() error {
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "creating data directory")
		}
	}

	db, err := bolt.Open(s.path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return errors.Wrap(err, "opening storage")
	}
	s.db = db

	if err := s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketRecords, bucketIDs, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return errors.Wrap(err, "initializing")
	}

	return nil
}

// Close closes the store.
func (s *BoltRecordRepository) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Insert writes the whole batch in one transaction.
func (s *BoltRecordRepository) Insert(ctx context.Context, records []domain.Record) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Update(func(tx *bolt.Tx) error {
		recs := tx.Bucket(bucketRecords)
		ids := tx.Bucket(bucketIDs)

		for _, rec := range records {
			seq, err := recs.NextSequence()
			if err != nil {
				return errors.Wrap(err, "allocating sequence")
			}
			key := u64tob(seq)

			payload, err := json.Marshal(rec)
			if err != nil {
				return errors.Wrapf(err, "encoding record %s", rec.ID)
			}
			if err := recs.Put(key, payload); err != nil {
				return errors.Wrap(err, "writing record")
			}
			if err := ids.Put(rec.ID[:], key); err != nil {
				return errors.Wrap(err, "writing id index")
			}
		}

		meta := tx.Bucket(bucketMeta)
		count := btou64(meta.Get(metaCount)) + uint64(len(records))
		if err := meta.Put(metaCount, u64tob(count)); err != nil {
			return err
		}
		return s.touch(meta)
	}); err != nil {
		return 0, errors.Wrap(err, "inserting records")
	}

	return len(records), nil
}

// List returns records [offset, offset+limit) in insertion order and the total count.
func (s *BoltRecordRepository) List(ctx context.Context, limit int, offset int) ([]domain.Record, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		out   []domain.Record
		total int
	)
	if err := s.db.View(func(tx *bolt.Tx) error {
		total = int(btou64(tx.Bucket(bucketMeta).Get(metaCount)))
		start, end := window(total, limit, offset)
		out = make([]domain.Record, 0, end-start)

		c := tx.Bucket(bucketRecords).Cursor()
		i := 0
		for k, v := c.First(); k != nil && i < end; k, v = c.Next() {
			if i >= start {
				var rec domain.Record
				if err := json.Unmarshal(v, &rec); err != nil {
					return errors.Wrapf(err, "decoding record at %d", btou64(k))
				}
				out = append(out, rec)
			}
			i++
		}
		return nil
	}); err != nil {
		return nil, 0, errors.Wrap(err, "listing records")
	}

	return out, total, nil
}

// GetByID looks a record up through the id index.
func (s *BoltRecordRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		rec   domain.Record
		found bool
	)
	if err := s.db.View(func(tx *bolt.Tx) error {
		key := tx.Bucket(bucketIDs).Get(id[:])
		if key == nil {
			return nil
		}
		v := tx.Bucket(bucketRecords).Get(key)
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &rec)
	}); err != nil {
		return domain.Record{}, errors.Wrap(err, "finding record")
	}
	if !found {
		return domain.Record{}, ErrRecordNotFound
	}
	return rec, nil
}

// Clear drops every record but keeps the metadata timestamps.
func (s *BoltRecordRepository) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketRecords, bucketIDs} {
			if err := tx.DeleteBucket(name); err != nil && err != bolt.ErrBucketNotFound {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		meta := tx.Bucket(bucketMeta)
		if err := meta.Put(metaCount, u64tob(0)); err != nil {
			return err
		}
		return s.touch(meta)
	}); err != nil {
		return errors.Wrap(err, "clearing records")
	}
	return nil
}

// Count returns the number of stored records.
func (s *BoltRecordRepository) Count(ctx context.Context) (int, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return 0, err
	}
	return stats.TotalRecords, nil
}

// Stats returns the record count and the last write time.
func (s *BoltRecordRepository) Stats(ctx context.Context) (domain.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats domain.Stats
	if err := s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		stats.TotalRecords = int(btou64(meta.Get(metaCount)))
		if raw := meta.Get(metaUpdatedAt); raw != nil {
			ts, err := time.Parse(time.RFC3339Nano, string(raw))
			if err != nil {
				return err
			}
			stats.LastUpdated = &ts
		}
		return nil
	}); err != nil {
		return domain.Stats{}, errors.Wrap(err, "reading stats")
	}
	return stats, nil
}

func (s *BoltRecordRepository) touch(meta *bolt.Bucket) error {
	now := []byte(s.now().UTC().Format(time.RFC3339Nano))
	if err := meta.Put(metaUpdatedAt, now); err != nil {
		return err
	}
	if meta.Get(metaCreatedAt) == nil {
		return meta.Put(metaCreatedAt, now)
	}
	return nil
}

// u64tob encodes v to a big endian encoded byte slice.
func u64tob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// btou64 decodes a big endian encoded byte slice, treating nil as zero.
func btou64(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}
