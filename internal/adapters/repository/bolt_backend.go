package repository

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/okian/potally/internal/domain/model"
)

var (
	bucketCounts = []byte("counts")
	bucketOrder  = []byte("order")
)

// BoltBackend stores counts in a bbolt file: bucket "counts" maps id to a
// big-endian count, bucket "order" maps a big-endian sequence to id.
type BoltBackend struct {
	db *bolt.DB
}

// OpenBoltBackend opens or creates the database at path.
func OpenBoltBackend(path string) (*BoltBackend, error) {
	if path == "" {
		path = "po_counts.db"
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketCounts); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketOrder)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init bolt buckets: %w", err)
	}
	return &BoltBackend{db: db}, nil
}

// Load implements Backend.
func (b *BoltBackend) Load(ctx context.Context) ([]model.CounterRecord, error) {
	var out []model.CounterRecord
	err := b.db.View(func(tx *bolt.Tx) error {
		counts, order := tx.Bucket(bucketCounts), tx.Bucket(bucketOrder)
		seen := make(map[string]struct{})
		err := order.ForEach(func(_, id []byte) error {
			raw := counts.Get(id)
			if raw == nil {
				return nil
			}
			n, err := decodeCount(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", id, err)
			}
			seen[string(id)] = struct{}{}
			out = append(out, model.CounterRecord{UserID: string(id), Count: n})
			return nil
		})
		if err != nil {
			return err
		}
		// Records without an order entry go last.
		return counts.ForEach(func(id, raw []byte) error {
			if _, ok := seen[string(id)]; ok {
				return nil
			}
			n, err := decodeCount(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", id, err)
			}
			out = append(out, model.CounterRecord{UserID: string(id), Count: n})
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load bolt: %w", err)
	}
	return out, nil
}

// Put upserts one record in a single transaction.
func (b *BoltBackend) Put(ctx context.Context, rec model.CounterRecord) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return putRecord(tx.Bucket(bucketCounts), tx.Bucket(bucketOrder), rec)
	})
}

// Save implements Backend; the swap happens in one transaction.
func (b *BoltBackend) Save(ctx context.Context, records []model.CounterRecord) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketCounts, bucketOrder} {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
		}
		counts, err := tx.CreateBucket(bucketCounts)
		if err != nil {
			return err
		}
		order, err := tx.CreateBucket(bucketOrder)
		if err != nil {
			return err
		}
		for _, rec := range records {
			if err := putRecord(counts, order, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close implements Backend.
func (b *BoltBackend) Close() error { return b.db.Close() }

func putRecord(counts, order *bolt.Bucket, rec model.CounterRecord) error {
	id := []byte(rec.UserID)
	if counts.Get(id) == nil {
		seq, err := order.NextSequence()
		if err != nil {
			return err
		}
		if err := order.Put(encodeUint(seq), id); err != nil {
			return err
		}
	}
	return counts.Put(id, encodeUint(uint64(rec.Count)))
}

func encodeUint(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func decodeCount(raw []byte) (int64, error) {
	if len(raw) != 8 {
		return 0, fmt.Errorf("%w: count is %d bytes", ErrCorruptState, len(raw))
	}
	return int64(binary.BigEndian.Uint64(raw)), nil
}
