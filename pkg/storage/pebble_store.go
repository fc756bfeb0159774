package storage

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// PebbleStore keeps state in a Pebble database. Each Txn is an indexed
// batch, so reads inside a call observe that call's own writes.
type PebbleStore struct {
	db *pebble.DB
}

// NewPebbleStore opens a Pebble database at the given path
func NewPebbleStore(path string) (*PebbleStore, error) {
	return OpenPebble(path, &pebble.Options{
		Cache:        pebble.NewCache(64 << 20), // 64MB cache
		MemTableSize: 32 << 20,
		MaxOpenFiles: 1000,
		BytesPerSync: 512 << 10,
	})
}

// OpenPebble opens a database with explicit options (tests pass an
// in-memory vfs).
func OpenPebble(path string, opts *pebble.Options) (*PebbleStore, error) {
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

func (s *PebbleStore) Begin() *Txn {
	b := s.db.NewIndexedBatch()
	return newTxn(&pebbleKV{batch: b},
		func() error {
			defer b.Close()
			if err := b.Commit(pebble.Sync); err != nil {
				return fmt.Errorf("commit batch: %w", err)
			}
			return nil
		},
		func() { _ = b.Close() },
	)
}

type pebbleKV struct {
	batch *pebble.Batch
}

func (k *pebbleKV) get(key []byte) ([]byte, error) {
	val, closer, err := k.batch.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), val...), nil
}

func (k *pebbleKV) set(key, value []byte) error { return k.batch.Set(key, value, nil) }

func (k *pebbleKV) del(key []byte) error { return k.batch.Delete(key, nil) }

func (k *pebbleKV) scan(lower, upper []byte, reverse bool, fn func(key, value []byte) bool) error {
	iter, err := k.batch.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: upper,
	})
	if err != nil {
		return err
	}

	if reverse {
		for iter.Last(); iter.Valid(); iter.Prev() {
			if !fn(iter.Key(), iter.Value()) {
				break
			}
		}
	} else {
		for iter.First(); iter.Valid(); iter.Next() {
			if !fn(iter.Key(), iter.Value()) {
				break
			}
		}
	}
	return iter.Close()
}

var _ Store = (*PebbleStore)(nil)
