package storage

import (
	"bytes"
	"sync"

	"github.com/google/btree"
)

type entry struct {
	key   []byte
	value []byte
}

func lessEntry(a, b entry) bool { return bytes.Compare(a.key, b.key) < 0 }

// MemStore is an ordered in-memory store. A Txn works on a copy-on-write
// clone of the tree and Commit swaps the clone in, so a discarded call
// leaves no trace.
type MemStore struct {
	mu   sync.Mutex
	tree *btree.BTreeG[entry]
}

func NewMemStore() *MemStore {
	return &MemStore{tree: btree.NewG[entry](32, lessEntry)}
}

func (s *MemStore) Close() error { return nil }

func (s *MemStore) Begin() *Txn {
	s.mu.Lock()
	clone := s.tree.Clone()
	s.mu.Unlock()

	return newTxn(&memKV{tree: clone},
		func() error {
			s.mu.Lock()
			s.tree = clone
			s.mu.Unlock()
			return nil
		},
		func() {},
	)
}

type memKV struct {
	tree *btree.BTreeG[entry]
}

func (k *memKV) get(key []byte) ([]byte, error) {
	e, ok := k.tree.Get(entry{key: key})
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), e.value...), nil
}

func (k *memKV) set(key, value []byte) error {
	k.tree.ReplaceOrInsert(entry{
		key:   append([]byte(nil), key...),
		value: append([]byte(nil), value...),
	})
	return nil
}

func (k *memKV) del(key []byte) error {
	k.tree.Delete(entry{key: key})
	return nil
}

func (k *memKV) scan(lower, upper []byte, reverse bool, fn func(key, value []byte) bool) error {
	inRange := func(e entry) bool {
		return bytes.Compare(e.key, lower) >= 0 && (upper == nil || bytes.Compare(e.key, upper) < 0)
	}

	if !reverse {
		k.tree.AscendGreaterOrEqual(entry{key: lower}, func(e entry) bool {
			if !inRange(e) {
				return false
			}
			return fn(e.key, e.value)
		})
		return nil
	}

	visit := func(e entry) bool {
		if bytes.Compare(e.key, lower) < 0 {
			return false
		}
		if !inRange(e) {
			return true // the pivot itself when it equals upper
		}
		return fn(e.key, e.value)
	}
	if upper == nil {
		k.tree.Descend(visit)
	} else {
		k.tree.DescendLessOrEqual(entry{key: upper}, visit)
	}
	return nil
}

var _ Store = (*MemStore)(nil)
