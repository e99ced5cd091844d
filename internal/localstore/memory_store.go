package localstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	pkgerrors "github.com/honeynil/paisa-tracker/pkg/errors"
)

// MemoryStore is a non-durable Store for tests and for running without a
// writable disk. Fail makes every call return ErrStorageUnavailable.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[Collection]map[int64]Record
	seq         map[Collection]int64
	leases      map[string]memoryLease
	unavailable error
}

type memoryLease struct {
	holder  string
	expires time.Time
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		collections: make(map[Collection]map[int64]Record),
		seq:         make(map[Collection]int64),
		leases:      make(map[string]memoryLease),
	}
	for c := range schemas {
		s.collections[c] = make(map[int64]Record)
	}
	return s
}

// Fail switches the store into the unavailable state; nil restores it.
func (s *MemoryStore) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = err
}

func (s *MemoryStore) check(c Collection) (schema, error) {
	if s.unavailable != nil {
		return schema{}, fmt.Errorf("%w: %v", pkgerrors.ErrStorageUnavailable, s.unavailable)
	}
	return lookup(c)
}

func (s *MemoryStore) Initialize(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.unavailable != nil {
		return fmt.Errorf("%w: %v", pkgerrors.ErrStorageUnavailable, s.unavailable)
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, c Collection, key int64) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, err := s.check(c); err != nil {
		return Record{}, err
	}
	rec, ok := s.collections[c][key]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s/%d", pkgerrors.ErrNotFound, c, key)
	}
	return copyRecord(rec), nil
}

func (s *MemoryStore) GetAll(ctx context.Context, c Collection) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, err := s.check(c); err != nil {
		return nil, err
	}
	recs := s.snapshot(c)
	sort.Slice(recs, func(i, j int) bool { return recs[i].Key < recs[j].Key })
	return recs, nil
}

func (s *MemoryStore) GetAllByIndex(ctx context.Context, c Collection, index Index, match string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, err := s.check(c)
	if err != nil {
		return nil, err
	}
	if _, ok := sc.indexes[index]; !ok {
		return nil, pkgerrors.Invalid("collection %q has no index %q", c, index)
	}

	var recs []Record
	for _, rec := range s.snapshot(c) {
		if match == "" || rec.Indexes[index] == match {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i].Indexes[index], recs[j].Indexes[index]
		if a != b {
			return a < b
		}
		return recs[i].Key < recs[j].Key
	})
	return recs, nil
}

func (s *MemoryStore) Put(ctx context.Context, c Collection, rec Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, err := s.check(c)
	if err != nil {
		return 0, err
	}
	if rec.Key == 0 {
		if !sc.autoIncrement {
			return 0, pkgerrors.Invalid("collection %q requires an explicit key", c)
		}
		s.seq[c]++
		rec.Key = s.seq[c]
	} else if rec.Key > s.seq[c] {
		s.seq[c] = rec.Key
	}
	s.collections[c][rec.Key] = copyRecord(rec)
	return rec.Key, nil
}

func (s *MemoryStore) Delete(ctx context.Context, c Collection, key int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.check(c); err != nil {
		return err
	}
	delete(s.collections[c], key)
	return nil
}

func (s *MemoryStore) AcquireLease(ctx context.Context, name, holder string, now, until time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable != nil {
		return false, fmt.Errorf("%w: %v", pkgerrors.ErrStorageUnavailable, s.unavailable)
	}
	if l, ok := s.leases[name]; ok && l.holder != holder && l.expires.After(now) {
		return false, nil
	}
	s.leases[name] = memoryLease{holder: holder, expires: until}
	return true, nil
}

func (s *MemoryStore) ReleaseLease(ctx context.Context, name, holder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable != nil {
		return fmt.Errorf("%w: %v", pkgerrors.ErrStorageUnavailable, s.unavailable)
	}
	if l, ok := s.leases[name]; ok && l.holder == holder {
		delete(s.leases, name)
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) snapshot(c Collection) []Record {
	recs := make([]Record, 0, len(s.collections[c]))
	for _, rec := range s.collections[c] {
		recs = append(recs, copyRecord(rec))
	}
	return recs
}

func copyRecord(rec Record) Record {
	out := Record{Key: rec.Key, Value: append([]byte(nil), rec.Value...)}
	if rec.Indexes != nil {
		out.Indexes = make(map[Index]string, len(rec.Indexes))
		for k, v := range rec.Indexes {
			out.Indexes[k] = v
		}
	}
	return out
}
