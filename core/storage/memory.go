package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/artpar/kalita/core/record"
)

// MemoryStore keeps records in process memory.
// Each row is an atomic pointer swapped with CompareAndSwap, so writers to
// different records never share a lock.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string]*table
}

type table struct {
	mu    sync.RWMutex
	rows  map[string]*atomic.Pointer[record.Record]
	order []string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: make(map[string]*table)}
}

func (s *MemoryStore) table(entity string, create bool) *table {
	s.mu.RLock()
	t := s.tables[entity]
	s.mu.RUnlock()
	if t != nil || !create {
		return t
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t = s.tables[entity]; t == nil {
		t = &table{rows: make(map[string]*atomic.Pointer[record.Record])}
		s.tables[entity] = t
	}
	return t
}

func (s *MemoryStore) row(entity, id string) *atomic.Pointer[record.Record] {
	t := s.table(entity, false)
	if t == nil {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rows[id]
}

// Insert stores a copy of rec.
func (s *MemoryStore) Insert(ctx context.Context, entity string, rec record.Record) error {
	t := s.table(entity, true)
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.rows[rec.ID]; exists {
		return ErrExists
	}
	p := &atomic.Pointer[record.Record]{}
	c := rec.Clone()
	p.Store(&c)
	t.rows[rec.ID] = p
	t.order = append(t.order, rec.ID)
	return nil
}

// Get returns a copy of the record.
func (s *MemoryStore) Get(ctx context.Context, entity, id string) (record.Record, error) {
	p := s.row(entity, id)
	if p == nil {
		return record.Record{}, ErrNotFound
	}
	return p.Load().Clone(), nil
}

// Scan visits records in insertion order. The id list is copied first so fn
// may call back into the store.
func (s *MemoryStore) Scan(ctx context.Context, entity string, fn func(record.Record) bool) error {
	t := s.table(entity, false)
	if t == nil {
		return nil
	}

	t.mu.RLock()
	ptrs := make([]*atomic.Pointer[record.Record], len(t.order))
	for i, id := range t.order {
		ptrs[i] = t.rows[id]
	}
	t.mu.RUnlock()

	for i, p := range ptrs {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if !fn(*p.Load()) {
			return nil
		}
	}
	return nil
}

// Update runs the compare-and-increment loop on the row pointer.
func (s *MemoryStore) Update(ctx context.Context, entity, id string, expected int64, mutate Mutator) (record.Record, error) {
	p := s.row(entity, id)
	if p == nil {
		return record.Record{}, ErrNotFound
	}

	for {
		if err := ctx.Err(); err != nil {
			return record.Record{}, err
		}

		cur := p.Load()
		if expected != AnyVersion && cur.Version != expected {
			return record.Record{}, ErrVersionConflict
		}

		next, err := mutate(cur.Clone())
		if errors.Is(err, ErrSkip) {
			return cur.Clone(), nil
		}
		if err != nil {
			return record.Record{}, err
		}
		next.ID = cur.ID
		next.CreatedAt = cur.CreatedAt
		next.Version = cur.Version + 1

		if p.CompareAndSwap(cur, &next) {
			return next.Clone(), nil
		}
		// Lost the race: an explicit expected version now mismatches on the
		// next pass; AnyVersion re-applies the mutation to the newer state.
	}
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close drops all records.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables = make(map[string]*table)
	return nil
}

var _ Store = (*MemoryStore)(nil)
