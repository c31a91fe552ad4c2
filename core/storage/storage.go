// Package storage persists records per entity.
//
// Update is the only mutation path. It is an atomic compare-and-increment:
// the mutation commits only if the stored version still equals the version
// the caller observed, and the store sets version = old + 1.
package storage

import (
	"context"
	"errors"

	"github.com/artpar/kalita/core/record"
)

var (
	// ErrNotFound is returned when no record has the given id.
	ErrNotFound = errors.New("record not found")

	// ErrVersionConflict is returned when the stored version differs from the expected one.
	ErrVersionConflict = errors.New("version conflict")

	// ErrExists is returned by Insert when the id is taken.
	ErrExists = errors.New("record already exists")

	// ErrSkip may be returned by a Mutator to leave the record unchanged.
	// Update then returns the current record and a nil error.
	ErrSkip = errors.New("skip update")
)

// AnyVersion makes Update apply to whatever version is current.
// It is reserved for system fix-ups; external callers always pass the version they observed.
const AnyVersion int64 = -1

// Mutator derives the next state of a record from its current state.
// It receives a private copy and may modify it. It can be called more than
// once when the update races with another writer under AnyVersion.
type Mutator func(cur record.Record) (record.Record, error)

// Store provides versioned record persistence.
type Store interface {
	// Insert stores a new record. Version and timestamps are taken as given.
	Insert(ctx context.Context, entity string, rec record.Record) error

	// Get returns a record by id, including soft-deleted ones.
	Get(ctx context.Context, entity, id string) (record.Record, error)

	// Scan calls fn for every record of entity in insertion order, including
	// soft-deleted ones, until fn returns false. Records must not be modified.
	Scan(ctx context.Context, entity string, fn func(record.Record) bool) error

	// Update atomically replaces a record with mutate's result if its version
	// equals expected (or expected is AnyVersion), incrementing the version.
	Update(ctx context.Context, entity, id string, expected int64, mutate Mutator) (record.Record, error)

	// Ping reports whether the store is usable.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}
