// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"time"
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique record identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Observability Ports
// -----------------------------------------------------------------------------

// Metrics receives engine-level measurements.
type Metrics interface {
	// RecordMutation counts a committed mutation; op is the event suffix ("created", "nulled").
	RecordMutation(entity, op string)

	// RecordVersionConflict counts a rejected stale or missing version.
	RecordVersionConflict(entity string)

	// RecordIntegrityRejection counts a write rejected with a field error code.
	RecordIntegrityRejection(entity, code string)

	// RecordBulkItem counts one bulk item outcome ("ok" or "failed").
	RecordBulkItem(op, outcome string)

	// RecordSchemaReload counts a registry reload attempt.
	RecordSchemaReload(ok bool, at time.Time)
}

// NopMetrics discards all measurements.
type NopMetrics struct{}

func (NopMetrics) RecordMutation(string, string)           {}
func (NopMetrics) RecordVersionConflict(string)            {}
func (NopMetrics) RecordIntegrityRejection(string, string) {}
func (NopMetrics) RecordBulkItem(string, string)           {}
func (NopMetrics) RecordSchemaReload(bool, time.Time)      {}

var _ Metrics = NopMetrics{}
