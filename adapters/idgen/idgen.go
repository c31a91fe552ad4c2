// Package idgen provides record ID generators.
package idgen

import (
	"crypto/rand"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/artpar/kalita/ports"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Generator kinds accepted by New.
const (
	KindUUID = "uuid"
	KindULID = "ulid"
)

// New returns the generator for kind. An empty kind selects UUID.
func New(kind string, clock ports.Clock) (ports.IDGenerator, error) {
	switch strings.ToLower(kind) {
	case "", KindUUID:
		return UUID{}, nil
	case KindULID:
		return NewULID(clock), nil
	default:
		return nil, fmt.Errorf("unknown id generator %q", kind)
	}
}

// UUID generates random UUIDs.
type UUID struct{}

// New generates a new UUID v4.
func (UUID) New() string {
	return uuid.New().String()
}

// ULID generates lexicographically sortable IDs. IDs minted within the same
// millisecond are strictly increasing.
type ULID struct {
	mu      sync.Mutex
	clock   ports.Clock
	entropy *ulid.MonotonicEntropy
}

// NewULID creates a ULID generator timestamped by clock.
func NewULID(clock ports.Clock) *ULID {
	return &ULID{
		clock:   clock,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// New generates the next ULID.
func (g *ULID) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(g.clock.Now()), g.entropy).String()
}

// Sequential generates zero-padded sequential IDs (for testing). Padding
// keeps string order equal to creation order.
type Sequential struct {
	prefix  string
	counter atomic.Uint64
}

// NewSequential creates a sequential ID generator.
func NewSequential(prefix string) *Sequential {
	return &Sequential{prefix: prefix}
}

// New generates the next sequential ID.
func (s *Sequential) New() string {
	n := strconv.FormatUint(s.counter.Add(1), 10)
	if len(n) < 6 {
		n = strings.Repeat("0", 6-len(n)) + n
	}
	return s.prefix + n
}

// Reset resets the counter (for testing).
func (s *Sequential) Reset() {
	s.counter.Store(0)
}

var (
	_ ports.IDGenerator = UUID{}
	_ ports.IDGenerator = (*ULID)(nil)
	_ ports.IDGenerator = (*Sequential)(nil)
)
