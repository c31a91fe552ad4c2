package idgen_test

import (
	"regexp"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/artpar/kalita/adapters/clock"
	"github.com/artpar/kalita/adapters/idgen"
	"github.com/oklog/ulid/v2"
)

func TestUUID_New(t *testing.T) {
	g := idgen.UUID{}

	uuidRegex := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := g.New()
		if !uuidRegex.MatchString(id) {
			t.Fatalf("ID %s doesn't match UUID v4 format", id)
		}
		if seen[id] {
			t.Fatalf("duplicate ID generated: %s", id)
		}
		seen[id] = true
	}
}

func TestULID_MonotonicWithinMillisecond(t *testing.T) {
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	g := idgen.NewULID(clock.NewFake(at))

	ids := make([]string, 100)
	for i := range ids {
		ids[i] = g.New()
	}
	if !sort.StringsAreSorted(ids) {
		t.Errorf("ULIDs not increasing: %v", ids[:5])
	}

	id, err := ulid.ParseStrict(ids[0])
	if err != nil {
		t.Fatalf("ParseStrict(%q) error = %v", ids[0], err)
	}
	if got := ulid.Time(id.Time()); !got.Equal(at) {
		t.Errorf("timestamp = %v, want %v", got, at)
	}
}

func TestULID_Concurrent(t *testing.T) {
	g := idgen.NewULID(clock.Real{})

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		seen = map[string]bool{}
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id := g.New()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != 1000 {
		t.Errorf("expected 1000 unique IDs, got %d", len(seen))
	}
}

func TestSequential_New(t *testing.T) {
	g := idgen.NewSequential("rec-")

	for _, want := range []string{"rec-000001", "rec-000002", "rec-000003"} {
		if id := g.New(); id != want {
			t.Errorf("New() = %s, want %s", id, want)
		}
	}

	g.Reset()
	if id := g.New(); id != "rec-000001" {
		t.Errorf("after reset ID = %s, want rec-000001", id)
	}
}

func TestSequential_OrderMatchesCreation(t *testing.T) {
	g := idgen.NewSequential("")

	var ids []string
	for i := 0; i < 1200; i++ {
		ids = append(ids, g.New())
	}
	if !sort.StringsAreSorted(ids) {
		t.Error("sequential IDs do not sort in creation order")
	}
}

func TestNew(t *testing.T) {
	c := clock.Real{}
	for _, kind := range []string{"", "uuid", "ULID"} {
		if _, err := idgen.New(kind, c); err != nil {
			t.Errorf("New(%q) error = %v", kind, err)
		}
	}
	if _, err := idgen.New("snowflake", c); err == nil {
		t.Error("New(snowflake) error = nil, want error")
	}
}
