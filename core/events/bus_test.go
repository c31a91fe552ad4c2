package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestPublish_Wildcards(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var got []string
	record := func(tag string) Handler {
		return func(ctx context.Context, e Event) error {
			got = append(got, tag+":"+e.Name)
			return nil
		}
	}
	bus.Subscribe(RecordCreated, record("exact"))
	bus.Subscribe("record.*", record("prefix"))
	bus.Subscribe("*", record("all"))
	bus.Subscribe(RecordDeleted, record("other"))

	bus.Publish(context.Background(), Event{Name: RecordCreated, Entity: "fx.rate", ID: "1", Version: 1})

	want := []string{"exact:record.created", "prefix:record.created", "all:record.created"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestPublish_HandlerErrorDoesNotStop(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var calls int
	bus.Subscribe(RecordUpdated, func(ctx context.Context, e Event) error {
		calls++
		return errors.New("boom")
	})
	bus.Subscribe(RecordUpdated, func(ctx context.Context, e Event) error {
		calls++
		return nil
	})

	bus.Publish(context.Background(), Event{Name: RecordUpdated})
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestPublishAsync(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var wg sync.WaitGroup
	wg.Add(1)
	bus.Subscribe(RecordRestored, func(ctx context.Context, e Event) error {
		defer wg.Done()
		if e.Op() != "restored" {
			t.Errorf("Op() = %q, want restored", e.Op())
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	bus.PublishAsync(ctx, Event{Name: RecordRestored})
	cancel()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("async handler not called")
	}
}

func TestHasSubscribers(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	if bus.HasSubscribers(RecordNulled) {
		t.Error("empty bus should have no subscribers")
	}
	bus.Subscribe("record.*", func(context.Context, Event) error { return nil })
	if !bus.HasSubscribers(RecordNulled) {
		t.Error("prefix wildcard should match")
	}
}
