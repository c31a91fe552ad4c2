package runtime

import (
	"testing"
	"time"
)

func blocked(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return false
	case <-time.After(30 * time.Millisecond):
		return true
	}
}

func TestRecordLocks_ExclusiveBlocksShared(t *testing.T) {
	var l recordLocks
	unlock := l.exclusive(recordKey("shop.customer", "1"))

	acquired := make(chan struct{})
	go func() {
		release := l.shared([]string{recordKey("shop.customer", "2"), recordKey("shop.customer", "1")})
		close(acquired)
		release()
	}()
	if !blocked(acquired) {
		t.Fatal("shared lock acquired while key held exclusively")
	}
	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("shared lock not acquired after exclusive release")
	}
}

func TestRecordLocks_SharedDoNotBlockEachOther(t *testing.T) {
	var l recordLocks
	k := recordKey("shop.customer", "1")
	first := l.shared([]string{k})
	defer first()

	acquired := make(chan struct{})
	go func() {
		release := l.shared([]string{k, k})
		close(acquired)
		release()
	}()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second shared holder blocked")
	}
}

func TestRecordLocks_EntriesReleased(t *testing.T) {
	var l recordLocks
	release := l.shared([]string{"a/1", "b/2", "a/1"})
	if n := l.size(); n != 2 {
		t.Errorf("size = %d, want 2", n)
	}
	release()
	l.exclusive("a/1")()
	if n := l.size(); n != 0 {
		t.Errorf("size after release = %d, want 0", n)
	}
}
