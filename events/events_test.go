package events

import (
	"sync"
	"testing"
)

func newSyncBus() *Bus {
	b := New(nil)
	b.tick = func(f func()) { f() }
	return b
}

func TestPathUpdatedDeliversToHandler(t *testing.T) {
	b := newSyncBus()

	var gotPath string
	var gotVersion uint64
	b.On(func(path string, version uint64) {
		gotPath, gotVersion = path, version
	})

	b.PathUpdated("local/alice/photos", 3)

	if gotPath != "local/alice/photos" || gotVersion != 3 {
		t.Errorf("handler got (%q, %d), want (local/alice/photos, 3)", gotPath, gotVersion)
	}
}

func TestPathUpdatedCoalescesToMaxVersion(t *testing.T) {
	b := New(nil) // real async tick, but we flush it ourselves

	var mu sync.Mutex
	var calls []uint64
	done := make(chan struct{})
	b.On(func(path string, version uint64) {
		mu.Lock()
		calls = append(calls, version)
		mu.Unlock()
		close(done)
	})

	b.PathUpdated("local/alice/photos", 1)
	b.PathUpdated("local/alice/photos", 3)
	b.PathUpdated("local/alice/photos", 2)

	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 1 || calls[0] != 3 {
		t.Errorf("coalesced calls = %v, want a single call at version 3", calls)
	}
}

func TestMultipleHandlersRunInRegistrationOrder(t *testing.T) {
	b := newSyncBus()

	var order []int
	b.On(func(string, uint64) { order = append(order, 1) })
	b.On(func(string, uint64) { order = append(order, 2) })
	b.On(func(string, uint64) { order = append(order, 3) })

	b.PathUpdated("x", 1)

	want := []int{1, 2, 3}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order = %v, want %v", order, want)
		}
	}
}

func TestPanickingHandlerDoesNotStopOthers(t *testing.T) {
	b := newSyncBus()

	var secondRan bool
	b.On(func(string, uint64) { panic("boom") })
	b.On(func(string, uint64) { secondRan = true })

	b.PathUpdated("x", 1)

	if !secondRan {
		t.Error("a panicking handler prevented a later handler from running")
	}
}
