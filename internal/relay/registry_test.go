package relay

import (
	"testing"
	"time"
)

func TestRegistryRegisterAndRemove(t *testing.T) {
	registry := NewRegistry()
	handle := &Handle{sessionID: "sess-1"}

	registry.register("sess-1", handle, func() {})
	if got := registry.Handle("sess-1"); got != handle {
		t.Fatal("registered handle not returned")
	}
	if registry.Len() != 1 {
		t.Fatalf("unexpected length: %d", registry.Len())
	}

	ent := registry.remove("sess-1")
	if ent == nil || ent.handle != handle {
		t.Fatal("remove did not return the registered entry")
	}
	if registry.Handle("sess-1") != nil {
		t.Fatal("handle should be gone after remove")
	}
	if registry.remove("sess-1") != nil {
		t.Fatal("second remove should return nil")
	}
}

func TestRegistryRemoveIfChecksIdentity(t *testing.T) {
	registry := NewRegistry()
	current := &Handle{sessionID: "sess-1"}
	stale := &Handle{sessionID: "sess-1"}

	registry.register("sess-1", current, func() {})

	if registry.removeIf("sess-1", stale) != nil {
		t.Fatal("removeIf should refuse a stale handle")
	}
	if registry.Handle("sess-1") != current {
		t.Fatal("current handle should survive a stale removeIf")
	}
	if registry.removeIf("sess-1", current) == nil {
		t.Fatal("removeIf should remove the matching handle")
	}
}

func TestRegistryLockSerializesPerKey(t *testing.T) {
	registry := NewRegistry()

	release := registry.Lock("sess-1")

	acquired := make(chan struct{})
	go func() {
		unlock := registry.Lock("sess-1")
		close(acquired)
		unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired the key lock while held")
	case <-time.After(50 * time.Millisecond):
	}

	// A different key must not contend.
	otherDone := make(chan struct{})
	go func() {
		unlock := registry.Lock("sess-2")
		unlock()
		close(otherDone)
	}()
	select {
	case <-otherDone:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key blocked")
	}

	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second holder never acquired the released lock")
	}
}

func TestRegistrySessions(t *testing.T) {
	registry := NewRegistry()
	registry.register("a", &Handle{sessionID: "a"}, func() {})
	registry.register("b", &Handle{sessionID: "b"}, func() {})

	ids := registry.Sessions()
	if len(ids) != 2 {
		t.Fatalf("unexpected session count: %d", len(ids))
	}
	seen := map[string]bool{}
	for _, id := range ids {
		seen[id] = true
	}
	if !seen["a"] || !seen["b"] {
		t.Fatalf("missing sessions: %v", ids)
	}
}
