package session

import "testing"

func TestGetOrCreateCreatesOnce(t *testing.T) {
	store := NewStore(10)

	sess1, created1 := store.GetOrCreate("a", DefaultConfig())
	if !created1 {
		t.Fatal("expected first GetOrCreate to create")
	}

	sess2, created2 := store.GetOrCreate("a", DefaultConfig())
	if created2 {
		t.Fatal("expected second GetOrCreate to find existing session")
	}
	if sess1 != sess2 {
		t.Fatal("expected the same session instance back")
	}
}

func TestGetOrCreateMintsIDWhenEmpty(t *testing.T) {
	store := NewStore(10)
	sess, created := store.GetOrCreate("", DefaultConfig())
	if !created {
		t.Fatal("expected creation")
	}
	if sess.ID == "" {
		t.Fatal("expected a minted session ID")
	}
}

func TestStoreEvictsOldestOnCapacity(t *testing.T) {
	store := NewStore(2)

	store.GetOrCreate("first", DefaultConfig())
	store.GetOrCreate("second", DefaultConfig())
	store.GetOrCreate("third", DefaultConfig())

	if _, ok := store.Get("first"); ok {
		t.Fatal("expected oldest session to be evicted")
	}
	if _, ok := store.Get("second"); !ok {
		t.Fatal("expected second session to survive")
	}
	if _, ok := store.Get("third"); !ok {
		t.Fatal("expected third session to survive")
	}
	if got := store.Len(); got != 2 {
		t.Fatalf("got len=%d, want 2", got)
	}
}

func TestStoreDelete(t *testing.T) {
	store := NewStore(10)
	store.GetOrCreate("a", DefaultConfig())
	store.Delete("a")
	if _, ok := store.Get("a"); ok {
		t.Fatal("expected session to be gone after Delete")
	}
	if got := store.Len(); got != 0 {
		t.Fatalf("got len=%d, want 0", got)
	}
}
