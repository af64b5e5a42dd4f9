package cache

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func newTestMemoryStore(t *testing.T) *MemoryStore {
	t.Helper()
	store := NewMemoryStore(MemoryConfig{MaxEntries: 100, SweepInterval: time.Hour})
	t.Cleanup(func() { store.Close() })
	return store
}

func TestMemoryStore_SetAndGet(t *testing.T) {
	store := newTestMemoryStore(t)
	ctx := context.Background()

	entry := NewEntry([]byte(`{"rating": 2843}`), 200, "application/json", time.Minute)
	if err := store.Set(ctx, "player:magnus/stats", entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := store.Get(ctx, "player:magnus/stats")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got.Data) != `{"rating": 2843}` {
		t.Errorf("Unexpected data: %s", got.Data)
	}
	if got.StatusCode != 200 {
		t.Errorf("Expected status 200, got %d", got.StatusCode)
	}
}

func TestMemoryStore_GetMiss(t *testing.T) {
	store := newTestMemoryStore(t)

	_, err := store.Get(context.Background(), "player:nobody")
	if err != ErrCacheMiss {
		t.Errorf("Expected ErrCacheMiss, got %v", err)
	}
}

func TestMemoryStore_ExpiryOnRead(t *testing.T) {
	store := newTestMemoryStore(t)
	ctx := context.Background()

	entry := NewEntry([]byte("stale"), 200, "application/json", time.Minute)
	if err := store.Set(ctx, "player:magnus/stats", entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// Backdate past the TTL; the sweep never runs in this test, so only
	// the read path can enforce expiry.
	entry.CachedAt = time.Now().Add(-2 * time.Minute)

	if _, err := store.Get(ctx, "player:magnus/stats"); err != ErrCacheMiss {
		t.Errorf("Expected ErrCacheMiss for expired entry, got %v", err)
	}
	if store.Len() != 0 {
		t.Errorf("Expired entry should be removed on read, store has %d entries", store.Len())
	}
}

func TestMemoryStore_SkipsZeroTTL(t *testing.T) {
	store := newTestMemoryStore(t)
	ctx := context.Background()

	entry := NewEntry([]byte("data"), 200, "application/json", 0)
	if err := store.Set(ctx, "player:magnus/stats", entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if store.Len() != 0 {
		t.Error("Entry with zero TTL should not be stored")
	}
}

func TestMemoryStore_LRUEviction(t *testing.T) {
	store := NewMemoryStore(MemoryConfig{MaxEntries: 3, SweepInterval: time.Hour})
	defer store.Close()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		key := fmt.Sprintf("player:p%d", i)
		if err := store.Set(ctx, key, NewEntry([]byte("data"), 200, "application/json", time.Minute)); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	// Touch p1 so p2 becomes least recently used.
	if _, err := store.Get(ctx, "player:p1"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if err := store.Set(ctx, "player:p4", NewEntry([]byte("data"), 200, "application/json", time.Minute)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if store.Len() != 3 {
		t.Errorf("Expected 3 entries after eviction, got %d", store.Len())
	}
	if _, err := store.Get(ctx, "player:p2"); err != ErrCacheMiss {
		t.Errorf("Expected p2 evicted, got %v", err)
	}
	if _, err := store.Get(ctx, "player:p1"); err != nil {
		t.Errorf("Recently used p1 should survive eviction, got %v", err)
	}
}

func TestMemoryStore_UpdateExistingKey(t *testing.T) {
	store := newTestMemoryStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "player:magnus/stats", NewEntry([]byte("v1"), 200, "application/json", time.Minute)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Set(ctx, "player:magnus/stats", NewEntry([]byte("v2"), 200, "application/json", time.Minute)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := store.Get(ctx, "player:magnus/stats")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got.Data) != "v2" {
		t.Errorf("Expected updated value v2, got %s", got.Data)
	}
	if store.Len() != 1 {
		t.Errorf("Update should not add an entry, got %d", store.Len())
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	store := newTestMemoryStore(t)
	ctx := context.Background()

	store.Set(ctx, "player:magnus/stats", NewEntry([]byte("data"), 200, "application/json", time.Minute))

	if err := store.Delete(ctx, "player:magnus/stats"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "player:magnus/stats"); err != ErrCacheMiss {
		t.Errorf("Expected miss after delete, got %v", err)
	}

	// Deleting an absent key is a no-op.
	if err := store.Delete(ctx, "player:nobody"); err != nil {
		t.Errorf("Delete of absent key failed: %v", err)
	}
}

func TestMemoryStore_InvalidatePattern(t *testing.T) {
	store := newTestMemoryStore(t)
	ctx := context.Background()
	entry := func() *Entry { return NewEntry([]byte("data"), 200, "application/json", time.Minute) }

	store.Set(ctx, "player:magnus/stats", entry())
	store.Set(ctx, "player:hikaru/stats", entry())
	store.Set(ctx, "player:hikaru/games", entry())
	store.Set(ctx, "game:archive/2024", entry())

	deleted, err := store.InvalidatePattern(ctx, "player:hikaru/*")
	if err != nil {
		t.Fatalf("InvalidatePattern failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("Expected 2 deleted, got %d", deleted)
	}

	if _, err := store.Get(ctx, "player:magnus/stats"); err != nil {
		t.Error("Unmatched key should survive invalidation")
	}
	if _, err := store.Get(ctx, "game:archive/2024"); err != nil {
		t.Error("Other namespace should survive invalidation")
	}
}

func TestMemoryStore_Clear(t *testing.T) {
	store := newTestMemoryStore(t)
	ctx := context.Background()
	entry := func() *Entry { return NewEntry([]byte("data"), 200, "application/json", time.Minute) }

	store.Set(ctx, "player:magnus/stats", entry())
	store.Set(ctx, "player:hikaru/stats", entry())
	store.Set(ctx, "game:archive/2024", entry())

	deleted, err := store.Clear(ctx, "player")
	if err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("Expected 2 deleted, got %d", deleted)
	}
	if store.Len() != 1 {
		t.Errorf("Expected 1 remaining entry, got %d", store.Len())
	}
}

func TestMemoryStore_SweepExpired(t *testing.T) {
	store := newTestMemoryStore(t)
	ctx := context.Background()

	fresh := NewEntry([]byte("fresh"), 200, "application/json", time.Hour)
	stale := NewEntry([]byte("stale"), 200, "application/json", time.Minute)
	store.Set(ctx, "player:fresh", fresh)
	store.Set(ctx, "player:stale", stale)
	stale.CachedAt = time.Now().Add(-2 * time.Minute)

	if removed := store.SweepExpired(); removed != 1 {
		t.Errorf("Expected 1 swept entry, got %d", removed)
	}
	if store.Len() != 1 {
		t.Errorf("Expected 1 remaining entry, got %d", store.Len())
	}
	if _, err := store.Get(ctx, "player:fresh"); err != nil {
		t.Errorf("Fresh entry should survive sweep, got %v", err)
	}
}

func TestMatchKey(t *testing.T) {
	tests := []struct {
		pattern string
		key     string
		want    bool
	}{
		{"player:*", "player:magnus/stats", true},
		{"player:*", "game:archive/2024", false},
		{"player:magnus/*", "player:magnus/stats", true},
		{"player:magnus/*", "player:hikaru/stats", false},
		{"player:*/stats", "player:magnus/stats", true},
		{"player:*/stats", "player:magnus/games", false},
		{"player:magnus/stats", "player:magnus/stats", true},
		{"player:magnus/stats", "player:magnus/games", false},
		{"*", "anything:at/all", true},
		{"*stats*", "player:magnus/stats:speed=blitz", true},
		// '*' is the only wildcard; '?' and brackets match literally.
		{"player:magnu?", "player:magnus", false},
		{"player:magnu?", "player:magnu?", true},
		{"player:[mh]*", "player:magnus", false},
	}

	for _, tt := range tests {
		if got := matchKey(tt.pattern, tt.key); got != tt.want {
			t.Errorf("matchKey(%q, %q) = %v, want %v", tt.pattern, tt.key, got, tt.want)
		}
	}
}

func TestMemoryStore_Backend(t *testing.T) {
	store := newTestMemoryStore(t)
	if got := store.Backend(); got != BackendLocal {
		t.Errorf("Backend() = %q, want %q", got, BackendLocal)
	}
}
