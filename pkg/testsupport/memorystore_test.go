package testsupport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-repository-resilience/cache"
)

func TestMemoryStore_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if err := store.Set(ctx, "k1", []byte("v1"), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	value, ok, err := store.Get(ctx, "k1")
	if err != nil || !ok || string(value) != "v1" {
		t.Fatalf("Get() = (%q, %v, %v), want (v1, true, nil)", value, ok, err)
	}

	removed, err := store.Delete(ctx, "k1", "missing")
	if err != nil || removed != 1 {
		t.Fatalf("Delete() = (%d, %v), want (1, nil)", removed, err)
	}
	if _, ok, _ := store.Get(ctx, "k1"); ok {
		t.Fatal("key survived Delete()")
	}
}

func TestMemoryStore_TTLHonored(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	now := time.Now()
	store.SetClock(func() time.Time { return now })

	if err := store.Set(ctx, "k1", []byte("v1"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if ttl, ok := store.TTLOf("k1"); !ok || ttl != time.Minute {
		t.Fatalf("TTLOf() = (%v, %v), want (1m, true)", ttl, ok)
	}

	now = now.Add(2 * time.Minute)
	if _, ok, _ := store.Get(ctx, "k1"); ok {
		t.Fatal("expired key still readable")
	}
	if got := store.Len(); got != 0 {
		t.Fatalf("Len() = %d, want 0", got)
	}
}

func TestMemoryStore_ScanPrefix(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for _, key := range []string{"app:user:1", "app:user:2", "app:order:1"} {
		if err := store.Set(ctx, key, []byte("x"), 0); err != nil {
			t.Fatalf("Set(%q) error = %v", key, err)
		}
	}

	keys, err := store.ScanPrefix(ctx, "app:user:")
	if err != nil {
		t.Fatalf("ScanPrefix() error = %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("ScanPrefix() returned %d keys, want 2", len(keys))
	}
}

func TestMemoryStore_BatchAlignment(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	err := store.BatchSet(ctx, []cache.StoreItem{
		{Key: "a", Value: []byte("1")},
		{Key: "c", Value: []byte("3")},
	})
	if err != nil {
		t.Fatalf("BatchSet() error = %v", err)
	}

	values, err := store.BatchGet(ctx, []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("BatchGet() error = %v", err)
	}
	if string(values[0]) != "1" || values[1] != nil || string(values[2]) != "3" {
		t.Fatalf("BatchGet() = %q, want positional [1 <nil> 3]", values)
	}
}

func TestMemoryStore_FailureInjection(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	boom := errors.New("injected")

	store.Fail(boom)
	if _, _, err := store.Get(ctx, "k"); err != boom {
		t.Fatalf("Get() error = %v, want injected", err)
	}
	if err := store.Set(ctx, "k", nil, 0); err != boom {
		t.Fatalf("Set() error = %v, want injected", err)
	}

	store.Fail(nil)
	if err := store.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set() after recovery error = %v", err)
	}
}

func TestNewUsers(t *testing.T) {
	users := NewUsers(3)
	seen := map[string]bool{}
	for _, u := range users {
		if u.ID == "" {
			t.Fatalf("user %q has empty ID", u.Name)
		}
		if seen[u.ID] {
			t.Fatalf("duplicate ID %q", u.ID)
		}
		seen[u.ID] = true
	}

	for _, u := range NewDraftUsers(2) {
		if u.ID != "" {
			t.Fatalf("draft user %q has ID %q, want empty", u.Name, u.ID)
		}
	}
}
