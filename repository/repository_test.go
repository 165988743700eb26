package repository

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestStoreThenLoadAndDeleteRoundTrips(t *testing.T) {
	ctx := t.Context()
	repo, err := NewInMemory()
	if err != nil {
		t.Fatalf("NewInMemory: %v", err)
	}
	id := uuid.New()
	payload := []byte("resumption-state")

	if err := repo.Store(ctx, "peer-a", id, payload, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Store: %v", err)
	}

	got, err := repo.LoadAndDelete(ctx, "peer-a", id)
	if err != nil {
		t.Fatalf("LoadAndDelete: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func TestLoadAndDeleteIsOneShot(t *testing.T) {
	ctx := t.Context()
	repo, _ := NewInMemory()
	id := uuid.New()
	repo.Store(ctx, "peer-a", id, []byte("x"), time.Now().Add(time.Hour))

	if _, err := repo.LoadAndDelete(ctx, "peer-a", id); err != nil {
		t.Fatalf("first LoadAndDelete: %v", err)
	}
	if _, err := repo.LoadAndDelete(ctx, "peer-a", id); err != ErrNotFound {
		t.Fatalf("second LoadAndDelete: err = %v, want ErrNotFound", err)
	}
}

func TestExpiredEntryIsNotFound(t *testing.T) {
	ctx := t.Context()
	repo, _ := NewInMemory()
	id := uuid.New()
	repo.Store(ctx, "peer-a", id, []byte("x"), time.Now().Add(-time.Second))

	if _, err := repo.LoadAndDelete(ctx, "peer-a", id); err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound for expired entry", err)
	}
}

func TestDifferentPrincipalsAreIsolated(t *testing.T) {
	ctx := t.Context()
	repo, _ := NewInMemory()
	id := uuid.New()
	repo.Store(ctx, "peer-a", id, []byte("a-data"), time.Now().Add(time.Hour))

	if _, err := repo.LoadAndDelete(ctx, "peer-b", id); err != ErrNotFound {
		t.Fatalf("peer-b should not see peer-a's entry, err = %v", err)
	}
}

func TestNextUUIDReturnsDistinctValues(t *testing.T) {
	repo, _ := NewInMemory()
	a, _ := repo.NextUUID(t.Context())
	b, _ := repo.NextUUID(t.Context())
	if a == b {
		t.Fatalf("expected distinct UUIDs, got %s twice", a)
	}
}
