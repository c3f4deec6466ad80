package session

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryStorePutGet(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	rec := &UserSessionRecord{UserID: "user-1", Role: RoleAdmin}
	if err := s.Put(ctx, "token-1", rec); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := s.Get(ctx, "token-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.UserID != "user-1" || !got.IsAdmin() {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestInMemoryStoreExpiredRejected(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	s.Put(ctx, "token-1", &UserSessionRecord{UserID: "user-1", ExpiresAt: time.Now().Add(-time.Minute)})

	if _, err := s.Get(ctx, "token-1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for expired token, got %v", err)
	}
}

func TestInMemoryStoreDelete(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	s.Put(ctx, "token-1", &UserSessionRecord{UserID: "user-1"})
	s.Delete(ctx, "token-1")
	if _, err := s.Get(ctx, "token-1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
