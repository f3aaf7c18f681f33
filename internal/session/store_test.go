package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestMemoryStoreSetGetDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()
	exp := time.Now().Add(time.Hour)

	if ok, _ := s.Contains(ctx, "tok"); ok {
		t.Fatal("empty store reported a token")
	}
	if err := s.Set(ctx, "tok", exp); err != nil {
		t.Fatal(err)
	}
	got, ok, err := s.Get(ctx, "tok")
	if err != nil || !ok {
		t.Fatalf("expected token to be present, ok=%v err=%v", ok, err)
	}
	if !got.Equal(exp) {
		t.Fatalf("got expiry %v, want %v", got, exp)
	}
	if err := s.Delete(ctx, "tok"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.Get(ctx, "tok"); ok {
		t.Fatal("expected token to be deleted")
	}
	if err := s.Delete(ctx, "missing"); err != nil {
		t.Fatalf("deleting an unknown token should be a no-op, got %v", err)
	}
}

func TestMemoryStoreKeepsExpiredEntries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Set(ctx, "old", time.Now().Add(-time.Hour))

	if ok, _ := s.Contains(ctx, "old"); !ok {
		t.Fatal("store must not evict expired entries on its own")
	}
	if n, _ := s.Count(ctx); n != 1 {
		t.Fatalf("expected 1 entry, got %d", n)
	}
}

func TestMemoryStoreConcurrentAccess(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tok := fmt.Sprintf("t-%d-%d", i, j)
				_ = s.Set(ctx, tok, time.Now())
				_, _, _ = s.Get(ctx, tok)
				_, _ = s.Contains(ctx, tok)
				if j%2 == 0 {
					_ = s.Delete(ctx, tok)
				}
			}
		}(i)
	}
	wg.Wait()
	if n, _ := s.Count(ctx); n != 32*50 {
		t.Fatalf("expected %d entries, got %d", 32*50, n)
	}
}

func TestNewTokenIsUUID(t *testing.T) {
	t.Parallel()

	a, b := NewToken(), NewToken()
	if a == b {
		t.Fatal("expected unique tokens")
	}
	if _, err := uuid.Parse(a); err != nil {
		t.Fatalf("expected uuid token, got %q: %v", a, err)
	}
}
