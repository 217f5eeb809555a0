package kv

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// exercise runs the behaviour every backend must share.
func exercise(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, "cart-1"); err != nil || ok {
		t.Fatalf("missing key: ok=%v err=%v", ok, err)
	}
	if err := s.Set(ctx, "cart-1", "a"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set(ctx, "cart-1", "b"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if v, ok, err := s.Get(ctx, "cart-1"); err != nil || !ok || v != "b" {
		t.Fatalf("last write should win: v=%q ok=%v err=%v", v, ok, err)
	}
	for _, k := range []string{"cart-2", "cart", "token"} {
		if err := s.Set(ctx, k, k); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}

	var seen []string
	if err := s.Range(ctx, "cart-", func(k, v string) error {
		seen = append(seen, k)
		return nil
	}); err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(seen) != 2 || seen[0] != "cart-1" || seen[1] != "cart-2" {
		t.Fatalf("range cart-: %v", seen)
	}

	if err := s.Remove(ctx, "cart", "token", "never-set"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "cart"); ok {
		t.Fatalf("cart should be removed")
	}
	if _, ok, _ := s.Get(ctx, "cart-1"); !ok {
		t.Fatalf("cart-1 must survive removal of cart")
	}

	boom := errors.New("boom")
	err := s.Range(ctx, "", func(k, v string) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("range should wrap callback error, got %v", err)
	}
}

func TestInMemoryStore(t *testing.T) {
	exercise(t, NewInMemoryStore())
}

func TestPebbleStore(t *testing.T) {
	dir := t.TempDir()
	st, err := NewPebbleStore(dir)
	if err != nil {
		t.Fatalf("pebble open: %v", err)
	}
	exercise(t, st)
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// reopen; durable keys are still there
	st, err = NewPebbleStore(dir)
	if err != nil {
		t.Fatalf("pebble reopen: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if v, ok, err := st.Get(context.Background(), "cart-1"); err != nil || !ok || v != "b" {
		t.Fatalf("after reopen: v=%q ok=%v err=%v", v, ok, err)
	}
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := NewRedisStoreWith(client, "test")
	t.Cleanup(func() { _ = st.Close() })
	exercise(t, st)

	if !mr.Exists("test:cart-1") {
		t.Fatalf("keys should be namespaced under the prefix: %v", mr.Keys())
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, Options{})
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	if _, ok := s.(*InMemoryStore); !ok {
		t.Fatalf("empty backend should be memory, got %T", s)
	}
	if _, err := Open(ctx, Options{Backend: BackendPebble}); err == nil {
		t.Fatalf("pebble without dir should fail")
	}
	if _, err := Open(ctx, Options{Backend: "floppy"}); err == nil {
		t.Fatalf("unknown backend should fail")
	}
}

func TestInMemoryStore_ConcurrentSetsDifferentKeys(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	var wg sync.WaitGroup
	keys := []string{"cart-1", "cart-2", "cart-3", "cart-4"}
	iters := 1000

	for _, k := range keys {
		k := k
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 1; i <= iters; i++ {
				if err := s.Set(ctx, k, fmt.Sprint(i)); err != nil {
					t.Errorf("set err: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	for _, k := range keys {
		v, ok, _ := s.Get(ctx, k)
		if !ok || v != fmt.Sprint(iters) {
			t.Fatalf("bad value for %s: %q", k, v)
		}
	}
}
