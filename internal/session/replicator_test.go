package session

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"cartsync/internal/cart"
	"cartsync/internal/kv"
	"cartsync/internal/metrics"
)

// slowStore delays Set and records the order of writes per key.
type slowStore struct {
	kv.Store
	delay time.Duration
	fail  bool

	mu     sync.Mutex
	writes map[string][]string
	active int
	maxAct int
}

func newSlowStore(delay time.Duration) *slowStore {
	return &slowStore{Store: kv.NewInMemoryStore(), delay: delay, writes: map[string][]string{}}
}

func (s *slowStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	s.active++
	if s.active > s.maxAct {
		s.maxAct = s.active
	}
	s.mu.Unlock()

	time.Sleep(s.delay)

	s.mu.Lock()
	s.active--
	s.writes[key] = append(s.writes[key], value)
	fail := s.fail
	s.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return s.Store.Set(ctx, key, value)
}

func recordWithQty(n int) cart.Record {
	a := cart.New()
	for i := 0; i < n; i++ {
		a.Add(cart.Product{ID: 1, Price: cart.MustMoney("1.00")})
	}
	return a.Record()
}

func TestReplicator_LastSubmittedWins(t *testing.T) {
	backing := newSlowStore(5 * time.Millisecond)
	m := metrics.NewRegistry()
	r := NewReplicator(NewCartStore(backing), nil, m, time.Second)
	t.Cleanup(func() { _ = r.Close() })

	id := Identity{ID: "1"}
	for i := 1; i <= 20; i++ {
		r.Submit(id, recordWithQty(i))
	}
	if err := r.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}

	got, found, err := NewCartStore(backing).Load(context.Background(), id)
	if err != nil || !found {
		t.Fatalf("load: found=%v err=%v", found, err)
	}
	if got.TotalQuantity != 20 {
		t.Fatalf("final record has qty %d, want 20", got.TotalQuantity)
	}

	writes := backing.writes["cart-1"]
	prev := 0
	for _, w := range writes {
		rec, err := DecodeRecord(w)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if rec.TotalQuantity <= prev {
			t.Fatalf("write order regressed: %d after %d", rec.TotalQuantity, prev)
		}
		prev = rec.TotalQuantity
	}
	if len(writes) >= 20 {
		t.Fatalf("expected coalescing to skip some writes, got %d", len(writes))
	}
	if testutil.ToFloat64(m.Coalesced) == 0 {
		t.Fatalf("coalesced counter not incremented")
	}
}

func TestReplicator_SerialisesAcrossKeys(t *testing.T) {
	backing := newSlowStore(2 * time.Millisecond)
	r := NewReplicator(NewCartStore(backing), nil, nil, 0)
	t.Cleanup(func() { _ = r.Close() })

	for i := 0; i < 10; i++ {
		r.Submit(Identity{ID: strconv.Itoa(i)}, recordWithQty(1))
	}
	if err := r.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if backing.maxAct != 1 {
		t.Fatalf("saves overlapped: max concurrent=%d", backing.maxAct)
	}
	if len(backing.writes) != 10 {
		t.Fatalf("want 10 keys written, got %d", len(backing.writes))
	}
}

func TestReplicator_FailureIsCountedNotRetried(t *testing.T) {
	backing := newSlowStore(0)
	backing.fail = true
	m := metrics.NewRegistry()
	r := NewReplicator(NewCartStore(backing), nil, m, 0)
	t.Cleanup(func() { _ = r.Close() })

	r.Submit(Identity{ID: "1"}, recordWithQty(1))
	if err := r.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if got := testutil.ToFloat64(m.SaveFailures); got != 1 {
		t.Fatalf("save failures=%v want 1", got)
	}
	if n := len(backing.writes["cart-1"]); n != 1 {
		t.Fatalf("failed save retried: %d attempts", n)
	}
}

func TestReplicator_FlushIdleAndCancelled(t *testing.T) {
	backing := newSlowStore(200 * time.Millisecond)
	r := NewReplicator(NewCartStore(backing), nil, nil, 0)
	t.Cleanup(func() { _ = r.Close() })

	if err := r.Flush(context.Background()); err != nil {
		t.Fatalf("idle flush: %v", err)
	}
	r.Submit(Identity{ID: "1"}, recordWithQty(1))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := r.Flush(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline exceeded, got %v", err)
	}
}

func TestReplicator_CloseDrains(t *testing.T) {
	backing := newSlowStore(time.Millisecond)
	r := NewReplicator(NewCartStore(backing), nil, nil, 0)
	r.Submit(Identity{ID: "1"}, recordWithQty(3))
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, found, _ := NewCartStore(backing).Load(context.Background(), Identity{ID: "1"}); !found {
		t.Fatalf("queued save lost on close")
	}
}

func TestReplicator_FlushSurvivesCoalescedSubmit(t *testing.T) {
	// Worker not started: drain is driven by hand.
	r := newReplicator(NewCartStore(kv.NewInMemoryStore()), nil, nil, 0)
	id := Identity{ID: "1"}

	r.Submit(id, recordWithQty(1))
	flushed := make(chan error, 1)
	go func() { flushed <- r.Flush(context.Background()) }()
	time.Sleep(20 * time.Millisecond)

	r.Submit(id, recordWithQty(2))
	r.drain()

	select {
	case err := <-flushed:
		if err != nil {
			t.Fatalf("flush: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("flush still blocked after the replicator went idle")
	}
	rec, found, err := r.store.Load(context.Background(), id)
	if err != nil || !found || rec.TotalQuantity != 2 {
		t.Fatalf("want coalesced save qty=2, got %+v found=%v err=%v", rec, found, err)
	}
}
