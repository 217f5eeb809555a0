package session

import (
	"context"
	"errors"
	"testing"

	"cartsync/internal/cart"
	"cartsync/internal/kv"
)

func sampleRecord() cart.Record {
	a := cart.New()
	p := cart.Product{ID: 1, Title: "Backpack", Price: cart.MustMoney("9.99")}
	a.Add(p)
	a.Add(p)
	return a.Record()
}

func TestSessionKey(t *testing.T) {
	if got := SessionKey(Identity{ID: "42"}); got != "cart-42" {
		t.Fatalf("SessionKey=%q want cart-42", got)
	}
	if got := SessionKey(IdentityFromInt(7)); got != "cart-7" {
		t.Fatalf("SessionKey=%q want cart-7", got)
	}
	if !IsSessionKey("cart-42") || IsSessionKey("cart") || IsSessionKey("cart-") || IsSessionKey("token") {
		t.Fatalf("IsSessionKey misclassified keys")
	}
}

func TestCartStore_SaveLoad(t *testing.T) {
	ctx := context.Background()
	s := NewCartStore(kv.NewInMemoryStore())
	id := Identity{ID: "1"}

	if _, found, err := s.Load(ctx, id); err != nil || found {
		t.Fatalf("absent record should be found=false err=nil, got found=%v err=%v", found, err)
	}
	want := sampleRecord()
	if err := s.Save(ctx, id, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, found, err := s.Load(ctx, id)
	if err != nil || !found {
		t.Fatalf("load: found=%v err=%v", found, err)
	}
	if got.TotalQuantity != 2 || !got.TotalPrice.Equal(cart.MustMoney("19.98")) || len(got.Items) != 1 {
		t.Fatalf("unexpected record: %+v", got)
	}

	if err := s.Save(ctx, id, cart.Record{}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, _, _ = s.Load(ctx, id)
	if len(got.Items) != 0 || got.TotalQuantity != 0 {
		t.Fatalf("last write should win: %+v", got)
	}
}

func TestCartStore_SaveRejectsEmptyIdentity(t *testing.T) {
	s := NewCartStore(kv.NewInMemoryStore())
	if err := s.Save(context.Background(), Identity{}, sampleRecord()); err == nil {
		t.Fatalf("expected error for empty identity")
	}
}

func TestCartStore_CorruptRecord(t *testing.T) {
	ctx := context.Background()
	backing := kv.NewInMemoryStore()
	_ = backing.Set(ctx, "cart-9", "{not json")
	s := NewCartStore(backing)
	_, found, err := s.Load(ctx, Identity{ID: "9"})
	if found || !errors.Is(err, ErrCorruptRecord) {
		t.Fatalf("want ErrCorruptRecord, got found=%v err=%v", found, err)
	}
}

func TestCartStore_ClearUnscopedKeepsIdentityRecords(t *testing.T) {
	ctx := context.Background()
	backing := kv.NewInMemoryStore()
	s := NewCartStore(backing)

	if err := s.Save(ctx, Identity{ID: "42"}, sampleRecord()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveCredentials(ctx, Credentials{Identity: Identity{ID: "42", Name: "Ann"}, Token: "tok"}); err != nil {
		t.Fatalf("save credentials: %v", err)
	}
	_ = backing.Set(ctx, "cart", `{"items":[]}`)

	if err := s.ClearUnscoped(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	for _, k := range []string{"cart", "token", "user", "userId"} {
		if _, ok, _ := backing.Get(ctx, k); ok {
			t.Fatalf("%s should be removed", k)
		}
	}
	if _, found, _ := s.Load(ctx, Identity{ID: "42"}); !found {
		t.Fatalf("cart-42 must survive ClearUnscoped")
	}
	if _, found, _ := s.LoadCredentials(ctx); found {
		t.Fatalf("credentials should be gone")
	}
}

func TestCartStore_Credentials(t *testing.T) {
	ctx := context.Background()
	s := NewCartStore(kv.NewInMemoryStore())
	if _, found, err := s.LoadCredentials(ctx); found || err != nil {
		t.Fatalf("no credentials yet: found=%v err=%v", found, err)
	}
	in := Credentials{Identity: Identity{ID: "5", Name: "Bo", Email: "bo@example.com"}, Token: "jwt"}
	if err := s.SaveCredentials(ctx, in); err != nil {
		t.Fatalf("save: %v", err)
	}
	out, found, err := s.LoadCredentials(ctx)
	if err != nil || !found {
		t.Fatalf("load: found=%v err=%v", found, err)
	}
	if out != in {
		t.Fatalf("credentials mismatch: %+v vs %+v", out, in)
	}
}
