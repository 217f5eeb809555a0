package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"cartsync/internal/cart"
	"cartsync/internal/kv"
)

// ErrCorruptRecord means a stored value exists but cannot be decoded.
var ErrCorruptRecord = errors.New("corrupt persisted record")

// SessionKeyPrefix is the common prefix of every per-identity cart key.
const SessionKeyPrefix = "cart-"

const (
	// Shared, unscoped keys. None of them is ever a per-identity record.
	unscopedCartKey = "cart"
	tokenKey        = "token"
	userKey         = "user"
	userIDKey       = "userId"
)

// Identity is the signed-in user. ID is the stable unique reference.
type Identity struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// Credentials pairs an identity with the bearer token the backend issued.
type Credentials struct {
	Identity Identity
	Token    string
}

// SessionKey is the storage key of an identity's cart. Restored carts only
// resolve if this stays stable across versions.
func SessionKey(id Identity) string {
	return SessionKeyPrefix + id.ID
}

// IsSessionKey reports whether key names a per-identity cart.
func IsSessionKey(key string) bool {
	return len(key) > len(SessionKeyPrefix) && strings.HasPrefix(key, SessionKeyPrefix)
}

// CartStore persists cart records per identity on a kv.Store.
type CartStore struct {
	kv kv.Store
}

func NewCartStore(s kv.Store) *CartStore {
	return &CartStore{kv: s}
}

// Save overwrites the identity's record.
func (s *CartStore) Save(ctx context.Context, id Identity, rec cart.Record) error {
	if id.ID == "" {
		return fmt.Errorf("save cart: empty identity")
	}
	if rec.Items == nil {
		rec.Items = []cart.Line{}
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal cart: %w", err)
	}
	if err := s.kv.Set(ctx, SessionKey(id), string(b)); err != nil {
		return fmt.Errorf("save cart %s: %w", SessionKey(id), err)
	}
	return nil
}

// Load returns the identity's record. A missing record is found=false, err=nil.
func (s *CartStore) Load(ctx context.Context, id Identity) (cart.Record, bool, error) {
	v, ok, err := s.kv.Get(ctx, SessionKey(id))
	if err != nil {
		return cart.Record{}, false, fmt.Errorf("load cart %s: %w", SessionKey(id), err)
	}
	if !ok {
		return cart.Record{}, false, nil
	}
	rec, err := DecodeRecord(v)
	if err != nil {
		return cart.Record{}, false, fmt.Errorf("load cart %s: %w", SessionKey(id), err)
	}
	return rec, true, nil
}

// DecodeRecord parses a stored cart value.
func DecodeRecord(v string) (cart.Record, error) {
	var rec cart.Record
	if err := json.Unmarshal([]byte(v), &rec); err != nil {
		return cart.Record{}, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return rec, nil
}

// ClearUnscoped removes the shared working keys in one call. Per-identity
// cart records are never touched.
func (s *CartStore) ClearUnscoped(ctx context.Context) error {
	if err := s.kv.Remove(ctx, tokenKey, userKey, userIDKey, unscopedCartKey); err != nil {
		return fmt.Errorf("clear unscoped: %w", err)
	}
	return nil
}

// SaveCredentials remembers who is signed in so a restart can resume.
func (s *CartStore) SaveCredentials(ctx context.Context, c Credentials) error {
	b, err := json.Marshal(c.Identity)
	if err != nil {
		return fmt.Errorf("marshal identity: %w", err)
	}
	if err := s.kv.Set(ctx, tokenKey, c.Token); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	if err := s.kv.Set(ctx, userKey, string(b)); err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	if err := s.kv.Set(ctx, userIDKey, c.Identity.ID); err != nil {
		return fmt.Errorf("save user id: %w", err)
	}
	return nil
}

// LoadCredentials returns the remembered session, found=false when there is
// none or it is incomplete.
func (s *CartStore) LoadCredentials(ctx context.Context) (Credentials, bool, error) {
	token, ok, err := s.kv.Get(ctx, tokenKey)
	if err != nil || !ok || token == "" {
		return Credentials{}, false, err
	}
	uid, ok, err := s.kv.Get(ctx, userIDKey)
	if err != nil || !ok || uid == "" {
		return Credentials{}, false, err
	}
	c := Credentials{Identity: Identity{ID: uid}, Token: token}
	raw, ok, err := s.kv.Get(ctx, userKey)
	if err != nil {
		return Credentials{}, false, err
	}
	if ok {
		var id Identity
		if err := json.Unmarshal([]byte(raw), &id); err != nil {
			return Credentials{}, false, fmt.Errorf("%w: user: %v", ErrCorruptRecord, err)
		}
		c.Identity.Name, c.Identity.Email = id.Name, id.Email
	}
	return c, true, nil
}

// IdentityFromInt builds an identity from a numeric backend user id.
func IdentityFromInt(id int64) Identity {
	return Identity{ID: strconv.FormatInt(id, 10)}
}
