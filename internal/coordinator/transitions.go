package coordinator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"cartsync/internal/cart"
	"cartsync/internal/journal"
	"cartsync/internal/session"
)

// SignIn moves the session to Authenticated(id). Saves still in flight are
// flushed first so the load below sees the latest record for id. When already
// authenticated, the previous identity is signed out first.
func (c *Coordinator) SignIn(ctx context.Context, id session.Identity, token string) error {
	if id.ID == "" {
		return fmt.Errorf("sign in: empty identity")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.creds != nil {
		if err := c.signOutLocked(ctx); err != nil {
			return fmt.Errorf("sign in: sign out previous: %w", err)
		}
	}
	if err := c.replicator.Flush(ctx); err != nil {
		return fmt.Errorf("sign in: wait for pending saves: %w", err)
	}

	rec, found, err := c.store.Load(ctx, id)
	result := "restored"
	switch {
	case err != nil && ctx.Err() != nil:
		return fmt.Errorf("sign in: %w", err)
	case errors.Is(err, session.ErrCorruptRecord):
		// Nothing readable to protect: the current cart takes the key over.
		c.log.Warn("stored cart unreadable, adopting current cart",
			zap.String("key", session.SessionKey(id)), zap.Error(err))
		c.state.cart.Adopt()
		result = "corrupt"
	case err != nil:
		c.log.Warn("cart rehydration failed, keeping current cart",
			zap.String("key", session.SessionKey(id)), zap.Error(err))
		result = "failed"
	case found:
		c.state.cart.Load(rec)
	default:
		c.state.cart.Adopt()
		result = "absent"
	}
	if c.metrics != nil {
		c.metrics.Rehydrations.WithLabelValues(result).Inc()
	}

	creds := session.Credentials{Identity: id, Token: token}
	c.state.creds = &creds
	c.epoch++
	if err := c.store.SaveCredentials(ctx, creds); err != nil {
		c.log.Warn("persist credentials failed", zap.String("identity", id.ID), zap.Error(err))
	}
	if result != "restored" && c.state.cart.Loaded() && !c.state.cart.Empty() {
		c.replicator.Submit(id, c.state.cart.Record())
	}
	c.observeCart()
	c.record(journal.KindSignIn, result)
	c.log.Info("signed in",
		zap.String("identity", id.ID),
		zap.String("rehydration", result),
		zap.Int("total_quantity", c.state.cart.TotalQuantity()))
	return nil
}

// SignOut snapshots the cart under the outgoing identity (only when it was
// loaded), clears the shared keys and resets the whole session state.
// Signing out while anonymous only resets.
func (c *Coordinator) SignOut(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.creds == nil {
		c.resetLocked()
		return nil
	}
	return c.signOutLocked(ctx)
}

func (c *Coordinator) signOutLocked(ctx context.Context) error {
	id := c.state.creds.Identity
	snapshotted := c.state.cart.Loaded()
	if snapshotted {
		c.replicator.Submit(id, c.state.cart.Record())
	} else {
		c.log.Warn("cart never loaded for this session, skipping snapshot", zap.String("identity", id.ID))
	}
	detail := "snapshot"
	if !snapshotted {
		detail = "no_snapshot"
	}
	c.record(journal.KindSignOut, detail)

	flushErr := c.replicator.Flush(ctx)
	clearErr := c.store.ClearUnscoped(ctx)
	if clearErr != nil {
		c.log.Warn("clear shared keys failed", zap.Error(clearErr))
	}
	c.resetLocked()
	c.log.Info("signed out", zap.String("identity", id.ID), zap.Bool("snapshot", snapshotted))
	if flushErr != nil {
		return fmt.Errorf("sign out: wait for snapshot: %w", flushErr)
	}
	return nil
}

// Checkout places an order for the current lines. On success the cart is
// replaced by the empty loaded cart and that empty record is persisted.
func (c *Coordinator) Checkout(ctx context.Context) (Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.creds == nil {
		return Receipt{}, ErrNotAuthenticated
	}
	if c.state.cart.Empty() {
		return Receipt{}, ErrEmptyCart
	}
	if c.checkout == nil {
		return Receipt{}, fmt.Errorf("checkout: %w", ErrNoCollaborator)
	}
	receipt, err := c.checkout.PlaceOrder(ctx, *c.state.creds, c.state.cart.Lines())
	if err != nil {
		return Receipt{}, fmt.Errorf("checkout: %w", err)
	}

	c.record(journal.KindCheckout, fmt.Sprintf("order %d", receipt.OrderID))
	c.state.cart.Load(cart.Record{})
	c.state.orders = nil
	id := c.state.creds.Identity
	c.replicator.Submit(id, c.state.cart.Record())
	if err := c.replicator.Flush(ctx); err != nil {
		c.log.Warn("wait for emptied cart save", zap.String("identity", id.ID), zap.Error(err))
	}
	c.observeCart()
	c.log.Info("checkout complete", zap.String("identity", id.ID), zap.Int64("order_id", receipt.OrderID))
	return receipt, nil
}

// Reset is the global reset signal: the session state is replaced at once
// and nothing is persisted.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(journal.KindReset, "")
	c.resetLocked()
	c.log.Info("session state reset")
}

// Resume signs in from persisted credentials, if any. It reports whether a
// session was resumed.
func (c *Coordinator) Resume(ctx context.Context) (bool, error) {
	creds, found, err := c.store.LoadCredentials(ctx)
	if err != nil {
		return false, fmt.Errorf("resume: %w", err)
	}
	if !found {
		return false, nil
	}
	if err := c.SignIn(ctx, creds.Identity, creds.Token); err != nil {
		return false, fmt.Errorf("resume: %w", err)
	}
	return true, nil
}
