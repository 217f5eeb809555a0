package coordinator

import (
	"cartsync/internal/cart"
	"cartsync/internal/journal"
)

func (c *Coordinator) Add(p cart.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.cart.Add(p)
	c.mutated(cart.ActionAdd)
}

func (c *Coordinator) Increase(productID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.cart.Increase(productID) {
		return false
	}
	c.mutated(cart.ActionIncrease)
	return true
}

func (c *Coordinator) Decrease(productID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.cart.Decrease(productID) {
		return false
	}
	c.mutated(cart.ActionDecrease)
	return true
}

// ClearCart empties the cart. Unlike checkout it keeps the session as is.
func (c *Coordinator) ClearCart() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.cart.Clear()
	c.mutated(cart.ActionClear)
}

// Apply runs a serialised reducer action.
func (c *Coordinator) Apply(act cart.Action) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	changed, err := c.state.cart.Apply(act)
	if err != nil || !changed {
		return changed, err
	}
	c.mutated(act.Kind)
	return true, nil
}

// mutated persists the cart when it belongs to a loaded, signed-in session.
func (c *Coordinator) mutated(kind cart.ActionKind) {
	if c.state.creds != nil && c.state.cart.Loaded() {
		c.replicator.Submit(c.state.creds.Identity, c.state.cart.Record())
	}
	c.observeCart()
	c.record(journal.KindMutation, string(kind))
}
