package coordinator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"cartsync/internal/cart"
	"cartsync/internal/journal"
	"cartsync/internal/orders"
)

// FetchOrders asks the collaborator for the signed-in user's orders and
// caches the projection. The call runs without the mutex; a response that
// arrives after the session changed is dropped with ErrStaleResponse.
func (c *Coordinator) FetchOrders(ctx context.Context) (orders.Buckets, error) {
	c.mu.Lock()
	if c.state.creds == nil {
		c.mu.Unlock()
		return nil, ErrNotAuthenticated
	}
	if c.fetcher == nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("fetch orders: %w", ErrNoCollaborator)
	}
	creds := *c.state.creds
	epoch := c.epoch
	c.mu.Unlock()

	recs, err := c.fetcher.FetchOrders(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("fetch orders: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		c.discard("orders", creds.Identity.ID)
		return nil, ErrStaleResponse
	}

	list, warnings := orders.Decode(recs)
	for _, w := range warnings {
		c.log.Warn("order items unreadable", zap.Error(w))
		if c.metrics != nil {
			c.metrics.MalformedItems.Inc()
		}
	}
	for _, o := range list {
		if o.Unreachable() {
			c.log.Debug("order delivered but unpaid, listed as new", zap.Int64("order_id", o.ID))
			if c.metrics != nil {
				c.metrics.UnreachableState.Inc()
			}
		}
	}
	c.state.orders = list
	b := orders.Bucket(list)
	counts := b.Counts()
	c.record(journal.KindOrders, fmt.Sprintf("new=%d paid=%d delivered=%d",
		counts[orders.StatusNew], counts[orders.StatusPaid], counts[orders.StatusDelivered]))
	return b, nil
}

// AdvanceOrder performs the next customer step on a fetched order: pay a new
// order or receive a paid one. The update runs without the mutex under the
// same stale-response rule as FetchOrders; the order list is fetched again
// afterwards.
func (c *Coordinator) AdvanceOrder(ctx context.Context, orderID int64) (orders.Buckets, error) {
	c.mu.Lock()
	if c.state.creds == nil {
		c.mu.Unlock()
		return nil, ErrNotAuthenticated
	}
	if c.updater == nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("advance order: %w", ErrNoCollaborator)
	}
	var (
		order orders.Order
		found bool
	)
	for _, o := range c.state.orders {
		if o.ID == orderID {
			order, found = o, true
			break
		}
	}
	if !found {
		c.mu.Unlock()
		return nil, fmt.Errorf("advance order %d: %w", orderID, ErrUnknownOrder)
	}
	upd := OrderUpdate{OrderID: orderID}
	step := order.NextAction()
	switch step {
	case orders.ActionPay:
		upd.IsPaid = true
	case orders.ActionReceive:
		upd.IsPaid, upd.IsDelivered = true, true
	default:
		c.mu.Unlock()
		return nil, fmt.Errorf("advance order %d: %w", orderID, ErrNoNextStep)
	}
	creds := *c.state.creds
	epoch := c.epoch
	c.mu.Unlock()

	if err := c.updater.UpdateOrder(ctx, creds, upd); err != nil {
		return nil, fmt.Errorf("advance order %d: %w", orderID, err)
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.discard("order_update", creds.Identity.ID)
		c.mu.Unlock()
		return nil, ErrStaleResponse
	}
	c.record(journal.KindOrderStep, fmt.Sprintf("order %d %s", orderID, step))
	c.mu.Unlock()
	c.log.Info("order advanced",
		zap.String("identity", creds.Identity.ID),
		zap.Int64("order_id", orderID),
		zap.String("step", string(step)))

	return c.FetchOrders(ctx)
}

// LoadCatalog caches the product list used by OrderItems.
func (c *Coordinator) LoadCatalog(ctx context.Context) error {
	if c.catalog == nil {
		return fmt.Errorf("load catalog: %w", ErrNoCollaborator)
	}
	c.mu.Lock()
	epoch := c.epoch
	c.mu.Unlock()

	products, err := c.catalog.Products(ctx)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		c.discard("catalog", "")
		return ErrStaleResponse
	}
	m := make(map[int64]cart.Product, len(products))
	for _, p := range products {
		if _, dup := m[p.ID]; !dup {
			m[p.ID] = p
		}
	}
	c.state.products = m
	return nil
}

func (c *Coordinator) discard(what, identity string) {
	c.log.Info("discarding late response", zap.String("what", what), zap.String("requested_for", identity))
	if c.metrics != nil {
		c.metrics.StaleResponses.Inc()
	}
	c.record(journal.KindDiscarded, what)
}
