// Package coordinator ties identity transitions to cart persistence.
//
// The Coordinator owns the whole session State. Every transition (sign-in,
// sign-out, checkout, reset) and every cart mutation runs under one mutex,
// held for the full transition including rehydration I/O, so transitions
// never interleave. Collaborator calls that may be slow (order and catalog
// fetches) run outside the mutex and are discarded if the session epoch
// moved while they were in flight.
package coordinator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"cartsync/internal/cart"
	"cartsync/internal/journal"
	"cartsync/internal/logger"
	"cartsync/internal/metrics"
	"cartsync/internal/orders"
	"cartsync/internal/session"
)

// State is everything tied to the current session. It is replaced as a
// whole on reset, never cleared field by field.
type State struct {
	creds    *session.Credentials
	cart     *cart.Aggregate
	orders   []orders.Order
	products map[int64]cart.Product
}

func newState() *State {
	return &State{cart: cart.New()}
}

// Options wires a Coordinator. Store is required; the rest may be nil.
type Options struct {
	Store       *session.CartStore
	Orders      OrderFetcher
	Checkout    CheckoutService
	Updater     OrderUpdater
	Catalog     Catalog
	Journal     *journal.Recorder
	Metrics     *metrics.Registry
	Logger      *zap.Logger
	SaveTimeout time.Duration
}

type Coordinator struct {
	store      *session.CartStore
	replicator *session.Replicator
	fetcher    OrderFetcher
	checkout   CheckoutService
	updater    OrderUpdater
	catalog    Catalog
	journal    *journal.Recorder
	metrics    *metrics.Registry
	log        *zap.Logger

	mu    sync.Mutex
	state *State
	// epoch changes on every identity change or reset.
	epoch uint64
}

func New(opts Options) *Coordinator {
	log := logger.OrNop(opts.Logger)
	rec := opts.Journal
	if rec == nil {
		rec = journal.NewRecorder(nil)
	}
	return &Coordinator{
		store:      opts.Store,
		replicator: session.NewReplicator(opts.Store, log.Named("replicator"), opts.Metrics, opts.SaveTimeout),
		fetcher:    opts.Orders,
		checkout:   opts.Checkout,
		updater:    opts.Updater,
		catalog:    opts.Catalog,
		journal:    rec,
		metrics:    opts.Metrics,
		log:        log,
		state:      newState(),
	}
}

// Flush waits for cart saves submitted so far.
func (c *Coordinator) Flush(ctx context.Context) error {
	return c.replicator.Flush(ctx)
}

// Close drains pending saves.
func (c *Coordinator) Close() error {
	return c.replicator.Close()
}

// Identity returns the signed-in identity, ok=false when anonymous.
func (c *Coordinator) Identity() (session.Identity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.creds == nil {
		return session.Identity{}, false
	}
	return c.state.creds.Identity, true
}

// Cart returns a copy of the current aggregate.
func (c *Coordinator) Cart() *cart.Aggregate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.cart.Clone()
}

// Orders returns the cached orders grouped by status.
func (c *Coordinator) Orders() orders.Buckets {
	c.mu.Lock()
	defer c.mu.Unlock()
	return orders.Bucket(c.state.orders)
}

// OrderItems resolves an order's items against the cached catalog.
func (c *Coordinator) OrderItems(o orders.Order) []orders.ItemView {
	c.mu.Lock()
	products := c.state.products
	c.mu.Unlock()
	return orders.Describe(o.Items, func(id int64) (cart.Product, bool) {
		p, ok := products[id]
		return p, ok
	})
}

// resetLocked swaps in a fresh State and moves the epoch.
func (c *Coordinator) resetLocked() {
	c.state = newState()
	c.epoch++
	c.observeCart()
}

func (c *Coordinator) observeCart() {
	if c.metrics != nil {
		c.metrics.CartQuantity.Set(float64(c.state.cart.TotalQuantity()))
	}
}

// record journals a transition with the current cart totals.
func (c *Coordinator) record(kind journal.Kind, detail string) {
	e := journal.Event{
		Kind:          kind,
		Lines:         c.state.cart.Len(),
		TotalQuantity: c.state.cart.TotalQuantity(),
		TotalPrice:    c.state.cart.TotalPrice().String(),
		Detail:        detail,
	}
	if c.state.creds != nil {
		e.Identity = c.state.creds.Identity.ID
	}
	if _, err := c.journal.Record(e); err != nil {
		c.log.Warn("journal append failed", zap.String("kind", string(kind)), zap.Error(err))
	}
	if c.metrics != nil {
		c.metrics.Transitions.WithLabelValues(string(kind)).Inc()
	}
}
