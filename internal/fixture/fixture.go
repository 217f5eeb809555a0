// Package fixture provides file-backed stand-ins for the storefront backend:
// a product catalog, per-user order lists and an order-placing checkout.
package fixture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"cartsync/internal/cart"
	"cartsync/internal/coordinator"
	"cartsync/internal/logger"
	"cartsync/internal/orders"
	"cartsync/internal/session"
)

var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrOrderNotFound = errors.New("order not found")
)

// File is the on-disk fixture. Orders are kept raw, keyed by identity id, so
// loosely typed backend payloads survive untouched.
type File struct {
	Products []cart.Product               `json:"products"`
	Orders   map[string][]json.RawMessage `json:"orders,omitempty"`
}

// Backend serves a File. It satisfies every coordinator collaborator port.
type Backend struct {
	log *zap.Logger

	mu       sync.Mutex
	products []cart.Product
	orders   map[string][]json.RawMessage
	nextID   int64
}

var (
	_ coordinator.Catalog         = (*Backend)(nil)
	_ coordinator.OrderFetcher    = (*Backend)(nil)
	_ coordinator.CheckoutService = (*Backend)(nil)
	_ coordinator.OrderUpdater    = (*Backend)(nil)
)

func New(f File, log *zap.Logger) *Backend {
	b := &Backend{
		log:      logger.OrNop(log),
		products: f.Products,
		orders:   map[string][]json.RawMessage{},
		nextID:   1000,
	}
	for id, list := range f.Orders {
		b.orders[id] = append([]json.RawMessage(nil), list...)
	}
	return b
}

// Load reads a fixture file. An empty path gives an empty backend.
func Load(path string, log *zap.Logger) (*Backend, error) {
	if path == "" {
		return New(File{}, log), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("unmarshal fixture: %w", err)
	}
	return New(f, log), nil
}

func (b *Backend) Products(context.Context) ([]cart.Product, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]cart.Product(nil), b.products...), nil
}

func (b *Backend) FetchOrders(ctx context.Context, creds session.Credentials) ([]orders.Record, error) {
	if creds.Token == "" {
		return nil, ErrUnauthorized
	}
	b.mu.Lock()
	list := b.orders[creds.Identity.ID]
	raw, err := json.Marshal(list)
	b.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("marshal orders: %w", err)
	}
	recs, warnings := orders.DecodeRecords(raw)
	for _, w := range warnings {
		b.log.Warn("fixture order skipped", zap.String("identity", creds.Identity.ID), zap.Error(w))
	}
	return recs, ctx.Err()
}

type placedItem struct {
	ProductID int64      `json:"prodID"`
	Price     cart.Money `json:"price"`
	Quantity  int        `json:"quantity"`
}

type placedOrder struct {
	ID          int64  `json:"id"`
	IsPaid      int    `json:"is_paid"`
	IsDelivered int    `json:"is_delivered"`
	TotalPrice  int64  `json:"total_price"`
	ItemNumbers int    `json:"item_numbers"`
	OrderItems  string `json:"order_items"`
}

// PlaceOrder records a new unpaid order. Items are stored as a JSON string
// and the total in minor units, the way the storefront backend returns them.
func (b *Backend) PlaceOrder(ctx context.Context, creds session.Credentials, lines []cart.Line) (coordinator.Receipt, error) {
	if creds.Token == "" {
		return coordinator.Receipt{}, ErrUnauthorized
	}
	if err := ctx.Err(); err != nil {
		return coordinator.Receipt{}, err
	}
	items := make([]placedItem, 0, len(lines))
	total := cart.Zero
	qty := 0
	for _, l := range lines {
		items = append(items, placedItem{ProductID: l.Product.ID, Price: l.Product.Price, Quantity: l.Quantity})
		total = total.Add(l.Subtotal())
		qty += l.Quantity
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return coordinator.Receipt{}, fmt.Errorf("marshal items: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	o := placedOrder{
		ID:          b.nextID,
		TotalPrice:  total.MinorUnits(),
		ItemNumbers: qty,
		OrderItems:  string(itemsJSON),
	}
	raw, err := json.Marshal(o)
	if err != nil {
		return coordinator.Receipt{}, fmt.Errorf("marshal order: %w", err)
	}
	b.orders[creds.Identity.ID] = append(b.orders[creds.Identity.ID], raw)
	return coordinator.Receipt{OrderID: o.ID, Message: "Order placed successfully"}, nil
}

// UpdateOrder rewrites the flags of one stored order. Other fields of the
// raw payload are kept as they are.
func (b *Backend) UpdateOrder(ctx context.Context, creds session.Credentials, upd coordinator.OrderUpdate) error {
	if creds.Token == "" {
		return ErrUnauthorized
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.orders[creds.Identity.ID]
	for i, raw := range list {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			continue
		}
		var id orders.Int
		if err := json.Unmarshal(fields["id"], &id); err != nil || int64(id) != upd.OrderID {
			continue
		}
		fields["is_paid"] = tinyint(upd.IsPaid)
		fields["is_delivered"] = tinyint(upd.IsDelivered)
		out, err := json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("marshal order: %w", err)
		}
		list[i] = out
		return nil
	}
	return fmt.Errorf("order %d: %w", upd.OrderID, ErrOrderNotFound)
}

func tinyint(v bool) json.RawMessage {
	if v {
		return json.RawMessage("1")
	}
	return json.RawMessage("0")
}
