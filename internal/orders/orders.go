package orders

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"cartsync/internal/cart"
)

// ErrMalformedItems marks an order whose order_items payload could not be parsed.
var ErrMalformedItems = errors.New("malformed order items")

// Status is the derived lifecycle state of an order.
type Status string

const (
	StatusNew       Status = "new"
	StatusPaid      Status = "paid"
	StatusDelivered Status = "delivered"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusNew, StatusPaid, StatusDelivered}

// Item is one purchased line of an order.
type Item struct {
	ProductID Int        `json:"prodID"`
	Price     cart.Money `json:"price"`
	Quantity  Int        `json:"quantity"`
}

// Order is the decoded view of a Record.
type Order struct {
	ID          int64
	IsPaid      bool
	IsDelivered bool
	// TotalPrice is in minor units.
	TotalPrice  int64
	ItemNumbers int
	Items       []Item
	// ItemsErr is set when the items payload was malformed; Items is then empty.
	ItemsErr error
}

// Total renders TotalPrice as a decimal amount.
func (o Order) Total() cart.Money { return cart.FromMinorUnits(o.TotalPrice) }

// Status classifies the order.
func (o Order) Status() Status { return Classify(o) }

// Action is the next step a customer can take on an order.
type Action string

const (
	ActionNone    Action = ""
	ActionPay     Action = "pay"
	ActionReceive Action = "receive"
)

// NextAction returns pay for new orders and receive for paid ones.
func (o Order) NextAction() Action {
	switch Classify(o) {
	case StatusNew:
		return ActionPay
	case StatusPaid:
		return ActionReceive
	default:
		return ActionNone
	}
}

// Unreachable reports the delivered-but-unpaid combination the backend
// should never produce. Such orders still classify as new.
func (o Order) Unreachable() bool { return !o.IsPaid && o.IsDelivered }

// Classify derives the status from the two flags.
func Classify(o Order) Status {
	if !o.IsPaid {
		return StatusNew
	}
	if !o.IsDelivered {
		return StatusPaid
	}
	return StatusDelivered
}

// Project converts a record into an Order. It never fails: a malformed items
// payload leaves Items empty and sets ItemsErr, the error is also returned.
func Project(r Record) (Order, error) {
	o := Order{
		ID:          int64(r.ID),
		IsPaid:      bool(r.IsPaid),
		IsDelivered: bool(r.IsDelivered),
		TotalPrice:  int64(r.TotalPrice),
		ItemNumbers: int(r.ItemNumbers),
	}
	items, err := decodeItems(r.OrderItems)
	if err != nil {
		o.ItemsErr = fmt.Errorf("order %d: %w: %v", o.ID, ErrMalformedItems, err)
		return o, o.ItemsErr
	}
	o.Items = items
	return o, nil
}

// Decode projects every record and collects the per-order warnings.
func Decode(records []Record) ([]Order, []error) {
	out := make([]Order, 0, len(records))
	var warnings []error
	for _, r := range records {
		o, err := Project(r)
		if err != nil {
			warnings = append(warnings, err)
		}
		out = append(out, o)
	}
	return out, warnings
}

// decodeItems accepts a JSON array or a string holding one.
func decodeItems(raw json.RawMessage) ([]Item, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		raw = bytes.TrimSpace([]byte(s))
		if len(raw) == 0 {
			return nil, nil
		}
	}
	var items []Item
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Buckets groups orders by status. Every status key is present.
type Buckets map[Status][]Order

// Bucket partitions orders by Classify, keeping source order in each bucket.
func Bucket(orders []Order) Buckets {
	b := Buckets{}
	for _, s := range Statuses {
		b[s] = []Order{}
	}
	for _, o := range orders {
		s := Classify(o)
		b[s] = append(b[s], o)
	}
	return b
}

// Counts returns the size of each bucket.
func (b Buckets) Counts() map[Status]int {
	c := make(map[Status]int, len(Statuses))
	for _, s := range Statuses {
		c[s] = len(b[s])
	}
	return c
}

// ItemView is an order item resolved against the catalog.
type ItemView struct {
	ProductID int64
	Title     string
	Image     string
	Price     cart.Money
	Quantity  int
}

// Describe resolves items against lookup. Unknown products get a
// "Product ID: <id>" title.
func Describe(items []Item, lookup func(id int64) (cart.Product, bool)) []ItemView {
	out := make([]ItemView, 0, len(items))
	for _, it := range items {
		v := ItemView{
			ProductID: int64(it.ProductID),
			Price:     it.Price,
			Quantity:  int(it.Quantity),
			Title:     fmt.Sprintf("Product ID: %d", it.ProductID),
		}
		if lookup != nil {
			if p, ok := lookup(int64(it.ProductID)); ok {
				v.Title = p.Title
				v.Image = p.Image
			}
		}
		out = append(out, v)
	}
	return out
}
