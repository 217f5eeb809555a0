package cart

import (
	"errors"
	"fmt"
)

// ErrInvariant reports an aggregate whose stored totals disagree with its lines.
var ErrInvariant = errors.New("cart invariant violated")

// Product is the catalog entry a cart line refers to.
type Product struct {
	ID       int64  `json:"id"`
	Title    string `json:"title,omitempty"`
	Image    string `json:"image,omitempty"`
	Category string `json:"category,omitempty"`
	Price    Money  `json:"price"`
}

// Line is one product and its quantity. Quantity is always >= 1 inside an Aggregate.
type Line struct {
	Product  Product `json:"product"`
	Quantity int     `json:"quantity"`
}

// Subtotal returns quantity * price.
func (l Line) Subtotal() Money { return l.Product.Price.Times(l.Quantity) }

// Record is the persisted form of an Aggregate. The JSON names are the
// on-disk format and must not change.
type Record struct {
	Items         []Line `json:"items"`
	TotalQuantity int    `json:"totalQuantity"`
	TotalPrice    Money  `json:"totalPrice"`
}

// Aggregate is the in-memory cart. The zero value is an empty, unloaded cart.
// It is not safe for concurrent use; the coordinator owns it.
type Aggregate struct {
	lines         []Line
	totalQuantity int
	totalPrice    Money
	loaded        bool
}

// New returns an empty, unloaded aggregate.
func New() *Aggregate { return &Aggregate{} }

// Lines returns a copy of the lines in insertion order.
func (a *Aggregate) Lines() []Line {
	out := make([]Line, len(a.lines))
	copy(out, a.lines)
	return out
}

func (a *Aggregate) Len() int           { return len(a.lines) }
func (a *Aggregate) Empty() bool        { return len(a.lines) == 0 }
func (a *Aggregate) TotalQuantity() int { return a.totalQuantity }
func (a *Aggregate) TotalPrice() Money  { return a.totalPrice }
func (a *Aggregate) Loaded() bool       { return a.loaded }

// Quantity returns the quantity held for a product id, 0 if absent.
func (a *Aggregate) Quantity(productID int64) int {
	if i := a.index(productID); i >= 0 {
		return a.lines[i].Quantity
	}
	return 0
}

func (a *Aggregate) index(productID int64) int {
	for i := range a.lines {
		if a.lines[i].Product.ID == productID {
			return i
		}
	}
	return -1
}

// Add puts one unit of p into the cart. The price must be a finite,
// non-negative amount; that is the caller's contract.
func (a *Aggregate) Add(p Product) {
	if i := a.index(p.ID); i >= 0 {
		a.lines[i].Quantity++
	} else {
		a.lines = append(a.lines, Line{Product: p, Quantity: 1})
	}
	a.totalQuantity++
	a.totalPrice = a.totalPrice.Add(p.Price)
}

// Increase adds one unit to an existing line. Unknown ids are a no-op.
func (a *Aggregate) Increase(productID int64) bool {
	i := a.index(productID)
	if i < 0 {
		return false
	}
	a.lines[i].Quantity++
	a.totalQuantity++
	a.totalPrice = a.totalPrice.Add(a.lines[i].Product.Price)
	return true
}

// Decrease removes one unit from an existing line and drops the line when
// it reaches zero. Unknown ids are a no-op.
func (a *Aggregate) Decrease(productID int64) bool {
	i := a.index(productID)
	if i < 0 {
		return false
	}
	price := a.lines[i].Product.Price
	a.lines[i].Quantity--
	a.totalQuantity--
	a.totalPrice = a.totalPrice.Sub(price)
	if a.lines[i].Quantity <= 0 {
		a.lines = append(a.lines[:i], a.lines[i+1:]...)
	}
	return true
}

// Clear empties the cart and marks it unloaded.
func (a *Aggregate) Clear() {
	*a = Aggregate{}
}

// Adopt marks the current contents as belonging to a fresh session.
// Sign-in calls it when the identity has no saved cart: lack of a record
// counts as a completed load, so the cart built before sign-in is persisted
// under the identity and snapshotted on sign-out.
func (a *Aggregate) Adopt() {
	a.loaded = true
}

// Load replaces the cart with rec and marks it loaded. Totals are recomputed
// from the lines, non-positive lines are dropped and duplicate products are
// merged into the first occurrence.
func (a *Aggregate) Load(rec Record) {
	next := Aggregate{loaded: true}
	for _, l := range rec.Items {
		if l.Quantity <= 0 {
			continue
		}
		if i := next.index(l.Product.ID); i >= 0 {
			next.lines[i].Quantity += l.Quantity
		} else {
			next.lines = append(next.lines, l)
		}
		next.totalQuantity += l.Quantity
		next.totalPrice = next.totalPrice.Add(l.Subtotal())
	}
	*a = next
}

// Record returns the persisted form of the cart.
func (a *Aggregate) Record() Record {
	return Record{
		Items:         a.Lines(),
		TotalQuantity: a.totalQuantity,
		TotalPrice:    a.totalPrice,
	}
}

// Clone returns an independent copy.
func (a *Aggregate) Clone() *Aggregate {
	c := *a
	c.lines = a.Lines()
	return &c
}

// Check recomputes the totals from the lines.
func (a *Aggregate) Check() error {
	qty := 0
	price := Zero
	for _, l := range a.lines {
		if l.Quantity <= 0 {
			return fmt.Errorf("%w: product %d has quantity %d", ErrInvariant, l.Product.ID, l.Quantity)
		}
		qty += l.Quantity
		price = price.Add(l.Subtotal())
	}
	if qty != a.totalQuantity {
		return fmt.Errorf("%w: totalQuantity=%d lines=%d", ErrInvariant, a.totalQuantity, qty)
	}
	if !price.Equal(a.totalPrice) {
		return fmt.Errorf("%w: totalPrice=%s lines=%s", ErrInvariant, a.totalPrice, price)
	}
	return nil
}
