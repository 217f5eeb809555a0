package coordinator

import (
	"context"
	"errors"

	"cartsync/internal/cart"
	"cartsync/internal/orders"
	"cartsync/internal/session"
)

var (
	ErrNotAuthenticated = errors.New("not signed in")
	ErrEmptyCart        = errors.New("cart is empty")
	ErrNoCollaborator   = errors.New("collaborator not configured")
	ErrUnknownOrder     = errors.New("order not in the fetched list")
	ErrNoNextStep       = errors.New("order has no further step")

	// ErrStaleResponse is returned when a collaborator answered after the
	// session it was asked for had already ended.
	ErrStaleResponse = errors.New("response arrived after session change")
)

// Receipt is what the checkout collaborator returns for a placed order.
type Receipt struct {
	OrderID int64  `json:"id"`
	Message string `json:"message,omitempty"`
}

// OrderFetcher supplies the signed-in user's orders.
type OrderFetcher interface {
	FetchOrders(ctx context.Context, creds session.Credentials) ([]orders.Record, error)
}

// CheckoutService places an order for the given lines.
type CheckoutService interface {
	PlaceOrder(ctx context.Context, creds session.Credentials, lines []cart.Line) (Receipt, error)
}

// Catalog supplies the product list used to resolve order items.
type Catalog interface {
	Products(ctx context.Context) ([]cart.Product, error)
}

// OrderUpdate is the flag pair sent when a customer pays for or receives an
// order.
type OrderUpdate struct {
	OrderID     int64 `json:"orderID"`
	IsPaid      bool  `json:"isPaid"`
	IsDelivered bool  `json:"isDelivered"`
}

// OrderUpdater moves an order along its lifecycle on the backend.
type OrderUpdater interface {
	UpdateOrder(ctx context.Context, creds session.Credentials, upd OrderUpdate) error
}
