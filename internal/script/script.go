// Package script replays a recorded storefront session, one JSON step per
// line, against a session coordinator.
package script

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"cartsync/internal/cart"
	"cartsync/internal/coordinator"
	"cartsync/internal/logger"
	"cartsync/internal/orders"
	"cartsync/internal/session"
)

type Op string

const (
	OpSignIn      Op = "sign_in"
	OpSignOut     Op = "sign_out"
	OpCart        Op = "cart"
	OpCheckout    Op = "checkout"
	OpFetchOrders Op = "fetch_orders"
	OpLoadCatalog Op = "load_catalog"
	OpAdvance     Op = "advance_order"
	OpReset       Op = "reset"
	OpExpect      Op = "expect"
)

var ErrExpectation = errors.New("expectation failed")

// Expect checks the session after a step. Nil fields are not checked.
type Expect struct {
	Authenticated *bool   `json:"authenticated,omitempty"`
	Identity      string  `json:"identity,omitempty"`
	TotalQuantity *int    `json:"totalQuantity,omitempty"`
	TotalPrice    *string `json:"totalPrice,omitempty"`
	Loaded        *bool   `json:"loaded,omitempty"`
}

type Step struct {
	Op       Op                `json:"op"`
	Identity *session.Identity `json:"identity,omitempty"`
	Token    string            `json:"token,omitempty"`
	Action   *cart.Action      `json:"action,omitempty"`
	OrderID  int64             `json:"orderId,omitempty"`
	Expect   *Expect           `json:"expect,omitempty"`
}

// Session is the part of the coordinator a script drives.
type Session interface {
	SignIn(ctx context.Context, id session.Identity, token string) error
	SignOut(ctx context.Context) error
	Apply(act cart.Action) (bool, error)
	Checkout(ctx context.Context) (coordinator.Receipt, error)
	FetchOrders(ctx context.Context) (orders.Buckets, error)
	LoadCatalog(ctx context.Context) error
	AdvanceOrder(ctx context.Context, orderID int64) (orders.Buckets, error)
	Reset()
	Identity() (session.Identity, bool)
	Cart() *cart.Aggregate
}

var _ Session = (*coordinator.Coordinator)(nil)

// Decode reads JSONL steps. Blank lines are skipped.
func Decode(r io.Reader) ([]Step, error) {
	var steps []Step
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for s.Scan() {
		line++
		b := s.Bytes()
		if len(b) == 0 {
			continue
		}
		var st Step
		if err := json.Unmarshal(b, &st); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		steps = append(steps, st)
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	return steps, nil
}

// Encode writes steps as JSONL.
func Encode(w io.Writer, steps []Step) error {
	enc := json.NewEncoder(w)
	for i := range steps {
		if err := enc.Encode(&steps[i]); err != nil {
			return fmt.Errorf("encode step %d: %w", i, err)
		}
	}
	return nil
}

type Result struct {
	Steps    int
	Rejected int // steps the session refused, e.g. checkout of an empty cart
	Orders   map[orders.Status]int
}

// Run executes steps in order. Steps the session rejects are logged and
// counted; a failed expectation or a cancelled context stops the run.
func Run(ctx context.Context, s Session, steps []Step, log *zap.Logger) (Result, error) {
	log = logger.OrNop(log)
	res := Result{Orders: map[orders.Status]int{}}
	for i, st := range steps {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		err := apply(ctx, s, st, &res)
		res.Steps++
		switch {
		case errors.Is(err, ErrExpectation):
			return res, fmt.Errorf("step %d: %w", i+1, err)
		case err != nil && ctx.Err() != nil:
			return res, ctx.Err()
		case err != nil:
			res.Rejected++
			log.Info("step rejected", zap.Int("step", i+1), zap.String("op", string(st.Op)), zap.Error(err))
		}
	}
	return res, nil
}

func apply(ctx context.Context, s Session, st Step, res *Result) error {
	switch st.Op {
	case OpSignIn:
		if st.Identity == nil {
			return fmt.Errorf("sign_in without identity")
		}
		return s.SignIn(ctx, *st.Identity, st.Token)
	case OpSignOut:
		return s.SignOut(ctx)
	case OpCart:
		if st.Action == nil {
			return fmt.Errorf("cart step without action")
		}
		_, err := s.Apply(*st.Action)
		return err
	case OpCheckout:
		_, err := s.Checkout(ctx)
		return err
	case OpFetchOrders:
		b, err := s.FetchOrders(ctx)
		if err != nil {
			return err
		}
		res.Orders = b.Counts()
		return nil
	case OpLoadCatalog:
		return s.LoadCatalog(ctx)
	case OpAdvance:
		b, err := s.AdvanceOrder(ctx, st.OrderID)
		if err != nil {
			return err
		}
		res.Orders = b.Counts()
		return nil
	case OpReset:
		s.Reset()
		return nil
	case OpExpect:
		if st.Expect == nil {
			return nil
		}
		return check(s, *st.Expect)
	default:
		return fmt.Errorf("unknown op %q", st.Op)
	}
}

func check(s Session, e Expect) error {
	id, authed := s.Identity()
	c := s.Cart()
	if e.Authenticated != nil && *e.Authenticated != authed {
		return fmt.Errorf("%w: authenticated=%v want %v", ErrExpectation, authed, *e.Authenticated)
	}
	if e.Identity != "" && e.Identity != id.ID {
		return fmt.Errorf("%w: identity=%q want %q", ErrExpectation, id.ID, e.Identity)
	}
	if e.TotalQuantity != nil && *e.TotalQuantity != c.TotalQuantity() {
		return fmt.Errorf("%w: totalQuantity=%d want %d", ErrExpectation, c.TotalQuantity(), *e.TotalQuantity)
	}
	if e.TotalPrice != nil {
		want, err := cart.NewMoney(*e.TotalPrice)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrExpectation, err)
		}
		if !want.Equal(c.TotalPrice()) {
			return fmt.Errorf("%w: totalPrice=%s want %s", ErrExpectation, c.TotalPrice(), want)
		}
	}
	if e.Loaded != nil && *e.Loaded != c.Loaded() {
		return fmt.Errorf("%w: loaded=%v want %v", ErrExpectation, c.Loaded(), *e.Loaded)
	}
	if err := c.Check(); err != nil {
		return fmt.Errorf("%w: %v", ErrExpectation, err)
	}
	return nil
}
