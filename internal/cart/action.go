package cart

import "fmt"

// ActionKind names a reducer operation.
type ActionKind string

const (
	ActionAdd      ActionKind = "add"
	ActionIncrease ActionKind = "increase"
	ActionDecrease ActionKind = "decrease"
	ActionClear    ActionKind = "clear"
)

// Action is a serialisable cart operation. Product is used by add,
// ProductID by increase and decrease.
type Action struct {
	Kind      ActionKind `json:"kind"`
	Product   Product    `json:"product"`
	ProductID int64      `json:"productId,omitempty"`
}

// Apply runs act against the aggregate and reports whether it changed.
func (a *Aggregate) Apply(act Action) (bool, error) {
	switch act.Kind {
	case ActionAdd:
		a.Add(act.Product)
		return true, nil
	case ActionIncrease:
		return a.Increase(act.ProductID), nil
	case ActionDecrease:
		return a.Decrease(act.ProductID), nil
	case ActionClear:
		a.Clear()
		return true, nil
	default:
		return false, fmt.Errorf("unknown cart action %q", act.Kind)
	}
}
