package orders

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Flag is a boolean that decodes from true/false, 0/1 or their quoted forms.
// The backend stores order flags as tinyint columns.
type Flag bool

func (f *Flag) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	switch strings.ToLower(s) {
	case "true", "1":
		*f = true
	case "false", "0", "", "null":
		*f = false
	default:
		return fmt.Errorf("invalid flag %s", b)
	}
	return nil
}

// Int is an integer that decodes from a number or a numeric string.
type Int int64

func (n *Int) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || f != float64(int64(f)) {
			return fmt.Errorf("invalid integer %s", b)
		}
		v = int64(f)
	}
	*n = Int(v)
	return nil
}

// Record is an order as the backend returns it. OrderItems is kept raw so a
// bad payload only degrades that order's item list.
type Record struct {
	ID          Int             `json:"id"`
	IsPaid      Flag            `json:"is_paid"`
	IsDelivered Flag            `json:"is_delivered"`
	TotalPrice  Int             `json:"total_price"`
	ItemNumbers Int             `json:"item_numbers"`
	OrderItems  json.RawMessage `json:"order_items"`
}

// DecodeRecords splits a JSON array of orders into records. Elements that
// cannot be decoded are skipped and reported; the rest of the batch survives.
func DecodeRecords(data []byte) ([]Record, []error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, []error{fmt.Errorf("decode order batch: %w", err)}
	}
	out := make([]Record, 0, len(raw))
	var warnings []error
	for i, r := range raw {
		var rec Record
		if err := json.Unmarshal(r, &rec); err != nil {
			warnings = append(warnings, fmt.Errorf("decode order #%d: %w", i, err))
			continue
		}
		out = append(out, rec)
	}
	return out, warnings
}
