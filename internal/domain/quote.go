package domain

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// AdjustmentDescription labels the line added when an approver raises the quote total.
const AdjustmentDescription = "Correctie"

// QuoteTotal sums the line item amounts.
func QuoteTotal(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Amount)
	}
	return total
}

// AdjustLineItems rewrites items so that they sum to target.
// A positive difference becomes an extra correction line; a negative one is
// taken from the last items first, never driving an amount below zero.
func AdjustLineItems(items []LineItem, target decimal.Decimal) ([]LineItem, error) {
	if target.IsNegative() {
		return nil, &ValidationError{Field: "adjusted_value", Reason: "must not be negative"}
	}
	out := cloneSlice(items)
	delta := target.Sub(QuoteTotal(items))
	switch delta.Sign() {
	case 0:
		return out, nil
	case 1:
		return append(out, LineItem{Description: AdjustmentDescription, Amount: delta}), nil
	}
	remaining := delta.Neg()
	for i := len(out) - 1; i >= 0 && remaining.IsPositive(); i-- {
		take := decimal.Min(out[i].Amount, remaining)
		out[i].Amount = out[i].Amount.Sub(take)
		remaining = remaining.Sub(take)
	}
	return out, nil
}

// ParseQuoteDescription accepts either plain text or a JSON encoded QuoteDetails
// as found in older records.
func ParseQuoteDescription(raw string) QuoteDetails {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") {
		var d QuoteDetails
		if err := json.Unmarshal([]byte(trimmed), &d); err == nil {
			return d
		}
	}
	return QuoteDetails{Description: raw}
}
