package broker

import "errors"

// ErrNoMarketData is returned when a snapshot request yields no instruments at all.
var ErrNoMarketData = errors.New("no market data")

// OrderResult is the gateway's answer to a submitted order. A declined order
// has Success false and a Message; transport failures are returned as errors.
type OrderResult struct {
	Success     bool    `json:"success"`
	OrderID     string  `json:"order_id,omitempty"`
	FilledPrice float64 `json:"filled_price"`
	FilledQty   float64 `json:"filled_qty"`
	Message     string  `json:"message,omitempty"`
}

func declined(msg string) OrderResult {
	return OrderResult{Success: false, Message: msg}
}
