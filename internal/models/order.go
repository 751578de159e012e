package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderLeg is one side of a bracket order.
type OrderLeg struct {
	Symbol     string
	Action     OrderAction
	Type       OrderType
	Quantity   int
	LimitPrice decimal.Decimal
	StopPrice  decimal.Decimal
	Duration   string // DAY, GTC
}

// BracketOrder pairs a limit entry with a stop-loss exit that is only sent
// once the entry fills (one-triggers-other).
type BracketOrder struct {
	AccountKey string
	Contract   OptionContract
	Entry      OrderLeg
	Exit       OrderLeg
}

// OrderResult holds the brokerage-assigned ids of a submitted bracket order.
type OrderResult struct {
	EntryOrderID string    `json:"entry_order_id"`
	StopOrderID  string    `json:"stop_order_id"`
	Symbol       string    `json:"symbol"`
	Message      string    `json:"message,omitempty"`
	SubmittedAt  time.Time `json:"submitted_at"`
}
