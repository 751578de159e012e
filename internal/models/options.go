package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OptionContract identifies a single listed equity option.
type OptionContract struct {
	Root       string
	Expiration time.Time
	Type       OptionType
	Strike     decimal.Decimal
}

// TradeStationSymbol returns the contract in TradeStation symbology,
// e.g. "AAPL 241010C250" or "SPY 240119P472.5".
func (c OptionContract) TradeStationSymbol() string {
	return fmt.Sprintf("%s %s%s%s", c.Root, c.Expiration.Format("060102"), c.Type.Code(), c.Strike.String())
}

// OCCSymbol returns the 21-character OCC/OSI symbol,
// e.g. "AAPL  241010C00250000".
func (c OptionContract) OCCSymbol() string {
	strike := c.Strike.Shift(3).Round(0).IntPart()
	return fmt.Sprintf("%-6s%s%s%08d", c.Root, c.Expiration.Format("060102"), c.Type.Code(), strike)
}

// String returns a human readable description such as "AAPL 10/10/24 250 CALL".
func (c OptionContract) String() string {
	return fmt.Sprintf("%s %s %s %s", c.Root, c.Expiration.Format("01/02/06"), c.Strike.String(), c.Type)
}
