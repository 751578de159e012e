package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"alertbridge/internal/errors"
)

// TradeAlert is a fully parsed and validated option trade alert. Use
// NewTradeAlert to construct one; a zero TradeAlert is never valid.
type TradeAlert struct {
	Symbol     string          `json:"symbol"`
	OptionType OptionType      `json:"option_type"`
	Strike     decimal.Decimal `json:"strike"`
	Expiration time.Time       `json:"expiration"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	StopPrice  decimal.Decimal `json:"stop_price"`
}

// NewTradeAlert validates the fields and returns the alert. The stop must sit
// strictly below the entry since only long, debit-entry positions are opened.
func NewTradeAlert(symbol string, optionType OptionType, strike decimal.Decimal, expiration time.Time, entry, stop decimal.Decimal) (TradeAlert, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	switch {
	case symbol == "":
		return TradeAlert{}, errors.NewParseError(errors.ReasonSymbol, "symbol is empty")
	case !optionType.Valid():
		return TradeAlert{}, errors.NewParseError(errors.ReasonOptionType, "unknown option type %q", optionType)
	case !strike.IsPositive():
		return TradeAlert{}, errors.NewParseError(errors.ReasonStrike, "strike %s must be positive", strike)
	case expiration.IsZero():
		return TradeAlert{}, errors.NewParseError(errors.ReasonExpiration, "expiration is missing")
	case !entry.IsPositive():
		return TradeAlert{}, errors.NewParseError(errors.ReasonEntry, "entry price %s must be positive", entry)
	case !stop.IsPositive():
		return TradeAlert{}, errors.NewParseError(errors.ReasonStop, "stop price %s must be positive", stop)
	case !stop.LessThan(entry):
		return TradeAlert{}, errors.NewParseError(errors.ReasonPriceOrder, "stop %s must be below entry %s", stop, entry)
	}

	return TradeAlert{
		Symbol:     symbol,
		OptionType: optionType,
		Strike:     strike,
		Expiration: expiration,
		EntryPrice: entry,
		StopPrice:  stop,
	}, nil
}

// Contract returns the option contract the alert refers to.
func (a TradeAlert) Contract() OptionContract {
	return OptionContract{
		Root:       a.Symbol,
		Expiration: a.Expiration,
		Type:       a.OptionType,
		Strike:     a.Strike,
	}
}

// Equal reports whether two alerts carry the same values.
func (a TradeAlert) Equal(b TradeAlert) bool {
	return a.Symbol == b.Symbol &&
		a.OptionType == b.OptionType &&
		a.Strike.Equal(b.Strike) &&
		a.Expiration.Equal(b.Expiration) &&
		a.EntryPrice.Equal(b.EntryPrice) &&
		a.StopPrice.Equal(b.StopPrice)
}
