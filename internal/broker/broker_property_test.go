package broker

import (
	"strconv"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"alertbridge/internal/models"
)

// For any valid alert, the order payload carries a limit buy-to-open at the
// entry price whose only OSO child is a stop sell-to-close at the stop price on
// the same contract, account and quantity.
func TestProperty_BracketPayloadLinksStopToEntry(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("stop leg rides as the single OSO child of the entry", prop.ForAll(
		func(symbol string, call bool, strikeHalves, stopCents, spreadCents, quantity, days int) bool {
			optionType := models.OptionPut
			if call {
				optionType = models.OptionCall
			}
			alert, err := models.NewTradeAlert(symbol, optionType,
				decimal.New(int64(strikeHalves)*5, -1),
				time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, days),
				decimal.New(int64(stopCents+spreadCents), -2),
				decimal.New(int64(stopCents), -2))
			if err != nil {
				return false
			}

			ts := NewTradeStation(TradeStationConfig{BaseURL: "http://example.invalid", AccountKey: "SIM1", Quantity: quantity}, nil, zerolog.Nop())
			req := newOrderRequest(ts.BuildBracket(alert), ts.cfg.Route)

			if req.AccountID != "SIM1" || req.TradeAction != string(models.ActionBuyToOpen) ||
				req.OrderType != string(models.OrderTypeLimit) || req.StopPrice != "" {
				return false
			}
			if len(req.OSOs) != 1 || len(req.OSOs[0].Orders) != 1 {
				return false
			}
			exit := req.OSOs[0].Orders[0]
			if exit.Symbol != req.Symbol || exit.AccountID != req.AccountID || exit.Quantity != req.Quantity {
				return false
			}
			if exit.TradeAction != string(models.ActionSellToClose) || exit.OrderType != string(models.OrderTypeStopMarket) ||
				exit.LimitPrice != "" || len(exit.OSOs) != 0 {
				return false
			}
			if req.Quantity != strconv.Itoa(quantity) {
				return false
			}

			limit := decimal.RequireFromString(req.LimitPrice)
			stop := decimal.RequireFromString(exit.StopPrice)
			return limit.Equal(alert.EntryPrice) && stop.Equal(alert.StopPrice) && stop.LessThan(limit)
		},
		gen.OneConstOf("AAPL", "SPY", "TSLA", "F", "QQQ", "NVDA"),
		gen.Bool(),
		gen.IntRange(1, 2000),
		gen.IntRange(1, 5000),
		gen.IntRange(1, 500),
		gen.IntRange(1, 10),
		gen.IntRange(0, 700),
	))

	properties.TestingRun(t)
}
