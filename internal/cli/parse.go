package cli

import (
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"alertbridge/internal/broker"
	"alertbridge/internal/errors"
	"alertbridge/internal/models"
	"alertbridge/internal/parser"
)

type parseResult struct {
	Alert         *models.TradeAlert `json:"alert,omitempty"`
	Contract      string             `json:"contract,omitempty"`
	OCC           string             `json:"occ,omitempty"`
	Quantity      int                `json:"quantity,omitempty"`
	Reason        string             `json:"reason,omitempty"`
	Error         string             `json:"error,omitempty"`
	ReferenceTime time.Time          `json:"reference_time"`
}

func newParseCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "parse <message>",
		Short: "Parse a message as a trade alert without placing an order",
		Example: `  alertbridge parse "AAPL - \$250 CALLS EXPIRATION 10/10 \$1.29 STOP LOSS AT \$1.00"
  alertbridge parse --today 2024-01-15 "SPY - \$470 PUTS EXP 01/19 \$2.10 SL \$1.50"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			loc := app.Config.MarketLocation()

			now := time.Now().In(loc)
			if s, _ := cmd.Flags().GetString("today"); s != "" {
				d, err := time.ParseInLocation("2006-01-02", s, loc)
				if err != nil {
					return errors.Wrap(err, "parsing --today")
				}
				now = d
			}

			res := parseResult{ReferenceTime: now}
			alert, err := parser.Parse(strings.Join(args, " "), now)
			if err != nil {
				res.Error = err.Error()
				var pe *errors.ParseError
				if errors.As(err, &pe) {
					res.Reason = string(pe.Reason)
				}
				if output.IsJSON() {
					_ = output.JSON(res)
				} else {
					output.Error("✗ Not a trade alert (%s)", res.Reason)
					output.Dim("%s", res.Error)
				}
				return err
			}

			quantity := app.Config.TradeStation.Quantity
			if quantity <= 0 {
				quantity = broker.DefaultQuantity
			}
			contract := alert.Contract()
			res.Alert = &alert
			res.Contract = contract.TradeStationSymbol()
			res.OCC = contract.OCCSymbol()
			res.Quantity = quantity

			if output.IsJSON() {
				return output.JSON(res)
			}
			output.Success("✓ Trade alert")
			output.KeyValues([][2]string{
				{"Symbol", alert.Symbol},
				{"Type", string(alert.OptionType)},
				{"Strike", alert.Strike.String()},
				{"Expiration", alert.Expiration.Format("2006-01-02")},
				{"Entry", "$" + alert.EntryPrice.StringFixed(2)},
				{"Stop", "$" + alert.StopPrice.StringFixed(2)},
				{"Contract", res.Contract},
				{"OCC", res.OCC},
				{"Quantity", strconv.Itoa(quantity)},
			})
			return nil
		},
	}

	cmd.Flags().String("today", "", "reference date for year inference (YYYY-MM-DD)")
	return cmd
}
