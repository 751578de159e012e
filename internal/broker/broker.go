// Package broker provides the TradeStation integration: OAuth2 token
// management and bracket order submission.
package broker

import (
	"context"

	"alertbridge/internal/models"
)

// Submitter defines the interface for placing bracket orders.
type Submitter interface {
	// Submit places the entry and stop legs for alert and returns the ids
	// assigned to both. Failures are *errors.SubmitError values.
	Submit(ctx context.Context, alert models.TradeAlert) (*models.OrderResult, error)
}

// DryRun logs the bracket it would send and returns placeholder ids without
// contacting the brokerage.
type DryRun struct {
	ts *TradeStation
}

// NewDryRun wraps ts so that Submit only builds and logs the order.
func NewDryRun(ts *TradeStation) *DryRun {
	return &DryRun{ts: ts}
}

// Submit implements Submitter.
func (d *DryRun) Submit(ctx context.Context, alert models.TradeAlert) (*models.OrderResult, error) {
	bracket := d.ts.BuildBracket(alert)
	payload := newOrderRequest(bracket, d.ts.cfg.Route)
	d.ts.log.Info().
		Bool("dry_run", true).
		Interface("order", payload).
		Msg("Bracket order not sent")
	return &models.OrderResult{
		EntryOrderID: "dry-run-entry",
		StopOrderID:  "dry-run-stop",
		Symbol:       bracket.Entry.Symbol,
		Message:      "dry run",
		SubmittedAt:  d.ts.now(),
	}, nil
}

var (
	_ Submitter = (*TradeStation)(nil)
	_ Submitter = (*DryRun)(nil)
	_ Tokens    = (*TokenManager)(nil)
)
