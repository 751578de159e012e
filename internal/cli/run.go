package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"alertbridge/internal/broker"
	"alertbridge/internal/discord"
	"alertbridge/internal/errors"
	"alertbridge/internal/notify"
	"alertbridge/internal/trading"
)

func newRunCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Listen for alerts and place bracket orders",
		Long: `Connect to the Discord gateway, watch the configured channel and submit a
bracket order for every trade alert. Runs until interrupted.`,
		Example: `  alertbridge run
  alertbridge run --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Config.Validate(); err != nil {
				return err
			}
			if cmd.Flags().Changed("dry-run") {
				app.Config.DryRun, _ = cmd.Flags().GetBool("dry-run")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runBridge(ctx, app)
		},
	}

	cmd.Flags().Bool("dry-run", false, "parse alerts and log orders without sending them")
	return cmd
}

func runBridge(ctx context.Context, app *App) error {
	cfg := app.Config
	log := app.Logger

	tokens := broker.NewTokenManager(cfg.OAuth(), log)
	ts := broker.NewTradeStation(cfg.Orders(), tokens, log)

	var submitter broker.Submitter = ts
	if cfg.DryRun {
		submitter = broker.NewDryRun(ts)
		log.Warn().Msg("Dry run: orders will be logged, not sent")
	} else if _, err := tokens.ValidToken(ctx); err != nil {
		// Not fatal: the next alert tries again.
		log.Error().Err(err).Msg("Initial access token refresh failed")
	}

	notifier, err := notify.NewMultiNotifier(cfg.Notify, log)
	if err != nil {
		return err
	}

	handler := trading.NewAlertHandler(trading.HandlerConfig{
		ChannelID: cfg.Discord.ChannelID,
		Location:  cfg.MarketLocation(),
	}, submitter, notifier, log)

	listener := discord.NewListener(discord.Config{
		Token:      cfg.Discord.Token,
		GatewayURL: cfg.Discord.GatewayURL,
	}, handler, log)

	log.Info().
		Str("channel_id", cfg.Discord.ChannelID).
		Str("account", cfg.TradeStation.AccountKey).
		Str("base_url", cfg.TradeStation.BaseURL).
		Strs("notify", notifier.Channels()).
		Bool("dry_run", cfg.DryRun).
		Bool("authenticated", tokens.IsAuthenticated()).
		Msg("Starting alert bridge")

	if err := notifier.Send(ctx, notify.StartupNotification(cfg.Discord.ChannelID, cfg.TradeStation.AccountKey, cfg.DryRun)); err != nil {
		log.Warn().Err(err).Msg("Startup notification failed")
	}

	err = listener.Run(ctx)
	if errors.Is(err, context.Canceled) {
		log.Info().Msg("Alert bridge stopped")
		return nil
	}
	return err
}
