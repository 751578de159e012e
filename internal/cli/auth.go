package cli

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"alertbridge/internal/broker"
	"alertbridge/internal/config"
	"alertbridge/internal/errors"
	"alertbridge/internal/logging"
)

// Scopes requested when minting a refresh token. offline_access is what makes
// TradeStation issue one.
var authScopes = []string{"openid", "profile", "offline_access", "MarketData", "ReadAccount", "Trade"}

// tradeStationAudience is required by the TradeStation authorize endpoint.
const tradeStationAudience = "https://api.tradestation.com"

func newAuthCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "TradeStation authentication",
		Long: `Obtain and check TradeStation credentials.

The bridge only needs a long-lived refresh token. Mint one once with
'auth url' and 'auth exchange', store it as TS_REFRESH_TOKEN, and use
'auth check' to confirm it still works.`,
	}

	cmd.AddCommand(newAuthURLCmd(app))
	cmd.AddCommand(newAuthExchangeCmd(app))
	cmd.AddCommand(newAuthCheckCmd(app))
	return cmd
}

func requireKeys(cfg *config.Config, keys ...string) error {
	cerr := &errors.ConfigError{}
	for _, k := range keys {
		if cfg.Value(k) == "" {
			cerr.Missing = append(cerr.Missing, k)
		}
	}
	if len(cerr.Missing) > 0 {
		return cerr
	}
	return nil
}

func newAuthURLCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "url",
		Short: "Print the authorization URL to start the login flow",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := requireKeys(app.Config, config.KeyClientID, config.KeyRedirectURI); err != nil {
				return err
			}

			state, _ := cmd.Flags().GetString("state")
			url := app.Config.OAuth().OAuth2Config(authScopes...).AuthCodeURL(state,
				oauth2.AccessTypeOffline,
				oauth2.SetAuthURLParam("audience", tradeStationAudience),
			)

			if output.IsJSON() {
				return output.JSON(map[string]string{"url": url})
			}
			output.Bold("Authorization URL:")
			output.Println(url)
			output.Println()

			if open, _ := cmd.Flags().GetBool("open"); open {
				if err := openURL(url); err != nil {
					output.Warning("Could not open browser automatically")
				}
			}
			output.Info("After logging in you are redirected to a URL like:")
			output.Dim("  %s?code=XXXXXX", app.Config.TradeStation.RedirectURI)
			output.Println("Then run: alertbridge auth exchange <code>")
			return nil
		},
	}

	cmd.Flags().String("state", "alertbridge", "opaque state echoed back on redirect")
	cmd.Flags().Bool("open", false, "open the URL in a browser")
	return cmd
}

func newAuthExchangeCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "exchange <code>",
		Short: "Exchange an authorization code for a refresh token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := requireKeys(app.Config, config.KeyClientID, config.KeyClientSecret, config.KeyRedirectURI); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout(app))
			defer cancel()
			ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Timeout: timeout(app)})

			code := strings.TrimSpace(args[0])
			tok, err := app.Config.OAuth().OAuth2Config(authScopes...).Exchange(ctx, code)
			if err != nil {
				output.Error("Exchange failed: %s", logging.MaskSecrets(err.Error()))
				return err
			}
			if tok.RefreshToken == "" {
				output.Error("No refresh token returned; the offline_access scope may be missing")
				return errors.ErrNotAuthenticated
			}

			if output.IsJSON() {
				return output.JSON(map[string]string{
					"refresh_token": tok.RefreshToken,
					"expires_at":    tok.Expiry.Format(time.RFC3339),
				})
			}
			output.Success("✓ Authorization code exchanged")
			output.Println()
			output.Bold("Refresh token (store as %s):", config.KeyRefreshToken)
			output.Println(tok.RefreshToken)
			return nil
		},
	}
}

func newAuthCheckCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Refresh an access token to verify the stored credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := requireKeys(app.Config, config.KeyClientID, config.KeyClientSecret, config.KeyRefreshToken); err != nil {
				return err
			}

			tm := broker.NewTokenManager(app.Config.OAuth(), app.Logger)
			tok, err := tm.ValidToken(cmd.Context())
			if err != nil {
				output.Error("✗ Token refresh failed: %s", logging.MaskSecrets(err.Error()))
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"authenticated": true,
					"expires_at":    tok.ExpiresAt,
					"token":         logging.Mask(tok.Value),
				})
			}
			output.Success("✓ Credentials are valid")
			output.KeyValues([][2]string{
				{"Access token", logging.Mask(tok.Value)},
				{"Expires", tok.ExpiresAt.Local().Format(time.RFC1123)},
				{"Valid for", formatDuration(time.Until(tok.ExpiresAt))},
			})
			return nil
		},
	}
}

func timeout(app *App) time.Duration {
	if app.Config.HTTPTimeout > 0 {
		return app.Config.HTTPTimeout
	}
	return broker.DefaultTimeout
}

// openURL opens the specified URL in the default browser.
func openURL(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform")
	}
	return cmd.Start()
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "expired"
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
