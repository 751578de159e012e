package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Alert bridge configuration
#
# Every key may also be set as an environment variable of the same name in
# upper case (for example TS_CLIENT_ID). The environment wins over this file.

# Discord bot credentials and the channel to watch
discord_token = ""
discord_channel_id = ""

# TradeStation application credentials
ts_client_id = ""
ts_client_secret = ""
ts_redirect_uri = "http://localhost:3000/callback"
# Mint one with: alertbridge auth url, then alertbridge auth exchange <code>
ts_refresh_token = ""
ts_account_key = ""

# Simulator by default. Live trading uses https://api.tradestation.com/v3
ts_base_url = "` + DefaultBaseURL + `"

# Order defaults
ts_quantity = 1
ts_entry_duration = "DAY"
ts_stop_duration = "GTC"
ts_route = "Intelligent"

# Timeout for every brokerage call
http_timeout = "15s"
# Time zone used to resolve alert expiration dates
market_timezone = "` + DefaultMarketTimezone + `"

# Parse and log orders without sending them
dry_run = false

# Logging: debug, info, warn, error
log_level = "info"
log_file = ""

# Optional notifications
notify_discord_webhook = ""
notify_telegram_token = ""
notify_telegram_chat_id = ""
`

// WriteTemplate creates alertbridge.toml in configDir. An existing file is
// left untouched and reported as an error.
func WriteTemplate(configDir string) (string, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "alertbridge.toml")
	if _, err := os.Stat(path); err == nil {
		return path, fmt.Errorf("config file already exists at %s", path)
	}

	// The file holds credentials once filled in.
	if err := os.WriteFile(path, []byte(configTemplate), 0600); err != nil {
		return "", fmt.Errorf("writing config template: %w", err)
	}
	return path, nil
}
