// Package config provides configuration management for the alert bridge.
package config

import (
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // MARKET_TIMEZONE must resolve in minimal containers

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"alertbridge/internal/broker"
	"alertbridge/internal/errors"
)

// Configuration keys. Each one is read from the environment under the same
// name, or from the lowercase key in alertbridge.toml.
const (
	KeyDiscordToken     = "DISCORD_TOKEN"
	KeyDiscordChannelID = "DISCORD_CHANNEL_ID"
	KeyClientID         = "TS_CLIENT_ID"
	KeyClientSecret     = "TS_CLIENT_SECRET"
	KeyAccountKey       = "TS_ACCOUNT_KEY"
	KeyRedirectURI      = "TS_REDIRECT_URI"
	KeyRefreshToken     = "TS_REFRESH_TOKEN"
	KeyBaseURL          = "TS_BASE_URL"
	KeyTokenURL         = "TS_TOKEN_URL"
	KeyAuthorizeURL     = "TS_AUTHORIZE_URL"
	KeyQuantity         = "TS_QUANTITY"
	KeyEntryDuration    = "TS_ENTRY_DURATION"
	KeyStopDuration     = "TS_STOP_DURATION"
	KeyRoute            = "TS_ROUTE"
	KeyHTTPTimeout      = "HTTP_TIMEOUT"
	KeyMarketTimezone   = "MARKET_TIMEZONE"
	KeyLogLevel         = "LOG_LEVEL"
	KeyLogFile          = "LOG_FILE"
	KeyDiscordWebhook   = "NOTIFY_DISCORD_WEBHOOK"
	KeyTelegramToken    = "NOTIFY_TELEGRAM_TOKEN"
	KeyTelegramChatID   = "NOTIFY_TELEGRAM_CHAT_ID"
	KeyDryRun           = "DRY_RUN"
	KeyDiscordGateway   = "DISCORD_GATEWAY_URL"
)

// Defaults for optional keys.
const (
	// DefaultBaseURL is the simulator; it is only written into templates.
	DefaultBaseURL        = "https://sim-api.tradestation.com/v3"
	DefaultTokenURL       = "https://signin.tradestation.com/oauth/token"
	DefaultAuthorizeURL   = "https://signin.tradestation.com/authorize"
	DefaultMarketTimezone = "America/New_York"
	DefaultGatewayURL     = "wss://gateway.discord.gg/?v=10&encoding=json"
)

// RequiredKeys must be non-empty for the bridge to start.
var RequiredKeys = []string{
	KeyDiscordToken,
	KeyDiscordChannelID,
	KeyClientID,
	KeyClientSecret,
	KeyAccountKey,
	KeyRedirectURI,
	KeyRefreshToken,
	KeyBaseURL,
}

// SecretKeys are masked whenever configuration is displayed.
var SecretKeys = map[string]bool{
	KeyDiscordToken:   true,
	KeyClientSecret:   true,
	KeyRefreshToken:   true,
	KeyTelegramToken:  true,
	KeyDiscordWebhook: true,
}

// Config holds all application configuration.
type Config struct {
	Discord      DiscordConfig
	TradeStation TradeStationConfig
	Notify       NotifyConfig
	Log          LogConfig

	HTTPTimeout time.Duration
	Location    *time.Location
	DryRun      bool

	// values keeps the raw strings for display.
	values map[string]string
	// invalid collects keys whose values failed to convert.
	invalid map[string]string
}

// DiscordConfig holds the listener credentials.
type DiscordConfig struct {
	Token      string
	ChannelID  string
	GatewayURL string
}

// TradeStationConfig holds brokerage credentials and order defaults.
type TradeStationConfig struct {
	ClientID      string
	ClientSecret  string
	AccountKey    string
	RedirectURI   string
	RefreshToken  string
	BaseURL       string
	TokenURL      string
	AuthorizeURL  string
	Quantity      int
	EntryDuration string
	StopDuration  string
	Route         string
}

// NotifyConfig holds optional notification channels.
type NotifyConfig struct {
	DiscordWebhook string
	TelegramToken  string
	TelegramChatID int64
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string
	File  string
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/alertbridge"
	}
	return filepath.Join(home, ".config", "alertbridge")
}

// LoadOptions controls where configuration is read from.
type LoadOptions struct {
	// ConfigDir is searched for alertbridge.toml. Empty uses DefaultConfigDir.
	ConfigDir string
	// EnvFiles are loaded into the process environment without overriding
	// variables that are already set. Missing files are ignored.
	EnvFiles []string
}

// Load reads configuration from .env files, the optional TOML file and the
// environment, in increasing order of precedence. It does not validate.
func Load(opts LoadOptions) (*Config, error) {
	for _, f := range opts.EnvFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, errors.Wrapf(err, "loading %s", f)
		}
	}

	configDir := opts.ConfigDir
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := viper.New()
	v.SetConfigName("alertbridge")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v)
	for _, key := range allKeys() {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(err, "reading alertbridge.toml")
		}
	}

	return fromViper(v), nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyTokenURL, DefaultTokenURL)
	v.SetDefault(KeyAuthorizeURL, DefaultAuthorizeURL)
	v.SetDefault(KeyQuantity, broker.DefaultQuantity)
	v.SetDefault(KeyEntryDuration, broker.DefaultEntryDuration)
	v.SetDefault(KeyStopDuration, broker.DefaultStopDuration)
	v.SetDefault(KeyRoute, broker.DefaultRoute)
	v.SetDefault(KeyHTTPTimeout, broker.DefaultTimeout.String())
	v.SetDefault(KeyMarketTimezone, DefaultMarketTimezone)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyDryRun, false)
	v.SetDefault(KeyDiscordGateway, DefaultGatewayURL)
}

func allKeys() []string {
	return append(append([]string{}, RequiredKeys...),
		KeyTokenURL, KeyAuthorizeURL, KeyQuantity, KeyEntryDuration, KeyStopDuration,
		KeyRoute, KeyHTTPTimeout, KeyMarketTimezone, KeyLogLevel, KeyLogFile,
		KeyDiscordWebhook, KeyTelegramToken, KeyTelegramChatID, KeyDryRun, KeyDiscordGateway,
	)
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{
		values:  make(map[string]string),
		invalid: make(map[string]string),
	}
	get := func(key string) string {
		s := strings.TrimSpace(v.GetString(key))
		cfg.values[key] = s
		return s
	}

	cfg.Discord = DiscordConfig{
		Token:      get(KeyDiscordToken),
		ChannelID:  get(KeyDiscordChannelID),
		GatewayURL: get(KeyDiscordGateway),
	}
	cfg.TradeStation = TradeStationConfig{
		ClientID:      get(KeyClientID),
		ClientSecret:  get(KeyClientSecret),
		AccountKey:    get(KeyAccountKey),
		RedirectURI:   get(KeyRedirectURI),
		RefreshToken:  get(KeyRefreshToken),
		BaseURL:       get(KeyBaseURL),
		TokenURL:      get(KeyTokenURL),
		AuthorizeURL:  get(KeyAuthorizeURL),
		EntryDuration: strings.ToUpper(get(KeyEntryDuration)),
		StopDuration:  strings.ToUpper(get(KeyStopDuration)),
		Route:         get(KeyRoute),
	}
	cfg.Log = LogConfig{Level: get(KeyLogLevel), File: get(KeyLogFile)}
	cfg.Notify = NotifyConfig{
		DiscordWebhook: get(KeyDiscordWebhook),
		TelegramToken:  get(KeyTelegramToken),
	}

	if s := get(KeyQuantity); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			cfg.invalid[KeyQuantity] = "must be a positive integer"
		}
		cfg.TradeStation.Quantity = n
	}
	if s := get(KeyHTTPTimeout); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			cfg.invalid[KeyHTTPTimeout] = "must be a positive duration such as 15s"
		}
		cfg.HTTPTimeout = d
	}
	if s := get(KeyMarketTimezone); s != "" {
		loc, err := time.LoadLocation(s)
		if err != nil {
			cfg.invalid[KeyMarketTimezone] = "unknown time zone"
		}
		cfg.Location = loc
	}
	if s := get(KeyTelegramChatID); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			cfg.invalid[KeyTelegramChatID] = "must be a numeric chat id"
		}
		cfg.Notify.TelegramChatID = id
	}
	if s := get(KeyDryRun); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			cfg.invalid[KeyDryRun] = "must be true or false"
		}
		cfg.DryRun = b
	}

	return cfg
}

// Validate reports every missing required key and every invalid value in a
// single *errors.ConfigError.
func (c *Config) Validate() error {
	cerr := &errors.ConfigError{Invalid: make(map[string]string)}
	for k, msg := range c.invalid {
		cerr.Invalid[k] = msg
	}

	for _, key := range RequiredKeys {
		if c.values[key] == "" {
			cerr.Missing = append(cerr.Missing, key)
		}
	}

	for _, key := range []string{KeyBaseURL, KeyTokenURL, KeyRedirectURI} {
		if s := c.values[key]; s != "" && !validURL(s) {
			cerr.Invalid[key] = "must be an absolute http(s) URL"
		}
	}
	if s := c.values[KeyDiscordWebhook]; s != "" && !validURL(s) {
		cerr.Invalid[KeyDiscordWebhook] = "must be an absolute http(s) URL"
	}
	if (c.Notify.TelegramToken == "") != (c.values[KeyTelegramChatID] == "") {
		cerr.Invalid[KeyTelegramChatID] = "telegram token and chat id must be set together"
	}

	if len(cerr.Missing) == 0 && len(cerr.Invalid) == 0 {
		return nil
	}
	return cerr
}

func validURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Value returns the raw string for key.
func (c *Config) Value(key string) string {
	return c.values[key]
}

// Keys returns every known key in display order.
func Keys() []string {
	return allKeys()
}

// OAuth returns the token manager settings.
func (c *Config) OAuth() broker.OAuthConfig {
	return broker.OAuthConfig{
		ClientID:     c.TradeStation.ClientID,
		ClientSecret: c.TradeStation.ClientSecret,
		RedirectURI:  c.TradeStation.RedirectURI,
		RefreshToken: c.TradeStation.RefreshToken,
		TokenURL:     c.TradeStation.TokenURL,
		AuthorizeURL: c.TradeStation.AuthorizeURL,
		Timeout:      c.HTTPTimeout,
	}
}

// Orders returns the order client settings.
func (c *Config) Orders() broker.TradeStationConfig {
	return broker.TradeStationConfig{
		BaseURL:       c.TradeStation.BaseURL,
		AccountKey:    c.TradeStation.AccountKey,
		Quantity:      c.TradeStation.Quantity,
		EntryDuration: c.TradeStation.EntryDuration,
		StopDuration:  c.TradeStation.StopDuration,
		Route:         c.TradeStation.Route,
		Timeout:       c.HTTPTimeout,
	}
}

// MarketLocation returns the zone used to interpret alert dates.
func (c *Config) MarketLocation() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}
