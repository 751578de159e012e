// Package cli provides the command-line interface for the alert bridge.
package cli

import (
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"alertbridge/internal/config"
	"alertbridge/internal/logging"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2026-10-14"
)

// App holds the application dependencies.
type App struct {
	Config    *config.Config
	ConfigDir string
	Logger    zerolog.Logger
}

// NewRootCmd creates the root command for the CLI. Configuration is loaded
// before any subcommand runs; only run requires it to be complete.
func NewRootCmd(logger zerolog.Logger) *cobra.Command {
	app := &App{Logger: logger}

	rootCmd := &cobra.Command{
		Use:   "alertbridge",
		Short: "Discord trade alerts to TradeStation bracket orders",
		Long: `alertbridge watches one Discord channel for option trade alerts such as

  AAPL - $250 CALLS EXPIRATION 10/10 $1.29 STOP LOSS AT $1.00

and places a limit entry with a linked stop-loss on a TradeStation account.

Configuration comes from the environment, an optional .env file and an
optional alertbridge.toml in the config directory.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("config")
			envFiles, _ := cmd.Flags().GetStringSlice("env-file")

			cfg, err := config.Load(config.LoadOptions{ConfigDir: dir, EnvFiles: envFiles})
			if err != nil {
				return err
			}
			app.Config = cfg
			app.ConfigDir = dir

			logCfg := logging.DefaultLogConfig()
			logCfg.Level = cfg.Log.Level
			logCfg.FilePath = cfg.Log.File
			logCfg.Out = cmd.ErrOrStderr()
			app.Logger = logging.NewLoggerWithConfig(logCfg)

			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/alertbridge)")
	rootCmd.PersistentFlags().StringSlice("env-file", []string{".env"}, "dotenv files to load")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newRunCmd(app))
	rootCmd.AddCommand(newParseCmd(app))
	rootCmd.AddCommand(newAuthCmd(app))

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			}
			output.Printf("alertbridge v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
			return nil
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View, validate and create the alert bridge configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			values := maskedValues(app.Config)
			if output.IsJSON() {
				return output.JSON(values)
			}
			pairs := make([][2]string, 0, len(values))
			for _, key := range config.Keys() {
				v := values[key]
				if v == "" {
					v = output.dimText("(unset)")
				}
				pairs = append(pairs, [2]string{key, v})
			}
			output.Bold("Configuration")
			output.KeyValues(pairs)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			path := filepath.Join(configDir(app), "alertbridge.toml")
			if output.IsJSON() {
				_ = output.JSON(map[string]string{"path": path})
			} else {
				output.Println(path)
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check that every required key is set",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("✓ Configuration is valid")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a commented alertbridge.toml template",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			path, err := config.WriteTemplate(configDir(app))
			if err != nil {
				output.Error("%v", err)
				return err
			}
			output.Success("✓ Created %s", path)
			output.Println("Fill in the credentials, then run: alertbridge config validate")
			return nil
		},
	})

	return cmd
}

func configDir(app *App) string {
	if app.ConfigDir != "" {
		return app.ConfigDir
	}
	return config.DefaultConfigDir()
}

func maskedValues(cfg *config.Config) map[string]string {
	values := make(map[string]string)
	for _, key := range config.Keys() {
		v := cfg.Value(key)
		if config.SecretKeys[key] {
			v = logging.Mask(v)
		}
		values[key] = v
	}
	return values
}

func (o *Output) dimText(text string) string {
	if o.colorEnabled {
		return ColorDim + text + ColorReset
	}
	return text
}
