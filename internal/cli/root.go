// Package cli provides the command-line interface for the alerts pipeline.
package cli

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"nse-alerts/internal/config"
	"nse-alerts/internal/logging"
	"nse-alerts/internal/store"
)

// Version information, overridden at build time with -ldflags.
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
)

// skipConfig marks commands that run without loading configuration.
const skipConfig = "skip-config"

// App holds the application dependencies.
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	store *store.SQLiteStore
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd() *cobra.Command {
	app := &App{Logger: zerolog.Nop()}

	rootCmd := &cobra.Command{
		Use:   "nse-alerts",
		Short: "NSE corporate announcement alerts",
		Long: `nse-alerts polls the NSE corporate-announcement feed, detects new
announcements against a local ledger, and forwards them to Telegram chats,
email addresses and webhooks according to a keyword routing sheet.

Use 'nse-alerts <command> --help' for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.init(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			app.Close()
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/nse-alerts)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	addPipelineCommands(rootCmd, app)
	addLedgerCommands(rootCmd, app)
	addRulesCommands(rootCmd, app)
	addHistoryCommands(rootCmd, app)
	addMaintenanceCommands(rootCmd, app)

	return rootCmd
}

func (a *App) init(cmd *cobra.Command) error {
	if cmd.Annotations[skipConfig] == "true" {
		return nil
	}

	dir, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}
	a.Config = cfg

	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		cfg.Logging.Level = "debug"
	}
	a.Logger = logging.NewLoggerWithConfig(cfg.Logging)
	a.Logger.Debug().Str("config_dir", cfg.Dir()).Msg("Configuration loaded")
	return nil
}

// Store opens the message store on first use.
func (a *App) Store() (*store.SQLiteStore, error) {
	if a.store != nil {
		return a.store, nil
	}
	s, err := store.NewSQLiteStore(a.Config.Dashboard.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening message store: %w", err)
	}
	a.store = s
	return s, nil
}

// Close releases resources opened by commands.
func (a *App) Close() {
	if a.store != nil {
		a.store.Close()
		a.store = nil
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Annotations: map[string]string{skipConfig: "true"},
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("nse-alerts v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}
