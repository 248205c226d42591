package cli

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"nse-alerts/internal/config"
	"nse-alerts/internal/retention"
	"nse-alerts/internal/security"
)

func addMaintenanceCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newRenderCmd(app))
	rootCmd.AddCommand(newCleanupCmd(app))

	db := &cobra.Command{
		Use:   "db",
		Short: "Message store maintenance",
	}
	db.AddCommand(newDBResetCmd(app))
	rootCmd.AddCommand(db)
}

func newRenderCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "render <xml-url>",
		Short:   "Render one XBRL attachment to PDF",
		Args:    cobra.ExactArgs(1),
		Example: `  nse-alerts render https://nsearchives.nseindia.com/corporate/xbrl/OUTCOME_1477176_04072025121116_WEB.xml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			pipe, err := app.enricher(cmd.Context())
			if err != nil {
				return err
			}
			link, err := pipe.Render(cmd.Context(), args[0])
			if err != nil {
				output.Error("Render failed: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]string{"source": args[0], "document": link})
			}
			output.Success("Rendered %s", link)
			return nil
		},
	}
}

func newCleanupCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete generated files past their retention age",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			all, _ := cmd.Flags().GetBool("all")

			cfg := app.Config.Retention
			policies := retention.DefaultPolicies(cfg.FilesDir, cfg.PDFMaxAge, cfg.MediaMaxAge)
			if all {
				for i := range policies {
					policies[i].MaxAge = 0
				}
			}

			results, err := retention.SweepAll(cmd.Context(), policies, dryRun, app.Logger)
			if output.IsJSON() {
				if jerr := output.JSON(results); jerr != nil {
					return jerr
				}
				return err
			}

			verb := "Removed"
			if dryRun {
				verb = "Would remove"
			}
			table := NewTable(output, "Policy", "Scanned", verb, "Size", "Errors")
			for _, r := range results {
				table.AddRow(r.Policy, fmt.Sprint(r.Scanned), fmt.Sprint(len(r.Removed)), FormatBytes(r.Bytes), fmt.Sprint(len(r.Errors)))
			}
			table.AlignRight(2, 3, 4, 5)
			table.Render()
			return err
		},
	}
	cmd.Flags().Bool("dry-run", false, "list what would be removed without removing it")
	cmd.Flags().Bool("all", false, "remove every generated file regardless of age")
	return cmd
}

func newDBResetCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Drop and recreate the message store tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if yes, _ := cmd.Flags().GetBool("yes"); !yes {
				output.Warning("This deletes every recorded notification and metric in %s", app.Config.Dashboard.DBPath)
				output.Println("Re-run with --yes to confirm.")
				return fmt.Errorf("reset not confirmed")
			}
			s, err := app.Store()
			if err != nil {
				return err
			}
			if err := s.Reset(cmd.Context()); err != nil {
				return err
			}
			output.Success("Message store reset")
			return nil
		},
	}
	cmd.Flags().Bool("yes", false, "confirm the reset")
	return cmd
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			settings := security.MaskSettings(app.Config.Settings())
			if output.IsJSON() {
				return output.JSON(settings)
			}

			keys := make([]string, 0, len(settings))
			for k := range settings {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			table := NewTable(output, "Key", "Value")
			for _, k := range keys {
				table.AddRow(k, fmt.Sprint(settings[k]))
			}
			table.Render()
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:         "path",
		Short:       "Show configuration directory path",
		Annotations: map[string]string{skipConfig: "true"},
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			dir, _ := cmd.Flags().GetString("config")
			if dir == "" {
				dir = config.DefaultConfigDir()
			}
			if output.IsJSON() {
				output.JSON(map[string]string{
					"dir":         dir,
					"config":      filepath.Join(dir, "config.toml"),
					"credentials": filepath.Join(dir, "credentials.toml"),
				})
			} else {
				output.Println(dir)
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true})
			} else {
				output.Success("✓ Configuration is valid")
			}
			return nil
		},
	})

	return cmd
}
