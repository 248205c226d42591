package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"nse-alerts/internal/models"
	"nse-alerts/internal/routing"
)

func addRulesCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect the routing rules",
	}
	cmd.AddCommand(newRulesShowCmd(app))
	cmd.AddCommand(newRulesCheckCmd(app))
	cmd.AddCommand(newRulesMatchCmd(app))
	rootCmd.AddCommand(cmd)
}

func newRulesShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the routing rules currently in effect",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			rules := app.rules().Reload(cmd.Context())
			if output.IsJSON() {
				return output.JSON(rules)
			}
			output.Dim("Source: %s", app.Config.Routing.Source)
			printRules(output, rules)
			return nil
		},
	}
}

func newRulesCheckCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Load the rules sheet and report rows that would be dropped",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			rules, dropped, err := app.rules().Validate(cmd.Context())
			if err != nil {
				output.Error("Could not load rules: %v", err)
				return err
			}

			if output.IsJSON() {
				problems := make([]string, len(dropped))
				for i, e := range dropped {
					problems[i] = e.Error()
				}
				return output.JSON(map[string]interface{}{"valid": len(rules), "dropped": problems})
			}

			output.Success("%d valid rules", len(rules))
			for _, e := range dropped {
				output.Warning("  %v", e)
			}
			return nil
		},
	}
}

func newRulesMatchCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "match <text>",
		Short: "Show which rules a piece of announcement text would match",
		Args:  cobra.MinimumNArgs(1),
		Example: `  nse-alerts rules match "Outcome of Board Meeting - Quarterly Results"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			record := models.NewAnnouncement(models.FieldDescription, strings.Join(args, " "))
			matched := routing.Match(record, app.rules().Reload(cmd.Context()))

			if output.IsJSON() {
				return output.JSON(matched)
			}
			if len(matched) == 0 {
				output.Dim("No rule matches")
				return nil
			}
			printRules(output, matched)
			return nil
		},
	}
}

func printRules(output *Output, rules []models.RoutingRule) {
	table := NewTable(output, "Destination", "Mode", "Keywords")
	for _, r := range rules {
		table.AddRow(r.DestinationID, string(r.Mode), strings.Join(r.Keywords, ", "))
	}
	table.Render()
}
