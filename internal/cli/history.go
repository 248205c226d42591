package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"nse-alerts/internal/models"
	"nse-alerts/internal/store"
	"nse-alerts/pkg/utils"
)

func addHistoryCommands(rootCmd *cobra.Command, app *App) {
	notifications := &cobra.Command{
		Use:     "notifications",
		Aliases: []string{"messages"},
		Short:   "Browse and manage recorded deliveries",
	}
	notifications.AddCommand(newNotificationsListCmd(app))
	notifications.AddCommand(newNotificationsExportCmd(app))
	notifications.AddCommand(newNotificationsPurgeCmd(app))
	rootCmd.AddCommand(notifications)

	metrics := &cobra.Command{
		Use:   "metrics",
		Short: "Browse extracted financial results",
	}
	metrics.AddCommand(newMetricsListCmd(app))
	rootCmd.AddCommand(metrics)
}

func addFilterFlags(cmd *cobra.Command, defaultLimit int) {
	cmd.Flags().StringP("symbol", "s", "", "only this symbol")
	cmd.Flags().StringP("destination", "d", "", "only this destination")
	cmd.Flags().Duration("since", 0, "only records newer than this (e.g. 24h)")
	cmd.Flags().IntP("limit", "n", defaultLimit, "maximum records (0 for all)")
}

func notificationFilter(cmd *cobra.Command) store.NotificationFilter {
	symbol, _ := cmd.Flags().GetString("symbol")
	destination, _ := cmd.Flags().GetString("destination")
	since, _ := cmd.Flags().GetDuration("since")
	limit, _ := cmd.Flags().GetInt("limit")

	f := store.NotificationFilter{Symbol: symbol, Destination: destination, Limit: limit}
	if since > 0 {
		f.Since = time.Now().Add(-since)
	}
	return f
}

func newNotificationsListCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent delivery attempts",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			s, err := app.Store()
			if err != nil {
				return err
			}
			records, err := s.ListNotifications(cmd.Context(), notificationFilter(cmd))
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(records)
			}
			if len(records) == 0 {
				output.Dim("No notifications recorded")
				return nil
			}

			table := NewTable(output, "Time", "Destination", "Symbol", "Mode", "Status", "Subject")
			for _, r := range records {
				status := output.Status(r.Delivered)
				if !r.Delivered && r.Error != "" {
					status += " " + TruncateString(r.Error, 40)
				}
				table.AddRow(FormatDateTime(r.Timestamp), r.DestinationID, r.Symbol, string(r.Mode), status, TruncateString(r.Description, 40))
			}
			table.Render()

			st, err := s.Stats(cmd.Context())
			if err == nil {
				output.Dim("%d recorded, %d delivered, %d failed, %d destinations", st.Messages, st.Delivered, st.Failed, st.Destinations)
			}
			return nil
		},
	}
	addFilterFlags(cmd, 20)
	return cmd
}

func newNotificationsExportCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export delivery attempts as CSV",
		Example: `  nse-alerts notifications export --since 168h -o last-week.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := app.Store()
			if err != nil {
				return err
			}
			records, err := s.ListNotifications(cmd.Context(), notificationFilter(cmd))
			if err != nil {
				return err
			}

			path, _ := cmd.Flags().GetString("output")
			var w io.Writer = cmd.OutOrStdout()
			if path != "" && path != "-" {
				f, err := os.Create(path)
				if err != nil {
					return fmt.Errorf("creating %s: %w", path, err)
				}
				defer f.Close()
				w = f
			}

			if err := gocsv.Marshal(records, w); err != nil {
				return fmt.Errorf("writing CSV: %w", err)
			}
			if w != cmd.OutOrStdout() {
				NewOutput(cmd).Success("Exported %d records to %s", len(records), path)
			}
			return nil
		},
	}
	addFilterFlags(cmd, 0)
	cmd.Flags().StringP("output", "o", "", "output file (default stdout)")
	return cmd
}

func newNotificationsPurgeCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "purge <destination>",
		Short: "Delete every recorded attempt for one destination",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			s, err := app.Store()
			if err != nil {
				return err
			}
			n, err := s.DeleteNotificationsByDestination(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"destination": args[0], "deleted": n})
			}
			output.Success("Deleted %d records for %s", n, args[0])
			return nil
		},
	}
}

func newMetricsListCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List extracted financial results",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			symbol, _ := cmd.Flags().GetString("symbol")
			limit, _ := cmd.Flags().GetInt("limit")

			s, err := app.Store()
			if err != nil {
				return err
			}
			metrics, err := s.ListMetrics(cmd.Context(), store.MetricsFilter{Symbol: symbol, Limit: limit})
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(metrics)
			}
			if len(metrics) == 0 {
				output.Dim("No results extracted yet")
				return nil
			}

			table := NewTable(output, "Time", "Symbol", "Period", "Year", "Revenue", "PBT", "PAT", "EPS", "Units")
			for _, m := range metrics {
				table.AddRow(
					FormatDateTime(m.CreatedAt),
					m.Symbol,
					m.Period,
					m.Year,
					amountCell(m.Present.Revenue, m.Revenue),
					amountCell(m.Present.PBT, m.PBT),
					amountCell(m.Present.PAT, m.PAT),
					epsCell(m),
					m.Units,
				)
			}
			table.AlignRight(5, 6, 7, 8)
			table.Render()
			return nil
		},
	}
	cmd.Flags().StringP("symbol", "s", "", "only this symbol")
	cmd.Flags().IntP("limit", "n", 20, "maximum records (0 for all)")
	return cmd
}

func amountCell(present bool, v decimal.Decimal) string {
	if !present {
		return "-"
	}
	return utils.FormatIndianAmount(v)
}

func epsCell(m models.FinancialMetrics) string {
	if !m.Present.EPS {
		return "-"
	}
	return m.EPS.StringFixed(2)
}
