package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"nse-alerts/internal/ledger"
	"nse-alerts/internal/models"
	"nse-alerts/internal/pipeline"
)

func addLedgerCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and seed the announcement ledger",
	}
	cmd.AddCommand(newLedgerStatsCmd(app))
	cmd.AddCommand(newLedgerSearchCmd(app))
	cmd.AddCommand(newLedgerSeedCmd(app))
	rootCmd.AddCommand(cmd)
}

func newLedgerStatsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show ledger and watchlist statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			main, err := app.ledger().Stats(ctx)
			if err != nil {
				return err
			}
			watch, err := app.watchlist().Stats(ctx)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]ledger.Stats{"ledger": main, "watchlist": watch})
			}

			table := NewTable(output, "File", "Rows", "Columns", "Size", "Modified", "Path")
			addStatsRow(table, "ledger", main)
			addStatsRow(table, "watchlist", watch)
			table.AlignRight(2, 3, 4)
			table.Render()
			return nil
		},
	}
}

func addStatsRow(table *Table, name string, st ledger.Stats) {
	if !st.Exists {
		table.AddRow(name, "-", "-", "-", "not created", st.Path)
		return
	}
	table.AddRow(name, fmt.Sprint(st.Rows), fmt.Sprint(st.Columns), FormatBytes(st.Size), FormatDateTime(st.ModTime), st.Path)
}

func newLedgerSearchCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <keyword>",
		Short: "Search ledger rows by keyword",
		Args:  cobra.MinimumNArgs(1),
		Example: `  nse-alerts ledger search "financial results"
  nse-alerts ledger search RELIANCE --watchlist`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			limit, _ := cmd.Flags().GetInt("limit")
			useWatchlist, _ := cmd.Flags().GetBool("watchlist")

			store := app.ledger()
			if useWatchlist {
				store = app.watchlist()
			}
			records, err := store.Search(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			if limit > 0 && len(records) > limit {
				records = records[:limit]
			}

			if output.IsJSON() {
				rows := make([]map[string]string, len(records))
				for i, r := range records {
					rows[i] = recordMap(r)
				}
				return output.JSON(rows)
			}

			if len(records) == 0 {
				output.Dim("No matching announcements")
				return nil
			}
			printAnnouncements(output, records)
			return nil
		},
	}

	cmd.Flags().IntP("limit", "n", 20, "maximum rows to show (0 for all)")
	cmd.Flags().Bool("watchlist", false, "search the watchlist instead of the ledger")
	return cmd
}

func newLedgerSeedCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Fetch the feed now and record it as seen without notifying",
		Long: `Fetch the current announcement list and merge it into the ledger.
Nothing is sent. Use this to start from a clean slate or to skip a backlog.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			fetched, err := app.fetcher().Fetch(ctx)
			if err != nil {
				output.Error("Fetch failed: %v", err)
				return err
			}

			store := app.ledger()
			before, err := store.Load(ctx)
			if err != nil {
				return err
			}
			fresh := pipeline.Diff(fetched, before)
			if err := store.Seed(ctx, fetched); err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]int{"fetched": len(fetched), "new": len(fresh)})
			}
			output.Success("Seeded %s: fetched %d, %d not seen before", store.Path(), len(fetched), len(fresh))
			return nil
		},
	}
}

func recordMap(r models.Announcement) map[string]string {
	m := make(map[string]string, len(r.Fields))
	for _, f := range r.Fields {
		m[f.Name] = f.Value
	}
	return m
}

func printAnnouncements(output *Output, records []models.Announcement) {
	table := NewTable(output, "Time", "Symbol", "Company", "Subject")
	for _, r := range records {
		table.AddRow(
			r.Get(models.FieldAnnouncedAt),
			r.Symbol(),
			TruncateString(r.CompanyName(), 30),
			TruncateString(r.Description(), 50),
		)
	}
	table.Render()
}
