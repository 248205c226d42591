package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"

	"nse-alerts/internal/notify"
	"nse-alerts/internal/pipeline"
	"nse-alerts/internal/resilience"
	"nse-alerts/internal/retention"
	"nse-alerts/internal/stream"
)

func addPipelineCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newRunCmd(app))
	rootCmd.AddCommand(newOnceCmd(app))
}

func newRunCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Poll the feed and send alerts until interrupted",
		Long: `Poll the NSE announcement feed, send alerts for new announcements and
keep the ledger up to date. The dashboard websocket and the retention sweep
run alongside. SIGINT or SIGTERM stops polling; a cycle in flight is allowed
to finish within poll.drain_timeout.`,
		Example: `  nse-alerts run
  nse-alerts run --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			cfg := app.Config

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// Background workers stop when the command returns for any reason.
			var wg conc.WaitGroup
			defer wg.Wait()
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			hub := stream.NewHub()
			if err := hub.Start(ctx); err != nil {
				return err
			}
			defer hub.Stop()

			var (
				recorder pipeline.Recorder
				history  stream.History
			)
			if s, err := app.Store(); err != nil {
				app.Logger.Warn().Err(err).Msg("Message store unavailable, deliveries will not be recorded")
			} else {
				recorder, history = s, s
			}

			if addr := cfg.Dashboard.ListenAddr; addr != "" {
				server := stream.NewServer(hub, history, cfg.Dashboard.HistoryLimit, app.Logger)
				if err := server.Start(ctx, addr); err != nil {
					return err
				}
			}

			policies := retention.DefaultPolicies(cfg.Retention.FilesDir, cfg.Retention.PDFMaxAge, cfg.Retention.MediaMaxAge)
			wg.Go(func() { retention.Run(ctx, policies, 24*time.Hour, app.Logger) })

			cycle, err := app.newCycle(ctx, app.transport(output, dryRun), recorder, hub)
			if err != nil {
				return err
			}

			poller := pipeline.NewPoller(cycle, pollerConfig(app), app.Logger)
			if !output.IsJSON() {
				poller.OnReport(func(r *pipeline.CycleReport, err error) {
					printCycleLine(output, r, err)
				})
			}

			if dryRun {
				output.Info("Dry run: messages are printed, not sent")
			}
			return poller.Run(ctx)
		},
	}

	cmd.Flags().Bool("dry-run", false, "print messages instead of sending them")
	return cmd
}

func newOnceCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "once",
		Short: "Run a single poll cycle and print its report",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			dryRun, _ := cmd.Flags().GetBool("dry-run")

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var recorder pipeline.Recorder
			if !dryRun {
				s, err := app.Store()
				if err != nil {
					return err
				}
				recorder = s
			}

			transport := app.transport(output, dryRun)
			cycle, err := app.newCycle(ctx, transport, recorder, nil)
			if err != nil {
				return err
			}
			report, runErr := pipeline.NewPoller(cycle, pollerConfig(app), app.Logger).RunOnce(ctx)

			if output.IsJSON() {
				if err := output.JSON(report); err != nil {
					return err
				}
				return runErr
			}
			printReport(output, report)
			if router, ok := transport.(*notify.Router); ok {
				printDestinations(output, router.BreakerStats())
			}
			if runErr != nil {
				output.Error("Cycle failed: %v", runErr)
			}
			return runErr
		},
	}

	cmd.Flags().Bool("dry-run", false, "print messages instead of sending them")
	return cmd
}

func pollerConfig(app *App) pipeline.PollerConfig {
	return pipeline.PollerConfig{
		Interval:     app.Config.Poll.Interval,
		Cooldown:     app.Config.Poll.Cooldown,
		DrainTimeout: app.Config.Poll.DrainTimeout,
	}
}

func printCycleLine(output *Output, r *pipeline.CycleReport, err error) {
	ts := FormatDateTime(time.Now())
	switch {
	case err != nil:
		output.Printf("%s  %s\n", ts, output.Red(fmt.Sprintf("cycle failed: %v", err)))
	case r == nil:
	case r.Seeded:
		output.Printf("%s  %s\n", ts, output.Yellow(fmt.Sprintf("ledger seeded with %d announcements", r.Fetched)))
	case r.New > 0:
		output.Printf("%s  fetched %d, new %d, matched %d, %s, %s\n", ts,
			r.Fetched, r.New, r.Matched,
			output.Green(fmt.Sprintf("%d delivered", r.Notified)),
			failedText(output, r.Failed))
	}
}

func failedText(output *Output, n int) string {
	s := fmt.Sprintf("%d failed", n)
	if n > 0 {
		return output.Red(s)
	}
	return s
}

func printReport(output *Output, r *pipeline.CycleReport) {
	if r == nil {
		return
	}
	output.Bold("Cycle %s", r.ID)
	table := NewTable(output, "Fetched", "New", "Matched", "Delivered", "Failed", "Seeded", "Duration")
	table.AddRow(
		fmt.Sprint(r.Fetched),
		fmt.Sprint(r.New),
		fmt.Sprint(r.Matched),
		fmt.Sprint(r.Notified),
		fmt.Sprint(r.Failed),
		fmt.Sprint(r.Seeded),
		FormatDuration(r.Duration),
	)
	table.AlignRight(1, 2, 3, 4, 5)
	table.Render()
}

func printDestinations(output *Output, stats []resilience.CircuitBreakerStats) {
	if len(stats) == 0 {
		return
	}
	output.Println("")
	table := NewTable(output, "Destination", "Sends", "Failed", "Skipped", "State", "Last error")
	for _, st := range stats {
		state := string(st.State)
		if st.State == resilience.CircuitOpen {
			state = output.Red(state + " until " + st.OpenUntil.Format(time.TimeOnly))
		}
		table.AddRow(
			st.Name,
			fmt.Sprint(st.Sends),
			fmt.Sprint(st.Failed),
			fmt.Sprint(st.Rejected),
			state,
			TruncateString(st.LastError, 60),
		)
	}
	table.AlignRight(1, 2, 3)
	table.Render()
}
