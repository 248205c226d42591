package cli

import (
	"context"
	"fmt"
	"os"

	"nse-alerts/internal/enrich"
	"nse-alerts/internal/feed"
	"nse-alerts/internal/ledger"
	"nse-alerts/internal/notify"
	"nse-alerts/internal/pipeline"
	"nse-alerts/internal/routing"
)

func (a *App) ledger() *ledger.Store {
	return ledger.NewStore(a.Config.Ledger.Path)
}

func (a *App) watchlist() *ledger.Store {
	return ledger.NewWatchlist(a.Config.Ledger.WatchlistPath)
}

func (a *App) rules() *routing.Table {
	src := routing.NewSource(a.Config.Routing.Source, a.Config.Routing.Timeout)
	return routing.NewTable(src, a.Logger)
}

func (a *App) fetcher() feed.Fetcher {
	client := feed.NewNSEClient(feed.ClientConfig{
		BaseURL:   a.Config.Feed.BaseURL,
		Index:     a.Config.Feed.Index,
		UserAgent: a.Config.Feed.UserAgent,
		Timeout:   a.Config.Feed.RequestTimeout,
	}, a.Logger)
	return feed.NewChain(a.Config.Feed.FetchBudget, a.Logger, client.Strategies()...)
}

func (a *App) enricher(ctx context.Context) (*enrich.Pipeline, error) {
	cfg := a.Config.Enrich

	reader := enrich.NewPDFTextReader(cfg.CallTimeout)
	if cfg.PDFToText != "" {
		reader.Binary = cfg.PDFToText
	}

	opts := enrich.Options{
		Renderer:    enrich.NewPDFRenderer(cfg.RenderDir, cfg.PublicBaseURL),
		Reader:      reader,
		CallTimeout: cfg.CallTimeout,
		Logger:      a.Logger,
	}

	switch cfg.Analyzer {
	case "openai":
		opts.Extractor = enrich.NewOpenAIExtractor(a.Config.Credentials.OpenAI.APIKey, cfg.Model, cfg.APIBaseURL)
	case "gemini":
		ex, err := enrich.NewGeminiExtractor(ctx, a.Config.Credentials.Gemini.APIKey, cfg.Model, cfg.APIBaseURL)
		if err != nil {
			return nil, err
		}
		opts.Extractor = ex
	case "", "none":
	default:
		return nil, fmt.Errorf("unknown analyzer %q", cfg.Analyzer)
	}

	return enrich.NewPipeline(opts), nil
}

// transport returns the router for live runs. A dry run prints every
// message to stdout instead.
func (a *App) transport(output *Output, dryRun bool) notify.Transport {
	if !dryRun {
		return notify.NewRouterFromConfig(a.Config.Notifications, a.Logger)
	}
	if output.IsJSON() {
		return notify.NoopTransport{}
	}
	return notify.NewConsoleTransport(os.Stdout, output.ColorEnabled())
}

// newCycle wires one cycle runner. recorder and events may be nil.
func (a *App) newCycle(ctx context.Context, transport notify.Transport, recorder pipeline.Recorder, events pipeline.Broadcaster) (*pipeline.Cycle, error) {
	enricher, err := a.enricher(ctx)
	if err != nil {
		return nil, err
	}

	dispatcher := pipeline.NewDispatcher(transport, recorder, events, pipeline.DispatcherConfig{
		Diagnostic:  a.Config.Notifications.Diagnostic,
		SendTimeout: a.Config.Notifications.SendTimeout,
	}, a.Logger)

	return pipeline.NewCycle(pipeline.CycleOptions{
		Fetcher:   a.fetcher(),
		Ledger:    a.ledger(),
		Watchlist: a.watchlist(),
		Rules:     a.rules(),
		Enricher:  enricher,
		Notifier:  dispatcher,
		Workers:   a.Config.Poll.Workers,
		Logger:    a.Logger,
	}), nil
}
