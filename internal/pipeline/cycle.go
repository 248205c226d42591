package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"nse-alerts/internal/feed"
	"nse-alerts/internal/ledger"
	"nse-alerts/internal/logging"
	"nse-alerts/internal/models"
	"nse-alerts/internal/routing"
)

// Ledger is the persistent record of announcements already seen.
type Ledger interface {
	Load(ctx context.Context) (*ledger.Snapshot, error)
	Seed(ctx context.Context, records []models.Announcement) error
	Append(ctx context.Context, records []models.Announcement) error
}

// RuleSource yields the current routing rules. It never fails.
type RuleSource interface {
	Reload(ctx context.Context) []models.RoutingRule
}

// Enricher derives the attachment for a new record from the rules it
// matched, which may be none. It never fails.
type Enricher interface {
	Enrich(ctx context.Context, record models.Announcement, matched []models.RoutingRule) models.EnrichedAttachment
}

// Notifier delivers one record to its destinations.
type Notifier interface {
	Dispatch(ctx context.Context, record models.Announcement, enriched models.EnrichedAttachment, matched []models.RoutingRule) ([]models.NotificationRecord, error)
}

// CycleReport summarizes one poll cycle.
type CycleReport struct {
	ID        string        `json:"id"`
	StartedAt time.Time     `json:"started_at"`
	Fetched   int           `json:"fetched"`
	New       int           `json:"new"`
	Matched   int           `json:"matched"`
	Notified  int           `json:"notified"`
	Failed    int           `json:"failed"`
	Seeded    bool          `json:"seeded"`
	Duration  time.Duration `json:"duration"`
}

// CycleOptions wires a Cycle.
type CycleOptions struct {
	Fetcher  feed.Fetcher
	Ledger   Ledger
	// Watchlist receives records that matched at least one rule. Optional.
	Watchlist Ledger
	Rules     RuleSource
	Enricher  Enricher
	Notifier  Notifier
	Workers   int
	Logger    zerolog.Logger
}

// Cycle runs one fetch, diff, dispatch and persist pass.
type Cycle struct {
	fetcher   feed.Fetcher
	ledger    Ledger
	watchlist Ledger
	rules     RuleSource
	enricher  Enricher
	notifier  Notifier
	workers   int
	logger    zerolog.Logger
}

// NewCycle creates a cycle runner.
func NewCycle(opts CycleOptions) *Cycle {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	return &Cycle{
		fetcher:   opts.Fetcher,
		ledger:    opts.Ledger,
		watchlist: opts.Watchlist,
		rules:     opts.Rules,
		enricher:  opts.Enricher,
		notifier:  opts.Notifier,
		workers:   opts.Workers,
		logger:    opts.Logger.With().Str("component", "cycle").Logger(),
	}
}

// Run executes one cycle.
//
// A fetch or ledger-read failure aborts the cycle before anything is sent.
// When the ledger does not exist yet it is seeded with the fetch and nothing
// is sent. A ledger write failure is returned after notifications have gone
// out; those records are sent again next cycle.
func (c *Cycle) Run(ctx context.Context) (*CycleReport, error) {
	report := &CycleReport{ID: uuid.NewString(), StartedAt: time.Now()}
	logger := logging.WithCycle(c.logger, report.ID)
	ctx = logging.WithLogger(ctx, logger)
	defer func() {
		report.Duration = time.Since(report.StartedAt)
	}()

	fetched, err := c.fetcher.Fetch(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Fetch failed")
		return report, err
	}
	report.Fetched = len(fetched)

	snap, err := c.ledger.Load(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Ledger read failed, skipping cycle")
		return report, err
	}

	if !snap.Exists {
		if len(fetched) == 0 {
			logger.Info().Msg("Empty first fetch, ledger not seeded yet")
			return report, nil
		}
		if err := c.ledger.Seed(ctx, fetched); err != nil {
			logger.Error().Err(err).Msg("Ledger seed failed")
			return report, err
		}
		report.Seeded = true
		logging.LogCycle(logger, report.Fetched, 0, 0, 0, true, time.Since(report.StartedAt))
		return report, nil
	}

	rules := c.rules.Reload(ctx)
	fresh := Diff(fetched, snap)
	report.New = len(fresh)
	if len(fresh) == 0 {
		logging.LogCycle(logger, report.Fetched, 0, 0, 0, false, time.Since(report.StartedAt))
		return report, nil
	}

	matchedFlags := c.process(ctx, logger, fresh, rules, report)

	if c.watchlist != nil {
		var watched []models.Announcement
		// Watchlist rows are chronological, fresh is newest first.
		for i := len(fresh) - 1; i >= 0; i-- {
			if matchedFlags[i] {
				watched = append(watched, fresh[i])
			}
		}
		if len(watched) > 0 {
			if err := c.watchlist.Append(ctx, watched); err != nil {
				logger.Warn().Err(err).Msg("Watchlist append failed")
			}
		}
	}

	if err := c.ledger.Append(ctx, fresh); err != nil {
		logger.Error().Err(err).Int("records", len(fresh)).Msg("Ledger append failed, records will be re-sent next cycle")
		return report, err
	}

	logging.LogCycle(logger, report.Fetched, report.New, report.Notified, report.Failed, false, time.Since(report.StartedAt))
	return report, nil
}

// process runs match, enrich and dispatch for every fresh record on a
// bounded pool. It returns which records matched at least one rule.
func (c *Cycle) process(ctx context.Context, logger zerolog.Logger, fresh []models.Announcement, rules []models.RoutingRule, report *CycleReport) []bool {
	matchedFlags := make([]bool, len(fresh))
	var mu sync.Mutex

	p := pool.New().WithMaxGoroutines(c.workers)
	for i, record := range fresh {
		p.Go(func() {
			notified, failed, matched := c.processRecord(ctx, logger, record, rules)
			mu.Lock()
			defer mu.Unlock()
			matchedFlags[i] = matched
			if matched {
				report.Matched++
			}
			report.Notified += notified
			report.Failed += failed
		})
	}
	p.Wait()

	return matchedFlags
}

func (c *Cycle) processRecord(ctx context.Context, logger zerolog.Logger, record models.Announcement, rules []models.RoutingRule) (notified, failed int, matched bool) {
	logger = logging.WithSymbol(logger, record.Symbol())
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Str("panic", fmt.Sprint(r)).Msg("Record processing panicked")
			failed++
		}
	}()

	hits := routing.Match(record, rules)
	matched = len(hits) > 0

	// Unmatched records are still rendered: the diagnostic copy links the
	// readable document. Analysis stays gated on the matched modes.
	enriched := c.enricher.Enrich(ctx, record, hits)

	records, err := c.notifier.Dispatch(ctx, record, enriched, hits)
	if err != nil {
		logger.Debug().Err(err).Msg("Some deliveries failed")
	}
	for _, r := range records {
		if r.Delivered {
			notified++
		} else {
			failed++
		}
	}
	return notified, failed, matched
}
