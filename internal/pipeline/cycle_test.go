package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"

	apperrors "nse-alerts/internal/errors"
	"nse-alerts/internal/feed"
	"nse-alerts/internal/ledger"
	"nse-alerts/internal/models"
)

type staticRules []models.RoutingRule

func (r staticRules) Reload(ctx context.Context) []models.RoutingRule { return r }

type passthroughEnricher struct{}

func (passthroughEnricher) Enrich(ctx context.Context, record models.Announcement, matched []models.RoutingRule) models.EnrichedAttachment {
	return models.EnrichedAttachment{OriginalURL: record.Attachment()}
}

// renderingEnricher pretends to render every XML attachment and records
// which symbols it saw and with how many matched rules.
type renderingEnricher struct {
	mu   sync.Mutex
	seen map[string]int
}

func (e *renderingEnricher) Enrich(ctx context.Context, record models.Announcement, matched []models.RoutingRule) models.EnrichedAttachment {
	e.mu.Lock()
	if e.seen == nil {
		e.seen = make(map[string]int)
	}
	e.seen[record.Symbol()] = len(matched)
	e.mu.Unlock()

	out := models.EnrichedAttachment{OriginalURL: record.Attachment()}
	if strings.HasSuffix(record.Attachment(), ".xml") {
		out.DocumentURL = "https://alerts.example.com/files/pdf/CA_" + record.Symbol() + ".pdf"
		out.Rendered = true
	}
	return out
}

type panickyEnricher struct{ symbol string }

func (p panickyEnricher) Enrich(ctx context.Context, record models.Announcement, matched []models.RoutingRule) models.EnrichedAttachment {
	if record.Symbol() == p.symbol {
		panic("enrich blew up")
	}
	return models.EnrichedAttachment{OriginalURL: record.Attachment()}
}

// failingLedger wraps a real store and fails appends on demand.
type failingLedger struct {
	*ledger.Store
	failAppend bool
}

func (f *failingLedger) Append(ctx context.Context, records []models.Announcement) error {
	if f.failAppend {
		return apperrors.NewLedgerError(f.Path(), "write", apperrors.ErrLedgerWrite)
	}
	return f.Store.Append(ctx, records)
}

var grpRules = staticRules{{DestinationID: "@grp", Keywords: []string{"results"}, Mode: models.ModeForward}}

type cycleFixture struct {
	fetcher   *feed.StaticFetcher
	ledger    *failingLedger
	watchlist *ledger.Store
	transport *fakeTransport
	cycle     *Cycle
}

func newCycleFixture(t *testing.T, rules RuleSource, enricher Enricher) *cycleFixture {
	t.Helper()
	dir := t.TempDir()
	f := &cycleFixture{
		fetcher:   &feed.StaticFetcher{},
		ledger:    &failingLedger{Store: ledger.NewStore(filepath.Join(dir, "announcements.csv"))},
		watchlist: ledger.NewWatchlist(filepath.Join(dir, "watchlist.csv")),
		transport: &fakeTransport{},
	}
	dispatcher := NewDispatcher(f.transport, nil, nil, DispatcherConfig{Diagnostic: "@trade_mvd"}, zerolog.Nop())
	f.cycle = NewCycle(CycleOptions{
		Fetcher:   f.fetcher,
		Ledger:    f.ledger,
		Watchlist: f.watchlist,
		Rules:     rules,
		Enricher:  enricher,
		Notifier:  dispatcher,
		Workers:   3,
		Logger:    zerolog.Nop(),
	})
	return f
}

// Property: the first cycle over any fetch seeds the ledger with it and
// sends nothing, and an immediate second cycle sends nothing either.
func TestProperty_NoBacklogOnFirstCycle(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("first cycle seeds silently", prop.ForAll(
		func(symbols []string) bool {
			f := newCycleFixture(t, grpRules, passthroughEnricher{})
			f.fetcher.Records = buildFetch(symbols, []string{"Quarterly results"})
			ctx := context.Background()

			report, err := f.cycle.Run(ctx)
			if err != nil || !report.Seeded || len(f.transport.sent) != 0 {
				t.Logf("first: %+v %v sent=%d", report, err, len(f.transport.sent))
				return false
			}
			report, err = f.cycle.Run(ctx)
			return err == nil && !report.Seeded && report.New == 0 && len(f.transport.sent) == 0
		},
		gen.SliceOfN(5, gen.Identifier()),
	))

	properties.TestingRun(t)
}

func TestCycleNotifiesNewRecords(t *testing.T) {
	f := newCycleFixture(t, grpRules, passthroughEnricher{})
	ctx := context.Background()

	first := announcement("INFY", "Board meeting intimation", "01-Jul-2024 09:00:00")
	f.fetcher.Records = []models.Announcement{first}
	if _, err := f.cycle.Run(ctx); err != nil {
		t.Fatal(err)
	}

	fresh := []models.Announcement{
		announcement("TCS", "Quarterly results", "02-Jul-2024 09:00:00"),
		announcement("SBIN", "Change in directors", "02-Jul-2024 10:00:00"),
		first,
	}
	f.fetcher.Records = fresh
	report, err := f.cycle.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Fetched != 3 || report.New != 2 || report.Matched != 1 || report.Notified != 1 || report.Failed != 0 {
		t.Errorf("report = %+v", report)
	}
	if len(f.transport.to("@grp")) != 1 {
		t.Errorf("@grp got %d messages", len(f.transport.to("@grp")))
	}
	if len(f.transport.to("@trade_mvd")) != 2 {
		t.Errorf("diagnostic got %d messages", len(f.transport.to("@trade_mvd")))
	}

	snap, _ := f.ledger.Load(ctx)
	if snap.Len() != 3 {
		t.Errorf("ledger rows = %d, want 3", snap.Len())
	}
	watch, _ := f.watchlist.Load(ctx)
	if watch.Len() != 1 || watch.Records[0].Symbol() != "TCS" {
		t.Errorf("watchlist = %+v", watch.Records)
	}
}

func TestCycleFetchFailureLeavesLedgerUntouched(t *testing.T) {
	f := newCycleFixture(t, grpRules, passthroughEnricher{})
	ctx := context.Background()

	f.fetcher.Err = apperrors.NewFetchError("api", 503, errors.New("unavailable"))
	_, err := f.cycle.Run(ctx)
	if !errors.Is(err, apperrors.ErrFetchFailed) {
		t.Fatalf("err = %v, want ErrFetchFailed", err)
	}
	snap, _ := f.ledger.Load(ctx)
	if snap.Exists {
		t.Error("ledger created after failed fetch")
	}
}

func TestCycleEmptyFirstFetchDoesNotSeed(t *testing.T) {
	f := newCycleFixture(t, grpRules, passthroughEnricher{})
	report, err := f.cycle.Run(context.Background())
	if err != nil || report.Seeded {
		t.Fatalf("report = %+v, err = %v", report, err)
	}
	snap, _ := f.ledger.Load(context.Background())
	if snap.Exists {
		t.Error("ledger created from empty fetch")
	}
}

// Records already sent when the ledger write fails are sent again by the
// next cycle.
func TestCycleAtLeastOnceOnLedgerFailure(t *testing.T) {
	f := newCycleFixture(t, grpRules, passthroughEnricher{})
	ctx := context.Background()

	f.fetcher.Records = []models.Announcement{announcement("INFY", "Dividend", "01-Jul-2024 09:00:00")}
	if _, err := f.cycle.Run(ctx); err != nil {
		t.Fatal(err)
	}

	results := announcement("TCS", "Quarterly results", "02-Jul-2024 09:00:00")
	f.fetcher.Records = append(f.fetcher.Records, results)
	f.ledger.failAppend = true
	_, err := f.cycle.Run(ctx)
	var le *apperrors.LedgerError
	if !errors.As(err, &le) {
		t.Fatalf("err = %v, want LedgerError", err)
	}
	if len(f.transport.to("@grp")) != 1 {
		t.Fatal("notification not sent before ledger failure")
	}

	f.ledger.failAppend = false
	report, err := f.cycle.Run(ctx)
	if err != nil {
		t.Fatalf("retry cycle: %v", err)
	}
	if report.New != 1 || len(f.transport.to("@grp")) != 2 {
		t.Errorf("re-delivery: new=%d sent=%d", report.New, len(f.transport.to("@grp")))
	}
	snap, _ := f.ledger.Load(ctx)
	if snap.Len() != 2 {
		t.Errorf("ledger rows = %d, want 2", snap.Len())
	}

	report, _ = f.cycle.Run(ctx)
	if report.New != 0 {
		t.Errorf("record still new after successful append: %+v", report)
	}
}

func TestCycleRecoversPerRecordPanic(t *testing.T) {
	f := newCycleFixture(t, grpRules, panickyEnricher{symbol: "BAD"})
	ctx := context.Background()

	f.fetcher.Records = []models.Announcement{announcement("OLD", "Dividend", "01-Jul-2024 09:00:00")}
	if _, err := f.cycle.Run(ctx); err != nil {
		t.Fatal(err)
	}

	var batch []models.Announcement
	for i := 0; i < 5; i++ {
		batch = append(batch, announcement(fmt.Sprintf("OK%d", i), "Quarterly results", fmt.Sprintf("02-Jul-2024 09:0%d:00", i)))
	}
	batch = append(batch, announcement("BAD", "Quarterly results", "02-Jul-2024 10:00:00"))
	f.fetcher.Records = batch

	report, err := f.cycle.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.New != 6 || report.Notified != 5 || report.Failed != 1 {
		t.Errorf("report = %+v", report)
	}
	snap, _ := f.ledger.Load(ctx)
	if snap.Len() != 7 {
		t.Errorf("ledger rows = %d, want 7", snap.Len())
	}
}

func TestCycleEnrichesUnmatchedRecordsForDiagnostic(t *testing.T) {
	enricher := &renderingEnricher{}
	f := newCycleFixture(t, grpRules, enricher)
	ctx := context.Background()

	f.fetcher.Records = []models.Announcement{announcement("OLD", "Dividend", "01-Jul-2024 09:00:00")}
	if _, err := f.cycle.Run(ctx); err != nil {
		t.Fatal(err)
	}

	filing := announcement("SBIN", "Change in directors", "02-Jul-2024 09:00:00")
	filing.Set(models.FieldAttachment, "https://nsearchives.nseindia.com/corporate/xbrl/SBIN_123.xml")
	f.fetcher.Records = append(f.fetcher.Records, filing)

	report, err := f.cycle.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.New != 1 || report.Matched != 0 {
		t.Fatalf("report = %+v", report)
	}
	if n, ok := enricher.seen["SBIN"]; !ok || n != 0 {
		t.Fatalf("enricher saw %v, want SBIN with no matched rules", enricher.seen)
	}

	diag := f.transport.to("@trade_mvd")
	if len(diag) != 1 {
		t.Fatalf("diagnostic got %d messages", len(diag))
	}
	if !strings.Contains(diag[0], "https://alerts.example.com/files/pdf/CA_SBIN.pdf") || strings.Contains(diag[0], "SBIN_123.xml") {
		t.Errorf("diagnostic message does not link the rendered document:\n%s", diag[0])
	}
}
