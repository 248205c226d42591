// Package integration runs the alert pipeline end to end against the real
// CSV ledger and SQLite store, with the feed and transports faked.
package integration

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"nse-alerts/internal/enrich"
	"nse-alerts/internal/feed"
	"nse-alerts/internal/ledger"
	"nse-alerts/internal/models"
	"nse-alerts/internal/notify"
	"nse-alerts/internal/pipeline"
	"nse-alerts/internal/resilience"
	"nse-alerts/internal/routing"
	"nse-alerts/internal/store"
	"nse-alerts/internal/stream"
)

type recordingTransport struct {
	mu   sync.Mutex
	sent map[string][]string
	fail map[string]bool
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{sent: make(map[string][]string), fail: make(map[string]bool)}
}

func (r *recordingTransport) Send(ctx context.Context, destination, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail[destination] {
		return errors.New("destination unavailable")
	}
	r.sent[destination] = append(r.sent[destination], text)
	return nil
}

func (r *recordingTransport) count(destination string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent[destination])
}

func (r *recordingTransport) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, msgs := range r.sent {
		n += len(msgs)
	}
	return n
}

type harness struct {
	fetcher   *feed.StaticFetcher
	ledger    *ledger.Store
	store     *store.SQLiteStore
	hub       *stream.Hub
	transport *recordingTransport
	cycle     *pipeline.Cycle
}

func newHarness(t *testing.T, rulesCSV string) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	dir := t.TempDir()

	rulesSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		w.Write([]byte(rulesCSV))
	}))
	t.Cleanup(rulesSrv.Close)

	msgStore, err := store.NewSQLiteStore(filepath.Join(dir, "messages.db"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { msgStore.Close() })

	hub := stream.NewHub()
	if err := hub.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(hub.Stop)

	h := &harness{
		fetcher:   &feed.StaticFetcher{},
		ledger:    ledger.NewStore(filepath.Join(dir, "announcements.csv")),
		store:     msgStore,
		hub:       hub,
		transport: newRecordingTransport(),
	}

	rules := routing.NewTable(routing.NewSource(rulesSrv.URL+"/export?format=csv", 5*time.Second), zerolog.Nop())
	enricher := enrich.NewPipeline(enrich.Options{
		Renderer:    enrich.NewPDFRenderer(filepath.Join(dir, "files", "pdf"), ""),
		CallTimeout: 5 * time.Second,
		Logger:      zerolog.Nop(),
	})
	dispatcher := pipeline.NewDispatcher(h.transport, msgStore, hub, pipeline.DispatcherConfig{
		Diagnostic:  "@trade_mvd",
		SendTimeout: 5 * time.Second,
	}, zerolog.Nop())

	h.cycle = pipeline.NewCycle(pipeline.CycleOptions{
		Fetcher:   h.fetcher,
		Ledger:    h.ledger,
		Watchlist: ledger.NewWatchlist(filepath.Join(dir, "watchlist.csv")),
		Rules:     rules,
		Enricher:  enricher,
		Notifier:  dispatcher,
		Workers:   4,
		Logger:    zerolog.Nop(),
	})
	return h
}

func record(symbol, desc, at string) models.Announcement {
	return models.NewAnnouncement(
		"symbol", symbol,
		"desc", desc,
		"an_dt", at,
		"attchmntFile", "https://nsearchives.nseindia.com/corporate/"+symbol+"_01072024.pdf",
		"sm_name", symbol+" Limited",
		"attchmntText", desc+" for the quarter",
		"sort_date", at,
	)
}

// Seed, repeat, then one new matching record.
func TestThreeCycleScenario(t *testing.T) {
	h := newHarness(t, "destination_id,keywords,mode\n@grp,results,forward\n@divs,dividend,forward\n")
	ctx := context.Background()
	sub := h.hub.Subscribe(models.EventNewMessage)

	board := record("INFY", "Board Meeting Intimation", "01-Jul-2024 09:15:00")
	h.fetcher.Records = []models.Announcement{board}

	// Cycle 1: no ledger yet.
	report, err := h.cycle.Run(ctx)
	if err != nil {
		t.Fatalf("cycle 1: %v", err)
	}
	if !report.Seeded || h.transport.total() != 0 {
		t.Fatalf("cycle 1 report = %+v, sent = %d", report, h.transport.total())
	}

	// Cycle 2: same fetch.
	report, err = h.cycle.Run(ctx)
	if err != nil {
		t.Fatalf("cycle 2: %v", err)
	}
	if report.New != 0 || h.transport.total() != 0 {
		t.Fatalf("cycle 2 report = %+v, sent = %d", report, h.transport.total())
	}

	// Cycle 3: one new record about quarterly results.
	results := record("TCS", "Outcome of Board Meeting - Quarterly Results", "01-Jul-2024 10:30:00")
	h.fetcher.Records = []models.Announcement{results, board}
	report, err = h.cycle.Run(ctx)
	if err != nil {
		t.Fatalf("cycle 3: %v", err)
	}
	if report.New != 1 || report.Matched != 1 || report.Notified != 1 {
		t.Errorf("cycle 3 report = %+v", report)
	}
	if h.transport.count("@grp") != 1 || h.transport.count("@trade_mvd") != 1 || h.transport.count("@divs") != 0 {
		t.Errorf("sent = %v", h.transport.sent)
	}
	if !strings.Contains(h.transport.sent["@grp"][0], "<b>TCS - TCS Limited</b>") {
		t.Errorf("message = %q", h.transport.sent["@grp"][0])
	}

	snap, err := h.ledger.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Len() != 2 {
		t.Errorf("ledger rows = %d, want 2", snap.Len())
	}
	if snap.Records[0].Symbol() != "TCS" {
		t.Errorf("newest record not first: %s", snap.Records[0].Symbol())
	}

	saved, err := h.store.ListNotifications(ctx, store.NotificationFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(saved) != 1 || saved[0].DestinationID != "@grp" || !saved[0].Delivered {
		t.Errorf("saved = %+v", saved)
	}

	select {
	case ev := <-sub.Channel:
		if ev.Message == nil || ev.Message.Symbol != "TCS" {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Error("no new_message event")
	}
}

func TestFailingDestinationIsRecordedAndIsolated(t *testing.T) {
	h := newHarness(t, "destination_id,keywords,mode\n@a,dividend,forward\n@b,dividend,forward\n@c,dividend,forward\n")
	ctx := context.Background()
	h.transport.fail["@b"] = true

	h.fetcher.Records = []models.Announcement{record("ITC", "Record date", "01-Jul-2024 09:00:00")}
	if _, err := h.cycle.Run(ctx); err != nil {
		t.Fatal(err)
	}

	h.fetcher.Records = append(h.fetcher.Records, record("HDFCBANK", "Interim Dividend", "02-Jul-2024 09:00:00"))
	report, err := h.cycle.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Notified != 2 || report.Failed != 1 {
		t.Errorf("report = %+v", report)
	}

	stats, err := h.store.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Messages != 3 || stats.Delivered != 2 || stats.Failed != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestRouterBreakerSkipsDeadDestination(t *testing.T) {
	breakers := resilience.NewCircuitBreakerRegistry(resilience.CircuitBreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
	})
	router := notify.NewRouter(breakers, zerolog.Nop())
	inner := newRecordingTransport()
	inner.fail["dead"] = true
	router.Register(notify.KindTelegram, inner, nil)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := router.Send(ctx, "dead", "x"); err == nil {
			t.Fatal("expected failure")
		}
	}
	err := router.Send(ctx, "dead", "x")
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
	if err := router.Send(ctx, "alive", "x"); err != nil {
		t.Errorf("healthy destination affected: %v", err)
	}
}
