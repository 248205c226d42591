package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"nse-alerts/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "messages.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// Property: For any notification record, saving it and listing by its
// destination returns an equivalent record.
func TestProperty_NotificationRoundTrip(t *testing.T) {
	store := newTestStore(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	symbols := []string{"RELIANCE", "TCS", "INFY", "HDFCBANK", "SBIN"}
	seq := 0

	properties.Property("save then list produces an equivalent record", prop.ForAll(
		func(symbolIdx int, text string, delivered bool, resultMode bool) bool {
			ctx := context.Background()
			seq++

			mode := models.ModeForward
			if resultMode {
				mode = models.ModeResultConcall
			}
			rec := models.NotificationRecord{
				ID:            fmt.Sprintf("id-%d", seq),
				DestinationID: fmt.Sprintf("@dest_%d", seq),
				MessageText:   text,
				Symbol:        symbols[symbolIdx%len(symbols)],
				CompanyName:   "Company",
				Description:   "Outcome of Board Meeting",
				AttachmentURL: "https://example.com/a.pdf",
				Mode:          mode,
				Delivered:     delivered,
				Timestamp:     time.Date(2024, 5, 1, 10, 0, seq%60, 0, time.UTC),
			}
			if !delivered {
				rec.Error = "send failed"
			}

			if err := store.SaveNotification(ctx, rec); err != nil {
				t.Logf("save: %v", err)
				return false
			}
			got, err := store.ListNotifications(ctx, NotificationFilter{Destination: rec.DestinationID})
			if err != nil || len(got) != 1 {
				t.Logf("list: %v (%d rows)", err, len(got))
				return false
			}
			g := got[0]
			return g.ID == rec.ID &&
				g.MessageText == rec.MessageText &&
				g.Symbol == rec.Symbol &&
				g.Mode == rec.Mode &&
				g.Delivered == rec.Delivered &&
				g.Error == rec.Error &&
				g.Timestamp.Equal(rec.Timestamp)
		},
		gen.IntRange(0, 100),
		gen.AlphaString(),
		gen.Bool(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestListNotificationsFiltersAndOrders(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	for i, sym := range []string{"TCS", "INFY", "TCS"} {
		rec := models.NotificationRecord{
			ID:            fmt.Sprintf("n%d", i),
			DestinationID: "@grp",
			MessageText:   "m",
			Symbol:        sym,
			Mode:          models.ModeForward,
			Delivered:     true,
			Timestamp:     base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.SaveNotification(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	all, err := store.ListNotifications(ctx, NotificationFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].ID != "n2" || all[2].ID != "n0" {
		t.Errorf("order = %v", ids(all))
	}

	tcs, _ := store.ListNotifications(ctx, NotificationFilter{Symbol: "TCS"})
	if len(tcs) != 2 {
		t.Errorf("symbol filter returned %d", len(tcs))
	}

	recent, _ := store.ListNotifications(ctx, NotificationFilter{Since: base.Add(time.Minute)})
	if len(recent) != 2 {
		t.Errorf("since filter returned %v", ids(recent))
	}

	limited, _ := store.ListNotifications(ctx, NotificationFilter{Limit: 1})
	if len(limited) != 1 || limited[0].ID != "n2" {
		t.Errorf("limit returned %v", ids(limited))
	}
}

func ids(recs []models.NotificationRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

func TestMetricsLinkedToNotifications(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if err := store.SaveNotification(ctx, models.NotificationRecord{
			ID: id, DestinationID: "@" + id, MessageText: "x", Mode: models.ModeResultConcall, Timestamp: time.Now(),
		}); err != nil {
			t.Fatal(err)
		}
	}

	m := models.FinancialMetrics{
		ID:        "m1",
		Symbol:    "TCS",
		Period:    "Q2",
		Year:      "2024",
		Revenue:   decimal.RequireFromString("64259.00"),
		EPS:       decimal.RequireFromString("32.92"),
		Present:   models.MetricSet{Revenue: true, EPS: true},
		SourceURL: "https://example.com/r.pdf",
		CreatedAt: time.Now(),
	}
	if err := store.SaveMetrics(ctx, m, []string{"a", "b"}); err != nil {
		t.Fatalf("SaveMetrics: %v", err)
	}

	got, err := store.ListMetrics(ctx, MetricsFilter{Symbol: "TCS"})
	if err != nil || len(got) != 1 {
		t.Fatalf("ListMetrics: %v (%d)", err, len(got))
	}
	g := got[0]
	if !g.Revenue.Equal(m.Revenue) || !g.EPS.Equal(m.EPS) {
		t.Errorf("amounts = %s / %s", g.Revenue, g.EPS)
	}
	if !g.Present.Revenue || !g.Present.EPS || g.Present.PAT || g.Present.PBT {
		t.Errorf("presence = %+v", g.Present)
	}

	linked, err := store.NotificationIDsForMetrics(ctx, "m1")
	if err != nil || len(linked) != 2 {
		t.Fatalf("links = %v, %v", linked, err)
	}

	n, err := store.DeleteNotificationsByDestination(ctx, "@a")
	if err != nil || n != 1 {
		t.Fatalf("delete = %d, %v", n, err)
	}
	linked, _ = store.NotificationIDsForMetrics(ctx, "m1")
	if len(linked) != 1 || linked[0] != "b" {
		t.Errorf("links after delete = %v", linked)
	}
}

func TestStatsAndReset(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	last := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	store.SaveNotification(ctx, models.NotificationRecord{ID: "1", DestinationID: "@a", MessageText: "x", Mode: models.ModeForward, Delivered: true, Timestamp: last.Add(-time.Hour)})
	store.SaveNotification(ctx, models.NotificationRecord{ID: "2", DestinationID: "@b", MessageText: "x", Mode: models.ModeForward, Error: "down", Timestamp: last})

	st, err := store.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Messages != 2 || st.Delivered != 1 || st.Failed != 1 || st.Destinations != 2 {
		t.Errorf("stats = %+v", st)
	}
	if !st.LastMessage.Equal(last) {
		t.Errorf("last message = %v, want %v", st.LastMessage, last)
	}

	if err := store.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	st, err = store.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Messages != 0 || !st.LastMessage.IsZero() {
		t.Errorf("stats after reset = %+v", st)
	}
}
