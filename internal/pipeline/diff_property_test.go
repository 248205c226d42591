package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"nse-alerts/internal/ledger"
	"nse-alerts/internal/models"
)

func announcement(symbol, desc, at string) models.Announcement {
	return models.NewAnnouncement(
		models.FieldSymbol, symbol,
		models.FieldDescription, desc,
		models.FieldAnnouncedAt, at,
		models.FieldAttachment, "https://nsearchives.nseindia.com/corporate/"+symbol+".pdf",
		models.FieldCompanyName, symbol+" Limited",
	)
}

func buildFetch(symbols []string, descs []string) []models.Announcement {
	base := time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)
	out := make([]models.Announcement, 0, len(symbols))
	for i, s := range symbols {
		desc := "Outcome of Board Meeting"
		if len(descs) > 0 {
			desc = descs[i%len(descs)]
		}
		at := base.Add(time.Duration(i) * time.Minute).Format("02-Jan-2006 15:04:05")
		out = append(out, announcement(s, desc, at))
	}
	return out
}

// Property: diffing a fetch against a ledger seeded with that same fetch
// finds nothing new, after a real CSV round trip.
func TestProperty_DiffIdempotentAfterSeed(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)
	run := 0

	properties.Property("Diff(F, seed(F)) is empty", prop.ForAll(
		func(symbols []string, descs []string) bool {
			run++
			fetched := buildFetch(symbols, descs)
			if len(fetched) == 0 {
				return len(Diff(fetched, &ledger.Snapshot{})) == 0
			}

			store := ledger.NewStore(filepath.Join(dir, fmt.Sprintf("ledger-%d.csv", run)))
			if err := store.Seed(ctx, fetched); err != nil {
				t.Logf("seed: %v", err)
				return false
			}
			snap, err := store.Load(ctx)
			if err != nil {
				t.Logf("load: %v", err)
				return false
			}
			return len(Diff(fetched, snap)) == 0
		},
		gen.SliceOf(gen.Identifier()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.Property("field order does not affect identity", prop.ForAll(
		func(symbols []string) bool {
			fetched := buildFetch(symbols, nil)
			reversed := make([]models.Announcement, len(fetched))
			for i, r := range fetched {
				fields := make([]models.Field, len(r.Fields))
				for j, f := range r.Fields {
					fields[len(fields)-1-j] = f
				}
				reversed[i] = models.Announcement{Fields: fields}
			}
			snap := &ledger.Snapshot{Exists: true, Columns: fetched0Names(fetched), Records: reversed}
			return len(Diff(fetched, snap)) == 0
		},
		gen.SliceOf(gen.Identifier()),
	))

	properties.Property("every record absent from the ledger is returned once", prop.ForAll(
		func(symbols []string) bool {
			fetched := buildFetch(symbols, nil)
			fresh := Diff(append(fetched, fetched...), &ledger.Snapshot{Exists: true})
			unique := make(map[models.Key]bool)
			for _, r := range fetched {
				unique[models.RecordKey(r)] = true
			}
			return len(fresh) == len(unique)
		},
		gen.SliceOf(gen.Identifier()),
	))

	properties.TestingRun(t)
}

func fetched0Names(records []models.Announcement) []string {
	if len(records) == 0 {
		return nil
	}
	return records[0].Names()
}

func TestDiffComparesOnSharedColumns(t *testing.T) {
	old := announcement("TCS", "Board meeting", "01-Jul-2024 10:00:00")
	snap := &ledger.Snapshot{Exists: true, Columns: old.Names(), Records: []models.Announcement{old}}

	// Upstream starts sending a new column for the same announcement.
	widened := announcement("TCS", "Board meeting", "01-Jul-2024 10:00:00")
	widened.Set("seq_id", "123456")

	if fresh := Diff([]models.Announcement{widened}, snap); len(fresh) != 0 {
		t.Fatalf("widened record reported as new: %v", fresh)
	}

	changed := announcement("TCS", "Board meeting - revised", "01-Jul-2024 10:00:00")
	changed.Set("seq_id", "123457")
	fresh := Diff([]models.Announcement{widened, changed}, snap)
	if len(fresh) != 1 || fresh[0].Description() != "Board meeting - revised" {
		t.Fatalf("fresh = %v", fresh)
	}
	if fresh[0].Get("seq_id") != "123457" {
		t.Error("full record not returned")
	}
}

func TestDiffStableAfterLedgerGainsColumn(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewStore(filepath.Join(t.TempDir(), "ledger.csv"))

	if err := store.Seed(ctx, []models.Announcement{announcement("TCS", "Board meeting", "01-Jul-2024 10:00:00")}); err != nil {
		t.Fatal(err)
	}

	tcs := announcement("TCS", "Board meeting", "01-Jul-2024 10:00:00")
	tcs.Set("seq_id", "1")
	infy := announcement("INFY", "Dividend", "01-Jul-2024 11:00:00")
	infy.Set("seq_id", "2")
	fetch := []models.Announcement{tcs, infy}

	for cycle := 2; cycle <= 3; cycle++ {
		snap, err := store.Load(ctx)
		if err != nil {
			t.Fatal(err)
		}
		fresh := Diff(fetch, snap)

		want := 0
		if cycle == 2 {
			want = 1
		}
		if len(fresh) != want {
			t.Fatalf("cycle %d: %d new records %v, want %d", cycle, len(fresh), fresh, want)
		}
		if cycle == 2 && fresh[0].Symbol() != "INFY" {
			t.Fatalf("cycle 2 new = %s, want INFY", fresh[0].Symbol())
		}
		if err := store.Append(ctx, fresh); err != nil {
			t.Fatal(err)
		}
	}

	snap, err := store.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !snap.ColumnSet()["seq_id"] || snap.Len() != 2 {
		t.Errorf("ledger columns %v, rows %d", snap.Columns, snap.Len())
	}
}

func TestDiffIgnoresWhitespaceAndEmptyFields(t *testing.T) {
	stored := models.NewAnnouncement("symbol", "INFY", "desc", "Dividend", "attchmntText", "")
	snap := &ledger.Snapshot{Exists: true, Columns: stored.Names(), Records: []models.Announcement{stored}}

	fetched := models.NewAnnouncement("symbol", "  INFY ", "desc", "Dividend\n")
	if fresh := Diff([]models.Announcement{fetched}, snap); len(fresh) != 0 {
		t.Errorf("normalized duplicate reported as new: %v", fresh)
	}
}

func TestDiffDisjointHeaderComparesAllFields(t *testing.T) {
	snap := &ledger.Snapshot{
		Exists:  true,
		Columns: []string{"unrelated"},
		Records: []models.Announcement{models.NewAnnouncement("unrelated", "x")},
	}
	fetched := []models.Announcement{announcement("SBIN", "Results", "01-Jul-2024 10:00:00")}
	if fresh := Diff(fetched, snap); len(fresh) != 1 {
		t.Errorf("fresh = %d, want 1", len(fresh))
	}
}

func TestSortNewestFirst(t *testing.T) {
	records := []models.Announcement{
		announcement("A", "d", "01-Jul-2024 10:00:00"),
		announcement("B", "d", "garbage-1"),
		announcement("C", "d", "03-Jul-2024"),
		announcement("D", "d", "2024-07-02 08:00:00"),
		announcement("E", "d", "garbage-2"),
		announcement("F", "d", "01-Jul-2024 10:00:00"),
	}
	SortNewestFirst(records)

	var got []string
	for _, r := range records {
		got = append(got, r.Symbol())
	}
	want := []string{"C", "D", "A", "F", "E", "B"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}
