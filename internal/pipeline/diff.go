// Package pipeline turns feed snapshots into notifications: it diffs each
// fetch against the ledger, routes and enriches the new records, fans them
// out to their destinations and persists the ledger.
package pipeline

import (
	"sort"
	"strings"

	"nse-alerts/internal/ledger"
	"nse-alerts/internal/models"
)

// Diff returns the fetched records that are not in the ledger snapshot.
//
// Each ledger row is compared only on the columns it holds a value for, so
// a column added upstream does not make old records look new, either before
// or after the ledger header has grown to include it. Duplicates within the
// fetch collapse to their first occurrence. The result is sorted newest
// first by announcement time.
func Diff(fetched []models.Announcement, snap *ledger.Snapshot) []models.Announcement {
	columns := compareColumns(fetched, snap)
	known := indexLedger(snap, columns)

	batch := make(map[models.Key]bool)
	var fresh []models.Announcement
	for _, r := range fetched {
		k := identity(r, columns)
		if batch[k] {
			continue
		}
		batch[k] = true
		if known.contains(r) {
			continue
		}
		fresh = append(fresh, r)
	}

	SortNewestFirst(fresh)
	return fresh
}

// compareColumns returns the column set used for identity, or nil to
// compare on every field.
func compareColumns(fetched []models.Announcement, snap *ledger.Snapshot) map[string]bool {
	if snap == nil || len(snap.Columns) == 0 {
		return nil
	}
	header := snap.ColumnSet()

	shared := make(map[string]bool)
	for _, r := range fetched {
		for _, f := range r.Fields {
			if header[f.Name] {
				shared[f.Name] = true
			}
		}
	}
	// Disjoint headers would make every projection empty and equal.
	if len(shared) == 0 {
		return nil
	}
	return shared
}

func identity(r models.Announcement, columns map[string]bool) models.Key {
	r = r.Normalized()
	if columns != nil {
		r = r.Project(columns)
	}
	return models.RecordKey(r)
}

// shape is the set of columns a group of ledger rows holds values for.
type shape struct {
	columns map[string]bool
	keys    map[models.Key]bool
}

// ledgerIndex groups ledger row keys by shape. Rows written before a
// column existed read back with it empty and land in their own shape.
type ledgerIndex struct {
	shapes []*shape
}

func indexLedger(snap *ledger.Snapshot, columns map[string]bool) *ledgerIndex {
	idx := &ledgerIndex{}
	if snap == nil {
		return idx
	}

	bySig := make(map[string]*shape)
	for _, r := range snap.Records {
		r = r.Normalized()
		var names []string
		for _, f := range r.Fields {
			if f.Value == "" || (columns != nil && !columns[f.Name]) {
				continue
			}
			names = append(names, f.Name)
		}
		// A row with nothing to compare would match every record.
		if len(names) == 0 {
			continue
		}
		sort.Strings(names)
		sig := strings.Join(names, "\x00")

		sh, ok := bySig[sig]
		if !ok {
			sh = &shape{columns: make(map[string]bool, len(names)), keys: make(map[models.Key]bool)}
			for _, n := range names {
				sh.columns[n] = true
			}
			bySig[sig] = sh
			idx.shapes = append(idx.shapes, sh)
		}
		sh.keys[models.RecordKey(r.Project(sh.columns))] = true
	}
	return idx
}

func (idx *ledgerIndex) contains(r models.Announcement) bool {
	r = r.Normalized()
	for _, sh := range idx.shapes {
		if sh.keys[models.RecordKey(r.Project(sh.columns))] {
			return true
		}
	}
	return false
}

// SortNewestFirst stable-sorts records by announcement time, newest first.
// Records whose timestamp does not parse go last, ordered by the raw value.
func SortNewestFirst(records []models.Announcement) {
	sort.SliceStable(records, func(i, j int) bool {
		ti, iok := records[i].AnnouncedAt()
		tj, jok := records[j].AnnouncedAt()
		switch {
		case iok && jok:
			return ti.After(tj)
		case iok != jok:
			return iok
		default:
			return records[i].Get(models.FieldAnnouncedAt) > records[j].Get(models.FieldAnnouncedAt)
		}
	})
}
