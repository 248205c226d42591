// Package ledger persists processed announcements as a tabular CSV file.
package ledger

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	apperrors "nse-alerts/internal/errors"
	"nse-alerts/internal/models"
)

// Order controls where appended records land relative to existing rows.
type Order int

const (
	// NewestFirst puts appended records ahead of existing rows.
	NewestFirst Order = iota
	// Chronological puts appended records after existing rows.
	Chronological
)

// Snapshot is the content of a ledger file at load time.
type Snapshot struct {
	Exists  bool
	Columns []string
	Records []models.Announcement
}

// Len returns the number of records.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Records)
}

// ColumnSet returns the header as a set.
func (s *Snapshot) ColumnSet() map[string]bool {
	set := make(map[string]bool, len(s.Columns))
	for _, c := range s.Columns {
		set[c] = true
	}
	return set
}

// Stats describes the ledger file.
type Stats struct {
	Path    string    `json:"path"`
	Exists  bool      `json:"exists"`
	Rows    int       `json:"rows"`
	Columns int       `json:"columns"`
	Size    int64     `json:"size_bytes"`
	ModTime time.Time `json:"modified"`
}

// Store is a CSV-backed, append/merge-only announcement ledger. A single
// process writes at a time; the file lock also keeps other processes out.
type Store struct {
	path  string
	order Order
	lock  *flock.Flock
	mu    sync.Mutex
}

// NewStore creates the main dedup ledger. New records go ahead of old ones.
func NewStore(path string) *Store {
	return &Store{path: path, order: NewestFirst, lock: flock.New(path + ".lock")}
}

// NewWatchlist creates the watchlist audit file. Rows stay in arrival order.
func NewWatchlist(path string) *Store {
	return &Store{path: path, order: Chronological, lock: flock.New(path + ".lock")}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the whole ledger. A missing file is an empty, non-existent
// snapshot rather than an error.
func (s *Store) Load(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.read()
}

// Seed writes the initial ledger. It behaves like Append on an empty file.
func (s *Store) Seed(ctx context.Context, records []models.Announcement) error {
	return s.Append(ctx, records)
}

// Append merges records into the ledger: read whole, merge, drop exact
// duplicates, rewrite in full. The rewrite goes through a temp file and a
// rename so the ledger is never left half-written. Once the write has
// started it is not interrupted by ctx.
func (s *Store) Append(ctx context.Context, records []models.Announcement) error {
	if err := ctx.Err(); err != nil {
		return apperrors.NewLedgerError(s.path, "append", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return apperrors.NewLedgerError(s.path, "append", fmt.Errorf("%w: %v", apperrors.ErrLedgerWrite, err))
	}
	if err := s.lock.Lock(); err != nil {
		return apperrors.NewLedgerError(s.path, "lock", fmt.Errorf("%w: %v", apperrors.ErrLedgerWrite, err))
	}
	defer s.lock.Unlock()

	existing, err := s.read()
	if err != nil {
		return err
	}

	var merged []models.Announcement
	if s.order == NewestFirst {
		merged = append(append(merged, records...), existing.Records...)
	} else {
		merged = append(append(merged, existing.Records...), records...)
	}
	merged = dedup(merged)

	columns := unionColumns(existing.Columns, records)
	if err := writeTable(s.path, columns, merged); err != nil {
		return apperrors.NewLedgerError(s.path, "write", fmt.Errorf("%w: %v", apperrors.ErrLedgerWrite, err))
	}
	return nil
}

// Search returns every record with a cell containing keyword, ignoring case.
func (s *Store) Search(ctx context.Context, keyword string) ([]models.Announcement, error) {
	snap, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}

	keyword = strings.ToLower(strings.TrimSpace(keyword))
	var out []models.Announcement
	for _, rec := range snap.Records {
		for _, f := range rec.Fields {
			if strings.Contains(strings.ToLower(f.Value), keyword) {
				out = append(out, rec)
				break
			}
		}
	}
	return out, nil
}

// Stats returns row and file statistics.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Path: s.path}
	snap, err := s.Load(ctx)
	if err != nil {
		return st, err
	}
	st.Exists = snap.Exists
	st.Rows = snap.Len()
	st.Columns = len(snap.Columns)
	if info, err := os.Stat(s.path); err == nil {
		st.Size = info.Size()
		st.ModTime = info.ModTime()
	}
	return st, nil
}

func (s *Store) read() (*Snapshot, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Snapshot{}, nil
		}
		return nil, apperrors.NewLedgerError(s.path, "read", fmt.Errorf("%w: %v", apperrors.ErrLedgerRead, err))
	}
	defer f.Close()

	columns, records, err := readTable(f)
	if err != nil {
		return nil, apperrors.NewLedgerError(s.path, "read", fmt.Errorf("%w: %v", apperrors.ErrLedgerRead, err))
	}
	return &Snapshot{Exists: true, Columns: columns, Records: records}, nil
}

func readTable(r io.Reader) ([]string, []models.Announcement, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reading header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	var records []models.Announcement
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("reading row %d: %w", len(records)+2, err)
		}
		rec := models.Announcement{Fields: make([]models.Field, 0, len(header))}
		for i, name := range header {
			value := ""
			if i < len(row) {
				value = row[i]
			}
			rec.Fields = append(rec.Fields, models.Field{Name: name, Value: value})
		}
		records = append(records, rec)
	}
	return header, records, nil
}

func writeTable(path string, columns []string, records []models.Announcement) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	w := csv.NewWriter(tmp)
	if err := w.Write(columns); err != nil {
		tmp.Close()
		return fmt.Errorf("writing header: %w", err)
	}
	row := make([]string, len(columns))
	for _, rec := range records {
		for i, c := range columns {
			row[i] = rec.Get(c)
		}
		if err := w.Write(row); err != nil {
			tmp.Close()
			return fmt.Errorf("writing row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("flushing rows: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	return os.Rename(tmpName, path)
}

// unionColumns keeps the existing header order and appends columns first
// seen in records.
func unionColumns(existing []string, records []models.Announcement) []string {
	seen := make(map[string]bool, len(existing))
	columns := make([]string, 0, len(existing))
	for _, c := range existing {
		if !seen[c] {
			seen[c] = true
			columns = append(columns, c)
		}
	}
	for _, rec := range records {
		for _, f := range rec.Fields {
			if !seen[f.Name] {
				seen[f.Name] = true
				columns = append(columns, f.Name)
			}
		}
	}
	return columns
}

func dedup(records []models.Announcement) []models.Announcement {
	seen := make(map[models.Key]bool, len(records))
	out := make([]models.Announcement, 0, len(records))
	for _, rec := range records {
		k := models.RecordKey(rec)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, rec)
	}
	return out
}
