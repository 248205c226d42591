package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	apperrors "nse-alerts/internal/errors"
	"nse-alerts/internal/models"
)

// SQLiteStore implements MessageStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the message database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("%w: creating database directory: %v", apperrors.ErrDatabaseError, err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %v", apperrors.ErrDatabaseError, err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to initialize schema: %v", apperrors.ErrDatabaseError, err)
	}

	return store, nil
}

const schema = `
	-- One row per delivery attempt
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		destination_id TEXT NOT NULL,
		message_text TEXT NOT NULL,
		symbol TEXT,
		company_name TEXT,
		description TEXT,
		attachment_url TEXT,
		mode TEXT NOT NULL,
		delivered INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		timestamp DATETIME NOT NULL
	);

	-- Figures extracted from results filings
	CREATE TABLE IF NOT EXISTS financial_metrics (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		period TEXT,
		year TEXT,
		revenue TEXT,
		pbt TEXT,
		pat TEXT,
		total_income TEXT,
		other_income TEXT,
		eps TEXT,
		units TEXT,
		source_url TEXT,
		created_at DATETIME NOT NULL
	);

	-- Messages that carried a set of metrics
	CREATE TABLE IF NOT EXISTS metrics_messages (
		metrics_id TEXT NOT NULL,
		message_id TEXT NOT NULL,
		PRIMARY KEY (metrics_id, message_id),
		FOREIGN KEY (metrics_id) REFERENCES financial_metrics(id),
		FOREIGN KEY (message_id) REFERENCES messages(id)
	);

	CREATE INDEX IF NOT EXISTS idx_messages_symbol ON messages(symbol);
	CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp);
	CREATE INDEX IF NOT EXISTS idx_messages_destination ON messages(destination_id);
	CREATE INDEX IF NOT EXISTS idx_metrics_symbol ON financial_metrics(symbol);
	`

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveNotification stores one delivery attempt.
func (s *SQLiteStore) SaveNotification(ctx context.Context, rec models.NotificationRecord) error {
	delivered := 0
	if rec.Delivered {
		delivered = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO messages (id, destination_id, message_text, symbol, company_name, description, attachment_url, mode, delivered, error, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.DestinationID, rec.MessageText, rec.Symbol, rec.CompanyName, rec.Description, rec.AttachmentURL, string(rec.Mode), delivered, rec.Error, rec.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("%w: failed to save notification: %v", apperrors.ErrDatabaseError, err)
	}
	return nil
}

// ListNotifications returns notifications matching filter, newest first.
func (s *SQLiteStore) ListNotifications(ctx context.Context, filter NotificationFilter) ([]models.NotificationRecord, error) {
	query := "SELECT id, destination_id, message_text, symbol, company_name, description, attachment_url, mode, delivered, error, timestamp FROM messages WHERE 1=1"
	args := []interface{}{}

	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.Destination != "" {
		query += " AND destination_id = ?"
		args = append(args, filter.Destination)
	}
	if !filter.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.Since.UTC())
	}

	query += " ORDER BY timestamp DESC, rowid DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query notifications: %v", apperrors.ErrDatabaseError, err)
	}
	defer rows.Close()

	var records []models.NotificationRecord
	for rows.Next() {
		var r models.NotificationRecord
		var symbol, company, desc, attachment, errText sql.NullString
		var mode string
		var delivered int

		if err := rows.Scan(&r.ID, &r.DestinationID, &r.MessageText, &symbol, &company, &desc, &attachment, &mode, &delivered, &errText, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("%w: failed to scan notification: %v", apperrors.ErrDatabaseError, err)
		}

		r.Symbol = symbol.String
		r.CompanyName = company.String
		r.Description = desc.String
		r.AttachmentURL = attachment.String
		r.Error = errText.String
		r.Mode = models.Mode(mode)
		r.Delivered = delivered == 1
		records = append(records, r)
	}

	return records, rows.Err()
}

// DeleteNotificationsByDestination removes every notification sent to
// destination along with its metric links.
func (s *SQLiteStore) DeleteNotificationsByDestination(ctx context.Context, destination string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to begin transaction: %v", apperrors.ErrDatabaseError, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM metrics_messages
		WHERE message_id IN (SELECT id FROM messages WHERE destination_id = ?)
	`, destination); err != nil {
		return 0, fmt.Errorf("%w: failed to delete metric links: %v", apperrors.ErrDatabaseError, err)
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE destination_id = ?", destination)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to delete notifications: %v", apperrors.ErrDatabaseError, err)
	}
	n, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: failed to commit: %v", apperrors.ErrDatabaseError, err)
	}
	return n, nil
}

func nullable(d decimal.Decimal, present bool) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: present}
}

// SaveMetrics stores m once and links it to the notifications that carried
// it.
func (s *SQLiteStore) SaveMetrics(ctx context.Context, m models.FinancialMetrics, notificationIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", apperrors.ErrDatabaseError, err)
	}
	defer tx.Rollback()

	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO financial_metrics (id, symbol, period, year, revenue, pbt, pat, total_income, other_income, eps, units, source_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.Symbol, m.Period, m.Year,
		nullable(m.Revenue, m.Present.Revenue),
		nullable(m.PBT, m.Present.PBT),
		nullable(m.PAT, m.Present.PAT),
		nullable(m.TotalIncome, m.Present.TotalIncome),
		nullable(m.OtherIncome, m.Present.OtherIncome),
		nullable(m.EPS, m.Present.EPS),
		m.Units, m.SourceURL, createdAt.UTC())
	if err != nil {
		return fmt.Errorf("%w: failed to save metrics: %v", apperrors.ErrDatabaseError, err)
	}

	for _, id := range notificationIDs {
		if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO metrics_messages (metrics_id, message_id) VALUES (?, ?)", m.ID, id); err != nil {
			return fmt.Errorf("%w: failed to link metrics: %v", apperrors.ErrDatabaseError, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit: %v", apperrors.ErrDatabaseError, err)
	}
	return nil
}

// ListMetrics returns metrics matching filter, newest first.
func (s *SQLiteStore) ListMetrics(ctx context.Context, filter MetricsFilter) ([]models.FinancialMetrics, error) {
	query := "SELECT id, symbol, period, year, revenue, pbt, pat, total_income, other_income, eps, units, source_url, created_at FROM financial_metrics WHERE 1=1"
	args := []interface{}{}

	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if !filter.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, filter.Since.UTC())
	}

	query += " ORDER BY created_at DESC, rowid DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query metrics: %v", apperrors.ErrDatabaseError, err)
	}
	defer rows.Close()

	var out []models.FinancialMetrics
	for rows.Next() {
		var m models.FinancialMetrics
		var period, year, units, source sql.NullString
		var revenue, pbt, pat, total, other, eps decimal.NullDecimal

		if err := rows.Scan(&m.ID, &m.Symbol, &period, &year, &revenue, &pbt, &pat, &total, &other, &eps, &units, &source, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: failed to scan metrics: %v", apperrors.ErrDatabaseError, err)
		}

		m.Period, m.Year, m.Units, m.SourceURL = period.String, year.String, units.String, source.String
		m.Revenue, m.Present.Revenue = revenue.Decimal, revenue.Valid
		m.PBT, m.Present.PBT = pbt.Decimal, pbt.Valid
		m.PAT, m.Present.PAT = pat.Decimal, pat.Valid
		m.TotalIncome, m.Present.TotalIncome = total.Decimal, total.Valid
		m.OtherIncome, m.Present.OtherIncome = other.Decimal, other.Valid
		m.EPS, m.Present.EPS = eps.Decimal, eps.Valid
		out = append(out, m)
	}

	return out, rows.Err()
}

// NotificationIDsForMetrics returns the messages linked to a metrics row.
func (s *SQLiteStore) NotificationIDsForMetrics(ctx context.Context, metricsID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT message_id FROM metrics_messages WHERE metrics_id = ? ORDER BY message_id", metricsID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query metric links: %v", apperrors.ErrDatabaseError, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: failed to scan metric link: %v", apperrors.ErrDatabaseError, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Stats summarizes the store contents.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN delivered = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN delivered = 0 THEN 1 ELSE 0 END), 0),
			COUNT(DISTINCT destination_id)
		FROM messages
	`).Scan(&st.Messages, &st.Delivered, &st.Failed, &st.Destinations)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: failed to count messages: %v", apperrors.ErrDatabaseError, err)
	}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM financial_metrics").Scan(&st.Metrics); err != nil {
		return Stats{}, fmt.Errorf("%w: failed to count metrics: %v", apperrors.ErrDatabaseError, err)
	}

	err = s.db.QueryRowContext(ctx, "SELECT timestamp FROM messages ORDER BY timestamp DESC LIMIT 1").Scan(&st.LastMessage)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Stats{}, fmt.Errorf("%w: failed to read last message time: %v", apperrors.ErrDatabaseError, err)
	}

	return st, nil
}

// Reset drops and recreates every table.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		DROP TABLE IF EXISTS metrics_messages;
		DROP TABLE IF EXISTS financial_metrics;
		DROP TABLE IF EXISTS messages;
	`)
	if err != nil {
		return fmt.Errorf("%w: failed to drop tables: %v", apperrors.ErrDatabaseError, err)
	}
	if err := s.initSchema(ctx); err != nil {
		return fmt.Errorf("%w: failed to recreate schema: %v", apperrors.ErrDatabaseError, err)
	}
	return nil
}
