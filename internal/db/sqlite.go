package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver (pure Go)

	"github.com/finguru/finguru-service/internal/common"
	"github.com/finguru/finguru-service/internal/models"
)

// sqliteTime is fixed width so stored timestamps sort lexically
const sqliteTime = "2006-01-02T15:04:05.000000000Z07:00"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	name          TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL,
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS ledger_entries (
	id                  TEXT PRIMARY KEY,
	user_id             TEXT NOT NULL DEFAULT '',
	expense_date        TEXT NOT NULL,
	amount              REAL NOT NULL,
	category            TEXT NOT NULL,
	tax_rate            REAL NOT NULL,
	tax_amount          REAL NOT NULL,
	confidence          REAL NOT NULL,
	explanation         TEXT NOT NULL,
	needs_confirmation  INTEGER NOT NULL DEFAULT 0,
	confirmation_reason TEXT NOT NULL DEFAULT '',
	confirmed           INTEGER NOT NULL DEFAULT 0,
	reasoning_path      TEXT NOT NULL DEFAULT '',
	source              TEXT NOT NULL,
	vendor_name         TEXT NOT NULL DEFAULT '',
	vendor_tax_id       TEXT NOT NULL DEFAULT '',
	media_key           TEXT NOT NULL DEFAULT '',
	raw_text            TEXT NOT NULL DEFAULT '',
	created_at          TEXT NOT NULL,
	updated_at          TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ledger_entries_user_date ON ledger_entries (user_id, expense_date);
CREATE INDEX IF NOT EXISTS idx_ledger_entries_user_created ON ledger_entries (user_id, created_at);
`

const sqliteEntryColumns = `id, user_id, expense_date, amount, category, tax_rate, tax_amount,
	confidence, explanation, needs_confirmation, confirmation_reason, confirmed, reasoning_path,
	source, vendor_name, vendor_tax_id, media_key, raw_text, created_at, updated_at`

// SQLiteLedger stores entries and users in a local SQLite file
type SQLiteLedger struct {
	db  *sql.DB
	log *slog.Logger
}

// NewSQLiteLedger opens (or creates) the database at path. ":memory:" gives a
// private in-memory database that lives as long as the ledger.
func NewSQLiteLedger(ctx context.Context, path string, logger *slog.Logger) (*SQLiteLedger, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: sqlite path is empty", common.ErrInvalidConfig)
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't benefit from multiple connections; one connection also
	// keeps an in-memory database alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, stmt := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode = WAL", sqliteSchema} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
	}

	log := common.OrDefault(logger)
	log.Info("ledger.sqlite.ready", "path", path)
	return &SQLiteLedger{db: db, log: log}, nil
}

// Ping checks the connection
func (s *SQLiteLedger) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database
func (s *SQLiteLedger) Close() {
	if err := s.db.Close(); err != nil {
		s.log.Warn("ledger.sqlite.close_failed", "error", err)
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteEntry(row rowScanner) (*models.LedgerEntry, error) {
	var (
		e                  models.LedgerEntry
		created, updated   string
		needsConf, confirm int
	)
	err := row.Scan(
		&e.ID, &e.UserID, &e.Date, &e.Amount, &e.Category, &e.TaxRate, &e.TaxAmount,
		&e.Confidence, &e.Explanation, &needsConf, &e.ConfirmationReason, &confirm, &e.ReasoningPath,
		&e.Source, &e.VendorName, &e.VendorTaxID, &e.MediaKey, &e.RawText, &created, &updated,
	)
	if err != nil {
		return nil, err
	}
	e.NeedsConfirmation = needsConf != 0
	e.Confirmed = confirm != 0
	if e.CreatedAt, err = time.Parse(sqliteTime, created); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if e.UpdatedAt, err = time.Parse(sqliteTime, updated); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &e, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *SQLiteLedger) queryEntries(ctx context.Context, op, query string, args ...any) ([]models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistenceError(op, err)
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		e, err := scanSQLiteEntry(rows)
		if err != nil {
			return nil, persistenceError(op, err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError(op, err)
	}
	return entries, nil
}

// Save inserts a new entry, assigning ID and timestamps when unset
func (s *SQLiteLedger) Save(ctx context.Context, entry *models.LedgerEntry) error {
	prepareNew(entry)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_entries (`+sqliteEntryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.ID, entry.UserID, entry.Date, entry.Amount, entry.Category, entry.TaxRate, entry.TaxAmount,
		entry.Confidence, entry.Explanation, boolInt(entry.NeedsConfirmation), entry.ConfirmationReason,
		boolInt(entry.Confirmed), entry.ReasoningPath, entry.Source, entry.VendorName, entry.VendorTaxID,
		entry.MediaKey, entry.RawText, entry.CreatedAt.UTC().Format(sqliteTime), entry.UpdatedAt.UTC().Format(sqliteTime),
	)
	if err != nil {
		return persistenceError("save entry", err)
	}
	return nil
}

// Get retrieves a single entry by ID
func (s *SQLiteLedger) Get(ctx context.Context, userID, id string) (*models.LedgerEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteEntryColumns+` FROM ledger_entries WHERE id = ? AND user_id = ?`, id, userID)
	e, err := scanSQLiteEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, persistenceError("get entry", err)
	}
	return e, nil
}

// Update rewrites the mutable fields of an entry
func (s *SQLiteLedger) Update(ctx context.Context, entry *models.LedgerEntry) error {
	prepareUpdate(entry)
	res, err := s.db.ExecContext(ctx, `
		UPDATE ledger_entries SET
			amount = ?, category = ?, tax_rate = ?, tax_amount = ?, confidence = ?,
			explanation = ?, needs_confirmation = ?, confirmation_reason = ?, confirmed = ?,
			vendor_name = ?, updated_at = ?
		WHERE id = ? AND user_id = ?
	`,
		entry.Amount, entry.Category, entry.TaxRate, entry.TaxAmount, entry.Confidence,
		entry.Explanation, boolInt(entry.NeedsConfirmation), entry.ConfirmationReason, boolInt(entry.Confirmed),
		entry.VendorName, entry.UpdatedAt.UTC().Format(sqliteTime), entry.ID, entry.UserID,
	)
	if err != nil {
		return persistenceError("update entry", err)
	}
	return affectedOne(res)
}

// Delete removes an entry
func (s *SQLiteLedger) Delete(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM ledger_entries WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return persistenceError("delete entry", err)
	}
	return affectedOne(res)
}

func affectedOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return persistenceError("rows affected", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

// ListByDate returns the entries of one day, oldest first
func (s *SQLiteLedger) ListByDate(ctx context.Context, userID, date string) ([]models.LedgerEntry, error) {
	return s.queryEntries(ctx, "list by date",
		`SELECT `+sqliteEntryColumns+` FROM ledger_entries
		 WHERE user_id = ? AND expense_date = ?
		 ORDER BY created_at`, userID, date)
}

// ListRange returns entries between two dates inclusive, by date then creation
func (s *SQLiteLedger) ListRange(ctx context.Context, userID, startDate, endDate string) ([]models.LedgerEntry, error) {
	return s.queryEntries(ctx, "list range",
		`SELECT `+sqliteEntryColumns+` FROM ledger_entries
		 WHERE user_id = ? AND expense_date BETWEEN ? AND ?
		 ORDER BY expense_date, created_at`, userID, startDate, endDate)
}

// ListRecent returns the newest entries first
func (s *SQLiteLedger) ListRecent(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error) {
	return s.queryEntries(ctx, "list recent",
		`SELECT `+sqliteEntryColumns+` FROM ledger_entries
		 WHERE user_id = ?
		 ORDER BY created_at DESC
		 LIMIT ?`, userID, clampLimit(limit))
}

// CreateUser inserts an account; a taken email returns common.ErrDuplicate
func (s *SQLiteLedger) CreateUser(ctx context.Context, user *models.User) error {
	prepareUser(user)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, password_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
		user.ID, user.Email, user.Name, user.PasswordHash, user.CreatedAt.UTC().Format(sqliteTime))
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return common.ErrDuplicate
	}
	if err != nil {
		return persistenceError("create user", err)
	}
	return nil
}

// GetUserByEmail looks up an account by normalized email
func (s *SQLiteLedger) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getUser(ctx, `WHERE email = ?`, normalizeEmail(email))
}

// GetUserByID looks up an account by ID
func (s *SQLiteLedger) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return s.getUser(ctx, `WHERE id = ?`, id)
}

func (s *SQLiteLedger) getUser(ctx context.Context, where string, arg string) (*models.User, error) {
	var (
		u       models.User
		created string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, name, password_hash, created_at FROM users `+where, arg,
	).Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, persistenceError("get user", err)
	}
	if u.CreatedAt, err = time.Parse(sqliteTime, created); err != nil {
		return nil, persistenceError("get user", err)
	}
	return &u, nil
}
