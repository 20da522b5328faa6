package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/finguru/finguru-service/internal/common"
	"github.com/finguru/finguru-service/internal/models"
)

const pgEntryColumns = `id::text, user_id, expense_date::text, amount, category, tax_rate, tax_amount,
	confidence, explanation, needs_confirmation, confirmation_reason, confirmed, reasoning_path,
	source, vendor_name, vendor_tax_id, media_key, raw_text, created_at, updated_at`

func scanPGEntry(row pgx.Row) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	err := row.Scan(
		&e.ID, &e.UserID, &e.Date, &e.Amount, &e.Category, &e.TaxRate, &e.TaxAmount,
		&e.Confidence, &e.Explanation, &e.NeedsConfirmation, &e.ConfirmationReason, &e.Confirmed, &e.ReasoningPath,
		&e.Source, &e.VendorName, &e.VendorTaxID, &e.MediaKey, &e.RawText, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *PostgresLedger) queryEntries(ctx context.Context, op, query string, args ...any) ([]models.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, persistenceError(op, err)
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		e, err := scanPGEntry(rows)
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
func (s *PostgresLedger) Save(ctx context.Context, entry *models.LedgerEntry) error {
	prepareNew(entry)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ledger_entries (
			id, user_id, expense_date, amount, category, tax_rate, tax_amount,
			confidence, explanation, needs_confirmation, confirmation_reason, confirmed, reasoning_path,
			source, vendor_name, vendor_tax_id, media_key, raw_text, created_at, updated_at
		) VALUES ($1, $2, $3::date, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`,
		entry.ID, entry.UserID, entry.Date, entry.Amount, entry.Category, entry.TaxRate, entry.TaxAmount,
		entry.Confidence, entry.Explanation, entry.NeedsConfirmation, entry.ConfirmationReason, entry.Confirmed, entry.ReasoningPath,
		entry.Source, entry.VendorName, entry.VendorTaxID, entry.MediaKey, entry.RawText, entry.CreatedAt, entry.UpdatedAt,
	)
	if err != nil {
		return persistenceError("save entry", err)
	}
	return nil
}

// Get retrieves a single entry by ID
func (s *PostgresLedger) Get(ctx context.Context, userID, id string) (*models.LedgerEntry, error) {
	if !validID(id) {
		return nil, common.ErrNotFound
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgEntryColumns+` FROM ledger_entries WHERE id = $1::uuid AND user_id = $2`, id, userID)
	e, err := scanPGEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, persistenceError("get entry", err)
	}
	return e, nil
}

// Update rewrites the mutable fields of an entry
func (s *PostgresLedger) Update(ctx context.Context, entry *models.LedgerEntry) error {
	if !validID(entry.ID) {
		return common.ErrNotFound
	}
	prepareUpdate(entry)
	tag, err := s.pool.Exec(ctx, `
		UPDATE ledger_entries SET
			amount = $1, category = $2, tax_rate = $3, tax_amount = $4, confidence = $5,
			explanation = $6, needs_confirmation = $7, confirmation_reason = $8, confirmed = $9,
			vendor_name = $10, updated_at = $11
		WHERE id = $12::uuid AND user_id = $13
	`,
		entry.Amount, entry.Category, entry.TaxRate, entry.TaxAmount, entry.Confidence,
		entry.Explanation, entry.NeedsConfirmation, entry.ConfirmationReason, entry.Confirmed,
		entry.VendorName, entry.UpdatedAt, entry.ID, entry.UserID,
	)
	if err != nil {
		return persistenceError("update entry", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrNotFound
	}
	return nil
}

// Delete removes an entry
func (s *PostgresLedger) Delete(ctx context.Context, userID, id string) error {
	if !validID(id) {
		return common.ErrNotFound
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM ledger_entries WHERE id = $1::uuid AND user_id = $2`, id, userID)
	if err != nil {
		return persistenceError("delete entry", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrNotFound
	}
	return nil
}

// ListByDate returns the entries of one day, oldest first
func (s *PostgresLedger) ListByDate(ctx context.Context, userID, date string) ([]models.LedgerEntry, error) {
	return s.queryEntries(ctx, "list by date",
		`SELECT `+pgEntryColumns+` FROM ledger_entries
		 WHERE user_id = $1 AND expense_date = $2::date
		 ORDER BY created_at`, userID, date)
}

// ListRange returns entries between two dates inclusive, by date then creation
func (s *PostgresLedger) ListRange(ctx context.Context, userID, startDate, endDate string) ([]models.LedgerEntry, error) {
	return s.queryEntries(ctx, "list range",
		`SELECT `+pgEntryColumns+` FROM ledger_entries
		 WHERE user_id = $1 AND expense_date BETWEEN $2::date AND $3::date
		 ORDER BY expense_date, created_at`, userID, startDate, endDate)
}

// ListRecent returns the newest entries first
func (s *PostgresLedger) ListRecent(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error) {
	return s.queryEntries(ctx, "list recent",
		`SELECT `+pgEntryColumns+` FROM ledger_entries
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`, userID, clampLimit(limit))
}

// CreateUser inserts an account; a taken email returns common.ErrDuplicate
func (s *PostgresLedger) CreateUser(ctx context.Context, user *models.User) error {
	prepareUser(user)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, email, name, password_hash, created_at) VALUES ($1::uuid, $2, $3, $4, $5)`,
		user.ID, user.Email, user.Name, user.PasswordHash, user.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return common.ErrDuplicate
	}
	if err != nil {
		return persistenceError("create user", err)
	}
	return nil
}

// GetUserByEmail looks up an account by normalized email
func (s *PostgresLedger) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getUser(ctx, `WHERE email = $1`, normalizeEmail(email))
}

// GetUserByID looks up an account by ID
func (s *PostgresLedger) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	if !validID(id) {
		return nil, common.ErrNotFound
	}
	return s.getUser(ctx, `WHERE id = $1::uuid`, id)
}

func (s *PostgresLedger) getUser(ctx context.Context, where string, arg string) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx,
		`SELECT id::text, email, name, password_hash, created_at FROM users `+where, arg,
	).Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, persistenceError("get user", err)
	}
	return &u, nil
}
