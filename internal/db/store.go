// Package db persists ledger entries and user accounts in PostgreSQL or SQLite.
package db

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/finguru/finguru-service/internal/common"
	"github.com/finguru/finguru-service/internal/models"
)

// MaxListLimit bounds ListRecent
const MaxListLimit = 100

// LedgerStore persists classified expenses. Every query is scoped to a user;
// an empty userID is the anonymous owner used when auth is disabled.
type LedgerStore interface {
	Save(ctx context.Context, entry *models.LedgerEntry) error
	Get(ctx context.Context, userID, id string) (*models.LedgerEntry, error)
	Update(ctx context.Context, entry *models.LedgerEntry) error
	Delete(ctx context.Context, userID, id string) error
	ListByDate(ctx context.Context, userID, date string) ([]models.LedgerEntry, error)
	ListRange(ctx context.Context, userID, startDate, endDate string) ([]models.LedgerEntry, error)
	ListRecent(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error)
}

// UserStore persists accounts
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
}

// Store is a complete backend
type Store interface {
	LedgerStore
	UserStore
	Ping(ctx context.Context) error
	Close()
}

// Open connects to the configured backend and creates the schema.
// The "none" driver returns common.ErrNoLedger (classify-only mode).
func Open(ctx context.Context, cfg models.LedgerConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Driver {
	case "postgres":
		store, err := NewPostgresLedger(ctx, cfg.DSN, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "sqlite":
		store, err := NewSQLiteLedger(ctx, cfg.DSN, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "", "none":
		return nil, common.ErrNoLedger
	default:
		return nil, fmt.Errorf("%w: unknown ledger driver %q", common.ErrInvalidConfig, cfg.Driver)
	}
}

// prepareNew assigns identity and timestamps to an entry about to be inserted
func prepareNew(entry *models.LedgerEntry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now
	if entry.Date == "" {
		entry.Date = entry.CreatedAt.Format(time.DateOnly)
	}
}

func prepareUpdate(entry *models.LedgerEntry) {
	entry.UpdatedAt = time.Now().UTC()
}

func prepareUser(user *models.User) {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Email = normalizeEmail(user.Email)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// validID reports whether id can name a row; anything else is simply not found
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

func persistenceError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", common.ErrPersistence, op, err)
}
