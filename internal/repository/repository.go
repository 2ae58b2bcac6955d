package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"poscal/internal/models"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrWriteFailed marks a failed signal/position/account/journal write.
	// The record keeps its previous state, so the next tick retries.
	ErrWriteFailed = errors.New("persistence write failed")
)

// WriteError wraps err so that errors.Is matches both ErrWriteFailed and the
// driver error.
func WriteError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, errors.Join(ErrWriteFailed, err))
}

// Repository is the record store used by the settlement engine: filtered
// reads by status, partial updates, atomic balance increments and
// append-only journal inserts.
type Repository interface {
	// InTx runs fn against a transactional view of the store. Stores that
	// cannot open transactions run fn directly.
	InTx(ctx context.Context, fn func(tx Repository) error) error

	// Signals
	GetSignal(ctx context.Context, id string) (*models.TradingSignal, error)
	ListSignals(ctx context.Context, params ListSignalsParams) ([]models.TradingSignal, error)
	// UpdateSignalFields applies a partial update only while the signal is
	// still in expectStatus. It reports whether a row changed.
	UpdateSignalFields(ctx context.Context, id string, expectStatus string, fields map[string]any) (bool, error)
	// ListSettlementBacklog returns terminal signals closed since the cutoff
	// that still own open positions.
	ListSettlementBacklog(ctx context.Context, since time.Time, limit int) ([]models.TradingSignal, error)

	// Positions
	ListOpenPositionsBySignal(ctx context.Context, signalID string) ([]models.TakenPosition, error)
	// ClosePosition moves an open position to a terminal state. false means
	// the position was no longer open and nothing was written.
	ClosePosition(ctx context.Context, id string, fields map[string]any) (bool, error)

	// Accounts
	GetAccount(ctx context.Context, id string) (*models.TradingAccount, error)
	IncrementAccountBalance(ctx context.Context, accountID string, delta decimal.Decimal) error

	// Journal
	InsertJournalEntry(ctx context.Context, item *models.JournalEntry) error
	ListJournalEntries(ctx context.Context, params ListJournalParams) ([]models.JournalEntry, error)

	// Prices
	UpsertPrices(ctx context.Context, items []models.PriceCache) error
	ListPrices(ctx context.Context, symbols []string) ([]models.PriceCache, error)

	// Notifications outbox
	InsertNotificationEvent(ctx context.Context, item *models.NotificationEvent) error
	UpdateNotificationEvent(ctx context.Context, id string, fields map[string]any) error

	// System settings
	UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error
	GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error)
	ListSystemSettings(ctx context.Context, params ListSystemSettingsParams) ([]models.SystemSetting, error)
}

type ListSignalsParams struct {
	Limit       int
	Offset      int
	Status      *string
	Pair        *string
	ClosedSince *time.Time
	OrderBy     string
	Asc         *bool
	// After switches to keyset paging: rows strictly after the cursor in
	// (created_at, id) ascending order. OrderBy, Asc and Offset are ignored.
	After *SignalCursor
}

// SignalCursor is the (created_at, id) position of the last row of a page.
type SignalCursor struct {
	CreatedAt time.Time
	ID        string
}

type ListJournalParams struct {
	Limit    int
	Offset   int
	SignalID *string
	UserID   *string
	Result   *string
	OrderBy  string
	Asc      *bool
}

type ListSystemSettingsParams struct {
	Limit   int
	Offset  int
	Prefix  *string
	OrderBy string
	Asc     *bool
}
