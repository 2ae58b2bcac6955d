package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"poscal/internal/models"
	"poscal/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx repository.Repository) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// --- signals ----------------------------------------------------------------

func (s *Store) GetSignal(ctx context.Context, id string) (*models.TradingSignal, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.TradingSignal
	err := s.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(id)).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListSignals(ctx context.Context, params repository.ListSignalsParams) ([]models.TradingSignal, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.TradingSignal{})
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	if params.Pair != nil && strings.TrimSpace(*params.Pair) != "" {
		query = query.Where("currency_pair = ?", strings.TrimSpace(*params.Pair))
	}
	if params.ClosedSince != nil && !params.ClosedSince.IsZero() {
		query = query.Where("closed_at >= ?", *params.ClosedSince)
	}
	limit := normalizeLimit(params.Limit, 500)
	if params.After != nil {
		after := params.After
		query = query.
			Where("created_at > ? OR (created_at = ? AND id > ?)", after.CreatedAt, after.CreatedAt, after.ID).
			Order("created_at asc").
			Order("id asc")
	} else {
		query = applyOrder(query, params.OrderBy, params.Asc, "created_at").
			Order("id asc").
			Offset(normalizeOffset(params.Offset))
	}
	var items []models.TradingSignal
	if err := query.Limit(limit).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpdateSignalFields(ctx context.Context, id string, expectStatus string, fields map[string]any) (bool, error) {
	if s == nil || s.db == nil || len(fields) == 0 {
		return false, nil
	}
	query := s.db.WithContext(ctx).Model(&models.TradingSignal{}).Where("id = ?", id)
	if expectStatus != "" {
		query = query.Where("status = ?", expectStatus)
	}
	res := query.Updates(fields)
	if res.Error != nil {
		return false, repository.WriteError("update signal", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) ListSettlementBacklog(ctx context.Context, since time.Time, limit int) ([]models.TradingSignal, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	open := s.db.Model(&models.TakenPosition{}).
		Select("1").
		Where("taken_positions.signal_id = trading_signals.id").
		Where("taken_positions.status = ?", models.PositionStatusOpen)
	var items []models.TradingSignal
	err := s.db.WithContext(ctx).
		Model(&models.TradingSignal{}).
		Where("status IN ?", []string{models.SignalStatusClosed, models.SignalStatusCancelled}).
		Where("closed_at >= ?", since).
		Where("EXISTS (?)", open).
		Order("closed_at asc").
		Limit(normalizeLimit(limit, 200)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// --- positions / accounts ---------------------------------------------------

func (s *Store) ListOpenPositionsBySignal(ctx context.Context, signalID string) ([]models.TakenPosition, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.TakenPosition
	err := s.db.WithContext(ctx).
		Where("signal_id = ?", signalID).
		Where("status = ?", models.PositionStatusOpen).
		Order("created_at asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ClosePosition(ctx context.Context, id string, fields map[string]any) (bool, error) {
	if s == nil || s.db == nil || len(fields) == 0 {
		return false, nil
	}
	res := s.db.WithContext(ctx).
		Model(&models.TakenPosition{}).
		Where("id = ?", id).
		Where("status = ?", models.PositionStatusOpen).
		Updates(fields)
	if res.Error != nil {
		return false, repository.WriteError("close position", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (*models.TradingAccount, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.TradingAccount
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// IncrementAccountBalance adds delta in SQL; the balance is never read into
// memory first.
func (s *Store) IncrementAccountBalance(ctx context.Context, accountID string, delta decimal.Decimal) error {
	if s == nil || s.db == nil {
		return nil
	}
	res := s.db.WithContext(ctx).
		Model(&models.TradingAccount{}).
		Where("id = ?", accountID).
		Update("current_balance", gorm.Expr("current_balance + ?", delta))
	if res.Error != nil {
		return repository.WriteError("increment balance", res.Error)
	}
	if res.RowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// --- journal ----------------------------------------------------------------

func (s *Store) InsertJournalEntry(ctx context.Context, item *models.JournalEntry) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "position_id"}},
		DoNothing: true,
	}).Create(item).Error
	return repository.WriteError("insert journal entry", err)
}

func (s *Store) ListJournalEntries(ctx context.Context, params repository.ListJournalParams) ([]models.JournalEntry, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.JournalEntry{})
	if params.SignalID != nil && strings.TrimSpace(*params.SignalID) != "" {
		query = query.Where("signal_id = ?", strings.TrimSpace(*params.SignalID))
	}
	if params.UserID != nil && strings.TrimSpace(*params.UserID) != "" {
		query = query.Where("user_id = ?", strings.TrimSpace(*params.UserID))
	}
	if params.Result != nil && strings.TrimSpace(*params.Result) != "" {
		query = query.Where("result = ?", strings.TrimSpace(*params.Result))
	}
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	var items []models.JournalEntry
	if err := query.Limit(normalizeLimit(params.Limit, 200)).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- prices -----------------------------------------------------------------

// UpsertPrices keeps the newest quote per symbol; an older quote arriving
// late does not overwrite a fresher one.
func (s *Store) UpsertPrices(ctx context.Context, items []models.PriceCache) error {
	if s == nil || s.db == nil || len(items) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"bid_price",
			"mid_price",
			"ask_price",
			"source",
			"quoted_at",
			"updated_at",
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "price_cache.quoted_at <= excluded.quoted_at"},
		}},
	}).CreateInBatches(items, 200).Error
}

func (s *Store) ListPrices(ctx context.Context, symbols []string) ([]models.PriceCache, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	symbols = cleanStrings(symbols)
	if len(symbols) == 0 {
		return nil, nil
	}
	var items []models.PriceCache
	if err := s.db.WithContext(ctx).Where("symbol IN ?", symbols).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- notifications ----------------------------------------------------------

func (s *Store) InsertNotificationEvent(ctx context.Context, item *models.NotificationEvent) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) UpdateNotificationEvent(ctx context.Context, id string, fields map[string]any) error {
	if s == nil || s.db == nil || len(fields) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.NotificationEvent{}).Where("id = ?", id).Updates(fields).Error
}

// --- system settings --------------------------------------------------------

func (s *Store) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	item.Key = strings.TrimSpace(item.Key)
	if item.Key == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"value",
			"description",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	var item models.SystemSetting
	err := s.db.WithContext(ctx).Model(&models.SystemSetting{}).Where("key = ?", key).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListSystemSettings(ctx context.Context, params repository.ListSystemSettingsParams) ([]models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.SystemSetting{})
	if params.Prefix != nil && strings.TrimSpace(*params.Prefix) != "" {
		query = query.Where("key LIKE ?", strings.TrimSpace(*params.Prefix)+"%")
	}
	query = applyOrder(query, params.OrderBy, params.Asc, "key")
	var items []models.SystemSetting
	if err := query.Limit(normalizeLimit(params.Limit, 500)).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string) *gorm.DB {
	column := strings.TrimSpace(orderBy)
	if column == "" {
		column = fallback
	}
	direction := "desc"
	if asc != nil && *asc {
		direction = "asc"
	}
	return query.Order(column + " " + direction)
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	seen := map[string]struct{}{}
	for _, raw := range items {
		val := strings.TrimSpace(raw)
		if val == "" {
			continue
		}
		if _, ok := seen[val]; ok {
			continue
		}
		seen[val] = struct{}{}
		out = append(out, val)
	}
	return out
}

var _ repository.Repository = (*Store)(nil)
