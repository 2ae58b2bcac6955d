package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"poscal/internal/models"
	"poscal/internal/notify"
	"poscal/internal/repository"
)

// stubRepo is an in-memory Repository. InTx snapshots state and restores it
// when fn fails, so tests observe all-or-nothing settlement.
type stubRepo struct {
	mu sync.Mutex

	signals   map[string]models.TradingSignal
	positions map[string]models.TakenPosition
	accounts  map[string]models.TradingAccount
	journal   []models.JournalEntry
	prices    map[string]models.PriceCache
	settings  map[string]models.SystemSetting
	outbox    map[string]models.NotificationEvent

	listSignalsErr   error
	listSignalsCalls int
	updateSignalErrs map[string]error
	journalErr       error
	upsertFailures   int
	upsertCalls      int
	balanceCalls     int
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		signals:          map[string]models.TradingSignal{},
		positions:        map[string]models.TakenPosition{},
		accounts:         map[string]models.TradingAccount{},
		prices:           map[string]models.PriceCache{},
		settings:         map[string]models.SystemSetting{},
		outbox:           map[string]models.NotificationEvent{},
		updateSignalErrs: map[string]error{},
	}
}

func (r *stubRepo) addSignal(sig models.TradingSignal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals[sig.ID] = sig
}

func (r *stubRepo) addPosition(pos models.TakenPosition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.positions[pos.ID] = pos
}

func (r *stubRepo) addAccount(acc models.TradingAccount) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[acc.ID] = acc
}

func (r *stubRepo) signal(id string) models.TradingSignal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.signals[id]
}

func (r *stubRepo) position(id string) models.TakenPosition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.positions[id]
}

func (r *stubRepo) balance(id string) decimal.Decimal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accounts[id].CurrentBalance
}

func (r *stubRepo) journalEntries() []models.JournalEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.JournalEntry(nil), r.journal...)
}

func (r *stubRepo) InTx(ctx context.Context, fn func(tx repository.Repository) error) error {
	r.mu.Lock()
	positions := cloneMap(r.positions)
	accounts := cloneMap(r.accounts)
	journal := append([]models.JournalEntry(nil), r.journal...)
	r.mu.Unlock()

	if err := fn(r); err != nil {
		r.mu.Lock()
		r.positions = positions
		r.accounts = accounts
		r.journal = journal
		r.mu.Unlock()
		return err
	}
	return nil
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (r *stubRepo) GetSignal(ctx context.Context, id string) (*models.TradingSignal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sig, ok := r.signals[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &sig, nil
}

func (r *stubRepo) ListSignals(ctx context.Context, params repository.ListSignalsParams) ([]models.TradingSignal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listSignalsErr != nil {
		return nil, r.listSignalsErr
	}
	r.listSignalsCalls++
	var out []models.TradingSignal
	for _, sig := range r.signals {
		if params.Status != nil && sig.Status != *params.Status {
			continue
		}
		if a := params.After; a != nil {
			if sig.CreatedAt.Before(a.CreatedAt) || (sig.CreatedAt.Equal(a.CreatedAt) && sig.ID <= a.ID) {
				continue
			}
		}
		out = append(out, sig)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if params.After == nil && params.Offset > 0 {
		if params.Offset >= len(out) {
			return nil, nil
		}
		out = out[params.Offset:]
	}
	limit := params.Limit
	if limit <= 0 {
		limit = 500
	}
	if limit > 1000 {
		limit = 1000
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *stubRepo) UpdateSignalFields(ctx context.Context, id string, expectStatus string, fields map[string]any) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.updateSignalErrs[id]; err != nil {
		return false, repository.WriteError("update signal", err)
	}
	sig, ok := r.signals[id]
	if !ok || (expectStatus != "" && sig.Status != expectStatus) {
		return false, nil
	}
	for key, val := range fields {
		switch key {
		case "tp1_hit":
			sig.TP1Hit = val.(bool)
		case "tp2_hit":
			sig.TP2Hit = val.(bool)
		case "tp3_hit":
			sig.TP3Hit = val.(bool)
		case "status":
			sig.Status = val.(string)
		case "result":
			res := val.(string)
			sig.Result = &res
		case "closed_at":
			at := val.(time.Time)
			sig.ClosedAt = &at
		}
	}
	r.signals[id] = sig
	return true, nil
}

func (r *stubRepo) ListSettlementBacklog(ctx context.Context, since time.Time, limit int) ([]models.TradingSignal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.TradingSignal
	for _, sig := range r.signals {
		if sig.Status != models.SignalStatusClosed && sig.Status != models.SignalStatusCancelled {
			continue
		}
		if sig.ClosedAt == nil || sig.ClosedAt.Before(since) {
			continue
		}
		for _, pos := range r.positions {
			if pos.SignalID == sig.ID && pos.Status == models.PositionStatusOpen {
				out = append(out, sig)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *stubRepo) ListOpenPositionsBySignal(ctx context.Context, signalID string) ([]models.TakenPosition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.TakenPosition
	for _, pos := range r.positions {
		if pos.SignalID == signalID && pos.Status == models.PositionStatusOpen {
			out = append(out, pos)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *stubRepo) ClosePosition(ctx context.Context, id string, fields map[string]any) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pos, ok := r.positions[id]
	if !ok || pos.Status != models.PositionStatusOpen {
		return false, nil
	}
	for key, val := range fields {
		switch key {
		case "status":
			pos.Status = val.(string)
		case "result":
			res := val.(string)
			pos.Result = &res
		case "pnl":
			d := val.(decimal.Decimal)
			pos.PnL = &d
		case "pnl_percent":
			d := val.(decimal.Decimal)
			pos.PnLPercent = &d
		case "position_size":
			d := val.(decimal.Decimal)
			pos.PositionSize = &d
		case "journaled":
			pos.Journaled = val.(bool)
		case "closed_at":
			at := val.(time.Time)
			pos.ClosedAt = &at
		}
	}
	r.positions[id] = pos
	return true, nil
}

func (r *stubRepo) GetAccount(ctx context.Context, id string) (*models.TradingAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.accounts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &acc, nil
}

func (r *stubRepo) IncrementAccountBalance(ctx context.Context, accountID string, delta decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balanceCalls++
	acc, ok := r.accounts[accountID]
	if !ok {
		return repository.ErrNotFound
	}
	acc.CurrentBalance = acc.CurrentBalance.Add(delta)
	r.accounts[accountID] = acc
	return nil
}

func (r *stubRepo) InsertJournalEntry(ctx context.Context, item *models.JournalEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.journalErr != nil {
		return repository.WriteError("insert journal entry", r.journalErr)
	}
	for _, existing := range r.journal {
		if existing.PositionID == item.PositionID {
			return nil
		}
	}
	r.journal = append(r.journal, *item)
	return nil
}

func (r *stubRepo) ListJournalEntries(ctx context.Context, params repository.ListJournalParams) ([]models.JournalEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.JournalEntry
	for _, e := range r.journal {
		if params.SignalID != nil && e.SignalID != *params.SignalID {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *stubRepo) UpsertPrices(ctx context.Context, items []models.PriceCache) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upsertCalls++
	if r.upsertFailures > 0 {
		r.upsertFailures--
		return errors.New("db unavailable")
	}
	for _, item := range items {
		if cur, ok := r.prices[item.Symbol]; ok && cur.QuotedAt.After(item.QuotedAt) {
			continue
		}
		r.prices[item.Symbol] = item
	}
	return nil
}

func (r *stubRepo) ListPrices(ctx context.Context, symbols []string) ([]models.PriceCache, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.PriceCache
	for _, sym := range symbols {
		if row, ok := r.prices[strings.TrimSpace(sym)]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *stubRepo) InsertNotificationEvent(ctx context.Context, item *models.NotificationEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outbox[item.ID] = *item
	return nil
}

func (r *stubRepo) UpdateNotificationEvent(ctx context.Context, id string, fields map[string]any) error {
	return nil
}

func (r *stubRepo) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings[item.Key] = *item
	return nil
}

func (r *stubRepo) GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.settings[key]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (r *stubRepo) ListSystemSettings(ctx context.Context, params repository.ListSystemSettingsParams) ([]models.SystemSetting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.SystemSetting
	for _, item := range r.settings {
		if params.Prefix != nil && !strings.HasPrefix(item.Key, *params.Prefix) {
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

var _ repository.Repository = (*stubRepo)(nil)

// recordingEmitter captures emitted events.
type recordingEmitter struct {
	mu     sync.Mutex
	events []notify.Event
}

func (e *recordingEmitter) Emit(ctx context.Context, ev notify.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *recordingEmitter) all() []notify.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]notify.Event(nil), e.events...)
}
