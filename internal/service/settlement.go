package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"poscal/internal/config"
	"poscal/internal/ids"
	"poscal/internal/models"
	"poscal/internal/notify"
	"poscal/internal/observability"
	"poscal/internal/pairs"
	"poscal/internal/repository"
)

var (
	// ErrSettlementFailed wraps any position whose close/balance/journal
	// transaction did not commit. The position stays open and the backlog
	// sweep retries it.
	ErrSettlementFailed = errors.New("settlement failed")
	ErrSignalNotActive  = errors.New("signal is not active")
	ErrDegenerateStop   = errors.New("stop loss distance is zero")
)

type SettlementService struct {
	Repo    repository.Repository
	Config  config.SettlementConfig
	Emitter notify.Emitter
	Logger  *zap.Logger
	Metrics *observability.Metrics
	Flags   *SystemSettingsService
	Now     func() time.Time
}

type SettlementReport struct {
	SignalID  string
	Result    string
	Settled   int
	Cancelled int
	// Skipped counts positions another pass closed first.
	Skipped      int
	Failed       int
	BalanceDelta decimal.Decimal
}

// PositionSettlement is the financial outcome of one position, derived from
// the signal levels and the position's risk alone.
type PositionSettlement struct {
	Result       string
	ExitPrice    float64
	ExitTier     string
	PipsToStop   float64
	PipsToExit   float64
	PipValueUSD  float64
	RawSize      float64
	PositionSize decimal.Decimal
	PnL          decimal.Decimal
	PnLPercent   decimal.Decimal
}

// ComputeSettlement sizes the position from its risk and the stop distance,
// then prices the exit: a win exits at TP1 whichever tier closed the signal,
// a loss at the stop, breakeven at entry.
func ComputeSettlement(sig models.TradingSignal, pos models.TakenPosition) (PositionSettlement, error) {
	out := PositionSettlement{}
	if sig.Result == nil {
		return out, fmt.Errorf("signal %s has no result", sig.ID)
	}
	out.Result = *sig.Result

	pipsToStop, err := pairs.Pips(sig.EntryPrice, sig.StopLoss, sig.CurrencyPair)
	if err != nil {
		return out, err
	}
	if pipsToStop == 0 {
		return out, ErrDegenerateStop
	}
	pipValue, err := pairs.PipValueUSDAt(sig.CurrencyPair, sig.EntryPrice)
	if err != nil {
		return out, err
	}
	out.PipsToStop = pipsToStop
	out.PipValueUSD = pipValue
	out.RawSize = pairs.PositionSize(pos.RiskAmount.InexactFloat64(), pipsToStop, pipValue)
	out.PositionSize = decimal.NewFromFloat(out.RawSize).Round(6)

	switch out.Result {
	case models.ResultWin:
		out.ExitPrice = sig.TakeProfit1
		out.ExitTier = finalTier(sig)
	case models.ResultLoss:
		out.ExitPrice = sig.StopLoss
		out.ExitTier = "sl"
	case models.ResultBreakeven:
		out.ExitPrice = sig.EntryPrice
		out.ExitTier = "entry"
		out.PnL = decimal.Zero
		out.PnLPercent = decimal.Zero
		return out, nil
	default:
		return out, fmt.Errorf("unknown result %q", out.Result)
	}

	out.PipsToExit, err = pairs.Pips(sig.EntryPrice, out.ExitPrice, sig.CurrencyPair)
	if err != nil {
		return out, err
	}
	pnl, err := pairs.PnL(sig.EntryPrice, out.ExitPrice, out.RawSize, sig.CurrencyPair, sig.IsBuy(), pipValue)
	if err != nil {
		return out, err
	}
	out.PnL = decimal.NewFromFloat(pnl).Round(2)
	out.PnLPercent = decimal.Zero
	if pos.RiskAmount.IsPositive() {
		out.PnLPercent = pos.RiskPercent.Mul(out.PnL).Div(pos.RiskAmount).Round(2)
	}
	return out, nil
}

func finalTier(sig models.TradingSignal) string {
	switch {
	case sig.TP3Hit:
		return "tp3"
	case sig.TP2Hit:
		return "tp2"
	default:
		return "tp1"
	}
}

// SettleSignal settles every open position of a terminal signal. Each
// position commits its close, balance increment and journal entry together;
// a position already closed by an earlier pass is skipped.
func (s *SettlementService) SettleSignal(ctx context.Context, sig models.TradingSignal) (SettlementReport, error) {
	report := SettlementReport{SignalID: sig.ID, BalanceDelta: decimal.Zero}
	if s == nil || s.Repo == nil {
		return report, nil
	}
	if sig.Status == models.SignalStatusCancelled {
		return s.cancelPositions(ctx, sig.ID, report)
	}
	if sig.Status != models.SignalStatusClosed || sig.Result == nil {
		return report, fmt.Errorf("%w: signal %s is %s", ErrSettlementFailed, sig.ID, sig.Status)
	}
	report.Result = *sig.Result

	positions, err := s.Repo.ListOpenPositionsBySignal(ctx, sig.ID)
	if err != nil {
		return report, fmt.Errorf("%w: list positions: %w", ErrSettlementFailed, err)
	}

	var errs []error
	for _, pos := range positions {
		claimed, delta, err := s.settlePosition(ctx, sig, pos)
		if err != nil {
			report.Failed++
			s.Metrics.SettlementFailed()
			s.logWarn("position settlement failed", err,
				zap.String("signal_id", sig.ID),
				zap.String("position_id", pos.ID),
			)
			errs = append(errs, fmt.Errorf("position %s: %w", pos.ID, err))
			continue
		}
		if !claimed {
			report.Skipped++
			continue
		}
		report.Settled++
		report.BalanceDelta = report.BalanceDelta.Add(delta)
		s.Metrics.PositionSettled(report.Result)
	}
	if len(errs) > 0 {
		return report, fmt.Errorf("%w: %w", ErrSettlementFailed, errors.Join(errs...))
	}
	if s.Logger != nil && report.Settled > 0 {
		s.Logger.Info("signal settled",
			zap.String("signal_id", sig.ID),
			zap.String("result", report.Result),
			zap.Int("positions", report.Settled),
			zap.Int("skipped", report.Skipped),
			zap.String("balance_delta", report.BalanceDelta.StringFixed(2)),
		)
	}
	return report, nil
}

func (s *SettlementService) settlePosition(ctx context.Context, sig models.TradingSignal, pos models.TakenPosition) (bool, decimal.Decimal, error) {
	calc, err := ComputeSettlement(sig, pos)
	if err != nil {
		return false, decimal.Zero, err
	}
	now := s.now()
	fields := map[string]any{
		"status":        models.PositionStatusClosed,
		"result":        calc.Result,
		"pnl":           calc.PnL,
		"pnl_percent":   calc.PnLPercent,
		"position_size": calc.PositionSize,
		"journaled":     true,
		"closed_at":     now,
	}
	entry := journalEntry(sig, pos, calc, now)

	claimed := false
	applied := decimal.Zero
	err = s.Repo.InTx(ctx, func(tx repository.Repository) error {
		ok, err := tx.ClosePosition(ctx, pos.ID, fields)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		claimed = true
		if pos.AccountID != nil && strings.TrimSpace(*pos.AccountID) != "" && !calc.PnL.IsZero() {
			err := tx.IncrementAccountBalance(ctx, *pos.AccountID, calc.PnL)
			switch {
			case errors.Is(err, repository.ErrNotFound):
				s.logWarn("position account missing, balance not adjusted", err,
					zap.String("position_id", pos.ID),
					zap.String("account_id", *pos.AccountID),
				)
			case err != nil:
				return err
			default:
				applied = calc.PnL
			}
		}
		return tx.InsertJournalEntry(ctx, entry)
	})
	if err != nil {
		return false, decimal.Zero, err
	}
	return claimed, applied, nil
}

func journalEntry(sig models.TradingSignal, pos models.TakenPosition, calc PositionSettlement, now time.Time) *models.JournalEntry {
	direction := models.JournalDirectionShort
	if sig.IsBuy() {
		direction = models.JournalDirectionLong
	}
	tp1Pips, _ := pairs.Pips(sig.EntryPrice, sig.TakeProfit1, sig.CurrencyPair)
	pair := pairs.Resolve(sig.CurrencyPair)
	return &models.JournalEntry{
		ID:              ids.ULID(now),
		UserID:          pos.UserID,
		AccountID:       pos.AccountID,
		SignalID:        sig.ID,
		PositionID:      pos.ID,
		TradeDate:       now.UTC().Truncate(24 * time.Hour),
		Symbol:          sig.CurrencyPair,
		Direction:       direction,
		EntryPrice:      sig.EntryPrice,
		ExitPrice:       calc.ExitPrice,
		StopLoss:        sig.StopLoss,
		TakeProfit:      sig.TakeProfit1,
		PositionSize:    calc.PositionSize,
		RiskPercent:     pos.RiskPercent,
		PnL:             calc.PnL,
		PnLPercent:      calc.PnLPercent,
		RiskRewardRatio: pairs.RiskReward(calc.PipsToStop, tp1Pips),
		Status:          models.PositionStatusClosed,
		Result:          calc.Result,
		Notes: fmt.Sprintf("Auto-closed from signal: %s %s - %s",
			sig.CurrencyPair, strings.ToUpper(sig.Direction), strings.ToUpper(calc.Result)),
		Strategy: sig.Metadata.Data().Source,
		Snapshot: datatypes.NewJSONType(models.SettlementSnapshot{
			ExitTier:        calc.ExitTier,
			PipsToStop:      calc.PipsToStop,
			PipsToExit:      calc.PipsToExit,
			PipValueUSD:     calc.PipValueUSD,
			RawPositionSize: calc.RawSize,
			RiskAmount:      pos.RiskAmount.String(),
			PairClass:       string(pair.Class),
		}),
		EntryDate: pos.CreatedAt,
		CreatedAt: now,
	}
}

// CancelSignal moves an active signal to cancelled and voids its open
// positions: no pnl, no balance change, no journal entry. Calling it again
// on a cancelled signal only voids positions left open by a failed pass.
func (s *SettlementService) CancelSignal(ctx context.Context, signalID string) (SettlementReport, error) {
	report := SettlementReport{SignalID: signalID, BalanceDelta: decimal.Zero}
	if s == nil || s.Repo == nil {
		return report, nil
	}
	sig, err := s.Repo.GetSignal(ctx, signalID)
	if err != nil {
		return report, err
	}
	switch sig.Status {
	case models.SignalStatusCancelled:
		return s.cancelPositions(ctx, sig.ID, report)
	case models.SignalStatusActive:
	default:
		return report, fmt.Errorf("%w: %s is %s", ErrSignalNotActive, sig.ID, sig.Status)
	}

	now := s.now()
	ok, err := s.Repo.UpdateSignalFields(ctx, sig.ID, models.SignalStatusActive, map[string]any{
		"status":    models.SignalStatusCancelled,
		"closed_at": now,
	})
	if err != nil {
		return report, err
	}
	if !ok {
		return report, fmt.Errorf("%w: %s changed state", ErrSignalNotActive, sig.ID)
	}
	report, err = s.cancelPositions(ctx, sig.ID, report)
	if s.Emitter != nil {
		s.Emitter.Emit(ctx, notify.Event{
			Type:       notify.TypeCancelled,
			Instrument: sig.CurrencyPair,
			SignalID:   sig.ID,
			Direction:  sig.Direction,
			Closed:     true,
			At:         now,
		})
	}
	return report, err
}

func (s *SettlementService) cancelPositions(ctx context.Context, signalID string, report SettlementReport) (SettlementReport, error) {
	positions, err := s.Repo.ListOpenPositionsBySignal(ctx, signalID)
	if err != nil {
		return report, fmt.Errorf("%w: list positions: %w", ErrSettlementFailed, err)
	}
	var errs []error
	for _, pos := range positions {
		ok, err := s.Repo.ClosePosition(ctx, pos.ID, map[string]any{
			"status":      models.PositionStatusCancelled,
			"pnl":         decimal.Zero,
			"pnl_percent": decimal.Zero,
			"closed_at":   s.now(),
		})
		if err != nil {
			report.Failed++
			errs = append(errs, fmt.Errorf("position %s: %w", pos.ID, err))
			continue
		}
		if !ok {
			report.Skipped++
			continue
		}
		report.Cancelled++
		s.Metrics.PositionSettled(models.PositionStatusCancelled)
	}
	if len(errs) > 0 {
		return report, fmt.Errorf("%w: %w", ErrSettlementFailed, errors.Join(errs...))
	}
	return report, nil
}

// SettleBacklog retries terminal signals from the lookback window that still
// own open positions.
func (s *SettlementService) SettleBacklog(ctx context.Context) (int, error) {
	if s == nil || s.Repo == nil {
		return 0, nil
	}
	if s.Flags != nil && !s.Flags.IsEnabled(ctx, FeatureSettlementBacklog, true) {
		return 0, nil
	}
	lookback := s.Config.BacklogLookback
	if lookback <= 0 {
		lookback = 72 * time.Hour
	}
	limit := s.Config.BacklogLimit
	if limit <= 0 {
		limit = 200
	}
	signals, err := s.Repo.ListSettlementBacklog(ctx, s.now().Add(-lookback), limit)
	if err != nil {
		s.logWarn("settlement backlog list failed", err)
		return 0, err
	}
	settled := 0
	for _, sig := range signals {
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}
		report, err := s.SettleSignal(ctx, sig)
		settled += report.Settled + report.Cancelled
		if err != nil {
			s.logWarn("settlement backlog retry failed", err, zap.String("signal_id", sig.ID))
		}
	}
	if s.Logger != nil && len(signals) > 0 {
		s.Logger.Info("settlement backlog processed",
			zap.Int("signals", len(signals)),
			zap.Int("positions", settled),
		)
	}
	return settled, nil
}

func (s *SettlementService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *SettlementService) logWarn(msg string, err error, fields ...zap.Field) {
	if s == nil || s.Logger == nil {
		return
	}
	s.Logger.Warn(msg, append(fields, zap.Error(err))...)
}
