package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"poscal/internal/config"
	"poscal/internal/levels"
	"poscal/internal/models"
	"poscal/internal/notify"
	"poscal/internal/observability"
	"poscal/internal/pairs"
	"poscal/internal/pricefeed"
	"poscal/internal/repository"
)

var ErrTickInProgress = errors.New("monitor tick already running")

const (
	defaultSignalPage = 500
	maxSignalPage     = 1000
)

// SignalMonitorService runs one evaluation tick at a time over every active
// signal: fetch one price per instrument, evaluate, persist, settle, notify.
type SignalMonitorService struct {
	Repo       repository.Repository
	Feed       pricefeed.Feed
	Settlement *SettlementService
	Emitter    notify.Emitter
	Config     config.MonitorConfig
	Logger     *zap.Logger
	Metrics    *observability.Metrics
	Flags      *SystemSettingsService
	Now        func() time.Time

	running atomic.Bool
}

type TickReport struct {
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	Signals     int           `json:"signals"`
	Instruments int           `json:"instruments"`
	Evaluated   int           `json:"evaluated"`
	Updated     int           `json:"updated"`
	Closed      int           `json:"closed"`
	Settled     int           `json:"settled"`
	// Skipped counts signals left for the next tick because their instrument
	// had no quote.
	Skipped     int      `json:"skipped"`
	Failed      int      `json:"failed"`
	Unavailable []string `json:"unavailable,omitempty"`
}

func (s *SignalMonitorService) Run(ctx context.Context) error {
	if s == nil || s.Repo == nil || s.Feed == nil {
		return nil
	}
	interval := parseEvery(s.Config.Interval, 30*time.Second)
	_ = s.runOnceIfEnabled(ctx)

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			_ = s.runOnceIfEnabled(ctx)
		}
	}
}

// Tick is the scheduled entry point; it honours the feature switch and only
// logs failures.
func (s *SignalMonitorService) Tick(ctx context.Context) {
	if err := s.runOnceIfEnabled(ctx); err != nil && !errors.Is(err, ErrTickInProgress) && !errors.Is(err, context.Canceled) {
		s.logWarn("monitor tick failed", err)
	}
}

func (s *SignalMonitorService) runOnceIfEnabled(ctx context.Context) error {
	if s != nil && s.Flags != nil && !s.Flags.IsEnabled(ctx, FeatureSignalMonitor, true) {
		return nil
	}
	_, err := s.RunOnce(ctx)
	return err
}

// RunOnce processes every active signal once. It refuses to start while
// another tick is running. A failure on one signal is counted and logged;
// only a failure to load the active set fails the tick.
func (s *SignalMonitorService) RunOnce(ctx context.Context) (TickReport, error) {
	if s == nil || s.Repo == nil || s.Feed == nil {
		return TickReport{}, nil
	}
	if !s.running.CompareAndSwap(false, true) {
		s.Metrics.ObserveTick("skipped", 0)
		return TickReport{}, ErrTickInProgress
	}
	defer s.running.Store(false)

	started := time.Now()
	report := TickReport{StartedAt: s.now()}
	status := "ok"
	defer func() {
		report.Duration = time.Since(started)
		s.Metrics.ObserveTick(status, report.Duration)
	}()

	signals, err := s.loadActive(ctx)
	if err != nil {
		status = "error"
		return report, fmt.Errorf("list active signals: %w", err)
	}
	report.Signals = len(signals)
	if len(signals) == 0 {
		return report, nil
	}

	instruments := distinctInstruments(signals)
	report.Instruments = len(instruments)
	quotes, missing := s.fetchPrices(ctx, instruments)
	report.Unavailable = missing

	for _, sig := range signals {
		if ctx.Err() != nil {
			status = "error"
			return report, ctx.Err()
		}
		key := instrumentKey(sig.CurrencyPair)
		quote, ok := quotes[key]
		if !ok {
			report.Skipped++
			continue
		}
		res, err := s.processSignal(ctx, sig, quote)
		report.Evaluated++
		if res.updated {
			report.Updated++
		}
		if res.closed {
			report.Closed++
		}
		report.Settled += res.settled
		if err != nil {
			report.Failed++
			s.logWarn("signal processing failed", err,
				zap.String("signal_id", sig.ID),
				zap.String("instrument", sig.CurrencyPair),
			)
		}
	}

	if s.Logger != nil && (report.Updated > 0 || report.Failed > 0 || report.Skipped > 0) {
		s.Logger.Info("monitor tick",
			zap.Int("signals", report.Signals),
			zap.Int("instruments", report.Instruments),
			zap.Int("updated", report.Updated),
			zap.Int("closed", report.Closed),
			zap.Int("settled", report.Settled),
			zap.Int("skipped", report.Skipped),
			zap.Int("failed", report.Failed),
		)
	}
	return report, nil
}

type signalResult struct {
	updated bool
	closed  bool
	settled int
}

func (s *SignalMonitorService) processSignal(ctx context.Context, sig models.TradingSignal, quote pricefeed.Quote) (res signalResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.Metrics.SignalError("panic")
			err = fmt.Errorf("panic evaluating signal %s: %v", sig.ID, r)
		}
	}()

	now := s.now()
	out := levels.Evaluate(sig, quote.Price, now)
	s.Metrics.SignalEvaluated()
	if out.Empty() {
		return res, nil
	}

	ok, err := s.Repo.UpdateSignalFields(ctx, sig.ID, models.SignalStatusActive, out.Update.Fields())
	if err != nil {
		s.Metrics.SignalError("persist")
		return res, err
	}
	if !ok {
		// Cancelled or closed elsewhere since the tick loaded it.
		return res, nil
	}
	res.updated = true
	updated := out.Update.Apply(sig)

	var settleErr error
	if out.ShouldClose {
		res.closed = true
		result := ""
		if updated.Result != nil {
			result = *updated.Result
		}
		s.Metrics.SignalClosed(result)
		if s.Settlement != nil {
			report, err := s.Settlement.SettleSignal(ctx, updated)
			res.settled = report.Settled
			if err != nil {
				s.Metrics.SignalError("settle")
				settleErr = err
			}
		}
	}

	if out.ShouldClose || s.Config.NotifyPartials {
		s.emit(ctx, updated, out, quote, now)
	}
	return res, settleErr
}

func (s *SignalMonitorService) emit(ctx context.Context, sig models.TradingSignal, out levels.Outcome, quote pricefeed.Quote, now time.Time) {
	if s.Emitter == nil || out.Notification == levels.NotifyNone {
		return
	}
	ev := notify.Event{
		Type:       string(out.Notification),
		Instrument: sig.CurrencyPair,
		SignalID:   sig.ID,
		Direction:  sig.Direction,
		Price:      quote.Price,
		Closed:     out.ShouldClose,
		At:         now,
		Payload: map[string]any{
			"tp1_hit":      sig.TP1Hit,
			"tp2_hit":      sig.TP2Hit,
			"tp3_hit":      sig.TP3Hit,
			"quote_source": quote.Source,
		},
	}
	if sig.Result != nil {
		ev.Result = *sig.Result
	}
	s.Emitter.Emit(ctx, ev)
}

// fetchPrices asks the feed for every instrument concurrently. Instruments
// without a quote are returned in missing and do not fail the tick.
func (s *SignalMonitorService) fetchPrices(ctx context.Context, instruments map[string]string) (map[string]pricefeed.Quote, []string) {
	limit := s.Config.FetchLimit
	if limit <= 0 {
		limit = 4
	}
	timeout := s.Config.PriceTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var (
		mu      sync.Mutex
		quotes  = make(map[string]pricefeed.Quote, len(instruments))
		missing []string
	)
	g := new(errgroup.Group)
	g.SetLimit(limit)
	for key, instrument := range instruments {
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			q, err := s.Feed.Price(fctx, instrument)
			if err == nil && q.Price <= 0 {
				err = fmt.Errorf("%w: %s: non-positive price", pricefeed.ErrUnavailable, instrument)
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				missing = append(missing, instrument)
				s.Metrics.QuoteUnavailable()
				s.logWarn("quote unavailable, skipping instrument this tick", err, zap.String("instrument", instrument))
				return nil
			}
			quotes[key] = q
			return nil
		})
	}
	_ = g.Wait()
	sort.Strings(missing)
	return quotes, missing
}

// distinctInstruments maps the normalized key of each instrument to the
// first spelling seen.
func distinctInstruments(signals []models.TradingSignal) map[string]string {
	out := map[string]string{}
	for _, sig := range signals {
		key := instrumentKey(sig.CurrencyPair)
		if key == "" {
			continue
		}
		if _, ok := out[key]; !ok {
			out[key] = strings.TrimSpace(sig.CurrencyPair)
		}
	}
	return out
}

func instrumentKey(symbol string) string {
	if norm, ok := pairs.Normalize(symbol); ok {
		return norm
	}
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// loadActive reads the whole active set in (created_at, id) keyset pages.
func (s *SignalMonitorService) loadActive(ctx context.Context) ([]models.TradingSignal, error) {
	size := s.Config.PageSize
	if size <= 0 || size > maxSignalPage {
		size = defaultSignalPage
	}
	active := models.SignalStatusActive
	var (
		out   []models.TradingSignal
		after *repository.SignalCursor
		seen  = map[string]struct{}{}
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := s.Repo.ListSignals(ctx, repository.ListSignalsParams{
			Status: &active,
			Limit:  size,
			After:  after,
		})
		if err != nil {
			return nil, err
		}
		for _, sig := range page {
			if _, dup := seen[sig.ID]; dup {
				continue
			}
			seen[sig.ID] = struct{}{}
			out = append(out, sig)
		}
		if len(page) < size {
			return out, nil
		}
		last := page[len(page)-1]
		after = &repository.SignalCursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
}

// parseEvery accepts a cron "@every <duration>" spec or a bare duration.
func parseEvery(spec string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(spec), "@every"))
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	return fallback
}

func (s *SignalMonitorService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *SignalMonitorService) logWarn(msg string, err error, fields ...zap.Field) {
	if s == nil || s.Logger == nil {
		return
	}
	s.Logger.Warn(msg, append(fields, zap.Error(err))...)
}
