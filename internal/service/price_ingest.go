package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"poscal/internal/cache"
	"poscal/internal/models"
	"poscal/internal/observability"
	"poscal/internal/pairs"
	"poscal/internal/pricefeed"
	"poscal/internal/repository"
)

var ErrInvalidPrice = errors.New("invalid price update")

// PriceUpdate is one record of the batch-update contract.
type PriceUpdate struct {
	Symbol    string    `json:"symbol"`
	BidPrice  float64   `json:"bid_price"`
	MidPrice  float64   `json:"mid_price"`
	AskPrice  float64   `json:"ask_price"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// PriceIngestService keeps the latest quote per symbol from the trade stream
// and flushes them to price_cache and the hot store on an interval.
type PriceIngestService struct {
	Repo          repository.Repository
	Hot           cache.Store
	HotTTL        time.Duration
	FlushInterval time.Duration
	FlushAttempts int
	FlushBackoff  time.Duration
	Logger        *zap.Logger
	Metrics       *observability.Metrics
	Flags         *SystemSettingsService
	Now           func() time.Time

	mu      sync.Mutex
	pending map[string]models.PriceCache
}

// Observe records a trade print as the symbol's latest mid. Bid and ask are
// derived from the pair's typical spread. Older prints never replace newer.
func (s *PriceIngestService) Observe(symbol string, price float64, at time.Time, source string) {
	if s == nil || price <= 0 {
		return
	}
	sym, _ := pairs.Normalize(symbol)
	if sym == "" {
		return
	}
	if at.IsZero() {
		at = s.now()
	}
	row := models.PriceCache{
		Symbol:   sym,
		BidPrice: pairs.BidPrice(price, sym),
		MidPrice: price,
		AskPrice: pairs.AskPrice(price, sym),
		Source:   source,
		QuotedAt: at.UTC(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		s.pending = map[string]models.PriceCache{}
	}
	s.mergeLocked(row)
}

func (s *PriceIngestService) mergeLocked(row models.PriceCache) {
	if cur, ok := s.pending[row.Symbol]; ok && cur.QuotedAt.After(row.QuotedAt) {
		return
	}
	s.pending[row.Symbol] = row
}

func (s *PriceIngestService) Pending() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Flush writes the pending batch. On failure the batch is merged back so the
// next flush retries it, unless a newer quote arrived meanwhile.
func (s *PriceIngestService) Flush(ctx context.Context) (int, error) {
	if s == nil || s.Repo == nil {
		return 0, nil
	}
	s.mu.Lock()
	batch := make([]models.PriceCache, 0, len(s.pending))
	for _, row := range s.pending {
		batch = append(batch, row)
	}
	s.pending = map[string]models.PriceCache{}
	s.mu.Unlock()
	if len(batch) == 0 {
		return 0, nil
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].Symbol < batch[j].Symbol })

	if err := s.write(ctx, batch); err != nil {
		s.mu.Lock()
		for _, row := range batch {
			s.mergeLocked(row)
		}
		s.mu.Unlock()
		s.Metrics.PriceFlushFailed()
		s.logWarn("price batch flush failed", err, zap.Int("size", len(batch)))
		return 0, err
	}
	return len(batch), nil
}

// Ingest validates and upserts an externally posted batch. Bid/ask left at
// zero are derived from mid.
func (s *PriceIngestService) Ingest(ctx context.Context, items []PriceUpdate) (int, error) {
	if s == nil || s.Repo == nil {
		return 0, nil
	}
	now := s.now()
	latest := map[string]models.PriceCache{}
	for i, item := range items {
		row, err := normalizeUpdate(item, now)
		if err != nil {
			return 0, fmt.Errorf("item %d: %w", i, err)
		}
		if cur, ok := latest[row.Symbol]; ok && cur.QuotedAt.After(row.QuotedAt) {
			continue
		}
		latest[row.Symbol] = row
	}
	batch := make([]models.PriceCache, 0, len(latest))
	for _, row := range latest {
		batch = append(batch, row)
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].Symbol < batch[j].Symbol })
	if len(batch) == 0 {
		return 0, nil
	}
	if err := s.write(ctx, batch); err != nil {
		s.Metrics.PriceFlushFailed()
		return 0, err
	}
	return len(batch), nil
}

func normalizeUpdate(item PriceUpdate, now time.Time) (models.PriceCache, error) {
	sym, _ := pairs.Normalize(item.Symbol)
	if sym == "" {
		return models.PriceCache{}, fmt.Errorf("%w: missing symbol", ErrInvalidPrice)
	}
	if item.MidPrice <= 0 {
		return models.PriceCache{}, fmt.Errorf("%w: %s mid_price must be positive", ErrInvalidPrice, sym)
	}
	if item.BidPrice < 0 || item.AskPrice < 0 {
		return models.PriceCache{}, fmt.Errorf("%w: %s negative bid/ask", ErrInvalidPrice, sym)
	}
	row := models.PriceCache{
		Symbol:   sym,
		BidPrice: item.BidPrice,
		MidPrice: item.MidPrice,
		AskPrice: item.AskPrice,
		Source:   strings.TrimSpace(item.Source),
		QuotedAt: item.Timestamp.UTC(),
	}
	if row.BidPrice == 0 {
		row.BidPrice = pairs.BidPrice(row.MidPrice, sym)
	}
	if row.AskPrice == 0 {
		row.AskPrice = pairs.AskPrice(row.MidPrice, sym)
	}
	if row.Source == "" {
		row.Source = "api"
	}
	if item.Timestamp.IsZero() {
		row.QuotedAt = now
	}
	return row, nil
}

// write upserts with linear backoff between attempts, then refreshes the hot
// store. A hot store failure is logged only; the table is authoritative.
func (s *PriceIngestService) write(ctx context.Context, batch []models.PriceCache) error {
	attempts := s.FlushAttempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := s.FlushBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	var err error
	for i := 1; i <= attempts; i++ {
		err = s.Repo.UpsertPrices(ctx, batch)
		if err == nil {
			break
		}
		if i == attempts {
			return fmt.Errorf("upsert prices after %d attempts: %w", attempts, err)
		}
		timer := time.NewTimer(time.Duration(i) * backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	s.Metrics.QuotesWritten(len(batch))

	ttl := s.HotTTL
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	if err := pricefeed.StoreHot(ctx, s.Hot, batch, ttl); err != nil {
		s.logWarn("hot price store write failed", err, zap.Int("size", len(batch)))
	}
	return nil
}

// Run flushes on FlushInterval until ctx ends, then flushes once more.
// While the price stream switch is off, quotes stay pending.
func (s *PriceIngestService) Run(ctx context.Context) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	interval := s.FlushInterval
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_, _ = s.Flush(flushCtx)
			cancel()
			return ctx.Err()
		case <-t.C:
			if s.Flags != nil && !s.Flags.IsEnabled(ctx, FeaturePriceStream, true) {
				continue
			}
			_, _ = s.Flush(ctx)
		}
	}
}

func (s *PriceIngestService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *PriceIngestService) logWarn(msg string, err error, fields ...zap.Field) {
	if s == nil || s.Logger == nil {
		return
	}
	s.Logger.Warn(msg, append(fields, zap.Error(err))...)
}
