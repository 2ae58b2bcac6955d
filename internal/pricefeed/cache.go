package pricefeed

import (
	"context"
	"encoding/json"
	"time"

	"poscal/internal/cache"
	"poscal/internal/models"
)

const hotKeyPrefix = "price:"

// PriceReader is the slice of the repository the cache feed needs.
type PriceReader interface {
	ListPrices(ctx context.Context, symbols []string) ([]models.PriceCache, error)
}

// CacheFeed reads quotes written by the ingestion worker: the hot store
// first, then the price_cache table. Quotes older than MaxAge are treated as
// missing.
type CacheFeed struct {
	Hot    cache.Store
	Repo   PriceReader
	MaxAge time.Duration
	Now    func() time.Time
}

func (f *CacheFeed) Price(ctx context.Context, instrument string) (Quote, error) {
	sym := symbolKey(instrument)
	now := f.now()

	if f.Hot != nil {
		raw, ok, err := f.Hot.Get(ctx, hotKeyPrefix+sym)
		if err == nil && ok {
			var row models.PriceCache
			if json.Unmarshal(raw, &row) == nil && f.fresh(row, now) {
				return quoteFromRow(instrument, row), nil
			}
		}
	}
	if f.Repo == nil {
		return Quote{}, unavailable(instrument, "no cached quote")
	}
	rows, err := f.Repo.ListPrices(ctx, []string{sym})
	if err != nil {
		return Quote{}, unavailable(instrument, err.Error())
	}
	for _, row := range rows {
		if row.Symbol != sym {
			continue
		}
		if !f.fresh(row, now) {
			return Quote{}, unavailable(instrument, "stale quote")
		}
		return quoteFromRow(instrument, row), nil
	}
	return Quote{}, unavailable(instrument, "no cached quote")
}

func (f *CacheFeed) fresh(row models.PriceCache, now time.Time) bool {
	if row.MidPrice <= 0 {
		return false
	}
	if f.MaxAge <= 0 {
		return true
	}
	return now.Sub(row.QuotedAt) <= f.MaxAge
}

func (f *CacheFeed) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}

func quoteFromRow(instrument string, row models.PriceCache) Quote {
	return Quote{
		Instrument: instrument,
		Price:      row.MidPrice,
		Bid:        row.BidPrice,
		Ask:        row.AskPrice,
		Source:     row.Source,
		At:         row.QuotedAt,
	}
}

// StoreHot writes rows to the hot store under their symbol.
func StoreHot(ctx context.Context, store cache.Store, rows []models.PriceCache, ttl time.Duration) error {
	if store == nil {
		return nil
	}
	for _, row := range rows {
		raw, err := json.Marshal(row)
		if err != nil {
			return err
		}
		if err := store.Set(ctx, hotKeyPrefix+row.Symbol, raw, ttl); err != nil {
			return err
		}
	}
	return nil
}
