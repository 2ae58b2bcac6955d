// Package pricefeed supplies the monitor with one current price per
// instrument. Every adapter reports a missing or stale quote as
// ErrUnavailable so callers can skip the instrument for this tick.
package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"poscal/internal/observability"
	"poscal/internal/pairs"
)

var ErrUnavailable = errors.New("price unavailable")

type Quote struct {
	Instrument string
	Price      float64
	Bid        float64
	Ask        float64
	Source     string
	At         time.Time
}

type Feed interface {
	Price(ctx context.Context, instrument string) (Quote, error)
}

// Chain asks each feed in order and returns the first quote.
type Chain []Feed

func (c Chain) Price(ctx context.Context, instrument string) (Quote, error) {
	var last error
	for _, f := range c {
		if f == nil {
			continue
		}
		q, err := f.Price(ctx, instrument)
		if err == nil {
			return q, nil
		}
		if ctx.Err() != nil {
			return Quote{}, fmt.Errorf("%w: %s: %w", ErrUnavailable, instrument, ctx.Err())
		}
		last = err
	}
	if last == nil {
		return Quote{}, fmt.Errorf("%w: %s: no feeds", ErrUnavailable, instrument)
	}
	if errors.Is(last, ErrUnavailable) {
		return Quote{}, last
	}
	return Quote{}, fmt.Errorf("%w: %s: %w", ErrUnavailable, instrument, last)
}

// Timed records lookup latency for the wrapped feed.
type Timed struct {
	Name    string
	Feed    Feed
	Metrics *observability.Metrics
}

func (t Timed) Price(ctx context.Context, instrument string) (Quote, error) {
	start := time.Now()
	q, err := t.Feed.Price(ctx, instrument)
	t.Metrics.ObserveFeed(t.Name, time.Since(start))
	return q, err
}

func symbolKey(instrument string) string {
	norm, _ := pairs.Normalize(instrument)
	return norm
}

func unavailable(instrument, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrUnavailable, instrument, reason)
}
