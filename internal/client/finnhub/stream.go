package finnhub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const (
	DefaultURL = "wss://ws.finnhub.io"

	subscribeBatchSize  = 25
	subscribeBatchDelay = 400 * time.Millisecond
)

var ErrRateLimited = errors.New("finnhub: rate limited")

// Trade is one last-trade print mapped back to the display pair.
type Trade struct {
	Pair   string
	Symbol string
	Price  float64
	At     time.Time
}

type subscribeRequest struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

type tradeMessage struct {
	Type string `json:"type"`
	Data []struct {
		Symbol    string  `json:"s"`
		Price     float64 `json:"p"`
		Timestamp int64   `json:"t"`
		Volume    float64 `json:"v"`
	} `json:"data"`
}

type StreamOptions struct {
	URL    string
	APIKey string
	// Symbols maps display pairs (EUR/USD) to feed symbols (OANDA:EUR_USD).
	Symbols           map[string]string
	HeartbeatInterval time.Duration
	PingTimeout       time.Duration
	BackoffMin        time.Duration
	BackoffMax        time.Duration
	Logger            *zap.Logger
}

type Stream struct {
	opts    StreamOptions
	reverse map[string][]string
}

func NewStream(opts StreamOptions) *Stream {
	if strings.TrimSpace(opts.URL) == "" {
		opts.URL = DefaultURL
	}
	if opts.HeartbeatInterval == 0 {
		opts.HeartbeatInterval = 20 * time.Second
	}
	if opts.PingTimeout == 0 {
		opts.PingTimeout = 5 * time.Second
	}
	if opts.BackoffMin == 0 {
		opts.BackoffMin = 5 * time.Second
	}
	if opts.BackoffMax == 0 {
		opts.BackoffMax = 60 * time.Second
	}
	return &Stream{opts: opts, reverse: reverseSymbols(opts.Symbols)}
}

// Run connects, subscribes and delivers trades until ctx ends, reconnecting
// with jittered backoff. A rate-limited handshake doubles the delay.
func (s *Stream) Run(ctx context.Context, onTrade func(Trade)) error {
	if s == nil {
		return fmt.Errorf("stream is nil")
	}
	if len(s.reverse) == 0 {
		return fmt.Errorf("finnhub: no symbols configured")
	}
	backoff := s.opts.BackoffMin
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := s.dial(ctx)
		if err != nil {
			s.warn("finnhub ws connect failed", err, zap.Duration("backoff", backoff))
			if errors.Is(err, ErrRateLimited) {
				backoff = nextBackoff(backoff, s.opts.BackoffMax)
			}
			if err := sleepWithJitter(ctx, backoff); err != nil {
				return err
			}
			continue
		}
		if s.opts.Logger != nil {
			s.opts.Logger.Info("finnhub ws connected")
		}
		if err := s.subscribe(ctx, conn); err != nil {
			s.warn("finnhub ws subscribe failed", err)
			_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
			if err := sleepWithJitter(ctx, backoff); err != nil {
				return err
			}
			continue
		}
		backoff = s.opts.BackoffMin

		err = s.consume(ctx, conn, onTrade)
		_ = conn.Close(websocket.StatusNormalClosure, "reconnect")
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.warn("finnhub ws disconnected", err)
		if err := sleepWithJitter(ctx, backoff); err != nil {
			return err
		}
	}
}

func (s *Stream) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(s.opts.URL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("token", s.opts.APIKey)
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
		return nil, err
	}
	conn.SetReadLimit(1 << 20)
	return conn, nil
}

// subscribe sends one message per feed symbol in batches of 25 with a short
// pause between batches.
func (s *Stream) subscribe(ctx context.Context, conn *websocket.Conn) error {
	symbols := s.feedSymbols()
	for i, sym := range symbols {
		if i > 0 && i%subscribeBatchSize == 0 {
			if err := sleep(ctx, subscribeBatchDelay); err != nil {
				return err
			}
		}
		payload, err := json.Marshal(subscribeRequest{Type: "subscribe", Symbol: sym})
		if err != nil {
			return err
		}
		if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
			return err
		}
	}
	if s.opts.Logger != nil {
		s.opts.Logger.Info("finnhub ws subscribed", zap.Int("symbols", len(symbols)))
	}
	return nil
}

func (s *Stream) consume(ctx context.Context, conn *websocket.Conn, onTrade func(Trade)) error {
	heartbeatErr := make(chan error, 1)
	hbCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		ticker := time.NewTicker(s.opts.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				pingCtx, cancelPing := context.WithTimeout(hbCtx, s.opts.PingTimeout)
				err := conn.Ping(pingCtx)
				cancelPing()
				if err != nil {
					heartbeatErr <- err
					cancel()
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.Read(hbCtx)
		if err != nil {
			select {
			case hbErr := <-heartbeatErr:
				return fmt.Errorf("heartbeat: %w", hbErr)
			default:
			}
			return err
		}
		for _, tr := range s.Decode(raw) {
			if onTrade != nil {
				onTrade(tr)
			}
		}
	}
}

// Decode turns a raw frame into trades for every display pair mapped to the
// printed symbol. Pings, unknown symbols and non-positive prices yield none.
func (s *Stream) Decode(raw []byte) []Trade {
	var msg tradeMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Type != "trade" {
		return nil
	}
	var out []Trade
	for _, d := range msg.Data {
		if d.Price <= 0 {
			continue
		}
		at := time.UnixMilli(d.Timestamp).UTC()
		if d.Timestamp <= 0 {
			at = time.Now().UTC()
		}
		for _, pair := range s.reverse[d.Symbol] {
			out = append(out, Trade{Pair: pair, Symbol: d.Symbol, Price: d.Price, At: at})
		}
	}
	return out
}

func (s *Stream) feedSymbols() []string {
	out := make([]string, 0, len(s.reverse))
	for sym := range s.reverse {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func (s *Stream) warn(msg string, err error, fields ...zap.Field) {
	if s.opts.Logger == nil || err == nil || errors.Is(err, context.Canceled) {
		return
	}
	s.opts.Logger.Warn(msg, append(fields, zap.Error(err))...)
}

func reverseSymbols(symbols map[string]string) map[string][]string {
	out := map[string][]string{}
	for pair, sym := range symbols {
		pair = strings.TrimSpace(pair)
		sym = strings.TrimSpace(sym)
		if pair == "" || sym == "" {
			continue
		}
		out[sym] = append(out[sym], pair)
	}
	for sym := range out {
		sort.Strings(out[sym])
	}
	return out
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func sleepWithJitter(ctx context.Context, base time.Duration) error {
	if base <= 0 {
		return nil
	}
	jitter := time.Duration(0)
	if half := int64(base / 2); half > 0 {
		jitter = time.Duration(rand.Int63n(half))
	}
	return sleep(ctx, base+jitter)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
