package finnhub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

func TestDecodeMapsFeedSymbolsToPairs(t *testing.T) {
	s := NewStream(StreamOptions{Symbols: map[string]string{
		"EUR/USD": "OANDA:EUR_USD",
		"EURUSD":  "OANDA:EUR_USD",
		"XAU/USD": "OANDA:XAU_USD",
	}})
	raw := []byte(`{"type":"trade","data":[
		{"s":"OANDA:EUR_USD","p":1.1012,"t":1700000000000,"v":1},
		{"s":"OANDA:XAU_USD","p":0,"t":1700000000000},
		{"s":"UNKNOWN","p":5,"t":1700000000000}
	]}`)
	trades := s.Decode(raw)
	if len(trades) != 2 {
		t.Fatalf("trades=%d want=2 (%+v)", len(trades), trades)
	}
	if trades[0].Pair != "EUR/USD" || trades[1].Pair != "EURUSD" {
		t.Fatalf("pairs=%s,%s", trades[0].Pair, trades[1].Pair)
	}
	if trades[0].Price != 1.1012 {
		t.Fatalf("price=%v", trades[0].Price)
	}
	if !trades[0].At.Equal(time.UnixMilli(1700000000000).UTC()) {
		t.Fatalf("at=%v", trades[0].At)
	}
}

func TestDecodeIgnoresPingsAndGarbage(t *testing.T) {
	s := NewStream(StreamOptions{Symbols: map[string]string{"EUR/USD": "OANDA:EUR_USD"}})
	for _, raw := range []string{`{"type":"ping"}`, `not json`, `{"type":"trade"}`} {
		if got := s.Decode([]byte(raw)); len(got) != 0 {
			t.Fatalf("decode(%s)=%+v want none", raw, got)
		}
	}
}

func TestRunSubscribesAndDeliversTrades(t *testing.T) {
	var (
		mu         sync.Mutex
		subscribed []string
		token      string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		token = r.URL.Query().Get("token")
		mu.Unlock()
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		ctx := r.Context()
		for i := 0; i < 2; i++ {
			_, data, err := c.Read(ctx)
			if err != nil {
				return
			}
			var req subscribeRequest
			_ = json.Unmarshal(data, &req)
			mu.Lock()
			subscribed = append(subscribed, req.Type+":"+req.Symbol)
			mu.Unlock()
		}
		_ = c.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`))
		_ = c.Write(ctx, websocket.MessageText, []byte(`{"type":"trade","data":[{"s":"OANDA:GBP_USD","p":1.27,"t":1700000000000}]}`))
		_, _, _ = c.Read(ctx)
	}))
	defer srv.Close()

	s := NewStream(StreamOptions{
		URL:    "ws" + strings.TrimPrefix(srv.URL, "http"),
		APIKey: "secret",
		Symbols: map[string]string{
			"EUR/USD": "OANDA:EUR_USD",
			"GBP/USD": "OANDA:GBP_USD",
		},
		BackoffMin: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var got []Trade
	err := s.Run(ctx, func(tr Trade) {
		got = append(got, tr)
		cancel()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want context.Canceled", err)
	}
	if len(got) != 1 || got[0].Pair != "GBP/USD" || got[0].Price != 1.27 {
		t.Fatalf("trades=%+v", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if token != "secret" {
		t.Fatalf("token=%q", token)
	}
	sort.Strings(subscribed)
	if len(subscribed) != 2 || subscribed[0] != "subscribe:OANDA:EUR_USD" || subscribed[1] != "subscribe:OANDA:GBP_USD" {
		t.Fatalf("subscribed=%v", subscribed)
	}
}

func TestRunRequiresSymbols(t *testing.T) {
	if err := NewStream(StreamOptions{}).Run(context.Background(), nil); err == nil {
		t.Fatalf("expected error without symbols")
	}
}

func TestNextBackoffCaps(t *testing.T) {
	if got := nextBackoff(40*time.Second, time.Minute); got != time.Minute {
		t.Fatalf("backoff=%v want=1m", got)
	}
	if got := nextBackoff(5*time.Second, time.Minute); got != 10*time.Second {
		t.Fatalf("backoff=%v want=10s", got)
	}
}
