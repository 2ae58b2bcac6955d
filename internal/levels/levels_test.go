package levels

import (
	"testing"
	"time"

	"poscal/internal/models"
)

var now = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func f(v float64) *float64 { return &v }

func buyEURUSD() models.TradingSignal {
	return models.TradingSignal{
		ID:           "sig-a",
		CurrencyPair: "EUR/USD",
		Direction:    models.DirectionBuy,
		EntryPrice:   1.1000,
		StopLoss:     1.0950,
		TakeProfit1:  1.1050,
		Status:       models.SignalStatusActive,
	}
}

func TestEvaluateTP1FinalTargetClosesWin(t *testing.T) {
	out := Evaluate(buyEURUSD(), 1.1050, now)
	if !out.ShouldClose || out.Notification != NotifyTP1 {
		t.Fatalf("outcome=%+v want close with tp1", out)
	}
	got := out.Update.Apply(buyEURUSD())
	if !got.TP1Hit || got.Status != models.SignalStatusClosed || got.Result == nil || *got.Result != models.ResultWin {
		t.Fatalf("signal=%+v want tp1_hit closed win", got)
	}
	if got.ClosedAt == nil || !got.ClosedAt.Equal(now) {
		t.Fatalf("closed_at=%v want=%v", got.ClosedAt, now)
	}
}

func TestEvaluateSellStopLoss(t *testing.T) {
	sig := models.TradingSignal{
		CurrencyPair: "USD/JPY",
		Direction:    models.DirectionSell,
		EntryPrice:   150.00,
		StopLoss:     150.50,
		TakeProfit1:  149.50,
		Status:       models.SignalStatusActive,
	}
	out := Evaluate(sig, 150.60, now)
	if !out.ShouldClose || out.Notification != NotifySL {
		t.Fatalf("outcome=%+v want sl close", out)
	}
	if out.Update.Result == nil || *out.Update.Result != models.ResultLoss {
		t.Fatalf("result=%v want loss", out.Update.Result)
	}
	if out.Update.TP1Hit != nil {
		t.Fatalf("stop loss must not touch take-profit flags")
	}
}

func TestEvaluateTP3ImpliesNearerTiers(t *testing.T) {
	sig := buyEURUSD()
	sig.TakeProfit3 = f(1.1150)
	out := Evaluate(sig, 1.1160, now)
	if !out.ShouldClose || out.Notification != NotifyTP3 {
		t.Fatalf("outcome=%+v want tp3 close", out)
	}
	got := out.Update.Apply(sig)
	if !got.TP1Hit || !got.TP2Hit || !got.TP3Hit {
		t.Fatalf("flags tp1=%v tp2=%v tp3=%v want all true", got.TP1Hit, got.TP2Hit, got.TP3Hit)
	}
	if *got.Result != models.ResultWin {
		t.Fatalf("result=%v want win", *got.Result)
	}
}

func TestEvaluateTP2WithTP3StaysOpen(t *testing.T) {
	sig := buyEURUSD()
	sig.TakeProfit2 = f(1.1100)
	sig.TakeProfit3 = f(1.1150)
	out := Evaluate(sig, 1.1105, now)
	if out.ShouldClose || out.Notification != NotifyTP2 {
		t.Fatalf("outcome=%+v want tp2 without close", out)
	}
	got := out.Update.Apply(sig)
	if !got.TP1Hit || !got.TP2Hit || got.TP3Hit || got.Status != models.SignalStatusActive {
		t.Fatalf("signal=%+v", got)
	}
}

func TestEvaluateTP2FinalWhenNoTP3(t *testing.T) {
	sig := buyEURUSD()
	sig.TakeProfit2 = f(1.1100)
	sig.TP1Hit = true
	out := Evaluate(sig, 1.1100, now)
	if !out.ShouldClose || out.Notification != NotifyTP2 {
		t.Fatalf("outcome=%+v want tp2 close", out)
	}
	if out.Update.TP1Hit != nil {
		t.Fatalf("tp1 already hit must not be set again")
	}
}

func TestEvaluateTP1WithFurtherTiersStaysOpen(t *testing.T) {
	sig := models.TradingSignal{
		CurrencyPair: "GBP/JPY",
		Direction:    models.DirectionSell,
		EntryPrice:   190.00,
		StopLoss:     190.80,
		TakeProfit1:  189.50,
		TakeProfit2:  f(189.00),
		Status:       models.SignalStatusActive,
	}
	out := Evaluate(sig, 189.40, now)
	if out.ShouldClose || out.Notification != NotifyTP1 {
		t.Fatalf("outcome=%+v want tp1 partial", out)
	}
	if out.Update.Status != nil {
		t.Fatalf("status must stay unset on a partial hit")
	}
}

func TestEvaluateIsIdempotent(t *testing.T) {
	sig := buyEURUSD()
	sig.TakeProfit2 = f(1.1100)
	sig.TakeProfit3 = f(1.1150)
	prices := []float64{1.1060, 1.1105, 1.1000, 1.1080}
	for _, p := range prices {
		first := Evaluate(sig, p, now)
		sig = first.Update.Apply(sig)
		second := Evaluate(sig, p, now)
		if !second.Empty() {
			t.Fatalf("re-evaluating price %v gave %+v want empty", p, second)
		}
	}
}

func TestEvaluateHitFlagsStayOrdered(t *testing.T) {
	tp2, tp3 := 1.1100, 1.1150
	prices := []float64{1.1010, 1.1120, 1.1049, 1.1200, 1.0900, 1.1150, 1.1050}
	for _, withTP2 := range []bool{true, false} {
		sig := buyEURUSD()
		sig.TakeProfit3 = &tp3
		if withTP2 {
			sig.TakeProfit2 = &tp2
		}
		for _, p := range prices {
			sig = Evaluate(sig, p, now).Update.Apply(sig)
			if sig.TP3Hit && !sig.TP2Hit || sig.TP2Hit && !sig.TP1Hit {
				t.Fatalf("flag chain broken at price %v: tp1=%v tp2=%v tp3=%v", p, sig.TP1Hit, sig.TP2Hit, sig.TP3Hit)
			}
		}
	}
}

func TestEvaluateStopLossWinsOverTakeProfit(t *testing.T) {
	// Degenerate geometry where one price satisfies both the stop and TP1;
	// the stop must decide the outcome.
	sig := buyEURUSD()
	sig.StopLoss = 1.1060
	out := Evaluate(sig, 1.1055, now)
	if out.Notification != NotifySL || *out.Update.Result != models.ResultLoss {
		t.Fatalf("outcome=%+v want sl", out)
	}
	if out.Update.TP1Hit != nil {
		t.Fatalf("stop loss and take profit must not both fire")
	}
}

func TestEvaluateIgnoresInactiveAndBadPrices(t *testing.T) {
	sig := buyEURUSD()
	if out := Evaluate(sig, 0, now); !out.Empty() {
		t.Fatalf("zero price outcome=%+v want empty", out)
	}
	sig.Status = models.SignalStatusCancelled
	if out := Evaluate(sig, 1.2, now); !out.Empty() {
		t.Fatalf("cancelled outcome=%+v want empty", out)
	}
}

func TestEvaluateBetweenLevelsIsNoop(t *testing.T) {
	if out := Evaluate(buyEURUSD(), 1.1020, now); !out.Empty() || out.Notification != NotifyNone {
		t.Fatalf("outcome=%+v want empty", out)
	}
}

func TestUpdateFields(t *testing.T) {
	sig := buyEURUSD()
	sig.TakeProfit3 = f(1.1150)
	fields := Evaluate(sig, 1.1150, now).Update.Fields()
	for _, key := range []string{"tp1_hit", "tp2_hit", "tp3_hit", "status", "result", "closed_at"} {
		if _, ok := fields[key]; !ok {
			t.Fatalf("fields missing %s: %v", key, fields)
		}
	}
	if fields["status"] != models.SignalStatusClosed {
		t.Fatalf("status=%v", fields["status"])
	}
}
