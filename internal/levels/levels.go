// Package levels evaluates an active signal against one fresh price and
// reports the field changes that follow. It performs no I/O.
package levels

import (
	"time"

	"poscal/internal/models"
)

type Notification string

const (
	NotifyNone Notification = ""
	NotifyTP1  Notification = "tp1"
	NotifyTP2  Notification = "tp2"
	NotifyTP3  Notification = "tp3"
	NotifySL   Notification = "sl"
)

// Update is a partial signal diff. Nil fields are left untouched.
type Update struct {
	TP1Hit   *bool
	TP2Hit   *bool
	TP3Hit   *bool
	Status   *string
	Result   *string
	ClosedAt *time.Time
}

func (u Update) Empty() bool {
	return u.TP1Hit == nil && u.TP2Hit == nil && u.TP3Hit == nil &&
		u.Status == nil && u.Result == nil && u.ClosedAt == nil
}

// Fields renders the diff as a column map for a partial update.
func (u Update) Fields() map[string]any {
	out := map[string]any{}
	if u.TP1Hit != nil {
		out["tp1_hit"] = *u.TP1Hit
	}
	if u.TP2Hit != nil {
		out["tp2_hit"] = *u.TP2Hit
	}
	if u.TP3Hit != nil {
		out["tp3_hit"] = *u.TP3Hit
	}
	if u.Status != nil {
		out["status"] = *u.Status
	}
	if u.Result != nil {
		out["result"] = *u.Result
	}
	if u.ClosedAt != nil {
		out["closed_at"] = *u.ClosedAt
	}
	return out
}

// Apply returns sig with the diff applied.
func (u Update) Apply(sig models.TradingSignal) models.TradingSignal {
	if u.TP1Hit != nil {
		sig.TP1Hit = *u.TP1Hit
	}
	if u.TP2Hit != nil {
		sig.TP2Hit = *u.TP2Hit
	}
	if u.TP3Hit != nil {
		sig.TP3Hit = *u.TP3Hit
	}
	if u.Status != nil {
		sig.Status = *u.Status
	}
	if u.Result != nil {
		r := *u.Result
		sig.Result = &r
	}
	if u.ClosedAt != nil {
		t := *u.ClosedAt
		sig.ClosedAt = &t
	}
	return sig
}

type Outcome struct {
	Update       Update
	Notification Notification
	ShouldClose  bool
}

func (o Outcome) Empty() bool {
	return o.Update.Empty()
}

// Evaluate checks the stop first, then take-profits from the farthest tier
// inward. Reaching a tier marks every nearer tier as hit. Flags already set
// are never set again, so re-evaluating a processed price yields nothing.
func Evaluate(sig models.TradingSignal, price float64, now time.Time) Outcome {
	if sig.Status != models.SignalStatusActive || price <= 0 {
		return Outcome{}
	}
	dir := 1.0
	if !sig.IsBuy() {
		dir = -1.0
	}
	// reached reports whether price is at or beyond level in the profitable
	// direction.
	reached := func(level float64) bool {
		return dir*(price-level) >= 0
	}

	if dir*(price-sig.StopLoss) <= 0 {
		return closeWith(Update{}, models.ResultLoss, NotifySL, now)
	}

	switch {
	case sig.TakeProfit3 != nil && !sig.TP3Hit && reached(*sig.TakeProfit3):
		u := markHits(sig, 3)
		return closeWith(u, models.ResultWin, NotifyTP3, now)

	case sig.TakeProfit2 != nil && !sig.TP2Hit && reached(*sig.TakeProfit2):
		u := markHits(sig, 2)
		if sig.TakeProfit3 == nil {
			return closeWith(u, models.ResultWin, NotifyTP2, now)
		}
		return Outcome{Update: u, Notification: NotifyTP2}

	case !sig.TP1Hit && reached(sig.TakeProfit1):
		u := markHits(sig, 1)
		if sig.TakeProfit2 == nil && sig.TakeProfit3 == nil {
			return closeWith(u, models.ResultWin, NotifyTP1, now)
		}
		return Outcome{Update: u, Notification: NotifyTP1}
	}
	return Outcome{}
}

// markHits sets every unset flag up to and including tier.
func markHits(sig models.TradingSignal, tier int) Update {
	var u Update
	if !sig.TP1Hit {
		u.TP1Hit = boolPtr(true)
	}
	if tier >= 2 && !sig.TP2Hit {
		u.TP2Hit = boolPtr(true)
	}
	if tier >= 3 && !sig.TP3Hit {
		u.TP3Hit = boolPtr(true)
	}
	return u
}

func closeWith(u Update, result string, tag Notification, now time.Time) Outcome {
	status := models.SignalStatusClosed
	u.Status = &status
	u.Result = &result
	closedAt := now.UTC()
	u.ClosedAt = &closedAt
	return Outcome{Update: u, Notification: tag, ShouldClose: true}
}

func boolPtr(v bool) *bool {
	return &v
}
