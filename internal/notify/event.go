// Package notify carries signal events out of the monitor. The monitor only
// enqueues; the Dispatcher owns persistence, pacing, delivery and retries.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	TypeTP1       = "tp1"
	TypeTP2       = "tp2"
	TypeTP3       = "tp3"
	TypeSL        = "sl"
	TypeCancelled = "cancelled"
)

type Event struct {
	Type       string         `json:"type"`
	Instrument string         `json:"instrument"`
	SignalID   string         `json:"signal_id"`
	Direction  string         `json:"direction,omitempty"`
	Result     string         `json:"result,omitempty"`
	Price      float64        `json:"price,omitempty"`
	Closed     bool           `json:"closed"`
	At         time.Time      `json:"at"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Emitter accepts events without blocking the caller and without reporting
// delivery failures back to it.
type Emitter interface {
	Emit(ctx context.Context, ev Event)
}

func (e Event) Title() string {
	pair := strings.ToUpper(e.Instrument)
	switch e.Type {
	case TypeTP1, TypeTP2, TypeTP3:
		return fmt.Sprintf("%s %s hit", pair, strings.ToUpper(e.Type))
	case TypeSL:
		return fmt.Sprintf("%s stop loss hit", pair)
	case TypeCancelled:
		return fmt.Sprintf("%s signal cancelled", pair)
	}
	return pair + " signal update"
}

func (e Event) Body() string {
	dir := strings.ToUpper(e.Direction)
	var b strings.Builder
	b.WriteString(strings.TrimSpace(strings.ToUpper(e.Instrument) + " " + dir))
	if e.Price > 0 {
		fmt.Fprintf(&b, " at %g", e.Price)
	}
	switch {
	case e.Type == TypeCancelled:
		b.WriteString(". Open positions were cancelled.")
	case e.Closed:
		fmt.Fprintf(&b, ". Signal closed as %s.", strings.ToUpper(e.Result))
	default:
		b.WriteString(". Signal remains active.")
	}
	return b.String()
}
