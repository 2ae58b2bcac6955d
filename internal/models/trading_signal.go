package models

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	DirectionBuy  = "buy"
	DirectionSell = "sell"

	SignalStatusActive    = "active"
	SignalStatusClosed    = "closed"
	SignalStatusCancelled = "cancelled"

	ResultWin       = "win"
	ResultLoss      = "loss"
	ResultBreakeven = "breakeven"
)

var (
	ErrInvalidSignal   = errors.New("invalid signal")
	ErrInvalidMetadata = errors.New("invalid signal metadata")
)

// TradingSignal is one directional price call published by an operator.
// Only the level evaluator and operator cancellation mutate it.
type TradingSignal struct {
	ID           string `gorm:"primaryKey;type:varchar(36)"`
	CurrencyPair string `gorm:"type:varchar(20);not null;index"`
	Direction    string `gorm:"type:varchar(10);not null"`

	EntryPrice  float64  `gorm:"type:numeric(20,10);not null"`
	StopLoss    float64  `gorm:"type:numeric(20,10);not null"`
	TakeProfit1 float64  `gorm:"column:take_profit_1;type:numeric(20,10);not null"`
	TakeProfit2 *float64 `gorm:"column:take_profit_2;type:numeric(20,10)"`
	TakeProfit3 *float64 `gorm:"column:take_profit_3;type:numeric(20,10)"`

	PipsToSL  float64  `gorm:"column:pips_to_sl;type:numeric(12,2);not null;default:0"`
	PipsToTP1 float64  `gorm:"column:pips_to_tp1;type:numeric(12,2);not null;default:0"`
	PipsToTP2 *float64 `gorm:"column:pips_to_tp2;type:numeric(12,2)"`
	PipsToTP3 *float64 `gorm:"column:pips_to_tp3;type:numeric(12,2)"`

	TP1Hit bool `gorm:"column:tp1_hit;not null;default:false"`
	TP2Hit bool `gorm:"column:tp2_hit;not null;default:false"`
	TP3Hit bool `gorm:"column:tp3_hit;not null;default:false"`

	Status string  `gorm:"type:varchar(20);not null;default:'active';index"`
	Result *string `gorm:"type:varchar(20)"`

	Metadata datatypes.JSONType[SignalMetadata] `gorm:"type:jsonb"`

	CreatedAt time.Time  `gorm:"autoCreateTime;index"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime"`
	ClosedAt  *time.Time `gorm:"index"`
}

func (TradingSignal) TableName() string {
	return "trading_signals"
}

func (s TradingSignal) IsBuy() bool {
	return strings.EqualFold(strings.TrimSpace(s.Direction), DirectionBuy)
}

func (s TradingSignal) HasTP2() bool { return s.TakeProfit2 != nil }
func (s TradingSignal) HasTP3() bool { return s.TakeProfit3 != nil }

// Validate checks the level geometry: take-profits on the profitable side of
// entry, the stop on the other side, and farther tiers beyond nearer ones.
func (s TradingSignal) Validate() error {
	if strings.TrimSpace(s.CurrencyPair) == "" {
		return fmt.Errorf("%w: missing currency pair", ErrInvalidSignal)
	}
	dir := strings.ToLower(strings.TrimSpace(s.Direction))
	if dir != DirectionBuy && dir != DirectionSell {
		return fmt.Errorf("%w: direction %q", ErrInvalidSignal, s.Direction)
	}
	if s.EntryPrice <= 0 || s.StopLoss <= 0 || s.TakeProfit1 <= 0 {
		return fmt.Errorf("%w: non-positive level", ErrInvalidSignal)
	}
	sign := 1.0
	if dir == DirectionSell {
		sign = -1.0
	}
	if sign*(s.EntryPrice-s.StopLoss) <= 0 {
		return fmt.Errorf("%w: stop loss on the profitable side of entry", ErrInvalidSignal)
	}
	prev := s.EntryPrice
	tiers := []*float64{&s.TakeProfit1, s.TakeProfit2, s.TakeProfit3}
	for i, tp := range tiers {
		if tp == nil {
			continue
		}
		if *tp <= 0 || sign*(*tp-prev) <= 0 {
			return fmt.Errorf("%w: take profit %d out of order", ErrInvalidSignal, i+1)
		}
		prev = *tp
	}
	return nil
}

func (s *TradingSignal) BeforeCreate(tx *gorm.DB) error {
	if s.Status == "" {
		s.Status = SignalStatusActive
	}
	return s.Validate()
}

// BeforeSave keeps untyped blobs out of the metadata column.
func (s *TradingSignal) BeforeSave(tx *gorm.DB) error {
	return s.Metadata.Data().Validate()
}

const (
	MetadataSourceManual   = "manual"
	MetadataSourceTelegram = "telegram"
	MetadataSourceAPI      = "api"
	MetadataSourceImport   = "import"
)

// SignalMetadata is the documented schema of trading_signals.metadata.
type SignalMetadata struct {
	Source          string   `json:"source,omitempty"`
	Timeframe       string   `json:"timeframe,omitempty"`
	MarketExecution string   `json:"market_execution,omitempty"`
	Analysis        string   `json:"analysis,omitempty"`
	ChartImageURL   string   `json:"chart_image_url,omitempty"`
	ConfidenceScore *float64 `json:"confidence_score,omitempty"`
}

func (m SignalMetadata) Validate() error {
	switch m.Source {
	case "", MetadataSourceManual, MetadataSourceTelegram, MetadataSourceAPI, MetadataSourceImport:
	default:
		return fmt.Errorf("%w: source %q", ErrInvalidMetadata, m.Source)
	}
	if m.ConfidenceScore != nil && (*m.ConfidenceScore < 0 || *m.ConfidenceScore > 100) {
		return fmt.Errorf("%w: confidence_score %.2f outside 0..100", ErrInvalidMetadata, *m.ConfidenceScore)
	}
	if raw := strings.TrimSpace(m.ChartImageURL); raw != "" {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: chart_image_url %q", ErrInvalidMetadata, raw)
		}
	}
	return nil
}
