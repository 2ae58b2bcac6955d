package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	JournalDirectionLong  = "long"
	JournalDirectionShort = "short"
)

// JournalEntry is the append-only audit record of a settled position.
// PositionID is unique so a replayed settlement cannot write a second row.
type JournalEntry struct {
	ID         string  `gorm:"primaryKey;type:varchar(26)"`
	UserID     string  `gorm:"type:varchar(36);not null;index"`
	AccountID  *string `gorm:"type:varchar(36);index"`
	SignalID   string  `gorm:"type:varchar(36);not null;index"`
	PositionID string  `gorm:"type:varchar(36);not null;uniqueIndex"`

	TradeDate time.Time `gorm:"type:date;not null"`
	Symbol    string    `gorm:"type:varchar(20);not null"`
	Direction string    `gorm:"type:varchar(10);not null"`

	EntryPrice   float64         `gorm:"type:numeric(20,10);not null"`
	ExitPrice    float64         `gorm:"type:numeric(20,10);not null"`
	StopLoss     float64         `gorm:"type:numeric(20,10)"`
	TakeProfit   float64         `gorm:"type:numeric(20,10)"`
	PositionSize decimal.Decimal `gorm:"type:numeric(18,6);not null"`
	RiskPercent  decimal.Decimal `gorm:"type:numeric(7,2)"`

	PnL             decimal.Decimal `gorm:"column:profit_loss;type:numeric(15,2);not null"`
	PnLPercent      decimal.Decimal `gorm:"column:profit_loss_percentage;type:numeric(9,2);not null"`
	RiskRewardRatio float64         `gorm:"type:numeric(7,2)"`

	Status   string `gorm:"type:varchar(20);not null;default:'closed'"`
	Result   string `gorm:"type:varchar(20);not null;index"`
	Notes    string `gorm:"type:text"`
	Strategy string `gorm:"type:varchar(100)"`

	Snapshot datatypes.JSONType[SettlementSnapshot] `gorm:"type:jsonb"`

	EntryDate time.Time
	CreatedAt time.Time `gorm:"autoCreateTime;index"`
}

func (JournalEntry) TableName() string {
	return "trading_journal"
}

// SettlementSnapshot records the inputs a settlement was computed from, so
// the journal row can be re-derived from signal + risk alone.
type SettlementSnapshot struct {
	ExitTier        string  `json:"exit_tier"`
	PipsToStop      float64 `json:"pips_to_stop"`
	PipsToExit      float64 `json:"pips_to_exit"`
	PipValueUSD     float64 `json:"pip_value_usd"`
	RawPositionSize float64 `json:"raw_position_size"`
	RiskAmount      string  `json:"risk_amount"`
	PairClass       string  `json:"pair_class"`
}
