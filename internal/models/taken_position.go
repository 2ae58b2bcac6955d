package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PositionStatusOpen      = "open"
	PositionStatusClosed    = "closed"
	PositionStatusCancelled = "cancelled"
)

// TakenPosition is one user's exposure to a signal. SignalID is a lookup key,
// not an ownership link.
type TakenPosition struct {
	ID        string  `gorm:"primaryKey;type:varchar(36)"`
	SignalID  string  `gorm:"type:varchar(36);not null;index"`
	UserID    string  `gorm:"type:varchar(36);not null;index"`
	AccountID *string `gorm:"type:varchar(36);index"`

	RiskAmount  decimal.Decimal `gorm:"type:numeric(15,2);not null"`
	RiskPercent decimal.Decimal `gorm:"type:numeric(7,2);not null;default:0"`

	Status       string           `gorm:"type:varchar(20);not null;default:'open';index"`
	Result       *string          `gorm:"type:varchar(20)"`
	PositionSize *decimal.Decimal `gorm:"type:numeric(18,6)"`
	PnL          *decimal.Decimal `gorm:"column:pnl;type:numeric(15,2)"`
	PnLPercent   *decimal.Decimal `gorm:"column:pnl_percent;type:numeric(9,2)"`
	Journaled    bool             `gorm:"not null;default:false"`

	CreatedAt time.Time  `gorm:"autoCreateTime;index"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime"`
	ClosedAt  *time.Time
}

func (TakenPosition) TableName() string {
	return "taken_positions"
}
