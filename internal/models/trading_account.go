package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TradingAccount struct {
	ID          string `gorm:"primaryKey;type:varchar(36)"`
	UserID      string `gorm:"type:varchar(36);not null;index"`
	AccountName string `gorm:"type:varchar(255);not null"`
	Platform    string `gorm:"type:varchar(100)"`
	Currency    string `gorm:"type:varchar(10);not null;default:'USD'"`

	InitialBalance decimal.Decimal `gorm:"type:numeric(15,2);not null;default:0"`
	// CurrentBalance moves only through atomic increments at settlement.
	CurrentBalance decimal.Decimal `gorm:"type:numeric(15,2);not null;default:0"`
	IsActive       bool            `gorm:"not null;default:true"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (TradingAccount) TableName() string {
	return "trading_accounts"
}
