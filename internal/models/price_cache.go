package models

import "time"

// PriceCache holds the latest ingested quote per symbol.
type PriceCache struct {
	Symbol   string  `gorm:"primaryKey;type:varchar(20)"`
	BidPrice float64 `gorm:"type:numeric(20,10);not null"`
	MidPrice float64 `gorm:"type:numeric(20,10);not null"`
	AskPrice float64 `gorm:"type:numeric(20,10);not null"`
	Source   string  `gorm:"type:varchar(30);not null"`

	QuotedAt  time.Time `gorm:"not null;index"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (PriceCache) TableName() string {
	return "price_cache"
}
