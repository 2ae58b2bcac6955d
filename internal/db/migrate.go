package db

import (
	"poscal/internal/models"
)

// Models lists every table owned by the settlement engine.
func Models() []any {
	return []any{
		&models.TradingSignal{},
		&models.TakenPosition{},
		&models.TradingAccount{},
		&models.JournalEntry{},
		&models.PriceCache{},
		&models.NotificationEvent{},
		&models.SystemSetting{},
	}
}

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}
	return db.Gorm.AutoMigrate(Models()...)
}
