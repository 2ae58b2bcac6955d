package db

import (
	"testing"

	"poscal/internal/config"
	"poscal/internal/models"
)

func TestOpenSQLiteAndMigrate(t *testing.T) {
	conn, err := Open(config.DBConfig{DSN: "sqlite:file::memory:", MaxOpenConns: 8})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = Close(conn) })

	if got := conn.SQL.Stats().MaxOpenConnections; got != 1 {
		t.Fatalf("max open conns=%d want=1 for sqlite", got)
	}
	if err := SetTimezone(conn, "UTC"); err != nil {
		t.Fatalf("timezone on sqlite must be a no-op: %v", err)
	}
	if err := AutoMigrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := Ping(conn); err != nil {
		t.Fatalf("ping: %v", err)
	}
	for _, m := range Models() {
		if !conn.Gorm.Migrator().HasTable(m) {
			t.Fatalf("missing table for %T", m)
		}
	}
	var n int64
	if err := conn.Gorm.Model(&models.TradingSignal{}).Count(&n).Error; err != nil || n != 0 {
		t.Fatalf("count=%d err=%v", n, err)
	}
}

func TestNilHandlesAreSafe(t *testing.T) {
	if err := Close(nil); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := Ping(nil); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if err := AutoMigrate(nil); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}
