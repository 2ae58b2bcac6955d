package db

import (
	"database/sql"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"poscal/internal/config"
)

const sqlitePrefix = "sqlite:"

type DB struct {
	Gorm *gorm.DB
	SQL  *sql.DB
}

// Open connects to postgres, or to sqlite when the DSN starts with
// "sqlite:" (for example "sqlite:file:poscal.db" or "sqlite::memory:").
func Open(cfg config.DBConfig) (*DB, error) {
	gcfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	gdb, err := gorm.Open(dialector(cfg.DSN), gcfg)
	if err != nil {
		return nil, err
	}
	return Wrap(gdb, cfg)
}

func dialector(dsn string) gorm.Dialector {
	dsn = strings.TrimSpace(dsn)
	if rest, ok := strings.CutPrefix(dsn, sqlitePrefix); ok {
		return sqlite.Open(rest)
	}
	return postgres.Open(dsn)
}

// Wrap applies pool settings to an already opened gorm handle. sqlite is
// pinned to one connection so in-memory databases stay shared.
func Wrap(gdb *gorm.DB, cfg config.DBConfig) (*DB, error) {
	sqldb, err := gdb.DB()
	if err != nil {
		return nil, err
	}

	if isSQLite(gdb) {
		sqldb.SetMaxOpenConns(1)
	} else {
		if cfg.MaxOpenConns > 0 {
			sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
		}
	}
	sqldb.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqldb.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return &DB{Gorm: gdb, SQL: sqldb}, nil
}

func isSQLite(gdb *gorm.DB) bool {
	return gdb != nil && gdb.Dialector != nil && gdb.Dialector.Name() == "sqlite"
}

func Close(db *DB) error {
	if db == nil || db.SQL == nil {
		return nil
	}
	return db.SQL.Close()
}

func Ping(db *DB) error {
	if db == nil || db.SQL == nil {
		return nil
	}
	return db.SQL.Ping()
}

// SetTimezone pins the postgres session timezone. sqlite stores what it is
// given, and every timestamp written here is already UTC.
func SetTimezone(db *DB, tz string) error {
	if db == nil || db.SQL == nil || tz == "" || isSQLite(db.Gorm) {
		return nil
	}
	_, err := db.SQL.Exec("SET TIME ZONE '" + strings.ReplaceAll(tz, "'", "") + "'")
	return err
}

func NowUTC() time.Time {
	return time.Now().UTC()
}
