package database

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/GuiaBolso/darwin"
	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// sqliteParams are applied to every pooled SQLite connection. Write
// transactions take the database lock at BEGIN so two redemptions never
// interleave their read and write phases. The cost is that redemptions of
// different keys also serialize; Postgres does not have this limitation.
const sqliteParams = "_txlock=immediate&_busy_timeout=5000&_foreign_keys=on"

// ErrUnsupportedDriver is returned for driver names other than sqlite3 or pgx.
var ErrUnsupportedDriver = errors.New("unsupported database driver")

// Open connects to the database, applies connection settings for the driver
// and verifies the connection.
func Open(driver, dsn string) (*sqlx.DB, error) {
	switch driver {
	case DriverSQLite:
		db, err := sqlx.Connect(driver, SQLiteDSN(dsn))
		if err != nil {
			return nil, err
		}
		// WAL lets Check readers proceed while a redemption holds the write lock
		if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
			db.Close()
			return nil, err
		}
		return db, nil

	case DriverPostgres:
		db, err := sqlx.Connect(driver, dsn)
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		return db, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
}

// SQLiteDSN appends the connection parameters the engine relies on to a
// SQLite file path.
func SQLiteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + sqliteParams
}

// LockClause returns the row-locking suffix for a SELECT inside a write
// transaction. SQLite has no row locks; its IMMEDIATE transactions already
// hold the write lock.
func LockClause(driver string) string {
	if driver == DriverPostgres {
		return " FOR UPDATE"
	}
	return ""
}

func darwinDialect(driver string) darwin.Dialect {
	if driver == DriverPostgres {
		return darwin.PostgresDialect{}
	}
	return darwin.SqliteDialect{}
}
