package testutil

import (
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"

	"winsbygroup.com/hwidserver/internal/database"
)

func NewTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	return NewTestDBAt(t, filepath.Join(t.TempDir(), "test.db"))
}

func NewTestDBAt(t *testing.T, dbPath string) *sqlx.DB {
	t.Helper()

	db, err := sqlx.Open(database.DriverSQLite, database.SQLiteDSN(dbPath))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	// Register cleanup immediately
	t.Cleanup(func() {
		db.Close()
	})

	// WAL so readers are not blocked by an open redemption
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		t.Fatalf("set journal mode: %v", err)
	}

	if err := database.RunMigrations(db.DB, database.DriverSQLite); err != nil {
		db.Close()
		t.Fatalf("migrate: %v", err)
	}

	return db
}
