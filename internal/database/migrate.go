package database

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/GuiaBolso/darwin"
)

// ApplicationID is the SQLite application_id for hwidserver databases.
// "HWID" in ASCII: H=0x48, W=0x57, I=0x49, D=0x44
const ApplicationID = 0x48574944

// ErrInvalidDatabase is returned when the database is not a valid hwidserver database.
var ErrInvalidDatabase = errors.New("not a valid 'hwidserver' database")

// defineMigrations lists every schema step in order. Released steps are
// frozen: darwin checksums each script, so edit only by appending a new step.
// Comments go at the end of a line; they are stripped before checksumming.
// Scripts stay within the SQL common to SQLite and Postgres so one history
// serves both drivers.
func defineMigrations(driver string) []darwin.Migration {
	var m []darwin.Migration

	if driver != DriverPostgres {
		// 0x48574944 = "HWID" in ASCII
		m = append(m, darwin.Migration{Version: 1.00, Description: "Set application_id", Script: `
		PRAGMA application_id = 0x48574944;`})
	}

	m = append(m, []darwin.Migration{

		{Version: 1.01, Description: "Create Table 'subscription_key'", Script: `
		CREATE TABLE IF NOT EXISTS subscription_key (
			code VARCHAR(255) NOT NULL PRIMARY KEY,
			owner_user_id BIGINT NOT NULL,
			granted_days INTEGER NOT NULL,
			first_activated_at TIMESTAMP NULL,
			created_at TIMESTAMP NOT NULL
		);`},

		{Version: 1.02, Description: "Create Index 'idx_subscription_key_owner'", Script: `
		CREATE INDEX IF NOT EXISTS idx_subscription_key_owner ON subscription_key (owner_user_id);`},

		{Version: 1.03, Description: "Create Table 'license'", Script: `
		CREATE TABLE IF NOT EXISTS license (
			user_id BIGINT NOT NULL,
			hwid VARCHAR(255) NOT NULL,
			expires_at TIMESTAMP NOT NULL,
			banned BOOLEAN NOT NULL DEFAULT FALSE,
			last_redeemed_key VARCHAR(255) NULL,
			CONSTRAINT pk_license PRIMARY KEY (user_id, hwid)
		);`},

		{Version: 1.04, Description: "Create Unique Index 'idx_license_hwid'", Script: `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_license_hwid ON license (hwid);`}, // one user per device

		{Version: 1.05, Description: "Create Table 'used_nonce'", Script: `
		CREATE TABLE IF NOT EXISTS used_nonce (
			nonce VARCHAR(255) NOT NULL PRIMARY KEY,
			hwid VARCHAR(255) NOT NULL,
			expires_at TIMESTAMP NOT NULL
		);`},

		{Version: 1.06, Description: "Create Index 'idx_used_nonce_expires_at'", Script: `
		CREATE INDEX IF NOT EXISTS idx_used_nonce_expires_at ON used_nonce (expires_at);`},

		{Version: 1.07, Description: "Create Table 'audit_event'", Script: `
		CREATE TABLE IF NOT EXISTS audit_event (
			event_id VARCHAR(36) NOT NULL PRIMARY KEY,
			occurred_at TIMESTAMP NOT NULL,
			actor_id BIGINT NOT NULL,
			action VARCHAR(64) NOT NULL,
			target_type VARCHAR(32) NOT NULL DEFAULT '',
			target_id VARCHAR(255) NOT NULL DEFAULT '',
			details TEXT NOT NULL DEFAULT ''
		);`},

		{Version: 1.08, Description: "Create Index 'idx_audit_event_occurred_at'", Script: `
		CREATE INDEX IF NOT EXISTS idx_audit_event_occurred_at ON audit_event (occurred_at);`},
	}...)
	return m
}

// migrationState reports how many steps are recorded and the highest version.
// A database without the darwin table has applied nothing.
func migrationState(db *sql.DB, driver string) (steps int, version float64, err error) {
	probe := `SELECT COUNT(*) FROM sqlite_master WHERE tbl_name = 'darwin_migrations'`
	if driver == DriverPostgres {
		probe = `SELECT COUNT(*) FROM information_schema.tables WHERE table_name = 'darwin_migrations'`
	}
	var exists int
	if err := db.QueryRow(probe).Scan(&exists); err != nil || exists == 0 {
		return 0, 0, err
	}

	var v sql.NullFloat64
	err = db.QueryRow(`SELECT COUNT(*), MAX(version) FROM darwin_migrations`).Scan(&steps, &v)
	return steps, v.Float64, err
}

// checksummed returns the migrations with scripts reduced to their
// significant tokens. darwin stores a checksum per script, so reformatting
// or commenting a released step must not change it.
func checksummed(driver string) []darwin.Migration {
	migrations := defineMigrations(driver)
	for i := range migrations {
		migrations[i].Script = canonicalScript(migrations[i].Script)
	}
	return migrations
}

func canonicalScript(script string) string {
	lines := strings.Split(strings.ToLower(script), "\n")
	kept := lines[:0]
	for _, line := range lines {
		line, _, _ = strings.Cut(strings.ReplaceAll(line, "/*", "--"), "--")
		kept = append(kept, line)
	}
	return strings.Join(strings.Fields(strings.Join(kept, " ")), " ")
}

// Schema returns the migration scripts for display (-schema flag).
func Schema(driver string) string {
	var b strings.Builder
	for _, m := range defineMigrations(driver) {
		fmt.Fprintf(&b, "-- v%.2f %s\n%s\n\n", m.Version, m.Description, strings.TrimSpace(m.Script))
	}
	return b.String()
}

// VerifyApplicationID refuses SQLite files written by other programs. A
// blank database (application_id 0, no tables) is accepted.
func VerifyApplicationID(db *sql.DB) error {
	var appID int
	if err := db.QueryRow(`PRAGMA application_id`).Scan(&appID); err != nil {
		return fmt.Errorf("read application_id: %w", err)
	}
	switch appID {
	case ApplicationID:
		return nil
	case 0:
	default:
		return fmt.Errorf("%w (application_id 0x%X)", ErrInvalidDatabase, appID)
	}

	var tables int
	q := `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`
	if err := db.QueryRow(q).Scan(&tables); err != nil {
		return fmt.Errorf("check tables: %w", err)
	}
	if tables > 0 {
		return fmt.Errorf("%w (has tables but no application_id)", ErrInvalidDatabase)
	}
	return nil
}

// RunMigrations brings the schema of an open database up to date.
func RunMigrations(db *sql.DB, driver string) error {
	if driver != DriverPostgres {
		if err := VerifyApplicationID(db); err != nil {
			return err
		}
	}

	steps, from, err := migrationState(db, driver)
	if err != nil {
		return fmt.Errorf("read migration state: %w", err)
	}

	migrations := checksummed(driver)
	latest := migrations[len(migrations)-1].Version
	if steps == len(migrations) && from == latest {
		slog.Info("database schema is current", "version", fmt.Sprintf("%.2f", from))
		return nil
	}

	info := make(chan darwin.MigrationInfo, len(migrations))
	migrateErr := darwin.New(darwin.NewGenericDriver(db, darwinDialect(driver)), migrations, info).Migrate()
	close(info)

	for step := range info {
		attrs := []any{
			"version", fmt.Sprintf("%.2f", step.Migration.Version),
			"description", step.Migration.Description,
			"status", step.Status.String(),
		}
		if step.Error != nil {
			slog.Error("migration step failed", append(attrs, "error", step.Error)...)
			continue
		}
		slog.Debug("migration step", attrs...)
	}
	if migrateErr != nil {
		return fmt.Errorf("migrate from %.2f: %w", from, migrateErr)
	}

	_, to, err := migrationState(db, driver)
	if err != nil {
		return fmt.Errorf("read migration state: %w", err)
	}
	slog.Info("database migrated", "from", fmt.Sprintf("%.2f", from), "to", fmt.Sprintf("%.2f", to))
	return nil
}
