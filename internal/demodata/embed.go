// Package demodata provides sample keys and licenses for demo deployments.
package demodata

import (
	"context"
	"database/sql"
	"embed"
)

//go:embed sample.sql
var sampleSQL embed.FS

// Demo keys a fresh demo server will redeem.
const (
	MonthKey    = "SENTINEL-TEST-AAAA-BBBB-CCCC-DDDD-2222"
	WeekKey     = "SENTINEL-TEST-EEEE-FFFF-GGGG-HHHH-3333"
	LifetimeKey = "SENTINEL-TEST-JJJJ-KKKK-LLLL-MMMM-4444"
)

// Load inserts demo data into the database.
// This should only be called on a freshly created database after migrations.
func Load(ctx context.Context, db *sql.DB) error {
	data, err := sampleSQL.ReadFile("sample.sql")
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, string(data))
	return err
}
