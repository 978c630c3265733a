package backup

import (
	"bufio"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// timestampLayout is the first format go-sqlite3 parses for TIMESTAMP columns.
const timestampLayout = "2006-01-02 15:04:05.999999999-07:00"

// writeDump streams a gzip-compressed SQL dump of db into path.
func writeDump(ctx context.Context, db *sqlx.DB, path string, at time.Time) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create backup file: %w", err)
	}
	defer file.Close()

	gz := gzip.NewWriter(file)
	w := bufio.NewWriter(gz)

	if err := dump(ctx, db, w, at); err != nil {
		return fmt.Errorf("generate dump: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write gzip data: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("close gzip writer: %w", err)
	}
	return file.Close()
}

type schemaObject struct {
	Type string `db:"type"`
	Name string `db:"name"`
	SQL  string `db:"sql"`
}

// Tables first so indexes can be created against them on restore.
const schemaQuery = `
	SELECT type, name, sql
	FROM sqlite_master
	WHERE sql IS NOT NULL
	  AND name NOT LIKE 'sqlite_%'
	ORDER BY type <> 'table', type, name
`

func dump(ctx context.Context, db *sqlx.DB, w io.Writer, at time.Time) error {
	var objects []schemaObject
	if err := db.SelectContext(ctx, &objects, schemaQuery); err != nil {
		return fmt.Errorf("query schema: %w", err)
	}

	fmt.Fprintf(w, "-- hwidserver Database Backup\n-- Generated: %s\n", at.Format(time.RFC3339))
	io.WriteString(w, "PRAGMA foreign_keys=OFF;\nBEGIN TRANSACTION;\n\n")

	for _, o := range objects {
		fmt.Fprintf(w, "%s;\n", o.SQL)
	}
	io.WriteString(w, "\n")

	for _, o := range objects {
		if o.Type != "table" {
			continue
		}
		if err := dumpRows(ctx, db, w, o.Name); err != nil {
			return fmt.Errorf("dump %s: %w", o.Name, err)
		}
	}

	_, err := io.WriteString(w, "COMMIT;\nPRAGMA journal_mode=WAL;\n")
	return err
}

func dumpRows(ctx context.Context, db *sqlx.DB, w io.Writer, table string) error {
	rows, err := db.QueryxContext(ctx, fmt.Sprintf("SELECT * FROM %q", table))
	if err != nil {
		return fmt.Errorf("query rows: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("get columns: %w", err)
	}
	for i, c := range columns {
		columns[i] = strconv.Quote(c)
	}
	prefix := fmt.Sprintf("INSERT INTO %q (%s) VALUES (", table, strings.Join(columns, ", "))

	n := 0
	for rows.Next() {
		row, err := rows.SliceScan()
		if err != nil {
			return fmt.Errorf("scan row: %w", err)
		}
		values := make([]string, len(row))
		for i, v := range row {
			values[i] = sqlLiteral(v)
		}
		if _, err := fmt.Fprintf(w, "%s%s);\n", prefix, strings.Join(values, ", ")); err != nil {
			return err
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate rows: %w", err)
	}
	if n > 0 {
		io.WriteString(w, "\n")
	}
	return nil
}

func sqlLiteral(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return quote(string(val))
	case string:
		return quote(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case bool:
		if val {
			return "1"
		}
		return "0"
	case time.Time:
		return quote(val.UTC().Format(timestampLayout))
	default:
		return quote(fmt.Sprint(val))
	}
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
