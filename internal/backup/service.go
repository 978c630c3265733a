// Package backup writes gzip-compressed SQL dumps of the SQLite database
// and optionally ships them off-site.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"

	"winsbygroup.com/hwidserver/internal/database"
)

// ErrUnsupported is returned for databases other than SQLite. Postgres
// deployments use pg_dump.
var ErrUnsupported = errors.New("backup is only supported for sqlite databases")

// Uploader stores a finished dump somewhere durable and returns its location.
type Uploader interface {
	Upload(ctx context.Context, name string, body io.ReadSeeker) (string, error)
}

type Service struct {
	db       *sqlx.DB
	dir      string
	uploader Uploader
	logger   *slog.Logger
	now      func() time.Time
}

// NewService writes dumps into dir.
func NewService(db *sqlx.DB, dir string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		db:     db,
		dir:    dir,
		logger: logger,
		now:    time.Now,
	}
}

// WithUploader ships every dump after it is written locally.
func (s *Service) WithUploader(u Uploader) *Service {
	s.uploader = u
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// BackupResult contains information about a completed backup
type BackupResult struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Location string `json:"location,omitempty"`
}

// CreateBackup creates a SQL dump of the database
func (s *Service) CreateBackup(ctx context.Context) (*BackupResult, error) {
	if s.db.DriverName() != database.DriverSQLite {
		return nil, ErrUnsupported
	}

	// Create backup directory if it doesn't exist
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}

	// Generate timestamped filename
	now := s.now()
	filename := now.Format("2006-01-02_15.04.05") + "_hwiddump.sql.gz"
	backupPath := filepath.Join(s.dir, filename)

	// Create temp file for VACUUM INTO
	tempPath := filepath.Join(s.dir, "temp_backup.db")
	os.Remove(tempPath)
	defer os.Remove(tempPath)

	// VACUUM INTO creates a clean, consolidated copy
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, tempPath); err != nil {
		return nil, fmt.Errorf("vacuum into temp: %w", err)
	}

	// Open the temp database for reading
	tempDB, err := sqlx.Open(database.DriverSQLite, tempPath+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open temp db: %w", err)
	}
	defer tempDB.Close()

	if err := writeDump(ctx, tempDB, backupPath, now); err != nil {
		os.Remove(backupPath)
		return nil, err
	}

	// Get file size
	info, err := os.Stat(backupPath)
	if err != nil {
		return nil, fmt.Errorf("stat backup file: %w", err)
	}

	result := &BackupResult{
		Filename: filename,
		Path:     backupPath,
		Size:     info.Size(),
	}

	if s.uploader != nil {
		loc, err := s.upload(ctx, backupPath, filename)
		if err != nil {
			return nil, err
		}
		result.Location = loc
	}

	s.logger.Info("backup created", "path", result.Path, "size", result.Size, "location", result.Location)
	return result, nil
}

func (s *Service) upload(ctx context.Context, path, name string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open backup for upload: %w", err)
	}
	defer f.Close()

	loc, err := s.uploader.Upload(ctx, name, f)
	if err != nil {
		return "", fmt.Errorf("upload backup: %w", err)
	}
	return loc, nil
}
