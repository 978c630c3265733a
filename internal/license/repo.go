package license

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

type Repository interface {
	Get(ctx context.Context, userID int64, hwid string) (*License, error)
	GetByHWID(ctx context.Context, hwid string) (*License, error)
	GetForUser(ctx context.Context, userID int64) ([]License, error)
	List(ctx context.Context) ([]License, error)
	Search(ctx context.Context, fragment string) ([]License, error)
	GetExpired(ctx context.Context, at time.Time) ([]License, error)
	GetBanned(ctx context.Context) ([]License, error)
	Stats(ctx context.Context, at time.Time) (*Stats, error)

	GetTx(ctx context.Context, tx *sqlx.Tx, userID int64, hwid string) (*License, error)
	GetByHWIDTx(ctx context.Context, tx *sqlx.Tx, hwid string) (*License, error)
	GetForUserTx(ctx context.Context, tx *sqlx.Tx, userID int64) ([]License, error)
	ListTx(ctx context.Context, tx *sqlx.Tx) ([]License, error)
	Create(ctx context.Context, tx *sqlx.Tx, lic *License) error
	Update(ctx context.Context, tx *sqlx.Tx, lic *License) error
	SetExpires(ctx context.Context, tx *sqlx.Tx, userID int64, hwid string, expiresAt time.Time) error
	SetBannedForUser(ctx context.Context, tx *sqlx.Tx, userID int64, banned bool) (int64, error)
	SetBannedForHWID(ctx context.Context, tx *sqlx.Tx, hwid string, banned bool) (int64, error)
	DeleteByHWID(ctx context.Context, tx *sqlx.Tx, hwid string) (int64, error)
}

type repo struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) Repository {
	return &repo{db: db}
}

func (r *repo) Get(ctx context.Context, userID int64, hwid string) (*License, error) {
	return getOne(ctx, r.db, getLicenseSQL, userID, hwid)
}

func (r *repo) GetByHWID(ctx context.Context, hwid string) (*License, error) {
	return getOne(ctx, r.db, getLicenseByHWIDSQL, hwid)
}

func (r *repo) GetForUser(ctx context.Context, userID int64) ([]License, error) {
	return selectMany(ctx, r.db, getLicensesForUserSQL, userID)
}

func (r *repo) List(ctx context.Context) ([]License, error) {
	return selectMany(ctx, r.db, listLicensesSQL)
}

func (r *repo) Search(ctx context.Context, fragment string) ([]License, error) {
	return selectMany(ctx, r.db, searchLicensesSQL, "%"+fragment+"%")
}

func (r *repo) GetExpired(ctx context.Context, at time.Time) ([]License, error) {
	return selectMany(ctx, r.db, getExpiredLicensesSQL, at)
}

func (r *repo) GetBanned(ctx context.Context) ([]License, error) {
	return selectMany(ctx, r.db, getBannedLicensesSQL, true)
}

func (r *repo) Stats(ctx context.Context, at time.Time) (*Stats, error) {
	var s Stats
	err := r.db.GetContext(ctx, &s, r.db.Rebind(licenseStatsSQL), false, at, true)
	if err != nil {
		return nil, fmt.Errorf("license stats: %w", err)
	}
	return &s, nil
}

func (r *repo) GetTx(ctx context.Context, tx *sqlx.Tx, userID int64, hwid string) (*License, error) {
	return getOne(ctx, tx, getLicenseSQL, userID, hwid)
}

func (r *repo) GetByHWIDTx(ctx context.Context, tx *sqlx.Tx, hwid string) (*License, error) {
	return getOne(ctx, tx, getLicenseByHWIDSQL, hwid)
}

func (r *repo) GetForUserTx(ctx context.Context, tx *sqlx.Tx, userID int64) ([]License, error) {
	return selectMany(ctx, tx, getLicensesForUserSQL, userID)
}

func (r *repo) ListTx(ctx context.Context, tx *sqlx.Tx) ([]License, error) {
	return selectMany(ctx, tx, listLicensesSQL)
}

func (r *repo) Create(ctx context.Context, tx *sqlx.Tx, lic *License) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(createLicenseSQL),
		lic.UserID,
		lic.HWID,
		lic.ExpiresAt,
		lic.Banned,
		lic.LastRedeemedKey,
	)
	if err != nil {
		return fmt.Errorf("create license: %w", err)
	}
	return nil
}

func (r *repo) Update(ctx context.Context, tx *sqlx.Tx, lic *License) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(updateLicenseSQL),
		lic.ExpiresAt,
		lic.LastRedeemedKey,
		lic.UserID,
		lic.HWID,
	)
	if err != nil {
		return fmt.Errorf("update license: %w", err)
	}
	return nil
}

func (r *repo) SetExpires(ctx context.Context, tx *sqlx.Tx, userID int64, hwid string, expiresAt time.Time) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(setExpiresSQL), expiresAt, userID, hwid)
	if err != nil {
		return fmt.Errorf("set license expiry: %w", err)
	}
	return nil
}

func (r *repo) SetBannedForUser(ctx context.Context, tx *sqlx.Tx, userID int64, banned bool) (int64, error) {
	return execCount(ctx, tx, "set banned for user", setBannedForUserSQL, banned, userID)
}

func (r *repo) SetBannedForHWID(ctx context.Context, tx *sqlx.Tx, hwid string, banned bool) (int64, error) {
	return execCount(ctx, tx, "set banned for hwid", setBannedForHWIDSQL, banned, hwid)
}

func (r *repo) DeleteByHWID(ctx context.Context, tx *sqlx.Tx, hwid string) (int64, error) {
	return execCount(ctx, tx, "delete license", deleteLicenseByHWIDSQL, hwid)
}

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx.
type queryer interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	Rebind(query string) string
}

func getOne(ctx context.Context, q queryer, query string, args ...any) (*License, error) {
	var lic License
	err := q.GetContext(ctx, &lic, q.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get license: %w", err)
	}
	return &lic, nil
}

func selectMany(ctx context.Context, q queryer, query string, args ...any) ([]License, error) {
	var out []License
	if err := q.SelectContext(ctx, &out, q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("get licenses: %w", err)
	}
	return out, nil
}

func execCount(ctx context.Context, tx *sqlx.Tx, op, query string, args ...any) (int64, error) {
	res, err := tx.ExecContext(ctx, tx.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: rows affected: %w", op, err)
	}
	return n, nil
}
