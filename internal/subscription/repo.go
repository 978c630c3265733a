package subscription

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"winsbygroup.com/hwidserver/internal/database"
)

type Repository interface {
	Get(ctx context.Context, code string) (*Key, error)
	List(ctx context.Context) ([]Key, error)
	ListForOwner(ctx context.Context, ownerUserID int64) ([]Key, error)
	Stats(ctx context.Context) (*Stats, error)

	GetForUpdate(ctx context.Context, tx *sqlx.Tx, code string) (*Key, error)
	Create(ctx context.Context, tx *sqlx.Tx, k *Key) error
	MarkActivated(ctx context.Context, tx *sqlx.Tx, code string, at time.Time) error
	AddDays(ctx context.Context, tx *sqlx.Tx, code string, days int) error
	Delete(ctx context.Context, tx *sqlx.Tx, code string) error
	DeleteForOwner(ctx context.Context, tx *sqlx.Tx, ownerUserID int64) (int64, error)
}

type repo struct {
	db   *sqlx.DB
	lock string
}

func New(db *sqlx.DB) Repository {
	return &repo{db: db, lock: database.LockClause(db.DriverName())}
}

func (r *repo) Get(ctx context.Context, code string) (*Key, error) {
	var k Key
	err := r.db.GetContext(ctx, &k, r.db.Rebind(getKeySQL), code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, code)
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription key: %w", err)
	}
	return &k, nil
}

// GetForUpdate reads the key inside tx, holding a row lock where the driver
// supports one. SQLite transactions are opened IMMEDIATE, which already
// serializes writers.
func (r *repo) GetForUpdate(ctx context.Context, tx *sqlx.Tx, code string) (*Key, error) {
	var k Key
	err := tx.GetContext(ctx, &k, tx.Rebind(getKeySQL+r.lock), code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, code)
	}
	if err != nil {
		return nil, fmt.Errorf("lock subscription key: %w", err)
	}
	return &k, nil
}

func (r *repo) List(ctx context.Context) ([]Key, error) {
	var out []Key
	if err := r.db.SelectContext(ctx, &out, listKeysSQL); err != nil {
		return nil, fmt.Errorf("list subscription keys: %w", err)
	}
	return out, nil
}

func (r *repo) ListForOwner(ctx context.Context, ownerUserID int64) ([]Key, error) {
	var out []Key
	if err := r.db.SelectContext(ctx, &out, r.db.Rebind(listKeysForOwnerSQL), ownerUserID); err != nil {
		return nil, fmt.Errorf("list subscription keys for owner: %w", err)
	}
	return out, nil
}

func (r *repo) Stats(ctx context.Context) (*Stats, error) {
	var s Stats
	if err := r.db.GetContext(ctx, &s, r.db.Rebind(keyStatsSQL), LifetimeDays); err != nil {
		return nil, fmt.Errorf("subscription key stats: %w", err)
	}
	return &s, nil
}

func (r *repo) Create(ctx context.Context, tx *sqlx.Tx, k *Key) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(createKeySQL),
		k.Code,
		k.OwnerUserID,
		k.GrantedDays,
		k.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create subscription key: %w", err)
	}
	return nil
}

func (r *repo) MarkActivated(ctx context.Context, tx *sqlx.Tx, code string, at time.Time) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(markActivatedSQL), at, code)
	if err != nil {
		return fmt.Errorf("mark subscription key activated: %w", err)
	}
	return nil
}

func (r *repo) AddDays(ctx context.Context, tx *sqlx.Tx, code string, days int) error {
	res, err := tx.ExecContext(ctx, tx.Rebind(addDaysSQL), days, code)
	if err != nil {
		return fmt.Errorf("extend subscription key: %w", err)
	}
	return expectRow(res, code)
}

func (r *repo) Delete(ctx context.Context, tx *sqlx.Tx, code string) error {
	res, err := tx.ExecContext(ctx, tx.Rebind(deleteKeySQL), code)
	if err != nil {
		return fmt.Errorf("delete subscription key: %w", err)
	}
	return expectRow(res, code)
}

func (r *repo) DeleteForOwner(ctx context.Context, tx *sqlx.Tx, ownerUserID int64) (int64, error) {
	res, err := tx.ExecContext(ctx, tx.Rebind(deleteKeysForOwnerSQL), ownerUserID)
	if err != nil {
		return 0, fmt.Errorf("delete subscription keys for owner: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

func expectRow(res sql.Result, code string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, code)
	}
	return nil
}
