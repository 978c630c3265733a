// Package nonce records client nonces that have already been answered so a
// signed response cannot be requested twice with the same nonce.
package nonce

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"winsbygroup.com/hwidserver/internal/database"
)

var ErrReused = errors.New("nonce already used")

type Ledger struct {
	db     *sqlx.DB
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewLedger remembers each nonce for ttl.
func NewLedger(db *sqlx.DB, ttl time.Duration, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{db: db, ttl: ttl, logger: logger, now: time.Now}
}

func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

func (l *Ledger) clock() time.Time {
	return l.now().UTC().Truncate(time.Second)
}

// Consume records nonce for hwid. It returns ErrReused if the nonce was
// recorded before and has not expired.
func (l *Ledger) Consume(ctx context.Context, nonce, hwid string) error {
	now := l.clock()

	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin nonce tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, tx.Rebind(deleteExpiredNonceSQL), nonce, now); err != nil {
		return fmt.Errorf("clear expired nonce: %w", err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(insertNonceSQL), nonce, hwid, now.Add(l.ttl)); err != nil {
		if database.IsUniqueConstraintError(err) {
			return ErrReused
		}
		return fmt.Errorf("record nonce: %w", err)
	}
	return tx.Commit()
}

// Prune deletes expired nonces and returns how many were removed.
func (l *Ledger) Prune(ctx context.Context) (int64, error) {
	res, err := l.db.ExecContext(ctx, l.db.Rebind(pruneNoncesSQL), l.clock())
	if err != nil {
		return 0, fmt.Errorf("prune nonces: %w", err)
	}
	return res.RowsAffected()
}

// RunJanitor prunes expired nonces every interval until ctx is done.
func (l *Ledger) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n, err := l.Prune(ctx)
			if err != nil {
				l.logger.Error("nonce janitor", "error", err)
				continue
			}
			if n > 0 {
				l.logger.Debug("pruned nonces", "count", n)
			}
		case <-ctx.Done():
			return
		}
	}
}
