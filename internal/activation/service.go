package activation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"winsbygroup.com/hwidserver/internal/apperr"
	"winsbygroup.com/hwidserver/internal/license"
	"winsbygroup.com/hwidserver/internal/subscription"
)

type Service struct {
	db         *sqlx.DB
	keySvc     *subscription.Service
	licenseSvc *license.Service
	reporter   Reporter
	logger     *slog.Logger
	now        func() time.Time
}

func NewService(
	db *sqlx.DB,
	keySvc *subscription.Service,
	licenseSvc *license.Service,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		db:         db,
		keySvc:     keySvc,
		licenseSvc: licenseSvc,
		reporter:   nopReporter{},
		logger:     logger,
		now:        time.Now,
	}
}

func (s *Service) WithReporter(r Reporter) *Service {
	if r == nil {
		r = nopReporter{}
	}
	s.reporter = r
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperr.StorageErr(err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperr.StorageErr(err)
	}
	return nil
}

// Redeem consumes the key identified by code and binds its entitlement to
// hwid for the key's owner. Every rejection rolls the transaction back, so a
// key is deleted exactly when a license was created or extended from it.
func (s *Service) Redeem(ctx context.Context, code, hwid string) (*Result, error) {
	return s.RedeemWith(ctx, code, hwid, nil)
}

// RedeemWith is Redeem with a finalizer that runs inside the transaction
// once the key is consumed. A finalizer error rolls the redemption back.
// Reporters run only after commit.
func (s *Service) RedeemWith(ctx context.Context, code, hwid string, finalize Finalizer) (*Result, error) {
	now := s.now().UTC().Truncate(time.Second)

	var res *Result
	err := s.WithTx(ctx, func(tx *sqlx.Tx) error {

		key, err := s.keySvc.GetForUpdate(ctx, tx, code)
		if errors.Is(err, subscription.ErrNotFound) {
			return apperr.ErrInvalidKey
		}
		if err != nil {
			return apperr.StorageErr(err)
		}

		if key.GrantedDays <= 0 {
			return apperr.ErrInvalidDuration
		}

		// Entitlement to apply. A key's window is fixed at first touch.
		var grant time.Duration
		if key.FirstActivatedAt == nil {
			grant = subscription.ExpiryFrom(now, key.GrantedDays).Sub(now)
			if err := s.keySvc.MarkActivated(ctx, tx, code, now); err != nil {
				return apperr.StorageErr(err)
			}
		} else {
			end := key.WindowEnd()
			if !now.Before(end) {
				return apperr.ErrKeyExpired
			}
			grant = end.Sub(now)
		}

		lic, extended, err := s.bind(ctx, tx, key.OwnerUserID, hwid, code, grant, now)
		if err != nil {
			return err
		}

		if err := s.keySvc.Consume(ctx, tx, code); err != nil {
			if errors.Is(err, subscription.ErrNotFound) {
				return apperr.ErrInvalidKey
			}
			return apperr.StorageErr(err)
		}

		res = &Result{
			UserID:      lic.UserID,
			HWID:        lic.HWID,
			Key:         code,
			GrantedDays: key.GrantedDays,
			ExpiresAt:   lic.ExpiresAt,
			Extended:    extended,
		}
		if finalize != nil {
			return finalize(res)
		}
		return nil
	})
	if err != nil {
		s.logRejection(code, hwid, err)
		return nil, err
	}

	s.logger.Info("key redeemed",
		"user_id", res.UserID,
		"hwid", res.HWID,
		"expires_at", res.ExpiresAt,
		"extended", res.Extended,
	)
	s.reporter.Redeemed(ctx, res)
	return res, nil
}

func (s *Service) logRejection(code, hwid string, err error) {
	ae := apperr.From(err)
	if ae.Kind == apperr.Storage || ae.Kind == apperr.Crypto {
		s.logger.Error("redeem failed", "hwid", hwid, "error", err)
		return
	}
	s.logger.Info("redeem rejected", "hwid", hwid, "reason", ae.Reason, "key", maskCode(code))
}

// maskCode keeps only the last group of a key for logs.
func maskCode(code string) string {
	if len(code) <= 4 {
		return "****"
	}
	return "****" + code[len(code)-4:]
}
