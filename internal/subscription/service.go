package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"winsbygroup.com/hwidserver/internal/database"
	"winsbygroup.com/hwidserver/internal/keygen"
)

const (
	maxIssueCount    = 100
	maxIssueAttempts = 5
)

type Service struct {
	repo     Repository
	db       *sqlx.DB
	generate func() string
	now      func() time.Time
}

func NewService(db *sqlx.DB) *Service {
	return &Service{
		db:       db,
		repo:     New(db),
		generate: keygen.Generate,
		now:      time.Now,
	}
}

// WithGenerator replaces the code generator. Tests use it to force collisions.
func (s *Service) WithGenerator(fn func() string) *Service {
	s.generate = fn
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Issue creates count new keys owned by ownerUserID, each granting days.
// A generated code that collides with an existing key is redrawn.
func (s *Service) Issue(ctx context.Context, ownerUserID int64, days, count int) ([]Key, error) {
	if ownerUserID <= 0 {
		return nil, ErrInvalidOwner
	}
	if days <= 0 {
		return nil, ErrInvalidDays
	}
	if count < 1 || count > maxIssueCount {
		return nil, ErrInvalidCount
	}

	out := make([]Key, 0, count)
	for i := 0; i < count; i++ {
		k, err := s.issueOne(ctx, ownerUserID, days)
		if err != nil {
			return out, err
		}
		out = append(out, *k)
	}
	return out, nil
}

func (s *Service) issueOne(ctx context.Context, ownerUserID int64, days int) (*Key, error) {
	for attempt := 0; attempt < maxIssueAttempts; attempt++ {
		code := s.generate()
		if !keygen.Valid(code) {
			return nil, fmt.Errorf("%w: %q", ErrMalformedCode, code)
		}
		k := &Key{
			Code:        code,
			OwnerUserID: ownerUserID,
			GrantedDays: days,
			CreatedAt:   s.now().UTC().Truncate(time.Second),
		}
		err := s.WithTx(ctx, func(tx *sqlx.Tx) error {
			return s.repo.Create(ctx, tx, k)
		})
		if err == nil {
			return k, nil
		}
		if !database.IsUniqueConstraintError(err) {
			return nil, err
		}
	}
	return nil, ErrCodeExhaustion
}

func (s *Service) Get(ctx context.Context, code string) (*Key, error) {
	return s.repo.Get(ctx, code)
}

func (s *Service) List(ctx context.Context) ([]Key, error) {
	return s.repo.List(ctx)
}

func (s *Service) ListForOwner(ctx context.Context, ownerUserID int64) ([]Key, error) {
	return s.repo.ListForOwner(ctx, ownerUserID)
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	return s.repo.Stats(ctx)
}

// Extend adds days to an unredeemed key.
func (s *Service) Extend(ctx context.Context, code string, days int) (*Key, error) {
	if days <= 0 {
		return nil, ErrInvalidDays
	}
	err := s.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.repo.AddDays(ctx, tx, code, days)
	})
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, code)
}

func (s *Service) Delete(ctx context.Context, code string) error {
	return s.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.repo.Delete(ctx, tx, code)
	})
}

// DeleteAllForOwner removes every outstanding key of a user and returns how
// many were deleted.
func (s *Service) DeleteAllForOwner(ctx context.Context, ownerUserID int64) (int64, error) {
	var n int64
	err := s.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		n, err = s.repo.DeleteForOwner(ctx, tx, ownerUserID)
		return err
	})
	return n, err
}

// Transactional helpers used by the redemption engine.

func (s *Service) GetForUpdate(ctx context.Context, tx *sqlx.Tx, code string) (*Key, error) {
	return s.repo.GetForUpdate(ctx, tx, code)
}

func (s *Service) MarkActivated(ctx context.Context, tx *sqlx.Tx, code string, at time.Time) error {
	return s.repo.MarkActivated(ctx, tx, code, at)
}

// Consume deletes a redeemed key. A missing row means another redemption
// won the race.
func (s *Service) Consume(ctx context.Context, tx *sqlx.Tx, code string) error {
	return s.repo.Delete(ctx, tx, code)
}
