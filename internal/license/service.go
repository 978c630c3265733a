package license

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

type Service struct {
	repo Repository
	db   *sqlx.DB
	now  func() time.Time
}

func NewService(db *sqlx.DB) *Service {
	return &Service{
		db:   db,
		repo: New(db),
		now:  time.Now,
	}
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

func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Second)
}

func (s *Service) Get(ctx context.Context, userID int64, hwid string) (*License, error) {
	return s.repo.Get(ctx, userID, hwid)
}

func (s *Service) GetByHWID(ctx context.Context, hwid string) (*License, error) {
	return s.repo.GetByHWID(ctx, hwid)
}

func (s *Service) GetForUser(ctx context.Context, userID int64) ([]License, error) {
	return s.repo.GetForUser(ctx, userID)
}

func (s *Service) List(ctx context.Context) ([]License, error) {
	return s.repo.List(ctx)
}

// Search returns licenses whose HWID contains fragment.
func (s *Service) Search(ctx context.Context, fragment string) ([]License, error) {
	return s.repo.Search(ctx, fragment)
}

func (s *Service) GetExpired(ctx context.Context) ([]License, error) {
	return s.repo.GetExpired(ctx, s.clock())
}

func (s *Service) GetBanned(ctx context.Context) ([]License, error) {
	return s.repo.GetBanned(ctx)
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	return s.repo.Stats(ctx, s.clock())
}

// BanUser bans every license of the user and returns the number affected.
func (s *Service) BanUser(ctx context.Context, userID int64) (int64, error) {
	return s.setBannedForUser(ctx, userID, true)
}

func (s *Service) UnbanUser(ctx context.Context, userID int64) (int64, error) {
	return s.setBannedForUser(ctx, userID, false)
}

func (s *Service) BanHWID(ctx context.Context, hwid string) (int64, error) {
	return s.setBannedForHWID(ctx, hwid, true)
}

func (s *Service) UnbanHWID(ctx context.Context, hwid string) (int64, error) {
	return s.setBannedForHWID(ctx, hwid, false)
}

func (s *Service) setBannedForUser(ctx context.Context, userID int64, banned bool) (int64, error) {
	var n int64
	err := s.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		n, err = s.repo.SetBannedForUser(ctx, tx, userID, banned)
		return err
	})
	return n, err
}

func (s *Service) setBannedForHWID(ctx context.Context, hwid string, banned bool) (int64, error) {
	var n int64
	err := s.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		n, err = s.repo.SetBannedForHWID(ctx, tx, hwid, banned)
		return err
	})
	return n, err
}

// AddDaysForUser extends every license of the user by days.
func (s *Service) AddDaysForUser(ctx context.Context, userID int64, days int) (int64, error) {
	return s.addDays(ctx, days, func(tx *sqlx.Tx) ([]License, error) {
		return s.repo.GetForUserTx(ctx, tx, userID)
	})
}

func (s *Service) AddDaysForHWID(ctx context.Context, hwid string, days int) (int64, error) {
	return s.addDays(ctx, days, func(tx *sqlx.Tx) ([]License, error) {
		lic, err := s.repo.GetByHWIDTx(ctx, tx, hwid)
		if err != nil {
			return nil, err
		}
		return []License{*lic}, nil
	})
}

// AddDaysAll extends every license in the store by days.
func (s *Service) AddDaysAll(ctx context.Context, days int) (int64, error) {
	return s.addDays(ctx, days, func(tx *sqlx.Tx) ([]License, error) {
		return s.repo.ListTx(ctx, tx)
	})
}

func (s *Service) addDays(ctx context.Context, days int, load func(*sqlx.Tx) ([]License, error)) (int64, error) {
	if days <= 0 {
		return 0, ErrInvalidDays
	}
	now := s.clock()
	var n int64
	err := s.WithTx(ctx, func(tx *sqlx.Tx) error {
		lics, err := load(tx)
		if err != nil {
			return err
		}
		for _, lic := range lics {
			exp := lic.ExtendFrom(now, time.Duration(days)*24*time.Hour)
			if err := s.repo.SetExpires(ctx, tx, lic.UserID, lic.HWID, exp); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

// Reset deletes the license bound to hwid, freeing it for another account.
func (s *Service) Reset(ctx context.Context, hwid string) error {
	return s.WithTx(ctx, func(tx *sqlx.Tx) error {
		n, err := s.repo.DeleteByHWID(ctx, tx, hwid)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// Transactional helpers used by the binding engine.

func (s *Service) GetTx(ctx context.Context, tx *sqlx.Tx, userID int64, hwid string) (*License, error) {
	return s.repo.GetTx(ctx, tx, userID, hwid)
}

func (s *Service) GetByHWIDTx(ctx context.Context, tx *sqlx.Tx, hwid string) (*License, error) {
	return s.repo.GetByHWIDTx(ctx, tx, hwid)
}

func (s *Service) Create(ctx context.Context, tx *sqlx.Tx, lic *License) error {
	return s.repo.Create(ctx, tx, lic)
}

func (s *Service) Update(ctx context.Context, tx *sqlx.Tx, lic *License) error {
	return s.repo.Update(ctx, tx, lic)
}
