package activation

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"winsbygroup.com/hwidserver/internal/apperr"
	"winsbygroup.com/hwidserver/internal/database"
	"winsbygroup.com/hwidserver/internal/license"
)

// bind attaches grant to the (userID, hwid) license inside tx. It extends an
// existing license or creates a new one, and reports which happened.
func (s *Service) bind(
	ctx context.Context,
	tx *sqlx.Tx,
	userID int64,
	hwid, code string,
	grant time.Duration,
	now time.Time,
) (*license.License, bool, error) {

	lic, err := s.licenseSvc.GetTx(ctx, tx, userID, hwid)
	switch {
	case err == nil:
		if lic.Banned {
			return nil, false, apperr.ErrUserBanned
		}
		lic.ExpiresAt = lic.ExtendFrom(now, grant)
		lic.LastRedeemedKey = &code
		if err := s.licenseSvc.Update(ctx, tx, lic); err != nil {
			return nil, false, apperr.StorageErr(err)
		}
		return lic, true, nil

	case !errors.Is(err, license.ErrNotFound):
		return nil, false, apperr.StorageErr(err)
	}

	// No license for this pair: the hwid may still belong to another account.
	if _, err := s.licenseSvc.GetByHWIDTx(ctx, tx, hwid); err == nil {
		return nil, false, apperr.ErrHwidConflict
	} else if !errors.Is(err, license.ErrNotFound) {
		return nil, false, apperr.StorageErr(err)
	}

	lic = &license.License{
		UserID:          userID,
		HWID:            hwid,
		ExpiresAt:       now.Add(grant),
		Banned:          false,
		LastRedeemedKey: &code,
	}
	if err := s.licenseSvc.Create(ctx, tx, lic); err != nil {
		// lost a race with a concurrent bind of the same hwid
		if database.IsUniqueConstraintError(err) {
			return nil, false, apperr.ErrHwidConflict
		}
		return nil, false, apperr.StorageErr(err)
	}
	return lic, false, nil
}
