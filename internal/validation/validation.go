// Package validation answers whether a HWID currently holds a usable license.
package validation

import (
	"context"
	"errors"
	"time"

	"winsbygroup.com/hwidserver/internal/apperr"
	"winsbygroup.com/hwidserver/internal/license"
)

const (
	ReasonOK       = "ok"
	ReasonNotFound = "not_found"
	ReasonBanned   = "banned"
	ReasonExpired  = "expired"
)

// Status is the outcome of a check. License is nil when the HWID is unknown.
type Status struct {
	Valid         bool
	Reason        string
	Expired       bool
	DaysRemaining int
	License       *license.License
}

// Found reports whether a license exists for the HWID.
func (s *Status) Found() bool { return s.License != nil }

type Service struct {
	licenseSvc *license.Service
	now        func() time.Time
}

func NewService(licenseSvc *license.Service) *Service {
	return &Service{licenseSvc: licenseSvc, now: time.Now}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Check reads the license bound to hwid. It never writes.
func (s *Service) Check(ctx context.Context, hwid string) (*Status, error) {
	lic, err := s.licenseSvc.GetByHWID(ctx, hwid)
	if errors.Is(err, license.ErrNotFound) {
		return &Status{Reason: ReasonNotFound}, nil
	}
	if err != nil {
		return nil, apperr.StorageErr(err)
	}

	now := s.now().UTC()
	st := &Status{
		License: lic,
		Expired: lic.Expired(now),
	}
	switch {
	case lic.Valid(now):
		st.Valid = true
		st.Reason = ReasonOK
		st.DaysRemaining = lic.DaysRemaining(now)
	case lic.Banned:
		st.Reason = ReasonBanned
	default:
		st.Reason = ReasonExpired
	}
	return st, nil
}
