// Package audit keeps a trail of redemptions and admin actions.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"winsbygroup.com/hwidserver/internal/activation"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

type Service struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

func NewService(db *sqlx.DB, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: New(db), logger: logger, now: time.Now}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Record stores an event, filling in its id and time.
func (s *Service) Record(ctx context.Context, actorID int64, action, targetType, targetID, details string) (*Event, error) {
	e := &Event{
		EventID:    uuid.NewString(),
		OccurredAt: s.now().UTC().Truncate(time.Second),
		ActorID:    actorID,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Details:    details,
	}
	if err := s.repo.Create(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Log records an event and only logs a failure. Audit writes never fail the
// operation that produced them.
func (s *Service) Log(ctx context.Context, actorID int64, action, targetType, targetID, details string) {
	if _, err := s.Record(ctx, actorID, action, targetType, targetID, details); err != nil {
		s.logger.Error("audit write failed", "action", action, "target", targetID, "error", err)
	}
}

// Redeemed implements activation.Reporter.
func (s *Service) Redeemed(ctx context.Context, res *activation.Result) {
	s.Log(ctx, SystemActor, ActionKeyRedeemed, TargetHWID, res.HWID,
		fmt.Sprintf("user=%d key=%s days=%d extended=%t", res.UserID, res.Key, res.GrantedDays, res.Extended))
}

func (s *Service) List(ctx context.Context, limit int) ([]Event, error) {
	return s.repo.List(ctx, clampLimit(limit))
}

func (s *Service) ListForActor(ctx context.Context, actorID int64, limit int) ([]Event, error) {
	return s.repo.ListForActor(ctx, actorID, clampLimit(limit))
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return min(limit, MaxLimit)
}
