package audit

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

type Repository interface {
	Create(ctx context.Context, e *Event) error
	List(ctx context.Context, limit int) ([]Event, error)
	ListForActor(ctx context.Context, actorID int64, limit int) ([]Event, error)
}

type repo struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) Repository {
	return &repo{db: db}
}

func (r *repo) Create(ctx context.Context, e *Event) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(createEventSQL),
		e.EventID,
		e.OccurredAt,
		e.ActorID,
		e.Action,
		e.TargetType,
		e.TargetID,
		e.Details,
	)
	if err != nil {
		return fmt.Errorf("create audit event: %w", err)
	}
	return nil
}

func (r *repo) List(ctx context.Context, limit int) ([]Event, error) {
	var out []Event
	if err := r.db.SelectContext(ctx, &out, r.db.Rebind(listEventsSQL), limit); err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	return out, nil
}

func (r *repo) ListForActor(ctx context.Context, actorID int64, limit int) ([]Event, error) {
	var out []Event
	if err := r.db.SelectContext(ctx, &out, r.db.Rebind(listEventsForActorSQL), actorID, limit); err != nil {
		return nil, fmt.Errorf("list audit events for actor: %w", err)
	}
	return out, nil
}
