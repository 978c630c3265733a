package audit

const createEventSQL = `
INSERT INTO audit_event (
    event_id,
    occurred_at,
    actor_id,
    action,
    target_type,
    target_id,
    details
) VALUES (?, ?, ?, ?, ?, ?, ?)
`

const listEventsSQL = `
SELECT
    event_id,
    occurred_at,
    actor_id,
    action,
    target_type,
    target_id,
    details
FROM audit_event
ORDER BY occurred_at DESC, event_id
LIMIT ?
`

const listEventsForActorSQL = `
SELECT
    event_id,
    occurred_at,
    actor_id,
    action,
    target_type,
    target_id,
    details
FROM audit_event
WHERE actor_id = ?
ORDER BY occurred_at DESC, event_id
LIMIT ?
`
