package subscription

const keyColumns = `
    code,
    owner_user_id,
    granted_days,
    first_activated_at,
    created_at
`

const getKeySQL = `
SELECT` + keyColumns + `FROM subscription_key
WHERE code = ?
`

const listKeysSQL = `
SELECT` + keyColumns + `FROM subscription_key
ORDER BY created_at DESC, code
`

const listKeysForOwnerSQL = `
SELECT` + keyColumns + `FROM subscription_key
WHERE owner_user_id = ?
ORDER BY created_at DESC, code
`

const createKeySQL = `
INSERT INTO subscription_key (
    code,
    owner_user_id,
    granted_days,
    first_activated_at,
    created_at
) VALUES (?, ?, ?, NULL, ?)
`

const markActivatedSQL = `
UPDATE subscription_key
SET first_activated_at = ?
WHERE code = ? AND first_activated_at IS NULL
`

const addDaysSQL = `
UPDATE subscription_key
SET granted_days = granted_days + ?
WHERE code = ?
`

const deleteKeySQL = `
DELETE FROM subscription_key
WHERE code = ?
`

const deleteKeysForOwnerSQL = `
DELETE FROM subscription_key
WHERE owner_user_id = ?
`

const keyStatsSQL = `
SELECT
    COUNT(*) AS key_count,
    COALESCE(SUM(CASE WHEN first_activated_at IS NOT NULL THEN 1 ELSE 0 END), 0) AS activated_count,
    COALESCE(SUM(CASE WHEN granted_days < ? THEN granted_days ELSE 0 END), 0) AS outstanding_days
FROM subscription_key
`
