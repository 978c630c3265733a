package license

const licenseColumns = `
    user_id,
    hwid,
    expires_at,
    banned,
    last_redeemed_key
`

const getLicenseSQL = `
SELECT` + licenseColumns + `FROM license
WHERE user_id = ? AND hwid = ?
`

const getLicenseByHWIDSQL = `
SELECT` + licenseColumns + `FROM license
WHERE hwid = ?
`

const getLicensesForUserSQL = `
SELECT` + licenseColumns + `FROM license
WHERE user_id = ?
ORDER BY expires_at DESC
`

const listLicensesSQL = `
SELECT` + licenseColumns + `FROM license
ORDER BY user_id, hwid
`

const searchLicensesSQL = `
SELECT` + licenseColumns + `FROM license
WHERE hwid LIKE ?
ORDER BY user_id, hwid
`

const getExpiredLicensesSQL = `
SELECT` + licenseColumns + `FROM license
WHERE expires_at <= ?
ORDER BY expires_at DESC
`

const getBannedLicensesSQL = `
SELECT` + licenseColumns + `FROM license
WHERE banned = ?
ORDER BY user_id, hwid
`

const createLicenseSQL = `
INSERT INTO license (
    user_id,
    hwid,
    expires_at,
    banned,
    last_redeemed_key
) VALUES (?, ?, ?, ?, ?)
`

const updateLicenseSQL = `
UPDATE license
SET
    expires_at = ?,
    last_redeemed_key = ?
WHERE user_id = ? AND hwid = ?
`

const setBannedForUserSQL = `
UPDATE license
SET banned = ?
WHERE user_id = ?
`

const setBannedForHWIDSQL = `
UPDATE license
SET banned = ?
WHERE hwid = ?
`

const setExpiresSQL = `
UPDATE license
SET expires_at = ?
WHERE user_id = ? AND hwid = ?
`

const deleteLicenseByHWIDSQL = `
DELETE FROM license
WHERE hwid = ?
`

const licenseStatsSQL = `
SELECT
    COUNT(*) AS license_count,
    COALESCE(SUM(CASE WHEN banned = ? AND expires_at > ? THEN 1 ELSE 0 END), 0) AS active_count,
    COALESCE(SUM(CASE WHEN banned = ? THEN 1 ELSE 0 END), 0) AS banned_count,
    COUNT(DISTINCT user_id) AS user_count
FROM license
`
