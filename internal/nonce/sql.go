package nonce

const deleteExpiredNonceSQL = `
DELETE FROM used_nonce
WHERE nonce = ? AND expires_at <= ?
`

const insertNonceSQL = `
INSERT INTO used_nonce (nonce, hwid, expires_at)
VALUES (?, ?, ?)
`

const pruneNoncesSQL = `
DELETE FROM used_nonce
WHERE expires_at <= ?
`
