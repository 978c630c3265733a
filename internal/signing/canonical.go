package signing

import (
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Fields are the response values covered by a signature.
type Fields struct {
	HWID      string
	Expiry    time.Time
	Valid     bool
	Nonce     string
	Timestamp int64
}

// Canonical builds the pipe-delimited string that is signed.
// Format: hwid|expiry|valid|nonce|timestamp
// expiry is RFC 3339 in UTC (empty when unknown), valid is 0 or 1 and
// timestamp is unix seconds.
func (f Fields) Canonical() string {
	var b strings.Builder

	b.WriteString(NormalizeHWID(f.HWID))
	b.WriteString("|")
	b.WriteString(FormatExpiry(f.Expiry))
	b.WriteString("|")
	if f.Valid {
		b.WriteString("1")
	} else {
		b.WriteString("0")
	}
	b.WriteString("|")
	b.WriteString(f.Nonce)
	b.WriteString("|")
	b.WriteString(strconv.FormatInt(f.Timestamp, 10))

	return b.String()
}

// FormatExpiry renders t the way it appears in the canonical string and in
// signed responses.
func FormatExpiry(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// NormalizeHWID puts a hardware id in Unicode NFC so that visually equal ids
// produce the same canonical string on every platform.
func NormalizeHWID(hwid string) string {
	return norm.NFC.String(hwid)
}
