package license

import (
	"errors"
	"math"
	"time"
)

const secondsPerDay = 86400

var (
	ErrNotFound    = errors.New("license not found")
	ErrInvalidDays = errors.New("days must be greater than 0")
)

type License struct {
	UserID          int64     `db:"user_id" json:"userId"`
	HWID            string    `db:"hwid" json:"hwid"`
	ExpiresAt       time.Time `db:"expires_at" json:"expiresAt"`
	Banned          bool      `db:"banned" json:"banned"`
	LastRedeemedKey *string   `db:"last_redeemed_key" json:"lastRedeemedKey,omitempty"`
}

// Expired reports whether the license has lapsed at now.
func (l *License) Expired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}

// Valid reports whether the license grants access at now.
func (l *License) Valid(now time.Time) bool {
	return !l.Banned && !l.Expired(now)
}

// DaysRemaining is the number of whole days left, never negative.
func (l *License) DaysRemaining(now time.Time) int {
	secs := l.ExpiresAt.Sub(now).Seconds()
	if secs <= 0 {
		return 0
	}
	return int(math.Floor(secs / secondsPerDay))
}

// ExtendFrom returns the expiry after appending d to the license. Unexpired
// time is kept; lapsed time is discarded and the grant starts at now.
func (l *License) ExtendFrom(now time.Time, d time.Duration) time.Time {
	base := l.ExpiresAt
	if base.Before(now) {
		base = now
	}
	return base.Add(d)
}

type Stats struct {
	Licenses int `db:"license_count" json:"licenses"`
	Active   int `db:"active_count" json:"active"`
	Banned   int `db:"banned_count" json:"banned"`
	Users    int `db:"user_count" json:"users"`
}
