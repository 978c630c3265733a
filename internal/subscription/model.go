package subscription

import (
	"errors"
	"time"
)

// LifetimeDays is the granted_days value at or above which a key is treated
// as permanent.
const LifetimeDays = 99999

const lifetimeYears = 100

var (
	ErrNotFound       = errors.New("subscription key not found")
	ErrInvalidDays    = errors.New("granted days must be greater than 0")
	ErrInvalidCount   = errors.New("key count must be between 1 and 100")
	ErrInvalidOwner   = errors.New("owner user id must be greater than 0")
	ErrCodeExhaustion = errors.New("could not generate a unique key code")
	ErrMalformedCode  = errors.New("generated key code is malformed")
)

type Key struct {
	Code             string     `db:"code" json:"code"`
	OwnerUserID      int64      `db:"owner_user_id" json:"ownerUserId"`
	GrantedDays      int        `db:"granted_days" json:"grantedDays"`
	FirstActivatedAt *time.Time `db:"first_activated_at" json:"firstActivatedAt,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"createdAt"`
}

// Lifetime reports whether the key grants a permanent subscription.
func (k *Key) Lifetime() bool {
	return k.GrantedDays >= LifetimeDays
}

// WindowEnd is the instant after which a first-activated key can no longer
// be redeemed. It is zero for keys that were never activated.
func (k *Key) WindowEnd() time.Time {
	if k.FirstActivatedAt == nil {
		return time.Time{}
	}
	return ExpiryFrom(*k.FirstActivatedAt, k.GrantedDays)
}

// ExpiryFrom adds days to from, mapping the lifetime sentinel to 100 years.
func ExpiryFrom(from time.Time, days int) time.Time {
	if days >= LifetimeDays {
		return from.AddDate(lifetimeYears, 0, 0)
	}
	return from.AddDate(0, 0, days)
}

type Stats struct {
	Keys            int   `db:"key_count" json:"keys"`
	ActivatedKeys   int   `db:"activated_count" json:"activatedKeys"`
	OutstandingDays int64 `db:"outstanding_days" json:"outstandingDays"`
}
