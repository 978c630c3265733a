package audit

import "time"

// Actions recorded in the audit trail.
const (
	ActionKeyRedeemed   = "key_redeemed"
	ActionKeysIssued    = "keys_issued"
	ActionKeyDeleted    = "key_deleted"
	ActionKeyExtended   = "key_extended"
	ActionKeysPurged    = "keys_purged"
	ActionBanned        = "banned"
	ActionUnbanned      = "unbanned"
	ActionDaysAdded     = "days_added"
	ActionDaysAddedAll  = "days_added_all"
	ActionLicenseReset  = "license_reset"
	ActionBackupCreated = "backup_created"
)

// Target types.
const (
	TargetKey    = "key"
	TargetUser   = "user"
	TargetHWID   = "hwid"
	TargetAll    = "all"
	TargetBackup = "backup"
)

// SystemActor is used for events that were not triggered by an admin.
const SystemActor int64 = 0

type Event struct {
	EventID    string    `db:"event_id" json:"eventId"`
	OccurredAt time.Time `db:"occurred_at" json:"occurredAt"`
	ActorID    int64     `db:"actor_id" json:"actorId"`
	Action     string    `db:"action" json:"action"`
	TargetType string    `db:"target_type" json:"targetType"`
	TargetID   string    `db:"target_id" json:"targetId"`
	Details    string    `db:"details" json:"details"`
}
