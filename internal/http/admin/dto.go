package admin

import (
	"winsbygroup.com/hwidserver/internal/license"
	"winsbygroup.com/hwidserver/internal/pending"
	"winsbygroup.com/hwidserver/internal/subscription"
)

// -------------------------
// Key DTOs
// -------------------------

type IssueKeysRequest struct {
	OwnerUserID int64 `json:"ownerUserId" validate:"gt=0"`
	Days        int   `json:"days" validate:"gt=0"`
	Count       int   `json:"count" validate:"gte=0,lte=100"`
}

type ExtendKeyRequest struct {
	Days int `json:"days" validate:"gt=0"`
}

type PurgeKeysRequest struct {
	UserID int64 `json:"userId" validate:"gt=0"`
}

// -------------------------
// License DTOs
// -------------------------

// TargetRequest selects licenses by user or by device. Exactly one of
// UserID and HWID must be set.
type TargetRequest struct {
	UserID int64  `json:"userId" validate:"gte=0"`
	HWID   string `json:"hwid" validate:"max=255"`
	Days   int    `json:"days" validate:"gte=0"`
}

type ResetRequest struct {
	HWID string `json:"hwid" validate:"required,max=255"`
}

type AddDaysAllRequest struct {
	Days int `json:"days" validate:"gt=0"`
}

// -------------------------
// Pending DTOs
// -------------------------

type ConfirmRequest struct {
	Token string `json:"token"`
}

type StagedResponse struct {
	Message string         `json:"message"`
	Action  pending.Action `json:"action"`
}

type ConfirmResponse struct {
	Action   pending.Action `json:"action"`
	Affected int64          `json:"affected"`
}

// -------------------------
// Misc
// -------------------------

type AffectedResponse struct {
	Affected int64 `json:"affected"`
}

type StatsResponse struct {
	Licenses license.Stats      `json:"licenses"`
	Keys     subscription.Stats `json:"keys"`
}
