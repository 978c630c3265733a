// Package apperr defines the error taxonomy shared by the engines and the
// HTTP layer. Business rejections carry a stable Reason and a machine-stable
// Message; storage and crypto failures keep their cause for logs only.
package apperr

import (
	"errors"
	"net/http"
)

type Kind int

const (
	Validation Kind = iota + 1
	NotFound
	Conflict
	Forbidden
	Storage
	Crypto
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case Forbidden:
		return "forbidden"
	case Storage:
		return "storage"
	case Crypto:
		return "crypto"
	}
	return "unknown"
}

// Stable rejection reasons.
const (
	ReasonInvalidKey      = "invalid_key"
	ReasonInvalidDuration = "invalid_duration"
	ReasonKeyExpired      = "key_expired"
	ReasonUserBanned      = "user_banned"
	ReasonHwidConflict    = "hwid_conflict"
	ReasonNonceReused     = "nonce_reused"
	ReasonBadRequest      = "bad_request"
)

// Client-facing messages.
const (
	MsgMissingActivateParams = "Missing required parameters: hwid and key"
	MsgMissingHWID           = "Missing required parameter: hwid"
	MsgMissingNonce          = "Missing required parameter: nonce"
	MsgParamsTooLong         = "Parameters too long"
	MsgHWIDTooLong           = "HWID too long"
	MsgInvalidKey            = "Invalid subscription key"
	MsgInvalidDuration       = "Invalid subscription duration"
	MsgKeyExpired            = "Subscription key has expired"
	MsgUserBanned            = "User is banned"
	MsgHwidConflict          = "HWID already registered with different account"
	MsgNonceReused           = "Nonce already used"
	MsgDatabaseError         = "Database error"
	MsgSigningError          = "Signing error"
)

type Error struct {
	Kind    Kind
	Reason  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same Kind and Reason, so the package
// level sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Reason == t.Reason
}

// Status maps the error to its HTTP status code.
func (e *Error) Status() int {
	switch e.Kind {
	case Validation:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		if e.Reason == ReasonKeyExpired {
			return http.StatusGone
		}
		return http.StatusConflict
	case Forbidden:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// Public returns the message that is safe to show to a client.
func (e *Error) Public() string {
	switch e.Kind {
	case Storage:
		return MsgDatabaseError
	case Crypto:
		return MsgSigningError
	}
	return e.Message
}

var (
	ErrInvalidKey      = &Error{Kind: NotFound, Reason: ReasonInvalidKey, Message: MsgInvalidKey}
	ErrInvalidDuration = &Error{Kind: Validation, Reason: ReasonInvalidDuration, Message: MsgInvalidDuration}
	ErrKeyExpired      = &Error{Kind: Conflict, Reason: ReasonKeyExpired, Message: MsgKeyExpired}
	ErrUserBanned      = &Error{Kind: Forbidden, Reason: ReasonUserBanned, Message: MsgUserBanned}
	ErrHwidConflict    = &Error{Kind: Conflict, Reason: ReasonHwidConflict, Message: MsgHwidConflict}
	ErrNonceReused     = &Error{Kind: Conflict, Reason: ReasonNonceReused, Message: MsgNonceReused}
)

func BadRequest(msg string) *Error {
	return &Error{Kind: Validation, Reason: ReasonBadRequest, Message: msg}
}

func StorageErr(err error) *Error {
	return &Error{Kind: Storage, Message: MsgDatabaseError, Err: err}
}

func CryptoErr(err error) *Error {
	return &Error{Kind: Crypto, Message: MsgSigningError, Err: err}
}

// From converts any error into an *Error. Unclassified errors are treated as
// storage failures.
func From(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return StorageErr(err)
}
