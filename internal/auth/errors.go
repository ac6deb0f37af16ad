package auth

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrDuplicateEmail      = errors.New("auth: email already registered")
	ErrInvalidCredentials  = errors.New("auth: invalid credentials")
	ErrAccountLocked       = errors.New("auth: account locked")
	ErrInvalidRefreshToken = errors.New("auth: invalid refresh token")
	ErrInvalidAccessToken  = errors.New("auth: invalid access token")
	ErrInvalidInput        = errors.New("auth: invalid input")
	ErrUnknownOrganization = errors.New("auth: unknown organization")
	ErrOrganizationExists  = errors.New("auth: organization already exists")
	ErrForbidden           = errors.New("auth: forbidden")
	ErrNotFound            = errors.New("auth: not found")
	ErrDuplicateToken      = errors.New("auth: refresh token collision")

	// ErrInternal replaces unexpected store failures before they reach callers.
	ErrInternal = errors.New("auth: internal error")
)

// LockedError is returned while an account's lock has not expired.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.Until.UTC().Format(time.RFC3339))
}

func (e *LockedError) Is(target error) bool {
	return target == ErrAccountLocked
}

// Reason is an internal cause code. It is logged and counted but never
// returned to callers, which only see the conflated sentinel errors.
type Reason string

const (
	ReasonUnknownAccount Reason = "unknown_account"
	ReasonBadPassword    Reason = "bad_password"
	ReasonLocked         Reason = "locked"
	ReasonLockTriggered  Reason = "lock_triggered"
	ReasonInactive       Reason = "inactive"
	ReasonTokenUnknown   Reason = "token_unknown"
	ReasonTokenRevoked   Reason = "token_revoked"
	ReasonTokenExpired   Reason = "token_expired"
	ReasonTokenMalformed Reason = "token_malformed"
	ReasonTokenSignature Reason = "token_signature"
	ReasonTokenType      Reason = "token_type"
	ReasonAccountMissing Reason = "account_missing"
	ReasonRotationLost   Reason = "rotation_lost"
	ReasonDuplicateEmail Reason = "duplicate_email"
	ReasonUnknownOrg     Reason = "unknown_organization"
	ReasonStoreFailure   Reason = "store_failure"
)
