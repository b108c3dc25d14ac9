package credential

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("credential: not found")
	ErrAlreadyExists = errors.New("credential: already exists")
	ErrInvalidInput  = errors.New("credential: invalid input")

	// Authentication failures. Externally indistinguishable on purpose.
	ErrAuthFailed     = errors.New("credential: authentication failed")
	ErrAccessMismatch = errors.New("credential: access mismatch")

	// Token integrity failures.
	ErrMalformedToken   = errors.New("credential: malformed token")
	ErrTokenNotFound    = errors.New("credential: token not found")
	ErrSignatureInvalid = errors.New("credential: signature invalid")

	// Token state failures.
	ErrTokenExpired = errors.New("credential: token expired")
	ErrTokenRevoked = errors.New("credential: token revoked")

	// Provisioning and policy failures.
	ErrNoActiveKey = errors.New("credential: no active server key")
	ErrInvalidTTL  = errors.New("credential: invalid ttl")

	// ErrStorageUnavailable marks retryable persistence failures. The engine
	// never retries; that policy belongs to the caller.
	ErrStorageUnavailable = errors.New("credential: storage unavailable")

	// ErrChainDisabled is the target for errors.Is on ChainDisabledError.
	ErrChainDisabled = errors.New("credential: enablement chain disabled")
)

// DisableReason names the first disabled link found while walking the
// enablement chain.
type DisableReason string

const (
	ReasonProjectAccessDisabled  DisableReason = "project_access_disabled"
	ReasonEnvironmentDisabled    DisableReason = "environment_disabled"
	ReasonProjectDisabled        DisableReason = "project_disabled"
	ReasonServiceAccountDisabled DisableReason = "service_account_disabled"
)

// ChainDisabledError reports a non-active enablement chain together with the
// failing link.
type ChainDisabledError struct {
	Reason DisableReason
}

func (e *ChainDisabledError) Error() string {
	return fmt.Sprintf("credential: enablement chain disabled (%s)", e.Reason)
}

func (e *ChainDisabledError) Unwrap() error { return ErrChainDisabled }
