package hive

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind is the closed set of error variants a caller can switch on.
// Modeled as a tagged enum rather than sentinel errors so that a single
// *Error carries both the variant and contextual fields (credential_id,
// retry-after, reauth URL) without callers needing a different error
// struct per kind.
type ErrorKind string

// Enumeration of known error kinds.
const (
	CredentialNotFound        ErrorKind = "credential_not_found"
	CredentialKeyNotFound     ErrorKind = "credential_key_not_found"
	CredentialDecryptionError ErrorKind = "credential_decryption_failure"
	CredentialRefreshError    ErrorKind = "credential_refresh_failure"
	ReauthorizationRequired   ErrorKind = "reauthorization_required"
	RateLimited               ErrorKind = "rate_limited"
	BackendUnavailable        ErrorKind = "backend_unavailable"
	ValidationFailure         ErrorKind = "validation_failure"
)

// Error is the structure used for every error kind the store can return.
// It never embeds secret material: only identifiers and a human-readable
// reason are carried, per the no-secrets-in-errors policy.
type Error struct {
	Kind         ErrorKind
	CredentialID string
	KeyName      string
	Reason       string

	// ReauthURL is set when Kind == ReauthorizationRequired.
	ReauthURL string

	// RetryAfter is set when Kind == RateLimited.
	RetryAfter time.Duration

	// Err is the wrapped underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.CredentialID != "" {
		msg += fmt.Sprintf(" (credential=%s", e.CredentialID)
		if e.KeyName != "" {
			msg += fmt.Sprintf(", key=%s", e.KeyName)
		}
		msg += ")"
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap implements errors.Unwrap, allowing errors.Is/errors.As to see
// through to the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements errors.Is comparison by kind only, so callers can write
// errors.Is(err, &hive.Error{Kind: hive.CredentialNotFound}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == "" {
		return false
	}
	return t.Kind == e.Kind
}

// NewError builds an *Error of the given kind with a formatted reason.
func NewError(kind ErrorKind, credentialID, reason string, format ...interface{}) *Error {
	r := reason
	if len(format) > 0 {
		r = fmt.Sprintf(reason, format...)
	}
	return &Error{Kind: kind, CredentialID: credentialID, Reason: r}
}

// NewKeyError builds a CredentialKeyNotFound error.
func NewKeyError(credentialID, keyName string) *Error {
	return &Error{Kind: CredentialKeyNotFound, CredentialID: credentialID, KeyName: keyName, Reason: "key not found"}
}

// Wrap builds an *Error of the given kind that wraps an underlying cause.
func Wrap(kind ErrorKind, credentialID string, err error) *Error {
	return &Error{Kind: kind, CredentialID: credentialID, Err: err}
}

// KindOf returns the ErrorKind of err if it is (or wraps) a *hive.Error,
// and false otherwise.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
