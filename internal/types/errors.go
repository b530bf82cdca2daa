package types

import (
	"errors"
	"fmt"
)

var (
	// ErrAuth marks authentication failure or expiry. Fatal for a run.
	ErrAuth = errors.New("authentication failed")
	// ErrSessionExpired marks a session that was valid and is no longer.
	ErrSessionExpired = fmt.Errorf("session expired: %w", ErrAuth)
	// ErrElementNotFound is returned when every locator strategy is exhausted.
	ErrElementNotFound = errors.New("element not found")
	// ErrQuotaExhausted is returned when the daily limit has been reached.
	ErrQuotaExhausted = errors.New("daily quota exhausted")
	// ErrStoreLoad marks an unreadable profile store. Fatal for a run.
	ErrStoreLoad = errors.New("profile store unavailable")
	// ErrStoreWrite marks a failed outcome write. Fatal for a run.
	ErrStoreWrite = errors.New("profile store write failed")
	// ErrInterrupted is returned when an attempt is cancelled before classification.
	ErrInterrupted = errors.New("attempt interrupted")
)

// AuthError describes why a session could not be established or kept.
type AuthError struct {
	Reason string
	URL    string
	Err    error
}

func (e *AuthError) Error() string {
	msg := "authentication failed: " + e.Reason
	if e.URL != "" {
		msg += " (at " + e.URL + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap lets errors.Is match ErrAuth and any underlying cause.
func (e *AuthError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrAuth, e.Err}
	}
	return []error{ErrAuth}
}

// IsFatal reports whether err belongs to the run-stopping class.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuth) || errors.Is(err, ErrStoreLoad) || errors.Is(err, ErrStoreWrite)
}
