package sending

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a transmission failure.
type ErrorKind string

const (
	Transient   ErrorKind = "transient"
	Permanent   ErrorKind = "permanent"
	AuthFailure ErrorKind = "auth_failure"
)

// TransmissionError is returned by Transmitter.Send.
type TransmissionError struct {
	Kind ErrorKind
	// InvalidRecipient marks a permanent rejection of the recipient address
	// itself, as opposed to a malformed message.
	InvalidRecipient bool
	StatusCode       int
	Err              error
}

func (e *TransmissionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s transmission error (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s transmission error: %v", e.Kind, e.Err)
}

func (e *TransmissionError) Unwrap() error { return e.Err }

// NewTransient wraps err as a retryable failure.
func NewTransient(err error) *TransmissionError {
	return &TransmissionError{Kind: Transient, Err: err}
}

// NewPermanent wraps err as a non-retryable failure.
func NewPermanent(err error, invalidRecipient bool) *TransmissionError {
	return &TransmissionError{Kind: Permanent, InvalidRecipient: invalidRecipient, Err: err}
}

// NewAuthFailure wraps err as a credential rejection.
func NewAuthFailure(err error) *TransmissionError {
	return &TransmissionError{Kind: AuthFailure, Err: err}
}

// AuthError means no valid send credential is available for the user. It
// surfaces as the "reconnect account" state.
type AuthError struct {
	UserID string
	Err    error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("no valid send credential for user %s: %v", e.UserID, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Classify returns the kind of a Send error. An *AuthError counts as an auth
// failure and anything unrecognised is treated as transient.
func Classify(err error) ErrorKind {
	var te *TransmissionError
	if errors.As(err, &te) {
		return te.Kind
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		return AuthFailure
	}
	return Transient
}

// IsInvalidRecipient reports whether err is a permanent rejection of the
// recipient address.
func IsInvalidRecipient(err error) bool {
	var te *TransmissionError
	return errors.As(err, &te) && te.Kind == Permanent && te.InvalidRecipient
}
