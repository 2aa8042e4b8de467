// Package common defines the error taxonomy shared by the session, entry and
// phrase layers, plus small helpers for random bytes and memory wiping.
// Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Session lifecycle errors. These carry no cryptographic signal and may be
	// shown to the user as-is.
	ErrAlreadyActive       = errors.New("session already active")
	ErrNotFound            = errors.New("not found")
	ErrFingerprintRequired = errors.New("device fingerprint required")
	ErrStoreFull           = errors.New("too many active sessions")
	ErrNoActiveSession     = errors.New("no active session")
	ErrLifetimeExceeded    = errors.New("extension exceeds maximum session lifetime")
	ErrCancelled           = errors.New("cancelled")

	// Cryptographic failures. Always returned bare, never wrapped around
	// a cause, so the message cannot tell why the attempt failed.
	ErrInvalidProof     = errors.New("authentication failed")
	ErrIntegrityFailure = errors.New("decryption failed")

	// Registration errors.
	ErrInvalidPhrase = errors.New("invalid activation phrase")

	ErrUnknown = errors.New("unknown error")
)

// UserMessage returns the text a presentation layer may display for err.
// Authentication and decryption failures collapse to one generic message.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidProof), errors.Is(err, ErrIntegrityFailure):
		return "Unable to unlock. Please try again."
	case errors.Is(err, ErrAlreadyActive):
		return "This tag is already unlocked. Extend or end the current session first."
	case errors.Is(err, ErrNotFound):
		return "No session found for this tag."
	case errors.Is(err, ErrNoActiveSession):
		return "Unlock this tag to continue."
	case errors.Is(err, ErrFingerprintRequired):
		return "Enhanced security requires a registered device."
	case errors.Is(err, ErrStoreFull):
		return "Too many tags are unlocked. End a session and retry."
	case errors.Is(err, ErrLifetimeExceeded):
		return "The session cannot be extended any further."
	case errors.Is(err, ErrCancelled):
		return "Activation was cancelled."
	case errors.Is(err, ErrInvalidPhrase):
		return err.Error()
	default:
		return "Something went wrong."
	}
}
