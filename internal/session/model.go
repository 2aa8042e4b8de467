// Package session owns the time-boxed grants of access to secret tags: the
// in-memory Store that holds session records and their key material, the
// Manager that drives every lifecycle transition, health scoring and the
// event fan-out to observers.
package session

import (
	"fmt"
	"strings"
	"time"
)

// SecurityLevel is the protection tier of a secret tag.
type SecurityLevel int

const (
	Standard SecurityLevel = iota
	Enhanced
)

func (l SecurityLevel) String() string {
	switch l {
	case Enhanced:
		return "enhanced"
	default:
		return "standard"
	}
}

// ParseSecurityLevel accepts "standard" or "enhanced" in any case.
func ParseSecurityLevel(s string) (SecurityLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "standard":
		return Standard, nil
	case "enhanced":
		return Enhanced, nil
	default:
		return Standard, fmt.Errorf("unknown security level %q", s)
	}
}

// Status is the observable state of a session.
type Status int

const (
	StatusActive Status = iota
	StatusLocked
	StatusExpired
	StatusInvalidated
)

func (s Status) String() string {
	switch s {
	case StatusLocked:
		return "locked"
	case StatusExpired:
		return "expired"
	case StatusInvalidated:
		return "invalidated"
	default:
		return "active"
	}
}

// Session is the non-sensitive projection of a session record. Values of
// this type never carry key material; the bytes stay inside the Store.
type Session struct {
	TagID             string
	SessionID         string
	TagName           string
	CreatedAt         time.Time
	ExpiresAt         time.Time
	LastActivityAt    time.Time
	Locked            bool
	SecurityLevel     SecurityLevel
	DeviceFingerprint string
}

// Status reports StatusLocked or StatusActive for a live session.
func (s Session) Status() Status {
	if s.Locked {
		return StatusLocked
	}
	return StatusActive
}

// Remaining returns the time left before expiry, never negative.
func (s Session) Remaining(now time.Time) time.Duration {
	d := s.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Age returns how long ago the session was created.
func (s Session) Age(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}

// Expired reports whether now is at or past ExpiresAt.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// record is the Store's canonical entry: the public projection plus the key.
type record struct {
	session Session
	key     []byte

	// criticalAlerted is set once a security alert has been raised for the
	// session entering critical health, so sweeps do not repeat it.
	criticalAlerted bool
}
