package session

import (
	"time"

	"github.com/dmitrijs2005/gophjournal/internal/config"
)

// Severity ranks a health issue.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityMedium:
		return "medium"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "low"
	}
}

// HealthStatus is the categorical result of a health computation.
type HealthStatus int

const (
	HealthExcellent HealthStatus = iota
	HealthGood
	HealthWarning
	HealthCritical
)

func (h HealthStatus) String() string {
	switch h {
	case HealthGood:
		return "good"
	case HealthWarning:
		return "warning"
	case HealthCritical:
		return "critical"
	default:
		return "excellent"
	}
}

// Issue is one finding that lowered a health score.
type Issue struct {
	Severity Severity
	Message  string
}

// Health is derived from a session on every read and never stored.
type Health struct {
	Score           int
	Status          HealthStatus
	Issues          []Issue
	Recommendations []string
}

// HealthPolicy carries the thresholds health scoring depends on.
type HealthPolicy struct {
	WarningThreshold  time.Duration
	CriticalThreshold time.Duration
	AgeCeiling        time.Duration
}

// HealthPolicyFrom extracts the health thresholds from cfg.
func HealthPolicyFrom(cfg *config.Config) HealthPolicy {
	return HealthPolicy{
		WarningThreshold:  cfg.WarningThreshold,
		CriticalThreshold: cfg.CriticalThreshold,
		AgeCeiling:        cfg.SessionAgeCeiling,
	}
}

const (
	criticalPenalty    = 60
	warningPenalty     = 30
	fingerprintPenalty = 15
	agePenalty         = 10
)

// ComputeHealth scores s as of now.
func ComputeHealth(s Session, now time.Time, p HealthPolicy) Health {
	h := Health{Score: 100}
	remaining := s.Remaining(now)

	switch {
	case remaining <= p.CriticalThreshold:
		h.Score -= criticalPenalty
		h.Issues = append(h.Issues, Issue{SeverityCritical, "session expires in under " + p.CriticalThreshold.String()})
		h.Recommendations = append(h.Recommendations, "Extend the session now or finish your entry")
	case remaining <= p.WarningThreshold:
		h.Score -= warningPenalty
		h.Issues = append(h.Issues, Issue{SeverityWarning, "session expires in under " + p.WarningThreshold.String()})
		h.Recommendations = append(h.Recommendations, "Extend the session soon")
	}

	if s.DeviceFingerprint == "" {
		h.Score -= fingerprintPenalty
		h.Issues = append(h.Issues, Issue{SeverityMedium, "no device fingerprint bound to session"})
		h.Recommendations = append(h.Recommendations, "Register this device to strengthen the session")
	}

	if p.AgeCeiling > 0 && s.Age(now) > p.AgeCeiling {
		h.Score -= agePenalty
		h.Issues = append(h.Issues, Issue{SeverityLow, "session has been open longer than " + p.AgeCeiling.String()})
		h.Recommendations = append(h.Recommendations, "End long-running sessions and reactivate")
	}

	if h.Score < 0 {
		h.Score = 0
	}
	h.Status = classify(h)
	return h
}

func classify(h Health) HealthStatus {
	worst := SeverityLow
	for _, i := range h.Issues {
		if i.Severity > worst {
			worst = i.Severity
		}
	}
	switch {
	case worst == SeverityCritical:
		return HealthCritical
	case worst == SeverityWarning:
		return HealthWarning
	case h.Score >= 90:
		return HealthExcellent
	case h.Score >= 70:
		return HealthGood
	default:
		return HealthWarning
	}
}
