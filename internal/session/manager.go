package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophjournal/internal/common"
	"github.com/dmitrijs2005/gophjournal/internal/config"
	"github.com/dmitrijs2005/gophjournal/internal/logging"
	"github.com/google/uuid"
)

// Authenticator turns an activation proof into the tag's key material.
// It returns common.ErrInvalidProof when the proof does not verify. The
// returned key is handed to the Store, which becomes its only owner.
type Authenticator interface {
	Authenticate(ctx context.Context, tagID string, proof []byte) (tagName string, key []byte, err error)
}

// CreateRequest is the input of Manager.Create.
type CreateRequest struct {
	TagID             string
	Proof             []byte
	Level             SecurityLevel
	DeviceFingerprint string
}

// SecurityMetrics aggregates health across all live sessions.
type SecurityMetrics struct {
	OverallScore               int
	SuspiciousActivityDetected bool
	RecentFailedProofs         int
	PerSessionHealth           map[string]Health
}

// Manager drives every session lifecycle transition. Mutations are
// serialised by mu, which makes each one linearizable with respect to the
// others and to the expiry sweep. Reads go straight to the Store and see a
// consistent snapshot of each record.
//
// Events are delivered after the mutation is applied, in emission order,
// before the mutating call returns.
type Manager struct {
	mu    sync.Mutex
	epoch uint64 // bumped by Panic; guarded by mu

	store   *Store
	auth    Authenticator
	tracker AttemptTracker
	cfg     *config.Config
	health  HealthPolicy
	events  *emitter
	logger  logging.Logger
	now     func() time.Time
}

// NewManager wires a Manager over store. The store's clock is shared so
// expiry decisions agree everywhere. A nil tracker falls back to an
// in-memory one.
func NewManager(store *Store, auth Authenticator, tracker AttemptTracker, cfg *config.Config, logger logging.Logger) *Manager {
	if tracker == nil {
		tracker = NewMemoryAttemptTracker(cfg.FailedProofWindow)
	}
	return &Manager{
		store:   store,
		auth:    auth,
		tracker: tracker,
		cfg:     cfg,
		health:  HealthPolicyFrom(cfg),
		events:  newEmitter(logger),
		logger:  logger,
		now:     store.now,
	}
}

// Create verifies req.Proof and opens a session for req.TagID.
//
// The key derivation runs outside the critical section and honours ctx:
// a cancelled creation leaves no record and zeroes whatever key the
// derivation eventually produces. A Panic issued while a creation is in
// flight makes that creation fail with common.ErrCancelled.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (Session, error) {
	if req.Level == Enhanced && req.DeviceFingerprint == "" && m.cfg.RequireFingerprintForEnhanced {
		return Session{}, fmt.Errorf("create session %s: %w", req.TagID, common.ErrFingerprintRequired)
	}

	m.mu.Lock()
	err := m.checkCapacity(req.TagID)
	epoch := m.epoch
	m.mu.Unlock()
	if err != nil {
		return Session{}, err
	}

	tagName, key, err := m.authenticate(ctx, req)
	if err != nil {
		if errors.Is(err, common.ErrCancelled) {
			return Session{}, err
		}
		m.recordFailure(ctx, req.TagID)
		return Session{}, common.ErrInvalidProof
	}

	m.mu.Lock()
	if m.epoch != epoch || ctx.Err() != nil {
		m.mu.Unlock()
		common.WipeByteArray(key)
		return Session{}, fmt.Errorf("create session %s: %w", req.TagID, common.ErrCancelled)
	}

	_, events := m.sweepLocked()
	if err := m.checkCapacity(req.TagID); err != nil {
		m.unlockAndEmit(events...)
		common.WipeByteArray(key)
		return Session{}, err
	}

	now := m.now()
	s := Session{
		TagID:             req.TagID,
		SessionID:         uuid.NewString(),
		TagName:           tagName,
		CreatedAt:         now,
		ExpiresAt:         now.Add(m.cfg.SessionDuration),
		LastActivityAt:    now,
		SecurityLevel:     req.Level,
		DeviceFingerprint: req.DeviceFingerprint,
	}
	m.store.Put(s, key)

	m.logger.Info(ctx, "session created", "tag_id", s.TagID, "session_id", s.SessionID,
		"security_level", s.SecurityLevel.String(), "expires_at", s.ExpiresAt)
	m.unlockAndEmit(append(events, m.event(EventCreated, s, ""))...)
	return s, nil
}

// Extend pushes the expiry of tagID's session forward by extra, or by the
// configured default when extra is not positive.
//
// The total lifetime is capped at MaxSessionLifetime. Under the truncate
// policy an over-long extension is silently shortened to the cap; under the
// reject policy it fails with common.ErrLifetimeExceeded. An extension that
// would not move the expiry forward succeeds without changing anything.
func (m *Manager) Extend(tagID string, extra time.Duration) (Session, error) {
	if extra <= 0 {
		extra = m.cfg.DefaultExtension
	}

	m.mu.Lock()
	now := m.now()
	var (
		extended bool
		capErr   error
	)
	s, ok := m.store.Update(tagID, func(s *Session) {
		target := s.ExpiresAt.Add(extra)
		if ceiling := m.cfg.MaxSessionLifetime; ceiling > 0 {
			limit := s.CreatedAt.Add(ceiling)
			if target.After(limit) {
				if m.cfg.ExtensionPolicy == config.ExtensionReject {
					capErr = common.ErrLifetimeExceeded
					return
				}
				target = limit
			}
		}
		s.LastActivityAt = now
		if target.After(s.ExpiresAt) {
			s.ExpiresAt = target
			extended = true
		}
	})
	if !ok {
		m.mu.Unlock()
		return Session{}, fmt.Errorf("extend session %s: %w", tagID, common.ErrNotFound)
	}
	if capErr != nil {
		m.mu.Unlock()
		return s, fmt.Errorf("extend session %s: %w", tagID, capErr)
	}
	if !extended {
		m.mu.Unlock()
		m.logger.Debug(context.Background(), "extension had no effect", "tag_id", tagID)
		return s, nil
	}

	if ComputeHealth(s, now, m.health).Status != HealthCritical {
		m.store.setCriticalAlerted(tagID, false)
	}

	m.logger.Info(context.Background(), "session extended", "tag_id", tagID, "session_id", s.SessionID, "expires_at", s.ExpiresAt)
	m.unlockAndEmit(m.event(EventExtended, s, ""))
	return s, nil
}

// Lock makes the session's key unavailable without ending the session.
// Locking a locked session only refreshes LastActivityAt.
func (m *Manager) Lock(tagID string) error {
	return m.setLocked(tagID, true)
}

// Unlock reverses Lock. Unlocking an unlocked session only refreshes
// LastActivityAt.
func (m *Manager) Unlock(tagID string) error {
	return m.setLocked(tagID, false)
}

func (m *Manager) setLocked(tagID string, locked bool) error {
	m.mu.Lock()
	now := m.now()
	changed := false
	s, ok := m.store.Update(tagID, func(s *Session) {
		changed = s.Locked != locked
		s.Locked = locked
		s.LastActivityAt = now
	})
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("set lock on session %s: %w", tagID, common.ErrNotFound)
	}
	if !changed {
		m.mu.Unlock()
		return nil
	}

	t := EventUnlocked
	if locked {
		t = EventLocked
	}
	m.logger.Info(context.Background(), "session "+t.String(), "tag_id", tagID, "session_id", s.SessionID)
	m.unlockAndEmit(m.event(t, s, ""))
	return nil
}

// Deactivate zeroes the key of tagID's session and removes it.
func (m *Manager) Deactivate(tagID string) error {
	m.mu.Lock()
	_, events := m.sweepLocked()

	s, ok := m.store.Remove(tagID)
	if !ok {
		m.unlockAndEmit(events...)
		return fmt.Errorf("deactivate session %s: %w", tagID, common.ErrNotFound)
	}

	m.logger.Info(context.Background(), "session deactivated", "tag_id", tagID, "session_id", s.SessionID)
	m.unlockAndEmit(append(events, m.event(EventInvalidated, s, "deactivated"))...)
	return nil
}

// DeactivateAll deactivates every live session and returns how many there
// were.
func (m *Manager) DeactivateAll() int {
	m.mu.Lock()
	_, events := m.sweepLocked()

	removed := m.store.RemoveAll()
	for _, s := range removed {
		events = append(events, m.event(EventInvalidated, s, "deactivated"))
	}

	m.logger.Info(context.Background(), "all sessions deactivated", "count", len(removed))
	m.unlockAndEmit(events...)
	return len(removed)
}

// Panic destroys every session immediately, whatever its state, and
// invalidates any creation still deriving its key. It cannot fail and must
// not be called from inside a Listener.
func (m *Manager) Panic() {
	m.mu.Lock()
	m.epoch++
	removed := m.store.RemoveAll()

	events := make([]Event, 0, len(removed))
	for _, s := range removed {
		events = append(events, m.event(EventInvalidated, s, "panic"))
	}

	m.logger.Warn(context.Background(), "panic: all session keys destroyed", "count", len(removed))
	m.unlockAndEmit(events...)
}

// Sweep removes expired sessions, emitting one expired event for each, and
// raises a security alert the first time a live session's health becomes
// critical.
func (m *Manager) Sweep() []Session {
	m.mu.Lock()
	expired, events := m.sweepLocked()

	now := m.now()
	for _, s := range m.store.AllActive() {
		if ComputeHealth(s, now, m.health).Status != HealthCritical {
			continue
		}
		if prev, ok := m.store.setCriticalAlerted(s.TagID, true); ok && !prev {
			events = append(events, m.event(EventSecurityAlert, s, "session health critical"))
		}
	}

	m.unlockAndEmit(events...)
	return expired
}

// Run sweeps every SweepInterval until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	interval := m.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Get returns the live session for tagID.
func (m *Manager) Get(tagID string) (Session, bool) {
	return m.store.Get(tagID)
}

// Active returns all live sessions.
func (m *Manager) Active() []Session {
	return m.store.AllActive()
}

// IsActive reports whether tagID has a live session and whether that
// session is unlocked.
func (m *Manager) IsActive(tagID string) (live, unlocked bool) {
	s, ok := m.store.Get(tagID)
	if !ok {
		return false, false
	}
	return true, !s.Locked
}

// Health computes the current health of tagID's session.
func (m *Manager) Health(tagID string) (Health, error) {
	s, ok := m.store.Get(tagID)
	if !ok {
		return Health{}, fmt.Errorf("session health %s: %w", tagID, common.ErrNotFound)
	}
	return ComputeHealth(s, m.now(), m.health), nil
}

// HealthOf scores an already-fetched session with the manager's policy.
func (m *Manager) HealthOf(s Session) Health {
	return ComputeHealth(s, m.now(), m.health)
}

// Now returns the manager's notion of the current time.
func (m *Manager) Now() time.Time {
	return m.now()
}

// WithKey lends the key of tagID's live, unlocked session to fn for the
// duration of the call. Absent and locked sessions both yield
// common.ErrNoActiveSession.
func (m *Manager) WithKey(tagID string, fn func(key []byte) error) error {
	return m.store.WithKey(tagID, fn)
}

// Metrics aggregates health across live sessions. The returned metrics are
// usable even when err is non-nil; only the failed-proof count is missing.
func (m *Manager) Metrics(ctx context.Context) (SecurityMetrics, error) {
	now := m.now()
	sessions := m.store.AllActive()

	metrics := SecurityMetrics{OverallScore: 100, PerSessionHealth: make(map[string]Health, len(sessions))}
	total := 0
	for _, s := range sessions {
		h := ComputeHealth(s, now, m.health)
		metrics.PerSessionHealth[s.TagID] = h
		total += h.Score
		if h.Status == HealthCritical {
			metrics.SuspiciousActivityDetected = true
		}
	}
	if len(sessions) > 0 {
		metrics.OverallScore = total / len(sessions)
	}

	n, err := m.tracker.CountSince(ctx, now.Add(-m.cfg.FailedProofWindow))
	if err != nil {
		return metrics, fmt.Errorf("count failed proofs: %w", err)
	}
	metrics.RecentFailedProofs = n
	if n > m.cfg.FailedProofThreshold {
		metrics.SuspiciousActivityDetected = true
	}
	return metrics, nil
}

// Subscribe registers fn for lifecycle events.
func (m *Manager) Subscribe(fn Listener) Subscription {
	return m.events.subscribe(fn)
}

// Unsubscribe removes a listener. It reports whether s was registered.
func (m *Manager) Unsubscribe(s Subscription) bool {
	return m.events.unsubscribe(s)
}

// checkCapacity must be called with mu held.
func (m *Manager) checkCapacity(tagID string) error {
	if _, ok := m.store.Get(tagID); ok {
		return fmt.Errorf("create session %s: %w", tagID, common.ErrAlreadyActive)
	}
	if m.cfg.MaxSessions > 0 && m.store.Len() >= m.cfg.MaxSessions {
		return fmt.Errorf("create session %s: %w", tagID, common.ErrStoreFull)
	}
	return nil
}

// sweepLocked must be called with mu held.
func (m *Manager) sweepLocked() ([]Session, []Event) {
	expired := m.store.SweepExpired()
	events := make([]Event, 0, len(expired))
	for _, s := range expired {
		m.logger.Info(context.Background(), "session expired", "tag_id", s.TagID, "session_id", s.SessionID)
		events = append(events, m.event(EventExpired, s, "expired"))
	}
	return expired, events
}

// unlockAndEmit queues events while mu is still held, so their order
// matches the order mutations were applied, then releases mu and drains the
// queue.
func (m *Manager) unlockAndEmit(events ...Event) {
	m.events.enqueue(events)
	m.mu.Unlock()
	m.events.drain()
}

func (m *Manager) event(t EventType, s Session, reason string) Event {
	status := s.Status()
	switch t {
	case EventExpired:
		status = StatusExpired
	case EventInvalidated:
		status = StatusInvalidated
	}
	return Event{
		Type:      t,
		TagID:     s.TagID,
		SessionID: s.SessionID,
		TagName:   s.TagName,
		Status:    status,
		ExpiresAt: s.ExpiresAt,
		At:        m.now(),
		Reason:    reason,
	}
}

func (m *Manager) authenticate(ctx context.Context, req CreateRequest) (string, []byte, error) {
	type result struct {
		name string
		key  []byte
		err  error
	}

	proof := common.CloneBytes(req.Proof)
	ch := make(chan result, 1)
	go func() {
		defer common.WipeByteArray(proof)
		name, key, err := m.auth.Authenticate(ctx, req.TagID, proof)
		ch <- result{name: name, key: key, err: err}
	}()

	select {
	case r := <-ch:
		if ctx.Err() != nil {
			common.WipeByteArray(r.key)
			return "", nil, fmt.Errorf("create session %s: %w: %w", req.TagID, common.ErrCancelled, ctx.Err())
		}
		return r.name, r.key, r.err
	case <-ctx.Done():
		go func() {
			r := <-ch
			common.WipeByteArray(r.key)
		}()
		return "", nil, fmt.Errorf("create session %s: %w: %w", req.TagID, common.ErrCancelled, ctx.Err())
	}
}

func (m *Manager) recordFailure(ctx context.Context, tagID string) {
	ctx = context.WithoutCancel(ctx)
	now := m.now()

	if err := m.tracker.RecordFailure(ctx, now); err != nil {
		m.logger.Error(ctx, "record failed proof", "error", err)
	}
	n, err := m.tracker.CountSince(ctx, now.Add(-m.cfg.FailedProofWindow))
	if err != nil {
		m.logger.Error(ctx, "count failed proofs", "error", err)
		return
	}

	m.logger.Warn(ctx, "activation proof rejected", "tag_id", tagID, "recent_failures", n)
	if n <= m.cfg.FailedProofThreshold {
		return
	}

	m.mu.Lock()
	m.unlockAndEmit(Event{
		Type:   EventSecurityAlert,
		TagID:  tagID,
		At:     now,
		Reason: "repeated failed activation attempts",
	})
}
