package session

import (
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophjournal/internal/common"
)

// Store is the authoritative in-memory table of sessions, keyed by tag id.
// It is the only component that holds key material. Every path that drops a
// record zeroes its key bytes before releasing it.
//
// Records whose expiry has passed but that have not been swept yet are
// invisible to Get, AllActive, Update and WithKey.
type Store struct {
	mu      sync.RWMutex
	records map[string]*record
	now     func() time.Time
}

// NewStore returns an empty store. A nil now defaults to time.Now.
func NewStore(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{records: make(map[string]*record), now: now}
}

// Put inserts s with key, taking ownership of key: the caller must not keep
// or reuse the slice. A record already present for s.TagID is wiped first.
func (st *Store) Put(s Session, key []byte) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if prev, ok := st.records[s.TagID]; ok {
		wipe(prev)
	}
	st.records[s.TagID] = &record{session: s, key: key}
}

// Get returns the live session for tagID.
func (st *Store) Get(tagID string) (Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	rec, ok := st.records[tagID]
	if !ok || rec.session.Expired(st.now()) {
		return Session{}, false
	}
	return rec.session, true
}

// Remove zeroes and deletes the record for tagID, expired or not.
func (st *Store) Remove(tagID string) (Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	rec, ok := st.records[tagID]
	if !ok {
		return Session{}, false
	}
	delete(st.records, tagID)
	wipe(rec)
	return rec.session, true
}

// RemoveAll zeroes and deletes every record and returns what was removed.
// A panic while wiping one record does not stop the others from being
// removed.
func (st *Store) RemoveAll() []Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	removed := make([]Session, 0, len(st.records))
	for tagID, rec := range st.records {
		delete(st.records, tagID)
		safeWipe(rec)
		removed = append(removed, rec.session)
	}
	sortSessions(removed)
	return removed
}

// AllActive returns a snapshot of all non-expired sessions ordered by
// creation time.
func (st *Store) AllActive() []Session {
	st.mu.RLock()
	defer st.mu.RUnlock()

	now := st.now()
	out := make([]Session, 0, len(st.records))
	for _, rec := range st.records {
		if !rec.session.Expired(now) {
			out = append(out, rec.session)
		}
	}
	sortSessions(out)
	return out
}

// Len returns the number of non-expired sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()

	now := st.now()
	n := 0
	for _, rec := range st.records {
		if !rec.session.Expired(now) {
			n++
		}
	}
	return n
}

// SweepExpired removes every record at or past its expiry and returns the
// removed sessions. Each record is returned by exactly one sweep.
func (st *Store) SweepExpired() []Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	now := st.now()
	var removed []Session
	for tagID, rec := range st.records {
		if rec.session.Expired(now) {
			delete(st.records, tagID)
			wipe(rec)
			removed = append(removed, rec.session)
		}
	}
	sortSessions(removed)
	return removed
}

// Update applies fn to the live session for tagID under the write lock and
// returns the result. fn must not retain the pointer.
func (st *Store) Update(tagID string, fn func(s *Session)) (Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	rec, ok := st.records[tagID]
	if !ok || rec.session.Expired(st.now()) {
		return Session{}, false
	}
	fn(&rec.session)
	return rec.session, true
}

// WithKey lends the key of the live, unlocked session for tagID to fn and
// refreshes LastActivityAt. The slice is only valid for the duration of fn
// and must not be retained or modified. Absent, expired and locked sessions
// all yield common.ErrNoActiveSession.
func (st *Store) WithKey(tagID string, fn func(key []byte) error) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	now := st.now()
	rec, ok := st.records[tagID]
	if !ok || rec.session.Expired(now) || rec.session.Locked || len(rec.key) == 0 {
		return common.ErrNoActiveSession
	}
	rec.session.LastActivityAt = now
	return fn(rec.key)
}

// setCriticalAlerted stores v as the alert flag of the record for tagID and
// returns the previous value. ok is false when no record exists.
func (st *Store) setCriticalAlerted(tagID string, v bool) (prev bool, ok bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	rec, ok := st.records[tagID]
	if !ok {
		return false, false
	}
	prev = rec.criticalAlerted
	rec.criticalAlerted = v
	return prev, true
}

func wipe(rec *record) {
	common.WipeByteArray(rec.key)
	rec.key = nil
}

func safeWipe(rec *record) {
	defer func() { _ = recover() }()
	wipe(rec)
}

func sortSessions(s []Session) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].CreatedAt.Equal(s[j].CreatedAt) {
			return s[i].TagID < s[j].TagID
		}
		return s[i].CreatedAt.Before(s[j].CreatedAt)
	})
}
